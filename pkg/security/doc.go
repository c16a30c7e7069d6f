/*
Package security provides the small cryptographic utilities the worker
needs: unguessable identifiers and TLS client material for redis.

# Identifiers

Job ids and approval slugs must be unguessable because they appear in
lock keys, idempotency markers, and review URLs. Both come from
crypto/rand:

	jobID, err := security.NewJobID()    // 32 hex chars
	slug, err := security.RandomSlug(12) // lowercase alphanumeric

RandomSlug draws from a 36-character alphabet with rejection sampling,
so every character is uniformly distributed. NewJobID hex-encodes 16
random bytes.

# Redis TLS

Deployments that talk to redis over untrusted networks use mutual TLS.
ClientTLSConfig loads the client certificate pair and the CA bundle and
pins the minimum protocol version:

	tlsCfg, err := security.ClientTLSConfig(certFile, keyFile, caFile)
	if err != nil {
		return err
	}
	opts.TLSConfig = tlsCfg

The returned config requires TLS 1.3. Certificate issuance and rotation
are the deployment's concern; this package only loads what is already
on disk.

# What does not live here

Secret ciphertexts are opaque to the worker. Replication copies the
encrypted triples byte for byte and never decrypts, re-encrypts, or
derives keys, so this package deliberately has no cipher machinery.
*/
package security
