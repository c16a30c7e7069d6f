package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	// slugAlphabet is the character set for generated slugs
	slugAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	// maxSlugByte is the largest multiple of len(slugAlphabet) below 256;
	// bytes at or above it are discarded so every character stays equally likely
	maxSlugByte = 252
)

// RandomSlug generates a random lowercase alphanumeric string of length n.
// Slugs name approval requests and reserved folders, so the alphabet is
// restricted to characters that are safe in paths and identifiers.
func RandomSlug(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("slug length must be positive")
	}

	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random slug: %w", err)
		}
		for _, b := range buf {
			if b >= maxSlugByte {
				continue
			}
			out = append(out, slugAlphabet[int(b)%len(slugAlphabet)])
			if len(out) == n {
				break
			}
		}
	}

	return string(out), nil
}

// NewJobID generates a unique identifier for queue jobs
func NewJobID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate job id: %w", err)
	}

	return hex.EncodeToString(bytes), nil
}
