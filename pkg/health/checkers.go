package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cofferhq/coffer/pkg/keystore"
	"github.com/cofferhq/coffer/pkg/storage"
)

// KeystoreChecker probes the redis keystore with a ping
type KeystoreChecker struct {
	keys *keystore.Client
}

// NewKeystoreChecker creates a checker for the given keystore client
func NewKeystoreChecker(keys *keystore.Client) *KeystoreChecker {
	return &KeystoreChecker{keys: keys}
}

// Name returns the component name used in the health registry
func (c *KeystoreChecker) Name() string {
	return "keystore"
}

// Check pings the keystore
func (c *KeystoreChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if err := c.keys.Ping(ctx); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("keystore ping failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   "keystore reachable",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// StoreChecker probes the secrets store with a cheap read
type StoreChecker struct {
	store storage.Store
}

// NewStoreChecker creates a checker for the given store
func NewStoreChecker(store storage.Store) *StoreChecker {
	return &StoreChecker{store: store}
}

// Name returns the component name used in the health registry
func (c *StoreChecker) Name() string {
	return "store"
}

// Check reads the replication import list to verify the store answers
func (c *StoreChecker) Check(_ context.Context) Result {
	start := time.Now()

	if _, err := c.store.ListReplicationImports(); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("store read failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   "store readable",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
