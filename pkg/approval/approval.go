package approval

import (
	"context"
	"errors"

	"github.com/cofferhq/coffer/pkg/storage"
	"github.com/cofferhq/coffer/pkg/types"
)

// Oracle answers whether a secret path is governed by a change approval
// policy. The replication worker consults it once per destination folder to
// decide between writing directly and opening an approval request.
type Oracle interface {
	// PolicyForPath returns the policy covering the given path in the
	// environment, or nil when the path is unguarded
	PolicyForPath(ctx context.Context, projectID, envSlug, secretPath string) (*types.ApprovalPolicy, error)
}

// StoreOracle resolves policies from the store
type StoreOracle struct {
	store storage.Store
}

// NewStoreOracle creates a store-backed policy oracle
func NewStoreOracle(store storage.Store) *StoreOracle {
	return &StoreOracle{store: store}
}

// PolicyForPath resolves the environment by slug and picks the policy bound
// to the exact secret path. A policy with an empty or "/" path guards the
// whole environment and applies when no exact match exists.
func (o *StoreOracle) PolicyForPath(ctx context.Context, projectID, envSlug, secretPath string) (*types.ApprovalPolicy, error) {
	env, err := o.store.GetEnvironmentBySlug(projectID, envSlug)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	policies, err := o.store.PoliciesByEnv(projectID, env.ID)
	if err != nil {
		return nil, err
	}

	var envWide *types.ApprovalPolicy
	for _, policy := range policies {
		if policy.SecretPath == secretPath {
			return policy, nil
		}
		if policy.SecretPath == "" || policy.SecretPath == "/" {
			envWide = policy
		}
	}

	return envWide, nil
}
