package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cofferhq/coffer/pkg/storage"
	"github.com/cofferhq/coffer/pkg/types"
)

func testOracle(t *testing.T) (*StoreOracle, storage.Store) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewStoreOracle(store), store
}

func TestPolicyForPathExactMatchWins(t *testing.T) {
	oracle, store := testOracle(t)
	ctx := context.Background()

	require.NoError(t, store.CreateEnvironment(&types.Environment{
		ID: "env-1", ProjectID: "proj-1", Slug: "prod", Name: "Production",
	}))
	require.NoError(t, store.CreateApprovalPolicy(&types.ApprovalPolicy{
		ID: "pol-wide", ProjectID: "proj-1", EnvID: "env-1", SecretPath: "", Name: "env wide", Approvals: 1,
	}))
	require.NoError(t, store.CreateApprovalPolicy(&types.ApprovalPolicy{
		ID: "pol-db", ProjectID: "proj-1", EnvID: "env-1", SecretPath: "/app/db", Name: "db path", Approvals: 2,
	}))

	policy, err := oracle.PolicyForPath(ctx, "proj-1", "prod", "/app/db")
	require.NoError(t, err)
	require.NotNil(t, policy)
	assert.Equal(t, "pol-db", policy.ID)
}

func TestPolicyForPathEnvWideFallback(t *testing.T) {
	oracle, store := testOracle(t)
	ctx := context.Background()

	require.NoError(t, store.CreateEnvironment(&types.Environment{
		ID: "env-1", ProjectID: "proj-1", Slug: "prod", Name: "Production",
	}))
	require.NoError(t, store.CreateApprovalPolicy(&types.ApprovalPolicy{
		ID: "pol-db", ProjectID: "proj-1", EnvID: "env-1", SecretPath: "/app/db", Name: "db path", Approvals: 2,
	}))
	require.NoError(t, store.CreateApprovalPolicy(&types.ApprovalPolicy{
		ID: "pol-root", ProjectID: "proj-1", EnvID: "env-1", SecretPath: "/", Name: "root", Approvals: 1,
	}))

	// No exact policy for /app/api, the "/" policy covers it
	policy, err := oracle.PolicyForPath(ctx, "proj-1", "prod", "/app/api")
	require.NoError(t, err)
	require.NotNil(t, policy)
	assert.Equal(t, "pol-root", policy.ID)
}

func TestPolicyForPathUnguarded(t *testing.T) {
	oracle, store := testOracle(t)
	ctx := context.Background()

	require.NoError(t, store.CreateEnvironment(&types.Environment{
		ID: "env-1", ProjectID: "proj-1", Slug: "prod", Name: "Production",
	}))
	require.NoError(t, store.CreateApprovalPolicy(&types.ApprovalPolicy{
		ID: "pol-db", ProjectID: "proj-1", EnvID: "env-1", SecretPath: "/app/db", Name: "db path", Approvals: 2,
	}))

	policy, err := oracle.PolicyForPath(ctx, "proj-1", "prod", "/app/api")
	require.NoError(t, err)
	assert.Nil(t, policy)
}

func TestPolicyForPathUnknownEnvironment(t *testing.T) {
	oracle, _ := testOracle(t)

	policy, err := oracle.PolicyForPath(context.Background(), "proj-1", "missing", "/app/db")
	require.NoError(t, err)
	assert.Nil(t, policy)
}

func TestPolicyForPathScopedToEnvironment(t *testing.T) {
	oracle, store := testOracle(t)
	ctx := context.Background()

	require.NoError(t, store.CreateEnvironment(&types.Environment{
		ID: "env-1", ProjectID: "proj-1", Slug: "prod", Name: "Production",
	}))
	require.NoError(t, store.CreateEnvironment(&types.Environment{
		ID: "env-2", ProjectID: "proj-1", Slug: "staging", Name: "Staging",
	}))
	require.NoError(t, store.CreateApprovalPolicy(&types.ApprovalPolicy{
		ID: "pol-staging", ProjectID: "proj-1", EnvID: "env-2", SecretPath: "/app/db", Name: "staging db", Approvals: 1,
	}))

	// The staging policy must not guard prod
	policy, err := oracle.PolicyForPath(ctx, "proj-1", "prod", "/app/db")
	require.NoError(t, err)
	assert.Nil(t, policy)

	policy, err = oracle.PolicyForPath(ctx, "proj-1", "staging", "/app/db")
	require.NoError(t, err)
	require.NotNil(t, policy)
	assert.Equal(t, "pol-staging", policy.ID)
}
