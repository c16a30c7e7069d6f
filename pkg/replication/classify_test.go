package replication

import (
	"testing"

	"github.com/cofferhq/coffer/pkg/types"
)

func sourceVersion(id, blindIndex string) *types.SecretVersion {
	return &types.SecretVersion{ID: id + "-v1", SecretID: id, Version: 1, BlindIndex: blindIndex, Type: types.SecretShared}
}

func localSecret(id, blindIndex string) *types.Secret {
	return &types.Secret{ID: id, BlindIndex: blindIndex, Type: types.SecretShared, Version: 1, IsReplicated: true}
}

func TestClassifyMorphsOperations(t *testing.T) {
	source := sourceVersion("sec-1", "bi-1")
	local := localSecret("replica-1", "bi-1")

	tests := []struct {
		name    string
		op      types.SecretOperation
		local   *types.Secret
		want    types.SecretOperation
		dropped bool
	}{
		{name: "create with no replica", op: types.OperationCreate, want: types.OperationCreate},
		{name: "create over existing replica", op: types.OperationCreate, local: local, want: types.OperationUpdate},
		{name: "update with no replica", op: types.OperationUpdate, want: types.OperationCreate},
		{name: "update over existing replica", op: types.OperationUpdate, local: local, want: types.OperationUpdate},
		{name: "delete with replica", op: types.OperationDelete, local: local, want: types.OperationDelete},
		{name: "delete with no replica", op: types.OperationDelete, dropped: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locals := map[string]*types.Secret{}
			if tt.local != nil {
				locals["bi-1"] = tt.local
			}
			ops := classify(
				[]types.JobSecret{{ID: "sec-1", Operation: tt.op}},
				map[string]*types.SecretVersion{"sec-1": source},
				locals,
			)
			if tt.dropped {
				if len(ops) != 0 {
					t.Fatalf("Expected the operation to be dropped, got %d", len(ops))
				}
				return
			}
			if len(ops) != 1 {
				t.Fatalf("Expected one operation, got %d", len(ops))
			}
			if ops[0].op != tt.want {
				t.Errorf("Expected operation %s, got %s", tt.want, ops[0].op)
			}
			if ops[0].source != source {
				t.Errorf("Expected the source version to be carried through")
			}
			if tt.local != nil && ops[0].local != tt.local {
				t.Errorf("Expected the local replica to be carried through")
			}
			if tt.local == nil && ops[0].local != nil {
				t.Errorf("Expected no local replica on a %s", tt.want)
			}
		})
	}
}

func TestClassifyDropsEntriesWithoutSource(t *testing.T) {
	ops := classify(
		[]types.JobSecret{
			{ID: "sec-known", Operation: types.OperationCreate},
			{ID: "sec-ghost", Operation: types.OperationCreate},
		},
		map[string]*types.SecretVersion{"sec-known": sourceVersion("sec-known", "bi-known")},
		nil,
	)
	if len(ops) != 1 {
		t.Fatalf("Expected one operation, got %d", len(ops))
	}
	if ops[0].source.SecretID != "sec-known" {
		t.Errorf("Expected sec-known to survive, got %s", ops[0].source.SecretID)
	}
}

func TestClassifyMatchesByBlindIndex(t *testing.T) {
	// The source secret was deleted and recreated under a new id; the old
	// replica still lines up through the blind index.
	source := sourceVersion("sec-new", "bi-db-pass")
	local := localSecret("replica-old", "bi-db-pass")

	ops := classify(
		[]types.JobSecret{{ID: "sec-new", Operation: types.OperationCreate}},
		map[string]*types.SecretVersion{"sec-new": source},
		map[string]*types.Secret{"bi-db-pass": local},
	)
	if len(ops) != 1 {
		t.Fatalf("Expected one operation, got %d", len(ops))
	}
	if ops[0].op != types.OperationUpdate {
		t.Errorf("Expected an update, got %s", ops[0].op)
	}
	if ops[0].local.ID != "replica-old" {
		t.Errorf("Expected the existing replica to be reused, got %s", ops[0].local.ID)
	}
}
