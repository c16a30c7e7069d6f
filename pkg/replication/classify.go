package replication

import (
	"github.com/cofferhq/coffer/pkg/types"
)

// classifiedOp pairs an eligible source version with the operation that will
// actually land in the reserved folder. local is nil for creates; deletes
// target the local replica, never the source id.
type classifiedOp struct {
	source *types.SecretVersion
	local  *types.Secret
	op     types.SecretOperation
}

// classify reconciles the operations a job carries against what the reserved
// folder already holds. Identity is the blind index, so a secret deleted and
// recreated at the source still lines up with its old replica. The carried
// operation is a hint: an update with no local copy becomes a create, a
// create over an existing copy becomes an update, and a delete with nothing
// to delete is dropped.
func classify(incoming []types.JobSecret, sources map[string]*types.SecretVersion, locals map[string]*types.Secret) []classifiedOp {
	ops := make([]classifiedOp, 0, len(incoming))
	for _, entry := range incoming {
		source, ok := sources[entry.ID]
		if !ok {
			continue
		}
		local := locals[source.BlindIndex]

		switch entry.Operation {
		case types.OperationCreate, types.OperationUpdate:
			if local == nil {
				ops = append(ops, classifiedOp{source: source, op: types.OperationCreate})
			} else {
				ops = append(ops, classifiedOp{source: source, local: local, op: types.OperationUpdate})
			}
		case types.OperationDelete:
			if local != nil {
				ops = append(ops, classifiedOp{source: source, local: local, op: types.OperationDelete})
			}
		}
	}
	return ops
}
