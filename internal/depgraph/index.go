// Package depgraph orders modules by their dependencies: dependencies come
// before their dependents, independent modules are grouped into batches.
package depgraph

import (
	"slices"

	"modvm/internal/types"
)

// NodeID is a dense index into Index.IDToModule.
type NodeID uint32

// Node is a module together with the modules it depends on.
type Node struct {
	ID   types.ModuleID
	Deps []types.ModuleID
}

type Index struct {
	ModuleToID map[types.ModuleID]NodeID
	IDToModule []types.ModuleID
}

// BuildIndex collects every module mentioned by nodes (declared or only
// depended upon), sorts them and assigns ids in order.
func BuildIndex(nodes []Node) Index {
	uniq := make(map[types.ModuleID]struct{}, len(nodes))
	for _, n := range nodes {
		uniq[n.ID] = struct{}{}
		for _, dep := range n.Deps {
			uniq[dep] = struct{}{}
		}
	}

	ids := make([]types.ModuleID, 0, len(uniq))
	for id := range uniq {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, types.ModuleID.Compare)

	moduleToID := make(map[types.ModuleID]NodeID, len(ids))
	for i, id := range ids {
		moduleToID[id] = NodeID(i)
	}
	return Index{ModuleToID: moduleToID, IDToModule: ids}
}

// Modules maps node ids back to module ids.
func (idx Index) Modules(ids []NodeID) []types.ModuleID {
	out := make([]types.ModuleID, len(ids))
	for i, id := range ids {
		out[i] = idx.IDToModule[int(id)]
	}
	return out
}
