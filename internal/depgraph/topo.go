package depgraph

import (
	"fmt"
	"slices"
	"strings"

	"fortio.org/safecast"

	"modvm/internal/types"
	"modvm/internal/vmerr"
)

type Topo struct {
	Order   []NodeID   // linear order, dependencies first (declared nodes only)
	Batches [][]NodeID // waves of mutually independent modules
	Cyclic  bool
	Cycles  []NodeID // nodes left with unresolved dependencies
}

func nodeID(i int) NodeID {
	id, err := safecast.Conv[NodeID](i)
	if err != nil {
		panic(fmt.Errorf("node id overflow: %w", err))
	}
	return id
}

func ToposortKahn(g Graph) *Topo {
	count := len(g.Edges)
	indeg := make([]int, len(g.Indeg))
	copy(indeg, g.Indeg)

	topo := &Topo{
		Order:   make([]NodeID, 0, count),
		Batches: make([][]NodeID, 0),
	}

	active := 0
	current := make([]NodeID, 0, count)
	for i := range count {
		if !g.Present[i] {
			continue
		}
		active++
		if indeg[i] == 0 {
			current = append(current, nodeID(i))
		}
	}

	visited := 0
	for len(current) > 0 {
		batch := make([]NodeID, len(current))
		copy(batch, current)
		topo.Batches = append(topo.Batches, batch)

		next := make([]NodeID, 0)
		for _, id := range batch {
			topo.Order = append(topo.Order, id)
			visited++
			for _, to := range g.Edges[int(id)] {
				indeg[int(to)]--
				if indeg[int(to)] == 0 {
					next = append(next, to)
				}
			}
		}
		slices.Sort(next)
		current = next
	}

	if visited != active {
		topo.Cyclic = true
		for i := range count {
			if g.Present[i] && indeg[i] > 0 {
				topo.Cycles = append(topo.Cycles, nodeID(i))
			}
		}
	}
	return topo
}

// Sort orders nodes dependencies-first and groups them into batches.
// Duplicates, self dependencies and cycles are reported as errors.
func Sort(nodes []Node) ([][]types.ModuleID, error) {
	idx := BuildIndex(nodes)
	g, problems := BuildGraph(idx, nodes)
	for _, p := range problems {
		switch p.Kind {
		case ProblemDuplicate:
			return nil, vmerr.Newf(vmerr.DuplicateModuleInBundle, "%s", p).Finish(vmerr.ModuleLocation(p.Module))
		case ProblemSelfDependency:
			return nil, vmerr.Newf(vmerr.SelfDependency, "%s", p).Finish(vmerr.ModuleLocation(p.Module))
		}
	}
	topo := ToposortKahn(g)
	if topo.Cyclic {
		cycle := idx.Modules(topo.Cycles)
		names := make([]string, len(cycle))
		for i, id := range cycle {
			names[i] = id.String()
		}
		return nil, vmerr.Newf(vmerr.CyclicModuleDependency, "dependency cycle among %s", strings.Join(names, ", ")).
			Finish(vmerr.ModuleLocation(cycle[0]))
	}
	out := make([][]types.ModuleID, len(topo.Batches))
	for i, b := range topo.Batches {
		out[i] = idx.Modules(b)
	}
	return out, nil
}

// Flatten concatenates batches into a single order.
func Flatten(batches [][]types.ModuleID) []types.ModuleID {
	var out []types.ModuleID
	for _, b := range batches {
		out = append(out, b...)
	}
	return out
}
