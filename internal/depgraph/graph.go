package depgraph

import (
	"fmt"
	"slices"

	"modvm/internal/types"
)

// Graph edges point from a dependency to its dependents so that Kahn's
// algorithm emits dependencies first.
type Graph struct {
	Edges   [][]NodeID // Edges[dep] = dependents
	Indeg   []int      // number of present dependencies
	Present []bool     // declared by a node, not only depended upon
}

type ProblemKind uint8

const (
	ProblemDuplicate ProblemKind = iota + 1
	ProblemSelfDependency
)

// Problem is a structural defect found while building the graph. Missing
// dependencies are not problems: they are expected to be satisfied from
// outside the set.
type Problem struct {
	Kind   ProblemKind
	Module types.ModuleID
}

func (p Problem) String() string {
	switch p.Kind {
	case ProblemDuplicate:
		return fmt.Sprintf("module %s declared more than once", p.Module)
	case ProblemSelfDependency:
		return fmt.Sprintf("module %s depends on itself", p.Module)
	}
	return fmt.Sprintf("problem %d on %s", p.Kind, p.Module)
}

func BuildGraph(idx Index, nodes []Node) (Graph, []Problem) {
	count := len(idx.IDToModule)
	g := Graph{
		Edges:   make([][]NodeID, count),
		Indeg:   make([]int, count),
		Present: make([]bool, count),
	}
	var problems []Problem
	declared := make([]*Node, count)
	for i := range nodes {
		n := &nodes[i]
		id := idx.ModuleToID[n.ID]
		if g.Present[int(id)] {
			problems = append(problems, Problem{Kind: ProblemDuplicate, Module: n.ID})
			continue
		}
		g.Present[int(id)] = true
		declared[int(id)] = n
	}

	for to, n := range declared {
		if n == nil {
			continue
		}
		seen := make(map[NodeID]struct{}, len(n.Deps))
		for _, dep := range n.Deps {
			from := idx.ModuleToID[dep]
			if int(from) == to {
				problems = append(problems, Problem{Kind: ProblemSelfDependency, Module: n.ID})
				continue
			}
			if _, dup := seen[from]; dup {
				continue
			}
			seen[from] = struct{}{}
			if !g.Present[int(from)] {
				continue
			}
			g.Edges[int(from)] = append(g.Edges[int(from)], NodeID(to))
			g.Indeg[to]++
		}
	}
	for i := range g.Edges {
		if len(g.Edges[i]) > 1 {
			slices.Sort(g.Edges[i])
		}
	}
	return g, problems
}
