package depgraph

import (
	"testing"

	"modvm/internal/types"
	"modvm/internal/vmerr"
)

var (
	modA = types.MustParseModuleID("0x1::A")
	modB = types.MustParseModuleID("0x1::B")
	modC = types.MustParseModuleID("0x1::C")
	modD = types.MustParseModuleID("0x2::D")
)

func TestBuildIndexIncludesDependencies(t *testing.T) {
	idx := BuildIndex([]Node{
		{ID: modC, Deps: []types.ModuleID{modA, modD}},
		{ID: modB},
	})
	want := []types.ModuleID{modA, modB, modC, modD}
	if len(idx.IDToModule) != len(want) {
		t.Fatalf("module count = %d, want %d", len(idx.IDToModule), len(want))
	}
	for i, id := range want {
		if idx.IDToModule[i] != id {
			t.Fatalf("IDToModule[%d] = %v, want %v", i, idx.IDToModule[i], id)
		}
		if got := idx.ModuleToID[id]; int(got) != i {
			t.Fatalf("ModuleToID[%v] = %d, want %d", id, got, i)
		}
	}
}

func TestSortPutsDependenciesFirst(t *testing.T) {
	// C -> B -> A, D -> A; 0x9::X is external and ignored.
	external := types.MustParseModuleID("0x9::X")
	batches, err := Sort([]Node{
		{ID: modC, Deps: []types.ModuleID{modB}},
		{ID: modD, Deps: []types.ModuleID{modA, external}},
		{ID: modB, Deps: []types.ModuleID{modA}},
		{ID: modA},
	})
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}
	want := [][]types.ModuleID{{modA}, {modB, modD}, {modC}}
	if len(batches) != len(want) {
		t.Fatalf("batches = %v, want %v", batches, want)
	}
	for i := range want {
		if len(batches[i]) != len(want[i]) {
			t.Fatalf("batch %d = %v, want %v", i, batches[i], want[i])
		}
		for j := range want[i] {
			if batches[i][j] != want[i][j] {
				t.Fatalf("batch %d = %v, want %v", i, batches[i], want[i])
			}
		}
	}
	if order := Flatten(batches); len(order) != 4 || order[3] != modC {
		t.Fatalf("Flatten = %v", order)
	}
}

func TestSortReportsCycles(t *testing.T) {
	_, err := Sort([]Node{
		{ID: modA, Deps: []types.ModuleID{modB}},
		{ID: modB, Deps: []types.ModuleID{modC}},
		{ID: modC, Deps: []types.ModuleID{modA}},
		{ID: modD},
	})
	if !vmerr.HasStatus(err, vmerr.CyclicModuleDependency) {
		t.Fatalf("err = %v, want CYCLIC_MODULE_DEPENDENCY", err)
	}
}

func TestSortReportsDuplicatesAndSelfDependencies(t *testing.T) {
	if _, err := Sort([]Node{{ID: modA}, {ID: modA}}); !vmerr.HasStatus(err, vmerr.DuplicateModuleInBundle) {
		t.Fatalf("duplicate: err = %v", err)
	}
	if _, err := Sort([]Node{{ID: modA, Deps: []types.ModuleID{modA}}}); !vmerr.HasStatus(err, vmerr.SelfDependency) {
		t.Fatalf("self dependency: err = %v", err)
	}
}

func TestToposortKahnLeavesCycleMembers(t *testing.T) {
	nodes := []Node{
		{ID: modA},
		{ID: modB, Deps: []types.ModuleID{modA, modC}},
		{ID: modC, Deps: []types.ModuleID{modB}},
	}
	idx := BuildIndex(nodes)
	g, problems := BuildGraph(idx, nodes)
	if len(problems) != 0 {
		t.Fatalf("problems = %v", problems)
	}
	topo := ToposortKahn(g)
	if !topo.Cyclic {
		t.Fatal("expected a cycle")
	}
	got := idx.Modules(topo.Cycles)
	if len(got) != 2 || got[0] != modB || got[1] != modC {
		t.Fatalf("cycle members = %v", got)
	}
	if len(topo.Order) != 1 || idx.IDToModule[topo.Order[0]] != modA {
		t.Fatalf("order = %v", topo.Order)
	}
}
