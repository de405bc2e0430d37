package vm

import (
	"context"
	"runtime"
	"slices"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"modvm/internal/bytecode"
	"modvm/internal/depgraph"
	"modvm/internal/storage"
	"modvm/internal/trace"
	"modvm/internal/types"
)

// PrewarmEvent reports one module of a pre-warm run.
type PrewarmEvent struct {
	Module  types.ModuleID
	Batch   int // 0-based
	Batches int
	Done    int
	Total   int
	Err     error
}

// PrewarmOptions tunes Prewarm.
type PrewarmOptions struct {
	Jobs int // parallel loads per batch; GOMAXPROCS when zero
	// Progress is called once per module, from several goroutines at once
	// but never concurrently with itself.
	Progress func(PrewarmEvent)
}

// PrewarmReport summarises a pre-warm run.
type PrewarmReport struct {
	Loaded []types.ModuleID
	Failed map[types.ModuleID]error
}

// Prewarm loads ids and everything they depend on into the cache without a
// session. Modules are grouped in dependency batches; the modules of a
// batch load in parallel, batches run in order. A failing module is
// recorded in the report and does not stop the run. The returned error is
// set only when ctx ends or the stored modules form a cycle.
func (v *VM) Prewarm(ctx context.Context, r storage.ModuleResolver, ids []types.ModuleID, opts PrewarmOptions) (*PrewarmReport, error) {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return nil, ErrVMClosed
	}

	span := trace.Begin(v.tracer, trace.ScopeVM, "prewarm", 0)
	defer span.End("")

	nodes := v.prewarmNodes(r, ids)
	batches, err := depgraph.Sort(nodes)
	if err != nil {
		return nil, err
	}
	total := len(nodes)
	span.WithExtra("modules", strconv.Itoa(total)).WithExtra("batches", strconv.Itoa(len(batches)))

	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	report := &PrewarmReport{Failed: make(map[types.ModuleID]error)}
	var (
		mu   sync.Mutex
		done int
	)
	for bi, batch := range batches {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(min(jobs, len(batch)))
		for _, id := range batch {
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				_, lerr := v.loader.LoadModule(id, r)

				mu.Lock()
				defer mu.Unlock()
				done++
				if lerr != nil {
					report.Failed[id] = lerr
				} else {
					report.Loaded = append(report.Loaded, id)
				}
				if opts.Progress != nil {
					opts.Progress(PrewarmEvent{Module: id, Batch: bi, Batches: len(batches), Done: done, Total: total, Err: lerr})
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			span.WithExtra("canceled", "true")
			return report, err
		}
		trace.Point(v.tracer, trace.ScopeVM, "prewarm:batch", "batch", strconv.Itoa(bi), "size", strconv.Itoa(len(batch)))
	}
	slices.SortFunc(report.Loaded, types.ModuleID.Compare)
	return report, nil
}

// prewarmNodes collects the uncached closure of ids. Modules that are
// missing or do not decode become leaf nodes; loading them reports the
// real error.
func (v *VM) prewarmNodes(r storage.ModuleResolver, ids []types.ModuleID) []depgraph.Node {
	var nodes []depgraph.Node
	seen := make(map[types.ModuleID]struct{})
	queue := append([]types.ModuleID(nil), ids...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := v.loader.Cached(id); ok {
			continue
		}
		n := depgraph.Node{ID: id}
		if data, err := r.GetModule(id); err == nil && data != nil {
			if code, err := bytecode.DeserializeModule(data); err == nil {
				for _, dep := range code.Dependencies() {
					if _, cached := v.loader.Cached(dep); cached || dep == id {
						continue
					}
					n.Deps = append(n.Deps, dep)
					queue = append(queue, dep)
				}
			}
		}
		nodes = append(nodes, n)
	}
	return nodes
}
