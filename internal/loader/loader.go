// Package loader turns module bytes into linked, executable modules and
// caches them for the lifetime of a VM.
//
// The cache is monotone: an entry, once inserted, is returned for every
// later lookup of its id no matter what the resolver of that later call
// would say. Modules only enter the cache through a successful load of a
// whole dependency closure or through a publish, and never leave it.
// Storage changes made behind the loader's back are not observed; a VM that
// must see them needs a fresh Loader.
package loader

import (
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"modvm/internal/bytecode"
	"modvm/internal/natives"
	"modvm/internal/storage"
	"modvm/internal/trace"
	"modvm/internal/types"
	"modvm/internal/verifier"
	"modvm/internal/vmerr"
)

// Loader is the module cache shared by all sessions of a VM. It is safe for
// concurrent use.
type Loader struct {
	natives *natives.Registry
	tracer  trace.Tracer

	mu      sync.RWMutex
	modules map[types.ModuleID]*Module
	scripts map[[32]byte]*Script

	typesMu sync.RWMutex
	types   map[string]*Type

	// concurrent misses on the same id share one load
	group singleflight.Group

	hits, misses atomic.Uint64
}

// Option configures a Loader.
type Option func(*Loader)

// WithTracer makes the loader emit load spans.
func WithTracer(t trace.Tracer) Option {
	return func(l *Loader) {
		if t != nil {
			l.tracer = t
		}
	}
}

// New creates an empty loader that binds native declarations through reg.
func New(reg *natives.Registry, opts ...Option) *Loader {
	l := &Loader{
		natives: reg,
		tracer:  trace.Nop,
		modules: make(map[types.ModuleID]*Module),
		scripts: make(map[[32]byte]*Script),
		types:   make(map[string]*Type),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Stats reports cache behaviour.
type Stats struct {
	Modules int
	Scripts int
	Hits    uint64
	Misses  uint64
}

func (l *Loader) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		Modules: len(l.modules),
		Scripts: len(l.scripts),
		Hits:    l.hits.Load(),
		Misses:  l.misses.Load(),
	}
}

// Clear drops every cached module, script and type. Loads still running
// may repopulate the cache afterwards.
func (l *Loader) Clear() {
	l.mu.Lock()
	l.modules = make(map[types.ModuleID]*Module)
	l.scripts = make(map[[32]byte]*Script)
	l.mu.Unlock()
	l.typesMu.Lock()
	l.types = make(map[string]*Type)
	l.typesMu.Unlock()
}

// Cached returns the cached module for id without touching any resolver.
func (l *Loader) Cached(id types.ModuleID) (*Module, bool) {
	l.mu.RLock()
	m, ok := l.modules[id]
	l.mu.RUnlock()
	return m, ok
}

// CachedModules lists the ids in the cache.
func (l *Loader) CachedModules() []types.ModuleID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.ModuleID, 0, len(l.modules))
	for id := range l.modules {
		out = append(out, id)
	}
	return out
}

// LoadModule returns the module id, loading it and every dependency it is
// missing through r on a cache miss. Errors are finished at the location of
// id (or of the module where a cycle was found).
func (l *Loader) LoadModule(id types.ModuleID, r storage.ModuleResolver) (*Module, error) {
	if m, ok := l.Cached(id); ok {
		l.hits.Add(1)
		return m, nil
	}
	l.misses.Add(1)
	ran := false
	v, err, _ := l.group.Do(id.String(), func() (any, error) {
		ran = true
		m, err := l.loadClosure(id, r)
		if err != nil {
			return nil, err
		}
		return m, nil
	})
	if err != nil && !ran {
		// another caller's resolver failed; ours may still succeed
		v, err = l.loadClosure(id, r)
		if err != nil {
			return nil, err
		}
		return v.(*Module), nil
	}
	if err != nil {
		return nil, err
	}
	return v.(*Module), nil
}

type pendingModule struct {
	id   types.ModuleID
	data []byte
	code *bytecode.CompiledModule
}

const (
	visiting uint8 = iota + 1
	visited
)

func (l *Loader) loadClosure(root types.ModuleID, r storage.ModuleResolver) (*Module, error) {
	span := trace.Begin(l.tracer, trace.ScopeModule, "load:"+root.String(), 0)
	defer span.End("")

	var (
		order []*pendingModule
		state = make(map[types.ModuleID]uint8)
	)
	var visit func(id types.ModuleID) error
	visit = func(id types.ModuleID) error {
		if _, ok := l.Cached(id); ok {
			return nil
		}
		switch state[id] {
		case visiting:
			return vmerr.Newf(vmerr.CyclicModuleDependency, "%s is part of a dependency cycle", id).
				Finish(vmerr.ModuleLocation(id))
		case visited:
			return nil
		}
		state[id] = visiting
		p, err := fetch(id, r)
		if err != nil {
			return err
		}
		for _, dep := range p.code.Dependencies() {
			if err := visit(dep); err != nil {
				return dependencyFailed(id, err)
			}
		}
		state[id] = visited
		order = append(order, p)
		return nil
	}
	if err := visit(root); err != nil {
		if code, ok := vmerr.StatusOf(err); ok {
			span.WithExtra("status", code.String())
		}
		return nil, err
	}
	span.WithExtra("cache", "miss").WithExtra("closure", strconv.Itoa(len(order)))

	if err := l.insert(order, nil); err != nil {
		return nil, err
	}
	m, _ := l.Cached(root)
	return m, nil
}

// fetch reads and verifies one module.
func fetch(id types.ModuleID, r storage.ModuleResolver) (*pendingModule, error) {
	loc := vmerr.ModuleLocation(id)
	data, err := r.GetModule(id)
	if err != nil {
		return nil, vmerr.Newf(vmerr.StorageError, "reading %s", id).Wrap(err).Finish(loc)
	}
	if data == nil {
		return nil, vmerr.Newf(vmerr.ModuleNotFound, "%s", id).Finish(loc)
	}
	code, err := bytecode.DeserializeModule(data)
	if err != nil {
		return nil, vmerr.FinishErr(err, loc)
	}
	if code.Self() != id {
		return nil, vmerr.Newf(vmerr.ModuleIDMismatch, "stored under %s but declares %s", id, code.Self()).Finish(loc)
	}
	if err := verifier.VerifyModule(code); err != nil {
		return nil, err
	}
	return &pendingModule{id: id, data: data, code: code}, nil
}

// dependencyFailed reports a failed dependency of id. Cycles pass through
// unchanged; everything else becomes a linker error whose sub-status is the
// status of the module that actually failed.
func dependencyFailed(id types.ModuleID, err error) error {
	if vmerr.HasStatus(err, vmerr.CyclicModuleDependency) {
		return err
	}
	return vmerr.Newf(vmerr.LinkerError, "dependency of %s failed", id).
		WithSubStatus(uint64(rootStatus(err))).
		Wrap(err).
		Finish(vmerr.ModuleLocation(id))
}

// rootStatus looks through linker errors to the status that caused them.
func rootStatus(err error) vmerr.StatusCode {
	code, _ := vmerr.StatusOf(err)
	if code == vmerr.LinkerError {
		if sub, ok := vmerr.SubStatusOf(err); ok {
			return vmerr.StatusCode(sub)
		}
	}
	return code
}

// insert links order (dependencies first) and adds the result to the cache
// in one step. Modules another caller inserted meanwhile are kept and
// linked against; nothing is inserted if any link fails. reject, if set, is
// consulted for modules that are already cached.
func (l *Loader) insert(order []*pendingModule, reject func(*Module) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	built := make(map[types.ModuleID]*Module, len(order))
	lookup := func(id types.ModuleID) *Module {
		if m, ok := built[id]; ok {
			return m
		}
		return l.modules[id]
	}
	for _, p := range order {
		if existing, ok := l.modules[p.id]; ok {
			if reject != nil {
				if err := reject(existing); err != nil {
					return err
				}
			}
			continue
		}
		m, perr := link(p.code, p.data, l.natives, lookup)
		if perr != nil {
			return perr.Finish(vmerr.ModuleLocation(p.id))
		}
		built[p.id] = m
	}
	for id, m := range built {
		l.modules[id] = m
		trace.Point(l.tracer, trace.ScopeModule, "cached:"+id.String())
	}
	return nil
}
