package loader

import (
	"modvm/internal/bytecode"
	"modvm/internal/storage"
	"modvm/internal/trace"
	"modvm/internal/types"
	"modvm/internal/vmerr"
)

// Published is a module handed to Publish: verified code plus the bytes it
// was decoded from.
type Published struct {
	Code  *bytecode.CompiledModule
	Bytes []byte
}

// Publish links bundle, ordered dependencies first, and inserts it into the
// cache as one unit so later loads through any resolver observe it. A
// module that already exists in the cache or in r is rejected with
// DuplicateModuleName. Dependencies outside the bundle are loaded through r.
func (l *Loader) Publish(bundle []Published, r storage.ModuleResolver) ([]*Module, error) {
	span := trace.Begin(l.tracer, trace.ScopeModule, "publish", 0)
	defer span.End("")

	inBundle := make(map[types.ModuleID]struct{}, len(bundle))
	order := make([]*pendingModule, 0, len(bundle))
	for _, p := range bundle {
		id := p.Code.Self()
		if _, ok := l.Cached(id); ok {
			return nil, duplicate(id)
		}
		data, err := r.GetModule(id)
		if err != nil {
			return nil, vmerr.Newf(vmerr.StorageError, "reading %s", id).Wrap(err).Finish(vmerr.ModuleLocation(id))
		}
		if data != nil {
			return nil, duplicate(id)
		}
		inBundle[id] = struct{}{}
		order = append(order, &pendingModule{id: id, data: p.Bytes, code: p.Code})
	}

	for _, p := range order {
		for _, dep := range p.code.Dependencies() {
			if _, ok := inBundle[dep]; ok {
				continue
			}
			if _, err := l.LoadModule(dep, r); err != nil {
				return nil, dependencyFailed(p.id, err)
			}
		}
	}

	err := l.insert(order, func(existing *Module) error {
		return duplicate(existing.id)
	})
	if err != nil {
		return nil, err
	}
	out := make([]*Module, len(order))
	for i, p := range order {
		out[i], _ = l.Cached(p.id)
		span.WithExtra("module", p.id.String())
	}
	return out, nil
}

func duplicate(id types.ModuleID) error {
	return vmerr.Newf(vmerr.DuplicateModuleName, "%s is already published", id).Finish(vmerr.ModuleLocation(id))
}
