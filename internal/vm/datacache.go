package vm

import (
	"bytes"
	"maps"
	"slices"

	"modvm/internal/loader"
	"modvm/internal/storage"
	"modvm/internal/types"
	"modvm/internal/values"
	"modvm/internal/vmerr"
)

// resourceSlot is one (address, type) slot a session has touched.
type resourceSlot struct {
	key    storage.ResourceKey
	ty     *loader.Type
	origin []byte // bytes in the resolver, nil if absent
	value  values.Value
	exists bool
}

// dataCache accumulates a session's effects. Slots are read through from
// the resolver on first touch and never written back until the session
// finishes.
type dataCache struct {
	resolver  storage.ResourceResolver
	slots     map[string]*resourceSlot
	publishes []storage.ModuleWrite
}

func newDataCache(r storage.ResourceResolver) *dataCache {
	return &dataCache{resolver: r, slots: make(map[string]*resourceSlot)}
}

// checkpoint is the state of the cache before a top-level call.
type checkpoint struct {
	slots     map[string]resourceSlot
	publishes int
}

func (c *dataCache) checkpoint() checkpoint {
	cp := checkpoint{slots: make(map[string]resourceSlot, len(c.slots)), publishes: len(c.publishes)}
	for k, s := range c.slots {
		cp.slots[k] = *s
	}
	return cp
}

// restore drops everything done since cp. Values are never mutated in
// place, so the shallow copies taken by checkpoint are enough.
func (c *dataCache) restore(cp checkpoint) {
	clear(c.slots)
	for k, s := range cp.slots {
		c.slots[k] = &s
	}
	c.publishes = c.publishes[:cp.publishes]
}

// slot returns the slot for (addr, ty), reading it from the resolver the
// first time. n is the number of bytes read, 0 on a hit.
func (c *dataCache) slot(addr types.Address, ty *loader.Type) (s *resourceSlot, n int, perr *vmerr.PartialError) {
	if ty.Struct == nil {
		return nil, 0, vmerr.Newf(vmerr.TypeMismatch, "%s is not a resource type", ty.Tag)
	}
	key := storage.ResourceKey{Address: addr, Tag: ty.Struct.Tag()}
	k := key.String()
	if s, ok := c.slots[k]; ok {
		return s, 0, nil
	}
	data, err := c.resolver.GetResource(addr, key.Tag)
	if err != nil {
		return nil, 0, vmerr.Newf(vmerr.StorageError, "reading %s", k).Wrap(err)
	}
	s = &resourceSlot{key: key, ty: ty, origin: data}
	if data != nil {
		v, err := values.Decode(data, ty.Layout)
		if err != nil {
			return nil, 0, vmerr.Newf(vmerr.FailedToDeserializeResource, "%s", k).Wrap(err)
		}
		s.value, s.exists = v, true
	}
	c.slots[k] = s
	return s, len(data), nil
}

func (c *dataCache) publish(w storage.ModuleWrite) {
	c.publishes = append(c.publishes, w)
}

// changeSet turns the touched slots into effects. Slots whose final bytes
// equal what the resolver had are left out; a slot created and removed in
// the same session appears nowhere.
func (c *dataCache) changeSet() (*storage.ChangeSet, error) {
	cs := &storage.ChangeSet{Publishes: slices.Clone(c.publishes)}
	for _, k := range slices.Sorted(maps.Keys(c.slots)) {
		s := c.slots[k]
		switch {
		case s.exists:
			data, err := values.Encode(s.value, s.ty.Layout)
			if err != nil {
				return nil, vmerr.Newf(vmerr.ValueSerializationError, "%s", k).Wrap(err).Finish(vmerr.Undefined)
			}
			if s.origin != nil && bytes.Equal(data, s.origin) {
				continue
			}
			cs.Writes = append(cs.Writes, storage.ResourceWrite{Key: s.key, Bytes: data})
		case s.origin != nil:
			cs.Deletes = append(cs.Deletes, s.key)
		}
	}
	cs.Normalize()
	return cs, nil
}

// accounts lists the addresses the session has changed so far.
func (c *dataCache) accounts() []types.Address {
	var out []types.Address
	seen := make(map[types.Address]struct{})
	add := func(a types.Address) {
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	for _, p := range c.publishes {
		add(p.ID.Address)
	}
	for _, s := range c.slots {
		if s.dirty() {
			add(s.key.Address)
		}
	}
	return out
}

// dirty reports whether an existing slot holds a value different from the
// one it was read with.
func (s *resourceSlot) dirty() bool {
	if !s.exists || s.origin == nil {
		return s.exists != (s.origin != nil)
	}
	data, err := values.Encode(s.value, s.ty.Layout)
	return err != nil || !bytes.Equal(data, s.origin)
}
