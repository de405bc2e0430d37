// Package storage defines what the VM needs from persistent state (the
// Resolver capabilities), what it hands back (ChangeSet), and two reference
// backends: a versioned in-memory store with ref-counted snapshots and a
// msgpack-backed disk store built on it.
package storage

import (
	"errors"

	"modvm/internal/types"
)

// ModuleResolver returns the bytes of a published module, or nil if the
// module does not exist. Answers must not change for the lifetime of a
// session.
type ModuleResolver interface {
	GetModule(id types.ModuleID) ([]byte, error)
}

// ResourceResolver returns the encoded resource of type tag stored under
// addr, or nil if there is none.
type ResourceResolver interface {
	GetResource(addr types.Address, tag types.StructTag) ([]byte, error)
}

// Resolver is the read-only, fixed-version view of storage a session runs
// against.
type Resolver interface {
	ModuleResolver
	ResourceResolver
}

// Retainer is implemented by resolvers whose lifetime is reference counted.
// A session retains its resolver when it opens and releases it when it
// finishes.
type Retainer interface {
	Retain() error
	Release()
}

var (
	ErrSnapshotReleased = errors.New("storage: snapshot released")
	ErrSnapshotInUse    = errors.New("storage: snapshot still retained")
	ErrModuleExists     = errors.New("storage: module already published")
)

// Empty is a Resolver with nothing in it.
type Empty struct{}

func (Empty) GetModule(types.ModuleID) ([]byte, error) { return nil, nil }

func (Empty) GetResource(types.Address, types.StructTag) ([]byte, error) { return nil, nil }

// ResourceKey identifies a resource slot.
type ResourceKey struct {
	Address types.Address
	Tag     types.StructTag
}

// String is the canonical text form, also used as a map key.
func (k ResourceKey) String() string {
	return k.Address.LongString() + "/" + k.Tag.String()
}

func (k ResourceKey) compare(o ResourceKey) int {
	if c := k.Address.Compare(o.Address); c != 0 {
		return c
	}
	a, b := k.Tag.String(), o.Tag.String()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
