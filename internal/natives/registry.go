// Package natives holds functions implemented in Go and callable from
// bytecode. A module declares a native with "native fun"; at link time the
// declaration is bound to the registry entry with the same address, module
// and function name.
package natives

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"modvm/internal/extensions"
	"modvm/internal/types"
	"modvm/internal/values"
	"modvm/internal/vmerr"
)

// Context is the view of the running session a native gets.
type Context interface {
	Extensions() *extensions.Bag
	// TypeLayout resolves a type argument to its runtime layout.
	TypeLayout(tag types.TypeTag) (*values.Layout, error)
	ConsumeGas(amount uint64, descriptor string) error
}

// NativeFunction implements a native. It receives fully instantiated type
// arguments and consumes args.
type NativeFunction func(ctx Context, typeArgs []types.TypeTag, args []values.Value) ([]values.Value, error)

// AbortError makes a native abort the transaction with a code, the same way
// the abort instruction does.
type AbortError struct {
	Code uint64
}

func (e *AbortError) Error() string { return fmt.Sprintf("native aborted with code %d", e.Code) }

// Abort returns an AbortError.
func Abort(code uint64) error { return &AbortError{Code: code} }

// AbortCode reports whether err is a native abort.
func AbortCode(err error) (uint64, bool) {
	var a *AbortError
	if errors.As(err, &a) {
		return a.Code, true
	}
	return 0, false
}

// Entry binds a function to its fully qualified name.
type Entry struct {
	Address  types.Address
	Module   types.Identifier
	Function types.Identifier
	Fn       NativeFunction
}

func (e Entry) String() string {
	return fmt.Sprintf("%s::%s::%s", e.Address, e.Module, e.Function)
}

type key struct {
	addr   types.Address
	module types.Identifier
	fn     types.Identifier
}

// Registry is an immutable table of natives, shared by every session of a VM.
type Registry struct {
	fns     map[key]NativeFunction
	entries []Entry
}

// NewRegistry builds a registry. Duplicate names and malformed entries are
// VM initialization errors.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{fns: make(map[key]NativeFunction, len(entries))}
	for _, e := range entries {
		if e.Fn == nil || !types.IsValidIdentifier(string(e.Module)) || !types.IsValidIdentifier(string(e.Function)) {
			return nil, vmerr.Newf(vmerr.InvalidNativeFunction, "invalid native %s", e).Finish(vmerr.Undefined)
		}
		k := key{e.Address, e.Module, e.Function}
		if _, dup := r.fns[k]; dup {
			return nil, vmerr.Newf(vmerr.DuplicateNativeFunction, "native %s registered twice", e).Finish(vmerr.Undefined)
		}
		r.fns[k] = e.Fn
		r.entries = append(r.entries, e)
	}
	slices.SortFunc(r.entries, func(a, b Entry) int {
		if c := types.NewModuleID(a.Address, a.Module).Compare(types.NewModuleID(b.Address, b.Module)); c != 0 {
			return c
		}
		return cmp.Compare(a.Function, b.Function)
	})
	return r, nil
}

// Resolve looks a native up by name.
func (r *Registry) Resolve(addr types.Address, module, fn types.Identifier) (NativeFunction, bool) {
	if r == nil {
		return nil, false
	}
	f, ok := r.fns[key{addr, module, fn}]
	return f, ok
}

// Len returns the number of registered natives.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Entries lists registered natives sorted by name.
func (r *Registry) Entries() []Entry {
	if r == nil {
		return nil
	}
	return slices.Clone(r.entries)
}
