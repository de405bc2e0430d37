package storage

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"modvm/internal/types"
)

// ModuleWrite is a module published by a session.
type ModuleWrite struct {
	ID    types.ModuleID
	Bytes []byte
}

// ResourceWrite creates or overwrites a resource.
type ResourceWrite struct {
	Key   ResourceKey
	Bytes []byte
}

// ChangeSet is everything a finished session wants persisted. Each list is
// sorted by key and a resource key appears in at most one of Writes and
// Deletes.
type ChangeSet struct {
	Publishes []ModuleWrite
	Writes    []ResourceWrite
	Deletes   []ResourceKey
}

// IsEmpty reports whether the change set does nothing.
func (cs *ChangeSet) IsEmpty() bool {
	return cs == nil || len(cs.Publishes)+len(cs.Writes)+len(cs.Deletes) == 0
}

// Normalize sorts every list.
func (cs *ChangeSet) Normalize() {
	slices.SortFunc(cs.Publishes, func(a, b ModuleWrite) int { return a.ID.Compare(b.ID) })
	slices.SortFunc(cs.Writes, func(a, b ResourceWrite) int { return a.Key.compare(b.Key) })
	slices.SortFunc(cs.Deletes, func(a, b ResourceKey) int { return a.compare(b) })
}

// Validate checks the structural rules: no duplicate module, no resource key
// in both Writes and Deletes or twice in either.
func (cs *ChangeSet) Validate() error {
	mods := make(map[types.ModuleID]struct{}, len(cs.Publishes))
	for _, p := range cs.Publishes {
		if _, dup := mods[p.ID]; dup {
			return fmt.Errorf("storage: module %s published twice", p.ID)
		}
		mods[p.ID] = struct{}{}
	}
	keys := make(map[string]struct{}, len(cs.Writes)+len(cs.Deletes))
	for _, w := range cs.Writes {
		k := w.Key.String()
		if _, dup := keys[k]; dup {
			return fmt.Errorf("storage: resource %s written twice", k)
		}
		keys[k] = struct{}{}
	}
	for _, d := range cs.Deletes {
		k := d.String()
		if _, dup := keys[k]; dup {
			return fmt.Errorf("storage: resource %s both written and deleted", k)
		}
		keys[k] = struct{}{}
	}
	return nil
}

// Accounts lists every address touched by the change set, sorted.
func (cs *ChangeSet) Accounts() []types.Address {
	seen := make(map[types.Address]struct{})
	for _, p := range cs.Publishes {
		seen[p.ID.Address] = struct{}{}
	}
	for _, w := range cs.Writes {
		seen[w.Key.Address] = struct{}{}
	}
	for _, d := range cs.Deletes {
		seen[d.Address] = struct{}{}
	}
	out := make([]types.Address, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	slices.SortFunc(out, types.Address.Compare)
	return out
}

// Marshal encodes the change set with msgpack.
func (cs *ChangeSet) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(cs); err != nil {
		return nil, fmt.Errorf("storage: encode change set: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalChangeSet decodes Marshal output.
func UnmarshalChangeSet(data []byte) (*ChangeSet, error) {
	var cs ChangeSet
	if err := msgpack.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("storage: decode change set: %w", err)
	}
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	return &cs, nil
}
