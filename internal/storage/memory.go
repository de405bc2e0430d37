package storage

import (
	"bytes"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"modvm/internal/types"
)

// state is one immutable version of the store. Commit builds a new state;
// snapshots keep pointing at the one they were taken from.
type state struct {
	version   uint64
	modules   map[types.ModuleID][]byte
	resources map[string]ResourceWrite // ResourceKey.String()
}

func (s *state) next(cs *ChangeSet) (*state, error) {
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	n := &state{
		version:   s.version + 1,
		modules:   make(map[types.ModuleID][]byte, len(s.modules)+len(cs.Publishes)),
		resources: make(map[string]ResourceWrite, len(s.resources)+len(cs.Writes)),
	}
	for id, b := range s.modules {
		n.modules[id] = b
	}
	for k, w := range s.resources {
		n.resources[k] = w
	}
	for _, p := range cs.Publishes {
		if _, exists := n.modules[p.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrModuleExists, p.ID)
		}
		n.modules[p.ID] = bytes.Clone(p.Bytes)
	}
	for _, w := range cs.Writes {
		n.resources[w.Key.String()] = ResourceWrite{Key: w.Key, Bytes: bytes.Clone(w.Bytes)}
	}
	for _, d := range cs.Deletes {
		delete(n.resources, d.String())
	}
	return n, nil
}

// MemoryStore is a versioned key-value store. Every Commit produces a new
// version; Snapshot pins the current one.
type MemoryStore struct {
	mu  sync.RWMutex
	cur *state
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cur: &state{
		modules:   make(map[types.ModuleID][]byte),
		resources: make(map[string]ResourceWrite),
	}}
}

// Version returns the latest committed version (0 for an empty store).
func (m *MemoryStore) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur.version
}

// Commit applies cs atomically and returns the new version. Publishing a
// module that already exists fails and leaves the store unchanged.
func (m *MemoryStore) Commit(cs *ChangeSet) (uint64, error) {
	return m.commitWith(cs, nil)
}

func (m *MemoryStore) commitWith(cs *ChangeSet, persist func(*state) error) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.cur.next(cs)
	if err != nil {
		return 0, err
	}
	if persist != nil {
		if err := persist(n); err != nil {
			return 0, err
		}
	}
	m.cur = n
	return n.version, nil
}

// Snapshot pins the current version. The caller owns one reference and must
// Close it; sessions add their own with Retain.
func (m *MemoryStore) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := &Snapshot{st: m.cur}
	s.refs.Store(1)
	return s
}

// GetModule reads the latest version.
func (m *MemoryStore) GetModule(id types.ModuleID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return bytes.Clone(m.cur.modules[id]), nil
}

// GetResource reads the latest version.
func (m *MemoryStore) GetResource(addr types.Address, tag types.StructTag) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return bytes.Clone(m.cur.resources[ResourceKey{addr, tag}.String()].Bytes), nil
}

// Modules lists the ids of all published modules, sorted.
func (m *MemoryStore) Modules() []types.ModuleID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedModules(m.cur)
}

func sortedModules(st *state) []types.ModuleID {
	out := make([]types.ModuleID, 0, len(st.modules))
	for id := range st.modules {
		out = append(out, id)
	}
	slices.SortFunc(out, types.ModuleID.Compare)
	return out
}

// Snapshot is an immutable, reference-counted view of one store version.
// It implements Resolver and Retainer.
type Snapshot struct {
	st   *state
	refs atomic.Int64
}

func (s *Snapshot) Version() uint64 { return s.st.version }

// Retain adds a reference. It fails once the snapshot has been fully
// released.
func (s *Snapshot) Retain() error {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return ErrSnapshotReleased
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops a reference.
func (s *Snapshot) Release() {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return
		}
		if s.refs.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Close drops the owner's reference. It fails while sessions still retain
// the snapshot.
func (s *Snapshot) Close() error {
	for {
		n := s.refs.Load()
		switch {
		case n <= 0:
			return ErrSnapshotReleased
		case n > 1:
			return ErrSnapshotInUse
		}
		if s.refs.CompareAndSwap(1, 0) {
			return nil
		}
	}
}

func (s *Snapshot) alive() error {
	if s.refs.Load() <= 0 {
		return ErrSnapshotReleased
	}
	return nil
}

func (s *Snapshot) GetModule(id types.ModuleID) ([]byte, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	return bytes.Clone(s.st.modules[id]), nil
}

func (s *Snapshot) GetResource(addr types.Address, tag types.StructTag) ([]byte, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	return bytes.Clone(s.st.resources[ResourceKey{addr, tag}.String()].Bytes), nil
}

// Modules lists the modules visible in this snapshot.
func (s *Snapshot) Modules() []types.ModuleID {
	return sortedModules(s.st)
}
