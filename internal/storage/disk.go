package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"modvm/internal/types"
)

// Current schema version - increment when diskState changes.
const diskSchemaVersion uint16 = 1

const stateFile = "state.mp"

type diskState struct {
	Schema    uint16
	Version   uint64
	Modules   []ModuleWrite
	Resources []ResourceWrite
}

// DiskStore is a MemoryStore whose every commit is written through to a
// single msgpack file, replaced atomically.
type DiskStore struct {
	*MemoryStore
	dir string
}

// OpenDiskStore loads the store in dir, creating the directory if needed.
func OpenDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	d := &DiskStore{MemoryStore: NewMemoryStore(), dir: dir}
	f, err := os.Open(d.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return d, nil
		}
		return nil, err
	}
	defer f.Close()

	var ds diskState
	if err := msgpack.NewDecoder(f).Decode(&ds); err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", d.path(), err)
	}
	if ds.Schema != diskSchemaVersion {
		return nil, fmt.Errorf("storage: %s has schema %d, expected %d", d.path(), ds.Schema, diskSchemaVersion)
	}
	st := &state{
		version:   ds.Version,
		modules:   make(map[types.ModuleID][]byte, len(ds.Modules)),
		resources: make(map[string]ResourceWrite, len(ds.Resources)),
	}
	for _, m := range ds.Modules {
		st.modules[m.ID] = m.Bytes
	}
	for _, r := range ds.Resources {
		st.resources[r.Key.String()] = r
	}
	d.cur = st
	return d, nil
}

func (d *DiskStore) path() string { return filepath.Join(d.dir, stateFile) }

// Dir returns the directory the store lives in.
func (d *DiskStore) Dir() string { return d.dir }

// Commit applies cs and persists the new version before making it visible.
func (d *DiskStore) Commit(cs *ChangeSet) (uint64, error) {
	return d.commitWith(cs, d.save)
}

func (d *DiskStore) save(st *state) error {
	ds := diskState{Schema: diskSchemaVersion, Version: st.version}
	for _, id := range sortedModules(st) {
		ds.Modules = append(ds.Modules, ModuleWrite{ID: id, Bytes: st.modules[id]})
	}
	for _, r := range st.resources {
		ds.Resources = append(ds.Resources, r)
	}
	cs := ChangeSet{Writes: ds.Resources}
	cs.Normalize()
	ds.Resources = cs.Writes

	f, err := os.CreateTemp(d.dir, "tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := msgpack.NewEncoder(f).Encode(&ds); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// атомарная замена
	return os.Rename(tmp, d.path())
}
