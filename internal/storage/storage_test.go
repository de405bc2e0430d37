package storage_test

import (
	"errors"
	"testing"

	"modvm/internal/storage"
	"modvm/internal/types"
)

var (
	modA    = types.MustParseModuleID("0xA::M")
	alice   = types.MustParseAddress("0xA11CE")
	coinTag = types.StructTag{Address: types.MustParseAddress("0xA"), Module: "M", Name: "Coin"}
)

func TestMemoryStoreSnapshotsAreImmutable(t *testing.T) {
	st := storage.NewMemoryStore()
	snap0 := st.Snapshot()

	v, err := st.Commit(&storage.ChangeSet{
		Publishes: []storage.ModuleWrite{{ID: modA, Bytes: []byte{1, 2, 3}}},
		Writes:    []storage.ResourceWrite{{Key: storage.ResourceKey{Address: alice, Tag: coinTag}, Bytes: []byte{7}}},
	})
	if err != nil || v != 1 {
		t.Fatalf("Commit = %d, %v", v, err)
	}

	if b, _ := snap0.GetModule(modA); b != nil {
		t.Fatal("old snapshot sees a module committed after it was taken")
	}
	snap1 := st.Snapshot()
	if b, _ := snap1.GetModule(modA); len(b) != 3 {
		t.Fatalf("new snapshot module = %v", b)
	}
	if b, _ := snap1.GetResource(alice, coinTag); len(b) != 1 || b[0] != 7 {
		t.Fatalf("resource = %v", b)
	}

	if _, err := st.Commit(&storage.ChangeSet{Deletes: []storage.ResourceKey{{Address: alice, Tag: coinTag}}}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if b, _ := snap1.GetResource(alice, coinTag); len(b) != 1 {
		t.Fatal("delete leaked into an older snapshot")
	}
	if b, _ := st.GetResource(alice, coinTag); b != nil {
		t.Fatal("delete not applied to the latest version")
	}
}

func TestMemoryStoreRejectsRepublish(t *testing.T) {
	st := storage.NewMemoryStore()
	cs := &storage.ChangeSet{Publishes: []storage.ModuleWrite{{ID: modA, Bytes: []byte{1}}}}
	if _, err := st.Commit(cs); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := st.Commit(cs); !errors.Is(err, storage.ErrModuleExists) {
		t.Fatalf("republish: err = %v", err)
	}
	if st.Version() != 1 {
		t.Fatalf("failed commit changed the version to %d", st.Version())
	}
}

func TestSnapshotRefCounting(t *testing.T) {
	snap := storage.NewMemoryStore().Snapshot()
	if err := snap.Retain(); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if err := snap.Close(); !errors.Is(err, storage.ErrSnapshotInUse) {
		t.Fatalf("Close with live retain: err = %v", err)
	}
	snap.Release()
	if err := snap.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := snap.GetModule(modA); !errors.Is(err, storage.ErrSnapshotReleased) {
		t.Fatalf("read after release: err = %v", err)
	}
	if err := snap.Retain(); !errors.Is(err, storage.ErrSnapshotReleased) {
		t.Fatalf("retain after release: err = %v", err)
	}
}

func TestChangeSetValidateAndMarshal(t *testing.T) {
	key := storage.ResourceKey{Address: alice, Tag: coinTag}
	bad := &storage.ChangeSet{
		Writes:  []storage.ResourceWrite{{Key: key, Bytes: []byte{1}}},
		Deletes: []storage.ResourceKey{key},
	}
	if err := bad.Validate(); err == nil {
		t.Fatal("write and delete of the same key must be rejected")
	}

	cs := &storage.ChangeSet{
		Publishes: []storage.ModuleWrite{{ID: modA, Bytes: []byte{9}}},
		Writes:    []storage.ResourceWrite{{Key: key, Bytes: []byte{1}}},
	}
	data, err := cs.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := storage.UnmarshalChangeSet(data)
	if err != nil {
		t.Fatalf("UnmarshalChangeSet: %v", err)
	}
	if back.Publishes[0].ID != modA || !back.Writes[0].Key.Tag.Equal(coinTag) {
		t.Fatalf("decoded %+v", back)
	}
	accts := back.Accounts()
	if len(accts) != 2 || accts[0] != types.MustParseAddress("0xA") || accts[1] != alice {
		t.Fatalf("Accounts = %v", accts)
	}
}

func TestDiskStorePersists(t *testing.T) {
	dir := t.TempDir()
	d, err := storage.OpenDiskStore(dir)
	if err != nil {
		t.Fatalf("OpenDiskStore: %v", err)
	}
	if _, err := d.Commit(&storage.ChangeSet{
		Publishes: []storage.ModuleWrite{{ID: modA, Bytes: []byte{4, 2}}},
		Writes:    []storage.ResourceWrite{{Key: storage.ResourceKey{Address: alice, Tag: coinTag}, Bytes: []byte{5}}},
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	again, err := storage.OpenDiskStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if again.Version() != 1 {
		t.Fatalf("version = %d, want 1", again.Version())
	}
	if b, _ := again.Snapshot().GetModule(modA); len(b) != 2 || b[0] != 4 {
		t.Fatalf("module = %v", b)
	}
	if b, _ := again.GetResource(alice, coinTag); len(b) != 1 || b[0] != 5 {
		t.Fatalf("resource = %v", b)
	}
}
