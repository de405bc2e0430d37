package loader_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"modvm/internal/asm"
	"modvm/internal/bytecode"
	"modvm/internal/loader"
	"modvm/internal/natives"
	"modvm/internal/storage"
	"modvm/internal/types"
	"modvm/internal/vmerr"
)

const baseSrc = `
module 0xA::Base
struct Point has copy, drop, store {
    x: u64
    tags: vector<u8>
}

public fun answer(): u64 {
    ld_u64 42
    ret
}

fun hidden(): u64 {
    ld_u64 7
    ret
}
`

const topSrc = `
module 0xA::Top
extern fun 0xA::Base::answer(): u64

public fun twice(): u64 {
    call 0xA::Base::answer
    call 0xA::Base::answer
    add
    ret
}
`

var (
	baseID = types.MustParseModuleID("0xA::Base")
	topID  = types.MustParseModuleID("0xA::Top")
)

func moduleBytes(t *testing.T, src string) []byte {
	t.Helper()
	m, err := asm.AssembleModule(src)
	if err != nil {
		t.Fatalf("AssembleModule: %v", err)
	}
	data, err := bytecode.SerializeModule(m)
	if err != nil {
		t.Fatalf("SerializeModule: %v", err)
	}
	return data
}

// storeWith commits modules without verifying them, like a foreign writer.
func storeWith(t *testing.T, srcs ...string) *storage.MemoryStore {
	t.Helper()
	st := storage.NewMemoryStore()
	cs := &storage.ChangeSet{}
	for _, src := range srcs {
		data := moduleBytes(t, src)
		m, err := bytecode.DeserializeModule(data)
		if err != nil {
			t.Fatalf("DeserializeModule: %v", err)
		}
		cs.Publishes = append(cs.Publishes, storage.ModuleWrite{ID: m.Self(), Bytes: data})
	}
	if _, err := st.Commit(cs); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return st
}

func newLoader(t *testing.T) *loader.Loader {
	t.Helper()
	reg, err := natives.NewRegistry(natives.StdEntries(types.AddressOne)...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return loader.New(reg)
}

func TestLoadModuleCachesWholeClosure(t *testing.T) {
	l := newLoader(t)
	st := storeWith(t, baseSrc, topSrc)

	top, err := l.LoadModule(topID, st.Snapshot())
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if _, ok := l.Cached(baseID); !ok {
		t.Fatal("dependency was not cached with its dependent")
	}
	if s := l.Stats(); s.Modules != 2 || s.Misses != 1 {
		t.Fatalf("stats = %+v", s)
	}

	// a resolver that knows nothing still gets the cached entry
	again, err := l.LoadModule(topID, storage.Empty{})
	if err != nil {
		t.Fatalf("cached LoadModule: %v", err)
	}
	if again != top {
		t.Fatal("cache returned a different module value")
	}

	twice, ok := top.Function("twice")
	if !ok {
		t.Fatal("twice not found")
	}
	callee := top.FunctionAt(uint16(twice.Code[0].Arg))
	if callee.Module.ID() != baseID || callee.Name != "answer" {
		t.Fatalf("call linked to %s", callee)
	}
}

func TestLoadIgnoresLaterStorageChanges(t *testing.T) {
	l := newLoader(t)
	st := storeWith(t, baseSrc)
	first, err := l.LoadModule(baseID, st.Snapshot())
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}

	other := storeWith(t, "module 0xA::Base\npublic fun answer(): u64 {\n ld_u64 1\n ret\n}")
	got, err := l.LoadModule(baseID, other.Snapshot())
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if got != first || got.Hash() != first.Hash() {
		t.Fatal("out-of-band storage change leaked into the cache")
	}
}

func TestLoadRejectsCycleAndCachesNothing(t *testing.T) {
	l := newLoader(t)
	st := storeWith(t,
		"module 0xB::A\nextern fun 0xB::B::g()\npublic fun f() {\n call 0xB::B::g\n ret\n}",
		"module 0xB::B\nextern fun 0xB::A::f()\npublic fun g() {\n call 0xB::A::f\n ret\n}",
	)
	a := types.MustParseModuleID("0xB::A")
	_, err := l.LoadModule(a, st.Snapshot())
	if !vmerr.HasStatus(err, vmerr.CyclicModuleDependency) {
		t.Fatalf("err = %v, want cyclic dependency", err)
	}
	if n := l.Stats().Modules; n != 0 {
		t.Fatalf("%d modules cached after a failed load", n)
	}
}

func TestLoadMissingDependency(t *testing.T) {
	l := newLoader(t)
	st := storeWith(t, topSrc)
	_, err := l.LoadModule(topID, st.Snapshot())
	if !vmerr.HasStatus(err, vmerr.LinkerError) {
		t.Fatalf("err = %v, want linker error", err)
	}
	if sub, _ := vmerr.SubStatusOf(err); vmerr.StatusCode(sub) != vmerr.ModuleNotFound {
		t.Fatalf("sub-status = %d", sub)
	}
	if loc, _ := vmerr.LocationOf(err); loc.Module != topID {
		t.Fatalf("location = %v", loc)
	}

	_, err = l.LoadModule(types.MustParseModuleID("0xA::Nope"), st.Snapshot())
	if !vmerr.HasStatus(err, vmerr.ModuleNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestLinkFailuresInsertNothing(t *testing.T) {
	tests := []struct {
		name string
		top  string
		want vmerr.StatusCode
	}{
		{
			name: "signature mismatch",
			top:  "module 0xA::Top\nextern fun 0xA::Base::answer(x: u64): u64\npublic fun f(): u64 {\n ld_u64 1\n call 0xA::Base::answer\n ret\n}",
			want: vmerr.LinkTypeMismatch,
		},
		{
			name: "private import",
			top:  "module 0xA::Top\nextern fun 0xA::Base::hidden(): u64\npublic fun f(): u64 {\n call 0xA::Base::hidden\n ret\n}",
			want: vmerr.LookupFailed,
		},
		{
			name: "missing function",
			top:  "module 0xA::Top\nextern fun 0xA::Base::nope(): u64\npublic fun f(): u64 {\n call 0xA::Base::nope\n ret\n}",
			want: vmerr.LookupFailed,
		},
		{
			name: "struct abilities",
			top:  "module 0xA::Top\nextern struct 0xA::Base::Point has drop\npublic fun f(p: 0xA::Base::Point) {\n ret\n}",
			want: vmerr.LinkTypeMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLoader(t)
			st := storeWith(t, baseSrc, tt.top)
			_, err := l.LoadModule(topID, st.Snapshot())
			if !vmerr.HasStatus(err, tt.want) {
				t.Fatalf("err = %v, want %s", err, tt.want)
			}
			if n := l.Stats().Modules; n != 0 {
				t.Fatalf("%d modules cached after a failed link", n)
			}
		})
	}
}

func TestUnregisteredNative(t *testing.T) {
	l := newLoader(t)
	id := types.MustParseModuleID("0x2::N")
	st := storeWith(t, "module 0x2::N\npublic native fun magic(): u64")
	_, err := l.LoadModule(id, st.Snapshot())
	if !vmerr.HasStatus(err, vmerr.MissingDependency) {
		t.Fatalf("err = %v, want missing dependency", err)
	}
}

func TestConcurrentMissesConverge(t *testing.T) {
	l := newLoader(t)
	snap := storeWith(t, baseSrc, topSrc).Snapshot()

	const n = 16
	got := make([]*loader.Module, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := l.LoadModule(topID, snap)
			if err != nil {
				t.Errorf("LoadModule: %v", err)
				return
			}
			got[i] = m
		}()
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if got[i] != got[0] {
			t.Fatalf("goroutine %d saw a different module value", i)
		}
	}
}

// gatedResolver counts reads and fails every one after gate closes.
type gatedResolver struct {
	calls atomic.Int32
	gate  chan struct{}
}

func (g *gatedResolver) GetModule(types.ModuleID) ([]byte, error) {
	g.calls.Add(1)
	<-g.gate
	return nil, errors.New("disk unavailable")
}

func TestFailedSharedLoadRetriesOnlyInWaiters(t *testing.T) {
	l := newLoader(t)
	bad := &gatedResolver{gate: make(chan struct{})}
	good := storeWith(t, baseSrc, topSrc).Snapshot()

	leaderErr := make(chan error, 1)
	go func() {
		_, err := l.LoadModule(topID, bad)
		leaderErr <- err
	}()
	for bad.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	waiterErr := make(chan error, 1)
	go func() {
		_, err := l.LoadModule(topID, good)
		waiterErr <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(bad.gate)

	if err := <-leaderErr; err == nil {
		t.Fatal("load through a failing resolver succeeded")
	}
	if err := <-waiterErr; err != nil {
		t.Fatalf("waiter did not recover with its own resolver: %v", err)
	}
	if n := bad.calls.Load(); n != 1 {
		t.Fatalf("failing resolver read %d times, want 1", n)
	}
	if _, ok := l.Cached(topID); !ok {
		t.Fatal("module missing after the waiter's load")
	}
}

func TestClearEmptiesCaches(t *testing.T) {
	l := newLoader(t)
	snap := storeWith(t, baseSrc, topSrc).Snapshot()
	if _, err := l.LoadModule(topID, snap); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if _, err := l.LoadType(types.U64Tag, snap); err != nil {
		t.Fatalf("LoadType: %v", err)
	}
	l.Clear()
	if s := l.Stats(); s.Modules != 0 || s.Scripts != 0 {
		t.Fatalf("stats after Clear = %+v", s)
	}
	if _, err := l.LoadModule(topID, storage.Empty{}); err == nil {
		t.Fatal("cleared module still served")
	}
}

func TestLoadDeterminism(t *testing.T) {
	st := storeWith(t, baseSrc, topSrc)
	a, err := newLoader(t).LoadModule(topID, st.Snapshot())
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	b, err := newLoader(t).LoadModule(topID, st.Snapshot())
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if a == b {
		t.Fatal("independent loaders shared a module value")
	}
	if a.Hash() != b.Hash() || len(a.Functions()) != len(b.Functions()) {
		t.Fatal("loads differ")
	}
	for i, f := range a.Functions() {
		if f.Signature() != b.Functions()[i].Signature() {
			t.Fatalf("signature %q != %q", f.Signature(), b.Functions()[i].Signature())
		}
	}
}

func TestTypeLayout(t *testing.T) {
	l := newLoader(t)
	snap := storeWith(t, baseSrc).Snapshot()
	tag, err := types.ParseTypeTag("vector<0xA::Base::Point>")
	if err != nil {
		t.Fatalf("ParseTypeTag: %v", err)
	}
	ty, err := l.LoadType(tag, snap)
	if err != nil {
		t.Fatalf("LoadType: %v", err)
	}
	if want := "vector<0xa::Base::Point { x: u64, tags: vector<u8> }>"; ty.Layout.String() != want {
		t.Fatalf("layout = %s, want %s", ty.Layout, want)
	}
	if ty.Abilities != types.AbilitiesPrimitive {
		t.Fatalf("abilities = %s", ty.Abilities)
	}
	again, _ := l.LoadType(tag, storage.Empty{})
	if again != ty {
		t.Fatal("type cache miss on identical tag")
	}

	_, err = l.LoadType(types.StructTypeTag(types.StructTag{Address: baseID.Address, Module: "Base", Name: "Nope"}), snap)
	if !vmerr.HasStatus(err, vmerr.TypeResolutionFailure) {
		t.Fatalf("err = %v", err)
	}
}

func TestPublishIsVisibleToEveryResolver(t *testing.T) {
	l := newLoader(t)
	data := moduleBytes(t, baseSrc)
	code, err := bytecode.DeserializeModule(data)
	if err != nil {
		t.Fatalf("DeserializeModule: %v", err)
	}
	mods, err := l.Publish([]loader.Published{{Code: code, Bytes: data}}, storage.Empty{})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got, err := l.LoadModule(baseID, storage.Empty{})
	if err != nil || got != mods[0] {
		t.Fatalf("LoadModule after publish = %v, %v", got, err)
	}

	_, err = l.Publish([]loader.Published{{Code: code, Bytes: data}}, storage.Empty{})
	if !vmerr.HasStatus(err, vmerr.DuplicateModuleName) {
		t.Fatalf("republish: err = %v", err)
	}
}

func TestScriptCache(t *testing.T) {
	l := newLoader(t)
	snap := storeWith(t, baseSrc).Snapshot()
	unit, err := asm.Assemble("script\nextern fun 0xA::Base::answer(): u64\nfun main() {\n call 0xA::Base::answer\n pop\n ret\n}")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	data, err := unit.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	s1, err := l.LoadScript(data, snap)
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	s2, err := l.LoadScript(data, storage.Empty{})
	if err != nil {
		t.Fatalf("LoadScript (cached): %v", err)
	}
	if s1 != s2 {
		t.Fatal("script was linked twice")
	}
	if s1.Entry().Name != bytecode.ScriptEntryName {
		t.Fatalf("entry = %s", s1.Entry().Name)
	}
	if _, ok := l.Cached(bytecode.ScriptModuleID); ok {
		t.Fatal("script leaked into the module cache")
	}
}
