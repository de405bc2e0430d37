package natives_test

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"modvm/internal/extensions"
	"modvm/internal/natives"
	"modvm/internal/types"
	"modvm/internal/values"
	"modvm/internal/verifier"
	"modvm/internal/vmerr"
)

type fakeContext struct {
	bag *extensions.Bag
}

func (c *fakeContext) Extensions() *extensions.Bag { return c.bag }

func (c *fakeContext) TypeLayout(tag types.TypeTag) (*values.Layout, error) {
	return values.U64Layout, nil
}

func (c *fakeContext) ConsumeGas(uint64, string) error { return nil }

func registry(t *testing.T) *natives.Registry {
	t.Helper()
	r, err := natives.NewRegistry(natives.StdEntries(types.AddressOne)...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func call(t *testing.T, ctx natives.Context, r *natives.Registry, module, fn string, targs []types.TypeTag, args ...values.Value) []values.Value {
	t.Helper()
	f, ok := r.Resolve(types.AddressOne, types.Identifier(module), types.Identifier(fn))
	if !ok {
		t.Fatalf("%s::%s not registered", module, fn)
	}
	out, err := f(ctx, targs, args)
	if err != nil {
		t.Fatalf("%s::%s: %v", module, fn, err)
	}
	return out
}

func TestNewRegistryRejectsDuplicatesAndInvalid(t *testing.T) {
	entries := natives.StdEntries(types.AddressOne)
	_, err := natives.NewRegistry(append(entries, entries[0])...)
	if !vmerr.HasStatus(err, vmerr.DuplicateNativeFunction) {
		t.Fatalf("duplicate: err = %v", err)
	}
	if loc, _ := vmerr.LocationOf(err); loc.Kind != vmerr.LocUndefined {
		t.Fatalf("duplicate native should be a VM-global error, got %v", loc)
	}

	_, err = natives.NewRegistry(natives.Entry{Address: types.AddressOne, Module: "M", Function: "f"})
	if !vmerr.HasStatus(err, vmerr.InvalidNativeFunction) {
		t.Fatalf("nil fn: err = %v", err)
	}

	r, err := natives.NewRegistry()
	if err != nil || r.Len() != 0 {
		t.Fatalf("empty registry: %v, len %d", err, r.Len())
	}
}

func TestStdNatives(t *testing.T) {
	r := registry(t)
	bag := extensions.New()
	var buf bytes.Buffer
	extensions.Insert(bag, natives.DebugOutput{W: &buf})
	extensions.Insert(bag, natives.EventLog{})
	ctx := &fakeContext{bag: bag}

	out := call(t, ctx, r, "Hash", "sha3_256", nil, values.Bytes([]byte("abc")))
	sum, _ := out[0].AsBytes()
	want := "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532"
	if hex.EncodeToString(sum) != want {
		t.Fatalf("sha3_256(abc) = %x", sum)
	}

	out = call(t, ctx, r, "Signer", "address_of", nil, values.Signer(types.MustParseAddress("0xA")))
	if a, _ := out[0].AsAddress(); a != types.MustParseAddress("0xA") {
		t.Fatalf("address_of = %v", out[0])
	}

	v := call(t, ctx, r, "Vector", "empty", []types.TypeTag{types.U64Tag})[0]
	v = call(t, ctx, r, "Vector", "push_back", []types.TypeTag{types.U64Tag}, v, values.U64(4))[0]
	v = call(t, ctx, r, "Vector", "push_back", []types.TypeTag{types.U64Tag}, v, values.U64(5))[0]
	if n := call(t, ctx, r, "Vector", "length", nil, v)[0]; !n.Equal(values.U64(2)) {
		t.Fatalf("length = %v", n)
	}
	popped := call(t, ctx, r, "Vector", "pop_back", nil, v)
	if !popped[1].Equal(values.U64(5)) || popped[0].Len() != 1 {
		t.Fatalf("pop_back = %v", popped)
	}

	call(t, ctx, r, "Debug", "print", []types.TypeTag{types.U64Tag}, values.U64(42))
	if !strings.Contains(buf.String(), "u64: 42") {
		t.Fatalf("debug output = %q", buf.String())
	}

	call(t, ctx, r, "Event", "emit", []types.TypeTag{types.U64Tag}, values.U64(9))
	log, _ := extensions.Get[natives.EventLog](bag)
	if len(log.Events) != 1 || !log.Events[0].Type.Equal(types.U64Tag) {
		t.Fatalf("events = %+v", log.Events)
	}
}

func TestVectorAborts(t *testing.T) {
	r := registry(t)
	ctx := &fakeContext{bag: extensions.New()}
	get, _ := r.Resolve(types.AddressOne, "Vector", "get")
	_, err := get(ctx, nil, []values.Value{values.Vector(values.U64(1)), values.U64(3)})
	if code, ok := natives.AbortCode(err); !ok || code != natives.AbortVectorIndexOutOfBounds {
		t.Fatalf("get out of bounds: err = %v", err)
	}
	emit, _ := r.Resolve(types.AddressOne, "Event", "emit")
	if _, err := emit(ctx, []types.TypeTag{types.U64Tag}, []values.Value{values.U64(1)}); err == nil {
		t.Fatal("emit without an event log should fail")
	}
}

func TestStdlibModulesVerify(t *testing.T) {
	mods, err := natives.StdlibModules(types.AddressOne)
	if err != nil {
		t.Fatalf("StdlibModules: %v", err)
	}
	r := registry(t)
	for _, m := range mods {
		if err := verifier.VerifyModule(m); err != nil {
			t.Fatalf("%s: %v", m.Self(), err)
		}
		for i, fd := range m.FunctionDefs {
			if _, ok := r.Resolve(m.Self().Address, m.Self().Name, m.FunctionName(i)); fd.IsNative && !ok {
				t.Fatalf("%s::%s declared but not registered", m.Self(), m.FunctionName(i))
			}
		}
	}
}
