package main

import (
	"testing"

	"modvm/internal/asm"
	"modvm/internal/bytecode"
	"modvm/internal/loader"
	"modvm/internal/natives"
	"modvm/internal/storage"
	"modvm/internal/types"
	"modvm/internal/values"
)

const argsSrc = `
module 0xA::Args
public fun take(s: signer, n: u64, b: u8, ok: bool, to: address, data: vector<u8>, xs: vector<u64>) {
    ret
}
`

func loadArgsFunction(t *testing.T) (*loader.Function, func(types.TypeTag) (*values.Layout, error)) {
	t.Helper()
	m, err := asm.AssembleModule(argsSrc)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	data, err := bytecode.SerializeModule(m)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	store := storage.NewMemoryStore()
	if _, err := store.Commit(&storage.ChangeSet{Publishes: []storage.ModuleWrite{{ID: m.Self(), Bytes: data}}}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	reg, err := natives.NewRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	l := loader.New(reg)
	lm, err := l.LoadModule(m.Self(), store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	fn, ok := lm.Function("take")
	if !ok {
		t.Fatalf("take not found")
	}
	return fn, func(tag types.TypeTag) (*values.Layout, error) { return l.TypeLayout(tag, store) }
}

func TestParseArgs(t *testing.T) {
	fn, layout := loadArgsFunction(t)
	got, err := parseArgs(fn, nil, []string{"0xA11CE", "42", "7u8", "true", "@0xB0B", "0x0102", "[1, 2, 3]"}, layout)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	want := []values.Value{
		values.Signer(types.MustParseAddress("0xA11CE")),
		values.U64(42),
		values.U8(7),
		values.Bool(true),
		values.Address(types.MustParseAddress("0xB0B")),
		values.Bytes([]byte{1, 2}),
		values.Vector(values.U64(1), values.U64(2), values.U64(3)),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("arg %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestParseArgsErrors(t *testing.T) {
	fn, layout := loadArgsFunction(t)
	tests := []struct {
		name  string
		words []string
	}{
		{"too few", []string{"0x1"}},
		{"bad u64", []string{"0x1", "x", "1", "true", "0x2", "", "[]"}},
		{"u8 overflow", []string{"0x1", "1", "256", "true", "0x2", "", "[]"}},
		{"bad bool", []string{"0x1", "1", "1", "yes", "0x2", "", "[]"}},
		{"bad vector", []string{"0x1", "1", "1", "true", "0x2", "", "1, 2"}},
	}
	for _, tt := range tests {
		if _, err := parseArgs(fn, nil, tt.words, layout); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestParseValueText(t *testing.T) {
	v, err := parseValue("hi", values.VectorLayout(values.U8Layout))
	if err != nil {
		t.Fatalf("parseValue: %v", err)
	}
	if !v.Equal(values.Bytes([]byte("hi"))) {
		t.Fatalf("got %s", v)
	}
	nested, err := parseValue("[[1], [], [2, 3]]", values.VectorLayout(values.VectorLayout(values.U64Layout)))
	if err != nil {
		t.Fatalf("nested: %v", err)
	}
	if nested.Len() != 3 || nested.Elems()[2].Len() != 2 {
		t.Fatalf("nested = %s", nested)
	}
}

func TestParseTypeArgs(t *testing.T) {
	tags, err := parseTypeArgs("u64, vector<u8>, 0x1::M::S")
	if err != nil {
		t.Fatalf("parseTypeArgs: %v", err)
	}
	if len(tags) != 3 {
		t.Fatalf("got %d tags", len(tags))
	}
	if tags[1].String() != "vector<u8>" {
		t.Fatalf("tags[1] = %s", tags[1])
	}
	if tags, err := parseTypeArgs("  "); err != nil || tags != nil {
		t.Fatalf("empty = %v, %v", tags, err)
	}
	if _, err := parseTypeArgs("u64,,u8"); err == nil {
		t.Fatalf("expected error for empty element")
	}
}

func TestOutputName(t *testing.T) {
	mod, err := asm.Assemble(argsSrc)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if got := outputName("dir/args.masm", mod); got != "dir/args.mv" {
		t.Fatalf("module output = %q", got)
	}
	if got := outputName("main.masm", &asm.Unit{Script: &bytecode.CompiledScript{}}); got != "main.mvsc" {
		t.Fatalf("script output = %q", got)
	}
}

func TestSummarizeChanges(t *testing.T) {
	if got := summarizeChanges(&storage.ChangeSet{}); got != "no changes" {
		t.Fatalf("empty = %q", got)
	}
	a := types.MustParseAddress("0xA")
	cs := &storage.ChangeSet{
		Publishes: []storage.ModuleWrite{{ID: types.NewModuleID(a, "M")}},
		Deletes:   []storage.ResourceKey{{Address: types.MustParseAddress("0xB"), Tag: types.StructTag{Address: a, Module: "M", Name: "Coin"}}},
	}
	want := "1 published, 0 written, 1 deleted across 2 accounts"
	if got := summarizeChanges(cs); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
