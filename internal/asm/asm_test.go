package asm_test

import (
	"errors"
	"testing"

	"modvm/internal/asm"
	"modvm/internal/bytecode"
	"modvm/internal/types"
)

const counterSrc = `
module 0xA::Counter
extern fun 0x1::Debug::print<T>(v: T)

struct Counter has key {
    value: u64
}

public fun zero(): u64 {
    ld_u64 0
    ret
}

// loops n times and returns n*2
public entry fun double(n: u64): u64 {
    local acc: u64
    ld_u64 0
    st_loc acc
loop:
    copy_loc n
    ld_u64 0
    eq
    br_true done
    copy_loc acc
    ld_u64 2
    add
    st_loc acc
    move_loc n
    ld_u64 1
    sub
    st_loc n
    branch loop
done:
    copy_loc acc
    call_generic 0x1::Debug::print<u64>
    move_loc acc
    ret
}

public fun read(c: Counter): u64 {
    move_loc c
    get_field Counter.value
    ret
}
`

func TestAssembleModule(t *testing.T) {
	m, err := asm.AssembleModule(counterSrc)
	if err != nil {
		t.Fatalf("AssembleModule: %v", err)
	}
	if m.Self() != types.MustParseModuleID("0xA::Counter") {
		t.Fatalf("self = %v", m.Self())
	}
	if deps := m.Dependencies(); len(deps) != 1 || deps[0] != types.MustParseModuleID("0x1::Debug") {
		t.Fatalf("deps = %v", deps)
	}
	if len(m.StructDefs) != 1 || m.StructName(0) != "Counter" {
		t.Fatalf("struct defs = %+v", m.StructDefs)
	}
	if !m.StructHandles[m.StructDefs[0].Handle].Abilities.Has(types.AbilityKey) {
		t.Fatal("Counter lost its key ability")
	}

	idx, ok := m.FindFunction("double")
	if !ok {
		t.Fatal("double not found")
	}
	fd := m.FunctionDefs[idx]
	if !fd.IsEntry || fd.Visibility != bytecode.Public {
		t.Fatalf("double modifiers = %+v", fd)
	}
	if len(fd.Locals) != 1 {
		t.Fatalf("locals = %d, want 1", len(fd.Locals))
	}
	if in := fd.Code[5]; in.Op != bytecode.OpBrTrue || in.Arg != 15 {
		t.Fatalf("code[5] = %v", in)
	}
	if in := fd.Code[14]; in.Op != bytecode.OpBranch || in.Arg != 2 {
		t.Fatalf("code[14] = %v", in)
	}
	if in := fd.Code[16]; in.Op != bytecode.OpCallGeneric {
		t.Fatalf("code[16] = %v", in)
	}
	if len(m.FunctionInstantiations) != 1 || !m.FunctionInstantiations[0].TypeArgs[0].Equal(bytecode.U64) {
		t.Fatalf("instantiations = %+v", m.FunctionInstantiations)
	}

	idx, _ = m.FindFunction("read")
	if in := m.FunctionDefs[idx].Code[1]; in.Op != bytecode.OpGetField || in.Arg != bytecode.FieldOperand(0, 0) {
		t.Fatalf("get_field = %v", in)
	}
}

func TestAssembleScript(t *testing.T) {
	src := `
script
extern fun 0x1::Debug::print<T>(T)
fun main(s: signer, n: u64) {
    ld_addr 0xCAFE
    call_generic 0x1::Debug::print<address>
    ld_bytes "hi"
    call_generic 0x1::Debug::print<vector<u8>>
    ret
}
`
	s, err := asm.AssembleScript(src)
	if err != nil {
		t.Fatalf("AssembleScript: %v", err)
	}
	if len(s.ModuleHandles) != 1 || s.ModuleHandles[0].ID() != types.MustParseModuleID("0x1::Debug") {
		t.Fatalf("module handles = %+v", s.ModuleHandles)
	}
	if s.FunctionHandles[0].Module != 0 {
		t.Fatalf("function handle module = %d, want 0", s.FunctionHandles[0].Module)
	}
	if len(s.Params) != 2 || len(s.Constants) != 2 {
		t.Fatalf("params = %d constants = %d", len(s.Params), len(s.Constants))
	}
	if string(s.Constants[1].Data) != "hi" {
		t.Fatalf("bytes constant = %q", s.Constants[1].Data)
	}

	// a script round-trips through its module form
	m := s.AsModule()
	if m.ModuleHandles[m.FunctionHandles[0].Module].ID() != types.MustParseModuleID("0x1::Debug") {
		t.Fatal("script import resolves to the wrong module after AsModule")
	}
}

func TestAssembleErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		line int
	}{
		{"bad header", "modul 0x1::M", 1},
		{"unknown op", "module 0x1::M\nfun f() {\n  frobnicate\n}", 3},
		{"unknown label", "module 0x1::M\nfun f() {\n  branch nowhere\n}", 3},
		{"undeclared extern", "module 0x1::M\nfun f() {\n  call 0x2::N::g\n  ret\n}", 3},
		{"unclosed", "module 0x1::M\nfun f() {\n  ret", 2},
		{"native with body", "module 0x1::M\nnative fun f() {\n}", 2},
		{"script without main", "script\nfun other() {\n ret\n}", 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := asm.Assemble(tc.src)
			var aerr *asm.Error
			if !errors.As(err, &aerr) {
				t.Fatalf("err = %v, want *asm.Error", err)
			}
			if aerr.Line != tc.line {
				t.Fatalf("line = %d, want %d (%v)", aerr.Line, tc.line, aerr)
			}
		})
	}
}

func TestUnitBytesDeserializes(t *testing.T) {
	u, err := asm.Assemble(counterSrc)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	data, err := u.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if kind, ok := bytecode.PeekKind(data); !ok || kind != bytecode.KindModule {
		t.Fatalf("PeekKind = %v, %v", kind, ok)
	}
}
