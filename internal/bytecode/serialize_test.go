package bytecode_test

import (
	"bytes"
	"testing"

	"modvm/internal/bytecode"
	"modvm/internal/types"
	"modvm/internal/vmerr"
)

func sampleModule(t *testing.T) *bytecode.CompiledModule {
	t.Helper()
	b := bytecode.NewModuleBuilder(types.MustParseModuleID("0xA::M"))
	b.Struct("Counter", types.AbilitySet(types.AbilityKey), []bytecode.FieldDef{{Name: "value", Type: bytecode.U64}})
	b.Function(bytecode.FunctionSpec{
		Name:       "f",
		Visibility: bytecode.Public,
		Returns:    []bytecode.SignatureToken{bytecode.U64},
		Code: []bytecode.Instruction{
			bytecode.I(bytecode.OpLdU64, 42),
			bytecode.I(bytecode.OpRet),
		},
	})
	m, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return m
}

func TestSerializeIsDeterministic(t *testing.T) {
	m := sampleModule(t)
	a, err := bytecode.SerializeModule(m)
	if err != nil {
		t.Fatalf("SerializeModule: %v", err)
	}
	b, err := bytecode.SerializeModule(sampleModule(t))
	if err != nil {
		t.Fatalf("SerializeModule: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("same module serialized to different bytes")
	}
	if kind, ok := bytecode.PeekKind(a); !ok || kind != bytecode.KindModule {
		t.Fatalf("PeekKind = %v, %v", kind, ok)
	}

	back, err := bytecode.DeserializeModule(a)
	if err != nil {
		t.Fatalf("DeserializeModule: %v", err)
	}
	if back.Self() != m.Self() {
		t.Fatalf("self = %v, want %v", back.Self(), m.Self())
	}
	if idx, ok := back.FindFunction("f"); !ok || back.FunctionDefs[idx].Code[0].Arg != 42 {
		t.Fatal("function f not preserved")
	}
}

func TestDeserializeRejectsBadHeaders(t *testing.T) {
	good, err := bytecode.SerializeModule(sampleModule(t))
	if err != nil {
		t.Fatalf("SerializeModule: %v", err)
	}

	badMagic := append([]byte{0, 0, 0, 0}, good[4:]...)
	if _, err := bytecode.DeserializeModule(badMagic); !vmerr.HasStatus(err, vmerr.BadMagic) {
		t.Fatalf("bad magic: got %v", err)
	}

	badVersion := append([]byte(nil), good...)
	badVersion[5] = 99
	if _, err := bytecode.DeserializeModule(badVersion); !vmerr.HasStatus(err, vmerr.UnknownVersion) {
		t.Fatalf("bad version: got %v", err)
	}

	if _, err := bytecode.DeserializeScript(good); !vmerr.HasStatus(err, vmerr.Malformed) {
		t.Fatalf("module bytes as script: got %v", err)
	}

	trailing := append(append([]byte(nil), good...), 0x00)
	if _, err := bytecode.DeserializeModule(trailing); !vmerr.HasStatus(err, vmerr.Malformed) {
		t.Fatalf("trailing garbage: got %v", err)
	}

	if _, err := bytecode.DeserializeModule(good[:3]); !vmerr.HasStatus(err, vmerr.Malformed) {
		t.Fatalf("truncated: got %v", err)
	}
}

func TestScriptAsModuleShiftsHandles(t *testing.T) {
	dep := types.MustParseModuleID("0x1::Debug")
	s := &bytecode.CompiledScript{
		ModuleHandles: []bytecode.ModuleHandle{{Address: dep.Address, Name: dep.Name}},
		FunctionHandles: []bytecode.FunctionHandle{{
			Module: 0, Name: "print", Params: []bytecode.SignatureToken{bytecode.U64},
		}},
		Params: []bytecode.SignatureToken{bytecode.U64},
		Code: []bytecode.Instruction{
			bytecode.I(bytecode.OpMoveLoc, 0),
			bytecode.I(bytecode.OpCall, 0),
			bytecode.I(bytecode.OpRet),
		},
	}
	m := s.AsModule()
	if m.Self() != bytecode.ScriptModuleID {
		t.Fatalf("self = %v", m.Self())
	}
	if m.FunctionHandles[0].Module != 1 || m.ModuleHandles[1].ID() != dep {
		t.Fatal("imported handle not shifted to the dependency")
	}
	idx, ok := m.FindFunction(bytecode.ScriptEntryName)
	if !ok || !m.FunctionDefs[idx].IsEntry {
		t.Fatal("script entry missing")
	}
	if deps := m.Dependencies(); len(deps) != 1 || deps[0] != dep {
		t.Fatalf("deps = %v", deps)
	}
}

func TestSignatureString(t *testing.T) {
	m := sampleModule(t)
	h := bytecode.FunctionHandle{
		Name:       "swap",
		TypeParams: []types.AbilitySet{types.AbilitiesPrimitive},
		Params:     []bytecode.SignatureToken{bytecode.TypeParam(0), bytecode.Vector(bytecode.U8)},
		Returns:    []bytecode.SignatureToken{bytecode.Struct(0), bytecode.Bool},
	}
	want := "swap<T0: copy + drop + store>(T0, vector<u8>): (0xa::M::Counter, bool)"
	if got := m.SignatureString(h); got != want {
		t.Fatalf("SignatureString = %q, want %q", got, want)
	}
}
