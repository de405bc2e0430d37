package verifier_test

import (
	"testing"

	"modvm/internal/asm"
	"modvm/internal/bytecode"
	"modvm/internal/types"
	"modvm/internal/verifier"
	"modvm/internal/vmerr"
)

const coinSrc = `
module 0xA::Coin
extern fun 0x1::Vector::length<T>(v: vector<T>): u64

struct Coin has key, store {
    value: u64
}

struct Receipt has drop {
    amount: u64
}

public entry fun mint(account: signer, amount: u64) {
    move_loc account
    move_loc amount
    pack Coin
    move_to Coin
    ret
}

public fun balance(owner: address): u64 {
    copy_loc owner
    exists Coin
    br_false none
    move_loc owner
    move_from Coin
    unpack Coin
    ret
none:
    ld_u64 0
    ret
}

public fun size(v: vector<u8>): u64 {
    move_loc v
    call_generic 0x1::Vector::length<u8>
    ret
}

fun receipt(amount: u64): u64 {
    move_loc amount
    pack Receipt
    get_field Receipt.amount
    ret
}
`

func mustAssemble(t *testing.T, src string) *bytecode.CompiledModule {
	t.Helper()
	m, err := asm.AssembleModule(src)
	if err != nil {
		t.Fatalf("AssembleModule: %v", err)
	}
	return m
}

func TestVerifyAcceptsWellFormedModule(t *testing.T) {
	m := mustAssemble(t, coinSrc)
	if err := verifier.VerifyModule(m); err != nil {
		t.Fatalf("VerifyModule: %v", err)
	}
	data, err := bytecode.SerializeModule(m)
	if err != nil {
		t.Fatalf("SerializeModule: %v", err)
	}
	back, err := verifier.Module(data)
	if err != nil {
		t.Fatalf("Module: %v", err)
	}
	if back.Self() != types.MustParseModuleID("0xA::Coin") {
		t.Fatalf("self = %v", back.Self())
	}
}

func TestVerifyRejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want vmerr.StatusCode
	}{
		{
			name: "fall through",
			src:  "module 0x1::M\nfun f() {\n ld_u64 1\n pop\n}",
			want: vmerr.InvalidFallThrough,
		},
		{
			name: "return type",
			src:  "module 0x1::M\nfun f(): u64 {\n ld_true\n ret\n}",
			want: vmerr.RetTypeMismatch,
		},
		{
			name: "arith on bool",
			src:  "module 0x1::M\nfun f(): u64 {\n ld_true\n ld_u64 1\n add\n ret\n}",
			want: vmerr.VerifyTypeMismatch,
		},
		{
			name: "empty stack",
			src:  "module 0x1::M\nfun f() {\n pop\n ret\n}",
			want: vmerr.NegativeStackSize,
		},
		{
			name: "join mismatch",
			src:  "module 0x1::M\nfun f(b: bool): u64 {\n move_loc b\n br_true yes\n ld_u64 1\n yes:\n ld_u64 2\n ret\n}",
			want: vmerr.StackMismatchAtJoin,
		},
		{
			name: "global op without key",
			src:  "module 0x1::M\nstruct S has drop {\n v: u64\n}\nfun f(a: address): bool {\n move_loc a\n exists S\n ret\n}",
			want: vmerr.GlobalOpWithoutKey,
		},
		{
			name: "copy without copy",
			src:  "module 0x1::M\nstruct S has key {\n v: u64\n}\nfun f(s: S): S {\n copy_loc s\n ret\n}",
			want: vmerr.CopyLocWithoutCopy,
		},
		{
			name: "pop without drop",
			src:  "module 0x1::M\nstruct S has key {\n v: u64\n}\nfun f(s: S) {\n move_loc s\n pop\n ret\n}",
			want: vmerr.PopWithoutDrop,
		},
		{
			name: "field ability",
			src:  "module 0x1::M\nstruct Inner has key {\n v: u64\n}\nstruct Outer has copy {\n i: Inner\n}\nfun f() {\n ret\n}",
			want: vmerr.FieldMissingTypeAbility,
		},
		{
			name: "type arg constraint",
			src:  "module 0x1::M\nextern fun 0x1::N::dup<T: copy>(x: T)\nstruct S has key {\n v: u64\n}\nfun f(s: S) {\n move_loc s\n call_generic 0x1::N::dup<S>\n ret\n}",
			want: vmerr.TypeArgConstraintFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mustAssemble(t, tt.src)
			err := verifier.VerifyModule(m)
			if !vmerr.HasStatus(err, tt.want) {
				t.Fatalf("err = %v, want %s", err, tt.want)
			}
			if loc, ok := vmerr.LocationOf(err); !ok || loc.Module != m.Self() {
				t.Fatalf("location = %v", loc)
			}
		})
	}
}

func TestVerifyRejectsBadTables(t *testing.T) {
	m := mustAssemble(t, coinSrc)
	m.FunctionDefs[0].Code[0].Arg = 99
	if err := verifier.VerifyModule(m); !vmerr.HasStatus(err, vmerr.InvalidLocal) {
		t.Fatalf("bad local: err = %v", err)
	}

	m = mustAssemble(t, coinSrc)
	m.ModuleHandles = append(m.ModuleHandles, m.ModuleHandles[0])
	if err := verifier.VerifyModule(m); !vmerr.HasStatus(err, vmerr.SelfDependency) {
		t.Fatalf("self dependency: err = %v", err)
	}

	m = mustAssemble(t, coinSrc)
	m.StructHandles[0].Name = "1bad"
	if err := verifier.VerifyModule(m); !vmerr.HasStatus(err, vmerr.InvalidIdentifier) {
		t.Fatalf("identifier: err = %v", err)
	}

	m = mustAssemble(t, coinSrc)
	m.FunctionDefs[0].IsNative = true
	if err := verifier.VerifyModule(m); !vmerr.HasStatus(err, vmerr.NativeWithCode) {
		t.Fatalf("native with code: err = %v", err)
	}

	m = mustAssemble(t, coinSrc)
	m.FunctionDefs = append(m.FunctionDefs, m.FunctionDefs[0])
	if err := verifier.VerifyModule(m); !vmerr.HasStatus(err, vmerr.DuplicateElement) {
		t.Fatalf("duplicate def: err = %v", err)
	}
}

func TestVerifyScript(t *testing.T) {
	s, err := asm.AssembleScript(`
script
extern fun 0xA::Coin::mint(account: signer, amount: u64)
fun main(account: signer) {
    move_loc account
    ld_u64 10
    call 0xA::Coin::mint
    ret
}
`)
	if err != nil {
		t.Fatalf("AssembleScript: %v", err)
	}
	if err := verifier.VerifyScript(s); err != nil {
		t.Fatalf("VerifyScript: %v", err)
	}

	s.Code = s.Code[:2]
	err = verifier.VerifyScript(s)
	if !vmerr.HasStatus(err, vmerr.InvalidFallThrough) {
		t.Fatalf("err = %v", err)
	}
	if loc, _ := vmerr.LocationOf(err); loc.Kind != vmerr.LocScript {
		t.Fatalf("location = %v, want script", loc)
	}
}
