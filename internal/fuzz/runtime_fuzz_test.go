package fuzztests

import (
	"testing"

	"modvm/internal/asm"
	"modvm/internal/bytecode"
	"modvm/internal/types"
	"modvm/internal/values"
	"modvm/internal/verifier"
)

const maxFuzzInput = 1 << 16 // 64 KiB

func clampInput(input []byte) []byte {
	if len(input) > maxFuzzInput {
		return append([]byte(nil), input[:maxFuzzInput]...)
	}
	return append([]byte(nil), input...)
}

func FuzzAssemble(f *testing.F) {
	addSourceSeeds(f)
	f.Fuzz(func(t *testing.T, src string) {
		if len(src) > maxFuzzInput {
			src = src[:maxFuzzInput]
		}
		u, err := asm.Assemble(src)
		if err != nil {
			return
		}
		if u.Module == nil && u.Script == nil {
			t.Fatalf("Assemble returned an empty unit")
		}
		_, _ = u.Bytes()
	})
}

func FuzzVerify(f *testing.F) {
	addBinarySeeds(f)
	f.Fuzz(func(t *testing.T, data []byte) {
		data = clampInput(data)
		kind, ok := bytecode.PeekKind(data)
		if !ok {
			return
		}
		switch kind {
		case bytecode.KindModule:
			m, err := verifier.Module(data)
			if err != nil {
				return
			}
			// a verified module survives a round trip
			again, err := bytecode.SerializeModule(m)
			if err != nil {
				t.Fatalf("re-serialize verified module: %v", err)
			}
			if _, err := verifier.Module(again); err != nil {
				t.Fatalf("re-verify: %v", err)
			}
		case bytecode.KindScript:
			_, _ = verifier.Script(data)
		}
	})
}

var fuzzLayouts = []*values.Layout{
	values.U64Layout,
	values.VectorLayout(values.U8Layout),
	values.VectorLayout(values.VectorLayout(values.AddressLayout)),
	{Kind: values.KindStruct, Struct: &values.StructLayout{
		Tag: types.StructTag{Address: types.MustParseAddress("0xA"), Module: "Coin", Name: "Coin"},
		Fields: []values.FieldLayout{
			{Name: "value", Layout: values.U64Layout},
			{Name: "owner", Layout: values.AddressLayout},
			{Name: "frozen", Layout: values.BoolLayout},
		},
	}},
}

func FuzzDecodeValue(f *testing.F) {
	for i := range fuzzLayouts {
		f.Add(uint8(i), []byte{})
	}
	coin, err := values.Encode(values.Struct(values.U64(7), values.Address(types.MustParseAddress("0xB")), values.Bool(false)), fuzzLayouts[3])
	if err == nil {
		f.Add(uint8(3), coin)
	}
	f.Fuzz(func(t *testing.T, which uint8, data []byte) {
		l := fuzzLayouts[int(which)%len(fuzzLayouts)]
		v, err := values.Decode(clampInput(data), l)
		if err != nil {
			return
		}
		if err := values.Check(v, l); err != nil {
			t.Fatalf("decoded value does not match its layout: %v", err)
		}
		again, err := values.Encode(v, l)
		if err != nil {
			t.Fatalf("re-encode: %v", err)
		}
		back, err := values.Decode(again, l)
		if err != nil || !back.Equal(v) {
			t.Fatalf("round trip changed value: %v", err)
		}
	})
}
