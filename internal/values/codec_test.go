package values_test

import (
	"bytes"
	"errors"
	"testing"

	"modvm/internal/types"
	"modvm/internal/values"
)

func coinLayout() *values.Layout {
	tag := types.StructTag{Address: types.MustParseAddress("0xA"), Module: "Coin", Name: "Coin"}
	return &values.Layout{Kind: values.KindStruct, Struct: &values.StructLayout{
		Tag: tag,
		Fields: []values.FieldLayout{
			{Name: "value", Layout: values.U64Layout},
			{Name: "owner", Layout: values.AddressLayout},
			{Name: "memo", Layout: values.VectorLayout(values.U8Layout)},
		},
	}}
}

func TestEncodeDecodeStruct(t *testing.T) {
	l := coinLayout()
	v := values.Struct(values.U64(100), values.Address(types.MustParseAddress("0xCAFE")), values.Bytes([]byte("hi")))

	data, err := values.Encode(v, l)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	again, err := values.Encode(v.Copy(), l)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Fatal("encoding is not deterministic")
	}

	back, err := values.Decode(data, l)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !back.Equal(v) {
		t.Fatalf("decoded %v, want %v", back, v)
	}
	memo, err := back.Field(2).AsBytes()
	if err != nil || string(memo) != "hi" {
		t.Fatalf("memo = %q, %v", memo, err)
	}
}

func TestEncodeRejectsShapeMismatch(t *testing.T) {
	l := coinLayout()
	if _, err := values.Encode(values.Struct(values.U64(1)), l); err == nil {
		t.Fatal("expected field count error")
	}
	if _, err := values.Encode(values.Signer(types.AddressOne), values.SignerLayout); !errors.Is(err, values.ErrSigner) {
		t.Fatalf("signer: err = %v", err)
	}
	data, err := values.Encode(values.U64(300), values.U64Layout)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := values.Decode(data, values.U8Layout); err == nil {
		t.Fatal("expected u8 range error")
	}
}

func TestCopyIsDeep(t *testing.T) {
	inner := []values.Value{values.U64(1), values.U64(2)}
	v := values.Vector(inner...)
	cp := v.Copy()
	inner[0] = values.U64(9)
	if cp.Elems()[0].Equal(values.U64(9)) {
		t.Fatal("copy shares storage with the original")
	}
}
