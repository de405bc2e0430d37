// Package values holds runtime values, their layouts and the canonical
// encoding resources are stored with.
package values

import (
	"fmt"
	"strings"

	"modvm/internal/types"
)

// Kind discriminates Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindU8
	KindU64
	KindAddress
	KindSigner
	KindVector
	KindStruct
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindU8:
		return "u8"
	case KindU64:
		return "u64"
	case KindAddress:
		return "address"
	case KindSigner:
		return "signer"
	case KindVector:
		return "vector"
	case KindStruct:
		return "struct"
	}
	return "invalid"
}

// Value is an immutable runtime value. Vectors and structs share their
// element slices; use Copy before handing a value to code that may keep it.
type Value struct {
	kind  Kind
	num   uint64
	addr  types.Address
	elems []Value
}

func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

func U8(n uint8) Value                      { return Value{kind: KindU8, num: uint64(n)} }
func U64(n uint64) Value                    { return Value{kind: KindU64, num: n} }
func Address(a types.Address) Value         { return Value{kind: KindAddress, addr: a} }
func Signer(a types.Address) Value          { return Value{kind: KindSigner, addr: a} }
func Vector(elems ...Value) Value           { return Value{kind: KindVector, elems: elems} }
func Struct(fields ...Value) Value          { return Value{kind: KindStruct, elems: fields} }
func (v Value) Kind() Kind                  { return v.kind }
func (v Value) IsValid() bool               { return v.kind != KindInvalid }
func (v Value) Len() int                    { return len(v.elems) }
func (v Value) Elems() []Value              { return v.elems }
func (v Value) Field(i int) Value           { return v.elems[i] }
func (v Value) Fields() []Value             { return v.elems }
func (v Value) AddressValue() types.Address { return v.addr }

// Bytes builds a vector<u8>.
func Bytes(b []byte) Value {
	elems := make([]Value, len(b))
	for i, c := range b {
		elems[i] = U8(c)
	}
	return Vector(elems...)
}

func (v Value) expect(k Kind) error {
	if v.kind != k {
		return fmt.Errorf("values: expected %s, found %s", k, v.kind)
	}
	return nil
}

func (v Value) AsBool() (bool, error) {
	if err := v.expect(KindBool); err != nil {
		return false, err
	}
	return v.num == 1, nil
}

func (v Value) AsU8() (uint8, error) {
	if err := v.expect(KindU8); err != nil {
		return 0, err
	}
	return uint8(v.num), nil
}

func (v Value) AsU64() (uint64, error) {
	if err := v.expect(KindU64); err != nil {
		return 0, err
	}
	return v.num, nil
}

// AsInt returns the numeric value of a u8 or u64.
func (v Value) AsInt() (uint64, error) {
	if v.kind != KindU8 && v.kind != KindU64 {
		return 0, fmt.Errorf("values: expected integer, found %s", v.kind)
	}
	return v.num, nil
}

func (v Value) AsAddress() (types.Address, error) {
	if err := v.expect(KindAddress); err != nil {
		return types.Address{}, err
	}
	return v.addr, nil
}

func (v Value) AsSigner() (types.Address, error) {
	if err := v.expect(KindSigner); err != nil {
		return types.Address{}, err
	}
	return v.addr, nil
}

// AsBytes converts a vector<u8>.
func (v Value) AsBytes() ([]byte, error) {
	if err := v.expect(KindVector); err != nil {
		return nil, err
	}
	out := make([]byte, len(v.elems))
	for i, e := range v.elems {
		b, err := e.AsU8()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// Copy returns a deep copy.
func (v Value) Copy() Value {
	if v.elems == nil {
		return v
	}
	cp := v
	cp.elems = make([]Value, len(v.elems))
	for i, e := range v.elems {
		cp.elems[i] = e.Copy()
	}
	return cp
}

// Equal compares values structurally.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind || v.num != o.num || v.addr != o.addr || len(v.elems) != len(o.elems) {
		return false
	}
	for i := range v.elems {
		if !v.elems[i].Equal(o.elems[i]) {
			return false
		}
	}
	return true
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		if v.num == 1 {
			return "true"
		}
		return "false"
	case KindU8:
		return fmt.Sprintf("%du8", v.num)
	case KindU64:
		return fmt.Sprintf("%d", v.num)
	case KindAddress:
		return "@" + v.addr.String()
	case KindSigner:
		return "signer(" + v.addr.String() + ")"
	case KindVector, KindStruct:
		parts := make([]string, len(v.elems))
		for i, e := range v.elems {
			parts[i] = e.String()
		}
		if v.kind == KindVector {
			return "[" + strings.Join(parts, ", ") + "]"
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return "<invalid>"
}
