package values

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"modvm/internal/types"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("values: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
	dm, err := cbor.DecOptions{
		MaxArrayElements: 1 << 20,
		MaxNestedLevels:  64,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("values: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// ErrSigner is returned when encoding a signer; signers never reach storage.
var ErrSigner = errors.New("values: signer values cannot be serialized")

// Encode serializes v with the canonical CBOR encoding. Integers and bools
// are CBOR scalars, addresses 16-byte strings, vectors and structs arrays.
func Encode(v Value, l *Layout) ([]byte, error) {
	if err := Check(v, l); err != nil {
		return nil, fmt.Errorf("values: encode: %w", err)
	}
	plain, err := toPlain(v)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(plain)
}

func toPlain(v Value) (any, error) {
	switch v.kind {
	case KindBool:
		return v.num == 1, nil
	case KindU8, KindU64:
		return v.num, nil
	case KindAddress:
		return v.addr[:], nil
	case KindSigner:
		return nil, ErrSigner
	case KindVector, KindStruct:
		out := make([]any, len(v.elems))
		for i, e := range v.elems {
			p, err := toPlain(e)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	}
	return nil, fmt.Errorf("values: cannot encode %s", v.kind)
}

// Decode parses data produced by Encode for layout l.
func Decode(data []byte, l *Layout) (Value, error) {
	var plain any
	if err := decMode.Unmarshal(data, &plain); err != nil {
		return Value{}, fmt.Errorf("values: decode: %w", err)
	}
	return fromPlain(plain, l)
}

func fromPlain(p any, l *Layout) (Value, error) {
	switch l.Kind {
	case KindBool:
		b, ok := p.(bool)
		if !ok {
			return Value{}, fmt.Errorf("values: expected bool, found %T", p)
		}
		return Bool(b), nil
	case KindU8, KindU64:
		n, ok := p.(uint64)
		if !ok {
			return Value{}, fmt.Errorf("values: expected unsigned integer, found %T", p)
		}
		if l.Kind == KindU8 {
			if n > 0xff {
				return Value{}, fmt.Errorf("values: u8 out of range: %d", n)
			}
			return U8(uint8(n)), nil
		}
		return U64(n), nil
	case KindAddress:
		b, ok := p.([]byte)
		if !ok {
			return Value{}, fmt.Errorf("values: expected address bytes, found %T", p)
		}
		a, err := types.AddressFromBytes(b)
		if err != nil {
			return Value{}, err
		}
		return Address(a), nil
	case KindVector:
		arr, ok := p.([]any)
		if !ok {
			return Value{}, fmt.Errorf("values: expected array, found %T", p)
		}
		elems := make([]Value, len(arr))
		for i, e := range arr {
			v, err := fromPlain(e, l.Elem)
			if err != nil {
				return Value{}, err
			}
			elems[i] = v
		}
		return Vector(elems...), nil
	case KindStruct:
		arr, ok := p.([]any)
		if !ok {
			return Value{}, fmt.Errorf("values: expected array, found %T", p)
		}
		if len(arr) != len(l.Struct.Fields) {
			return Value{}, fmt.Errorf("values: %s has %d fields, found %d", l.Struct.Tag, len(l.Struct.Fields), len(arr))
		}
		fields := make([]Value, len(arr))
		for i, e := range arr {
			v, err := fromPlain(e, l.Struct.Fields[i].Layout)
			if err != nil {
				return Value{}, fmt.Errorf("field %s: %w", l.Struct.Fields[i].Name, err)
			}
			fields[i] = v
		}
		return Struct(fields...), nil
	}
	return Value{}, fmt.Errorf("values: cannot decode %s", l.Kind)
}
