package interp

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"modvm/internal/bytecode"
	"modvm/internal/types"
	"modvm/internal/values"
	"modvm/internal/vmerr"
)

// asPartial keeps the status of errors that already carry one and wraps
// anything else under fallback. A nil err stays nil.
func asPartial(err error, fallback vmerr.StatusCode) *vmerr.PartialError {
	if err == nil {
		return nil
	}
	if part, ok := err.(*vmerr.PartialError); ok {
		return part
	}
	code, ok := vmerr.StatusOf(err)
	if !ok {
		return vmerr.New(fallback).Wrap(err)
	}
	p := vmerr.New(code).Wrap(err)
	if sub, ok := vmerr.SubStatusOf(err); ok {
		p.WithSubStatus(sub)
	}
	return p
}

func arith(op bytecode.Opcode, lv, rv values.Value) (values.Value, *vmerr.PartialError) {
	l, _ := lv.AsInt()
	r, _ := rv.AsInt()
	limit := uint64(math.MaxUint64)
	if lv.Kind() == values.KindU8 {
		limit = math.MaxUint8
	}

	var out uint64
	switch op {
	case bytecode.OpAdd:
		sum, carry := bits.Add64(l, r, 0)
		if carry != 0 || sum > limit {
			return values.Value{}, vmerr.Newf(vmerr.ArithmeticError, "%d + %d overflows %s", l, r, lv.Kind())
		}
		out = sum
	case bytecode.OpSub:
		if r > l {
			return values.Value{}, vmerr.Newf(vmerr.ArithmeticError, "%d - %d underflows", l, r)
		}
		out = l - r
	case bytecode.OpMul:
		hi, lo := bits.Mul64(l, r)
		if hi != 0 || lo > limit {
			return values.Value{}, vmerr.Newf(vmerr.ArithmeticError, "%d * %d overflows %s", l, r, lv.Kind())
		}
		out = lo
	case bytecode.OpDiv, bytecode.OpMod:
		if r == 0 {
			return values.Value{}, vmerr.Newf(vmerr.ArithmeticError, "%s by zero", op)
		}
		if op == bytecode.OpDiv {
			out = l / r
		} else {
			out = l % r
		}
	}
	if lv.Kind() == values.KindU8 {
		return values.U8(uint8(out)), nil
	}
	return values.U64(out), nil
}

func compare(op bytecode.Opcode, l, r uint64) bool {
	switch op {
	case bytecode.OpLt:
		return l < r
	case bytecode.OpGt:
		return l > r
	case bytecode.OpLe:
		return l <= r
	default:
		return l >= r
	}
}

// constantValue decodes a constant pool entry.
func constantValue(c bytecode.Constant) (values.Value, error) {
	switch c.Type.Kind {
	case bytecode.TokBool:
		if len(c.Data) != 1 {
			break
		}
		return values.Bool(c.Data[0] == 1), nil
	case bytecode.TokU8:
		if len(c.Data) != 1 {
			break
		}
		return values.U8(c.Data[0]), nil
	case bytecode.TokU64:
		if len(c.Data) != 8 {
			break
		}
		return values.U64(binary.BigEndian.Uint64(c.Data)), nil
	case bytecode.TokAddress:
		a, err := types.AddressFromBytes(c.Data)
		if err != nil {
			return values.Value{}, err
		}
		return values.Address(a), nil
	case bytecode.TokVector:
		return values.Bytes(c.Data), nil
	}
	return values.Value{}, fmt.Errorf("interp: bad constant of kind %d (%d bytes)", c.Type.Kind, len(c.Data))
}
