package values

import (
	"fmt"
	"strings"

	"modvm/internal/types"
)

// Layout describes the shape of a fully instantiated type. Struct layouts
// carry their tag and field names so that values can be printed and checked.
type Layout struct {
	Kind   Kind
	Elem   *Layout       // KindVector
	Struct *StructLayout // KindStruct
}

type StructLayout struct {
	Tag    types.StructTag
	Fields []FieldLayout
}

type FieldLayout struct {
	Name   types.Identifier
	Layout *Layout
}

var (
	BoolLayout    = &Layout{Kind: KindBool}
	U8Layout      = &Layout{Kind: KindU8}
	U64Layout     = &Layout{Kind: KindU64}
	AddressLayout = &Layout{Kind: KindAddress}
	SignerLayout  = &Layout{Kind: KindSigner}
)

func VectorLayout(elem *Layout) *Layout {
	return &Layout{Kind: KindVector, Elem: elem}
}

func (l *Layout) String() string {
	switch l.Kind {
	case KindVector:
		return "vector<" + l.Elem.String() + ">"
	case KindStruct:
		parts := make([]string, len(l.Struct.Fields))
		for i, f := range l.Struct.Fields {
			parts[i] = string(f.Name) + ": " + f.Layout.String()
		}
		return l.Struct.Tag.String() + " { " + strings.Join(parts, ", ") + " }"
	}
	return l.Kind.String()
}

// Check reports whether v has the shape of l.
func Check(v Value, l *Layout) error {
	if v.kind != l.Kind {
		return fmt.Errorf("expected %s, found %s", l, v.kind)
	}
	switch l.Kind {
	case KindU8:
		if v.num > 0xff {
			return fmt.Errorf("u8 out of range: %d", v.num)
		}
	case KindVector:
		for i, e := range v.elems {
			if err := Check(e, l.Elem); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
	case KindStruct:
		if len(v.elems) != len(l.Struct.Fields) {
			return fmt.Errorf("%s has %d fields, found %d", l.Struct.Tag, len(l.Struct.Fields), len(v.elems))
		}
		for i, f := range l.Struct.Fields {
			if err := Check(v.elems[i], f.Layout); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
	}
	return nil
}
