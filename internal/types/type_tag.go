package types

import (
	"fmt"
	"strings"
)

// TagKind discriminates TypeTag variants.
type TagKind uint8

const (
	TagBool TagKind = iota + 1
	TagU8
	TagU64
	TagAddress
	TagSigner
	TagVector
	TagStruct
)

// String returns the source keyword of a primitive kind.
func (k TagKind) String() string {
	switch k {
	case TagBool:
		return "bool"
	case TagU8:
		return "u8"
	case TagU64:
		return "u64"
	case TagAddress:
		return "address"
	case TagSigner:
		return "signer"
	case TagVector:
		return "vector"
	case TagStruct:
		return "struct"
	default:
		return "unknown"
	}
}

// TypeTag is a fully instantiated runtime type, as seen from outside the VM
// (type arguments, resource keys, native function type parameters).
type TypeTag struct {
	Kind   TagKind
	Elem   *TypeTag   // TagVector
	Struct *StructTag // TagStruct
}

// StructTag names a struct type.
type StructTag struct {
	Address    Address
	Module     Identifier
	Name       Identifier
	TypeParams []TypeTag
}

// Primitive tags.
var (
	BoolTag    = TypeTag{Kind: TagBool}
	U8Tag      = TypeTag{Kind: TagU8}
	U64Tag     = TypeTag{Kind: TagU64}
	AddressTag = TypeTag{Kind: TagAddress}
	SignerTag  = TypeTag{Kind: TagSigner}
)

// VectorTag returns vector<elem>.
func VectorTag(elem TypeTag) TypeTag {
	e := elem
	return TypeTag{Kind: TagVector, Elem: &e}
}

// StructTypeTag wraps a StructTag.
func StructTypeTag(st StructTag) TypeTag {
	s := st
	return TypeTag{Kind: TagStruct, Struct: &s}
}

// ModuleID returns the id of the module declaring the struct.
func (s StructTag) ModuleID() ModuleID {
	return ModuleID{Address: s.Address, Name: s.Module}
}

func (s StructTag) String() string {
	var sb strings.Builder
	sb.WriteString(s.Address.String())
	sb.WriteString("::")
	sb.WriteString(string(s.Module))
	sb.WriteString("::")
	sb.WriteString(string(s.Name))
	if len(s.TypeParams) > 0 {
		sb.WriteByte('<')
		for i, tp := range s.TypeParams {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(tp.String())
		}
		sb.WriteByte('>')
	}
	return sb.String()
}

// Equal compares struct tags structurally.
func (s StructTag) Equal(o StructTag) bool {
	if s.Address != o.Address || s.Module != o.Module || s.Name != o.Name || len(s.TypeParams) != len(o.TypeParams) {
		return false
	}
	for i := range s.TypeParams {
		if !s.TypeParams[i].Equal(o.TypeParams[i]) {
			return false
		}
	}
	return true
}

func (t TypeTag) String() string {
	switch t.Kind {
	case TagVector:
		if t.Elem == nil {
			return "vector<?>"
		}
		return "vector<" + t.Elem.String() + ">"
	case TagStruct:
		if t.Struct == nil {
			return "struct<?>"
		}
		return t.Struct.String()
	default:
		return t.Kind.String()
	}
}

// Equal compares type tags structurally.
func (t TypeTag) Equal(o TypeTag) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case TagVector:
		if t.Elem == nil || o.Elem == nil {
			return t.Elem == o.Elem
		}
		return t.Elem.Equal(*o.Elem)
	case TagStruct:
		if t.Struct == nil || o.Struct == nil {
			return t.Struct == o.Struct
		}
		return t.Struct.Equal(*o.Struct)
	}
	return true
}

// ParseTypeTag parses the String form: primitives, vector<T> and
// 0xA::M::S<T1, T2>.
func ParseTypeTag(s string) (TypeTag, error) {
	p := &tagParser{src: strings.TrimSpace(s)}
	tag, err := p.parse()
	if err != nil {
		return TypeTag{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return TypeTag{}, fmt.Errorf("unexpected trailing input in type %q", s)
	}
	return tag, nil
}

// ParseStructTag parses a struct type string.
func ParseStructTag(s string) (StructTag, error) {
	tag, err := ParseTypeTag(s)
	if err != nil {
		return StructTag{}, err
	}
	if tag.Kind != TagStruct {
		return StructTag{}, fmt.Errorf("%q is not a struct type", s)
	}
	return *tag.Struct, nil
}

type tagParser struct {
	src string
	pos int
}

func (p *tagParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *tagParser) word() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '<' || c == '>' || c == ',' || c == ' ' || c == ':' {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *tagParser) expect(tok string) error {
	p.skipSpace()
	if !strings.HasPrefix(p.src[p.pos:], tok) {
		return fmt.Errorf("expected %q at offset %d in %q", tok, p.pos, p.src)
	}
	p.pos += len(tok)
	return nil
}

func (p *tagParser) peek(tok string) bool {
	p.skipSpace()
	return strings.HasPrefix(p.src[p.pos:], tok)
}

func (p *tagParser) parse() (TypeTag, error) {
	w := p.word()
	switch w {
	case "bool":
		return BoolTag, nil
	case "u8":
		return U8Tag, nil
	case "u64":
		return U64Tag, nil
	case "address":
		return AddressTag, nil
	case "signer":
		return SignerTag, nil
	case "vector":
		if err := p.expect("<"); err != nil {
			return TypeTag{}, err
		}
		elem, err := p.parse()
		if err != nil {
			return TypeTag{}, err
		}
		if err := p.expect(">"); err != nil {
			return TypeTag{}, err
		}
		return VectorTag(elem), nil
	case "":
		return TypeTag{}, fmt.Errorf("expected type at offset %d in %q", p.pos, p.src)
	}
	addr, err := ParseAddress(w)
	if err != nil {
		return TypeTag{}, fmt.Errorf("unknown type %q", w)
	}
	if err := p.expect("::"); err != nil {
		return TypeTag{}, err
	}
	mod, err := NewIdentifier(p.word())
	if err != nil {
		return TypeTag{}, err
	}
	if err := p.expect("::"); err != nil {
		return TypeTag{}, err
	}
	name, err := NewIdentifier(p.word())
	if err != nil {
		return TypeTag{}, err
	}
	st := StructTag{Address: addr, Module: mod, Name: name}
	if p.peek("<") {
		p.pos++
		for {
			tp, err := p.parse()
			if err != nil {
				return TypeTag{}, err
			}
			st.TypeParams = append(st.TypeParams, tp)
			if p.peek(",") {
				p.pos++
				continue
			}
			if err := p.expect(">"); err != nil {
				return TypeTag{}, err
			}
			break
		}
	}
	return StructTypeTag(st), nil
}
