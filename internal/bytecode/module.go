// Package bytecode defines the binary module and script format: the
// in-memory CompiledModule / CompiledScript tables, the opcode set, and the
// serialized form (magic + kind + version + canonical CBOR body).
package bytecode

import (
	"fmt"
	"strings"

	"modvm/internal/types"
)

// TokenKind discriminates SignatureToken.
type TokenKind uint8

const (
	TokBool TokenKind = iota + 1
	TokU8
	TokU64
	TokAddress
	TokSigner
	TokVector
	TokStruct    // Index: struct handle
	TokTypeParam // Index: type parameter of the enclosing function
)

// SignatureToken is a type as written in bytecode, relative to the
// declaring module's handle tables.
type SignatureToken struct {
	_     struct{} `cbor:",toarray"`
	Kind  TokenKind
	Index uint16
	Elem  *SignatureToken
}

// Token constructors.
var (
	Bool    = SignatureToken{Kind: TokBool}
	U8      = SignatureToken{Kind: TokU8}
	U64     = SignatureToken{Kind: TokU64}
	Address = SignatureToken{Kind: TokAddress}
	Signer  = SignatureToken{Kind: TokSigner}
)

// Vector returns vector<elem>.
func Vector(elem SignatureToken) SignatureToken {
	e := elem
	return SignatureToken{Kind: TokVector, Elem: &e}
}

// Struct refers to a struct handle.
func Struct(handle uint16) SignatureToken {
	return SignatureToken{Kind: TokStruct, Index: handle}
}

// TypeParam refers to a function type parameter.
func TypeParam(idx uint16) SignatureToken {
	return SignatureToken{Kind: TokTypeParam, Index: idx}
}

// Equal compares tokens structurally.
func (t SignatureToken) Equal(o SignatureToken) bool {
	if t.Kind != o.Kind || t.Index != o.Index {
		return false
	}
	if t.Kind == TokVector {
		if t.Elem == nil || o.Elem == nil {
			return t.Elem == o.Elem
		}
		return t.Elem.Equal(*o.Elem)
	}
	return true
}

// ModuleHandle names a module referenced by this unit. In a module, handle 0
// is the module itself.
type ModuleHandle struct {
	_       struct{} `cbor:",toarray"`
	Address types.Address
	Name    types.Identifier
}

// ID converts the handle to a ModuleID.
func (h ModuleHandle) ID() types.ModuleID {
	return types.ModuleID{Address: h.Address, Name: h.Name}
}

// StructHandle names a struct declared in Module.
type StructHandle struct {
	_         struct{} `cbor:",toarray"`
	Module    uint16
	Name      types.Identifier
	Abilities types.AbilitySet
}

// FunctionHandle names a function declared in Module together with its
// signature.
type FunctionHandle struct {
	_          struct{} `cbor:",toarray"`
	Module     uint16
	Name       types.Identifier
	Params     []SignatureToken
	Returns    []SignatureToken
	TypeParams []types.AbilitySet
}

// FunctionInstantiation is a generic function handle applied to type args.
type FunctionInstantiation struct {
	_        struct{} `cbor:",toarray"`
	Handle   uint16
	TypeArgs []SignatureToken
}

// FieldDef is a named struct field.
type FieldDef struct {
	_    struct{} `cbor:",toarray"`
	Name types.Identifier
	Type SignatureToken
}

// StructDef declares the layout of a struct handle owned by this module.
type StructDef struct {
	_      struct{} `cbor:",toarray"`
	Handle uint16
	Fields []FieldDef
}

// Visibility controls who may call a function.
type Visibility uint8

const (
	Private Visibility = iota
	Public
)

func (v Visibility) String() string {
	if v == Public {
		return "public"
	}
	return "private"
}

// FunctionDef is a function body owned by this module.
type FunctionDef struct {
	_          struct{} `cbor:",toarray"`
	Handle     uint16
	Visibility Visibility
	IsEntry    bool
	IsNative   bool
	Locals     []SignatureToken // locals after the parameters
	Code       []Instruction
}

// Constant is a literal in the constant pool. Data layout by type:
// u8/bool one byte, u64 eight bytes big-endian, address AddressLength bytes,
// vector<u8> raw bytes.
type Constant struct {
	_    struct{} `cbor:",toarray"`
	Type SignatureToken
	Data []byte
}

// CompiledModule is a deserialized, not yet verified module.
type CompiledModule struct {
	Version                uint8
	ModuleHandles          []ModuleHandle
	StructHandles          []StructHandle
	FunctionHandles        []FunctionHandle
	FunctionInstantiations []FunctionInstantiation
	StructDefs             []StructDef
	FunctionDefs           []FunctionDef
	Constants              []Constant
}

// Self returns the id of the module itself.
func (m *CompiledModule) Self() types.ModuleID {
	if len(m.ModuleHandles) == 0 {
		return types.ModuleID{}
	}
	return m.ModuleHandles[0].ID()
}

// Dependencies lists every distinct module this one refers to, in handle order.
func (m *CompiledModule) Dependencies() []types.ModuleID {
	if len(m.ModuleHandles) <= 1 {
		return nil
	}
	self := m.Self()
	seen := make(map[types.ModuleID]struct{}, len(m.ModuleHandles))
	out := make([]types.ModuleID, 0, len(m.ModuleHandles)-1)
	for _, h := range m.ModuleHandles[1:] {
		id := h.ID()
		if id == self {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// FunctionName returns the name of a function definition.
func (m *CompiledModule) FunctionName(def int) types.Identifier {
	return m.FunctionHandles[m.FunctionDefs[def].Handle].Name
}

// FindFunction returns the index of the function definition named name.
func (m *CompiledModule) FindFunction(name types.Identifier) (int, bool) {
	for i := range m.FunctionDefs {
		if m.FunctionName(i) == name {
			return i, true
		}
	}
	return 0, false
}

// StructName returns the name of a struct definition.
func (m *CompiledModule) StructName(def int) types.Identifier {
	return m.StructHandles[m.StructDefs[def].Handle].Name
}

// TokenString renders a token using this module's handle tables.
func (m *CompiledModule) TokenString(t SignatureToken) string {
	switch t.Kind {
	case TokBool:
		return "bool"
	case TokU8:
		return "u8"
	case TokU64:
		return "u64"
	case TokAddress:
		return "address"
	case TokSigner:
		return "signer"
	case TokVector:
		if t.Elem == nil {
			return "vector<?>"
		}
		return "vector<" + m.TokenString(*t.Elem) + ">"
	case TokStruct:
		if int(t.Index) >= len(m.StructHandles) {
			return fmt.Sprintf("struct#%d", t.Index)
		}
		sh := m.StructHandles[t.Index]
		if int(sh.Module) >= len(m.ModuleHandles) {
			return string(sh.Name)
		}
		return m.ModuleHandles[sh.Module].ID().String() + "::" + string(sh.Name)
	case TokTypeParam:
		return fmt.Sprintf("T%d", t.Index)
	}
	return "?"
}

// SignatureString renders "name<T0: copy>(u64, bool): u64".
func (m *CompiledModule) SignatureString(h FunctionHandle) string {
	var sb strings.Builder
	sb.WriteString(string(h.Name))
	if len(h.TypeParams) > 0 {
		sb.WriteByte('<')
		for i, tp := range h.TypeParams {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "T%d", i)
			if tp != types.AbilitiesEmpty {
				sb.WriteString(": ")
				sb.WriteString(strings.ReplaceAll(tp.String(), ", ", " + "))
			}
		}
		sb.WriteByte('>')
	}
	sb.WriteByte('(')
	for i, p := range h.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(m.TokenString(p))
	}
	sb.WriteByte(')')
	if len(h.Returns) > 0 {
		sb.WriteString(": ")
		if len(h.Returns) > 1 {
			sb.WriteByte('(')
		}
		for i, r := range h.Returns {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(m.TokenString(r))
		}
		if len(h.Returns) > 1 {
			sb.WriteByte(')')
		}
	}
	return sb.String()
}
