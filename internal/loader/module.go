package loader

import (
	"fmt"
	"slices"

	"modvm/internal/bytecode"
	"modvm/internal/natives"
	"modvm/internal/types"
	"modvm/internal/vmerr"
)

// Module is a verified module linked against its dependencies. It is shared
// between every session of a VM and never changes once it is in the cache.
type Module struct {
	id    types.ModuleID
	code  *bytecode.CompiledModule
	bytes []byte
	hash  [32]byte

	deps    []*Module     // by module handle, nil at 0
	funcs   []*Function   // by function definition
	structs []*StructType // by struct definition

	funcByName   map[types.Identifier]*Function
	structByName map[types.Identifier]*StructType

	// resolved handle tables
	funcHandles   []*Function
	structHandles []*StructType
}

// Function is one function definition of a loaded module.
type Function struct {
	Module     *Module
	Def        int
	Name       types.Identifier
	Params     []bytecode.SignatureToken
	Returns    []bytecode.SignatureToken
	TypeParams []types.AbilitySet
	Visibility bytecode.Visibility
	IsEntry    bool
	Native     natives.NativeFunction // nil for bytecode functions
	Locals     []bytecode.SignatureToken
	Code       []bytecode.Instruction
}

// IsNative reports whether the body is implemented in Go.
func (f *Function) IsNative() bool { return f.Native != nil }

// IsPublic reports whether other modules may call f.
func (f *Function) IsPublic() bool { return f.Visibility == bytecode.Public }

// LocalCount is the number of parameters plus declared locals.
func (f *Function) LocalCount() int { return len(f.Params) + len(f.Locals) }

// LocalType returns the declared type of local i (parameters first).
func (f *Function) LocalType(i int) bytecode.SignatureToken {
	if i < len(f.Params) {
		return f.Params[i]
	}
	return f.Locals[i-len(f.Params)]
}

func (f *Function) String() string {
	return f.Module.id.String() + "::" + string(f.Name)
}

// Signature renders the function the way the assembler declares it.
func (f *Function) Signature() string {
	return f.Module.code.SignatureString(f.Module.code.FunctionHandles[f.Module.code.FunctionDefs[f.Def].Handle])
}

// StructType is one struct definition of a loaded module.
type StructType struct {
	Module    *Module
	Def       int
	Name      types.Identifier
	Abilities types.AbilitySet
	Fields    []bytecode.FieldDef
}

// Tag returns the struct tag used for resource keys.
func (s *StructType) Tag() types.StructTag {
	return types.StructTag{Address: s.Module.id.Address, Module: s.Module.id.Name, Name: s.Name}
}

func (s *StructType) String() string { return s.Tag().String() }

func (m *Module) ID() types.ModuleID { return m.id }

// Code returns the verified tables. Callers must not modify them.
func (m *Module) Code() *bytecode.CompiledModule { return m.code }

// Bytes returns the serialized form the module was loaded from.
func (m *Module) Bytes() []byte { return m.bytes }

// Hash is the SHA3-256 of Bytes.
func (m *Module) Hash() [32]byte { return m.hash }

func (m *Module) Function(name types.Identifier) (*Function, bool) {
	f, ok := m.funcByName[name]
	return f, ok
}

func (m *Module) Functions() []*Function { return m.funcs }

func (m *Module) Struct(name types.Identifier) (*StructType, bool) {
	s, ok := m.structByName[name]
	return s, ok
}

func (m *Module) Structs() []*StructType { return m.structs }

// FunctionDef returns the function with definition index def.
func (m *Module) FunctionDef(def int) *Function { return m.funcs[def] }

// StructDef returns the struct with definition index def.
func (m *Module) StructDef(def int) *StructType { return m.structs[def] }

// FunctionAt resolves a function handle to the definition it was linked to,
// which may live in a dependency.
func (m *Module) FunctionAt(handle uint16) *Function { return m.funcHandles[handle] }

// StructAt resolves a struct handle.
func (m *Module) StructAt(handle uint16) *StructType { return m.structHandles[handle] }

// Dependencies returns the linked modules this one imports, in handle order.
func (m *Module) Dependencies() []*Module {
	out := make([]*Module, 0, len(m.deps))
	for _, d := range m.deps {
		if d != nil && !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	return out
}

// TypeTag instantiates tok, a type written in this module, with tyArgs.
func (m *Module) TypeTag(tok bytecode.SignatureToken, tyArgs []types.TypeTag) (types.TypeTag, error) {
	switch tok.Kind {
	case bytecode.TokBool:
		return types.BoolTag, nil
	case bytecode.TokU8:
		return types.U8Tag, nil
	case bytecode.TokU64:
		return types.U64Tag, nil
	case bytecode.TokAddress:
		return types.AddressTag, nil
	case bytecode.TokSigner:
		return types.SignerTag, nil
	case bytecode.TokVector:
		elem, err := m.TypeTag(*tok.Elem, tyArgs)
		if err != nil {
			return types.TypeTag{}, err
		}
		return types.VectorTag(elem), nil
	case bytecode.TokStruct:
		return types.StructTypeTag(m.structHandles[tok.Index].Tag()), nil
	case bytecode.TokTypeParam:
		if int(tok.Index) >= len(tyArgs) {
			return types.TypeTag{}, vmerr.Newf(vmerr.TypeResolutionFailure, "type parameter T%d has no argument", tok.Index)
		}
		return tyArgs[tok.Index], nil
	}
	return types.TypeTag{}, vmerr.Newf(vmerr.TypeResolutionFailure, "unknown token kind %d", tok.Kind)
}

// TypeTags instantiates a list of tokens.
func (m *Module) TypeTags(toks []bytecode.SignatureToken, tyArgs []types.TypeTag) ([]types.TypeTag, error) {
	out := make([]types.TypeTag, len(toks))
	for i, t := range toks {
		tag, err := m.TypeTag(t, tyArgs)
		if err != nil {
			return nil, err
		}
		out[i] = tag
	}
	return out, nil
}

func (m *Module) String() string {
	return fmt.Sprintf("%s (%d functions, %d structs)", m.id, len(m.funcs), len(m.structs))
}
