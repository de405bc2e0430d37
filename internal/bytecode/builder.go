package bytecode

import (
	"encoding/binary"
	"fmt"

	"fortio.org/safecast"

	"modvm/internal/types"
)

// ModuleBuilder assembles a CompiledModule table by table, deduplicating
// handles. It does not verify anything.
type ModuleBuilder struct {
	m       CompiledModule
	modules map[types.ModuleID]uint16
	structs map[string]uint16
	funcs   map[string]uint16
	err     error
}

// NewModuleBuilder starts a module declared at self.
func NewModuleBuilder(self types.ModuleID) *ModuleBuilder {
	b := &ModuleBuilder{
		modules: make(map[types.ModuleID]uint16),
		structs: make(map[string]uint16),
		funcs:   make(map[string]uint16),
	}
	b.m.Version = Version
	b.ModuleHandle(self)
	return b
}

func (b *ModuleBuilder) index(n int) uint16 {
	idx, err := safecast.Conv[uint16](n)
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("bytecode: table overflow: %w", err)
	}
	return idx
}

// ModuleHandle returns the handle index of id, adding it if needed.
func (b *ModuleBuilder) ModuleHandle(id types.ModuleID) uint16 {
	if idx, ok := b.modules[id]; ok {
		return idx
	}
	idx := b.index(len(b.m.ModuleHandles))
	b.m.ModuleHandles = append(b.m.ModuleHandles, ModuleHandle{Address: id.Address, Name: id.Name})
	b.modules[id] = idx
	return idx
}

// StructHandle returns the handle index of module::name.
func (b *ModuleBuilder) StructHandle(module uint16, name types.Identifier, abilities types.AbilitySet) uint16 {
	key := fmt.Sprintf("%d::%s", module, name)
	if idx, ok := b.structs[key]; ok {
		return idx
	}
	idx := b.index(len(b.m.StructHandles))
	b.m.StructHandles = append(b.m.StructHandles, StructHandle{Module: module, Name: name, Abilities: abilities})
	b.structs[key] = idx
	return idx
}

// FunctionHandle returns the handle index of module::name.
func (b *ModuleBuilder) FunctionHandle(module uint16, name types.Identifier, params, returns []SignatureToken, typeParams []types.AbilitySet) uint16 {
	key := fmt.Sprintf("%d::%s", module, name)
	if idx, ok := b.funcs[key]; ok {
		return idx
	}
	idx := b.index(len(b.m.FunctionHandles))
	b.m.FunctionHandles = append(b.m.FunctionHandles, FunctionHandle{
		Module:     module,
		Name:       name,
		Params:     params,
		Returns:    returns,
		TypeParams: typeParams,
	})
	b.funcs[key] = idx
	return idx
}

// Instantiate adds a function instantiation.
func (b *ModuleBuilder) Instantiate(handle uint16, typeArgs []SignatureToken) uint16 {
	for i, fi := range b.m.FunctionInstantiations {
		if fi.Handle != handle || len(fi.TypeArgs) != len(typeArgs) {
			continue
		}
		same := true
		for j := range typeArgs {
			if !fi.TypeArgs[j].Equal(typeArgs[j]) {
				same = false
				break
			}
		}
		if same {
			return b.index(i)
		}
	}
	idx := b.index(len(b.m.FunctionInstantiations))
	b.m.FunctionInstantiations = append(b.m.FunctionInstantiations, FunctionInstantiation{Handle: handle, TypeArgs: typeArgs})
	return idx
}

// Constant adds a constant to the pool.
func (b *ModuleBuilder) Constant(c Constant) uint16 {
	idx := b.index(len(b.m.Constants))
	b.m.Constants = append(b.m.Constants, c)
	return idx
}

// Struct declares a struct owned by the module and returns its definition index.
func (b *ModuleBuilder) Struct(name types.Identifier, abilities types.AbilitySet, fields []FieldDef) uint16 {
	h := b.StructHandle(0, name, abilities)
	idx := b.index(len(b.m.StructDefs))
	b.m.StructDefs = append(b.m.StructDefs, StructDef{Handle: h, Fields: fields})
	return idx
}

// FunctionSpec describes a function body for Function.
type FunctionSpec struct {
	Name       types.Identifier
	Visibility Visibility
	IsEntry    bool
	IsNative   bool
	TypeParams []types.AbilitySet
	Params     []SignatureToken
	Returns    []SignatureToken
	Locals     []SignatureToken
	Code       []Instruction
}

// Function declares a function owned by the module and returns its definition index.
func (b *ModuleBuilder) Function(spec FunctionSpec) uint16 {
	h := b.FunctionHandle(0, spec.Name, spec.Params, spec.Returns, spec.TypeParams)
	idx := b.index(len(b.m.FunctionDefs))
	b.m.FunctionDefs = append(b.m.FunctionDefs, FunctionDef{
		Handle:     h,
		Visibility: spec.Visibility,
		IsEntry:    spec.IsEntry,
		IsNative:   spec.IsNative,
		Locals:     spec.Locals,
		Code:       spec.Code,
	})
	return idx
}

// Build returns the module.
func (b *ModuleBuilder) Build() (*CompiledModule, error) {
	if b.err != nil {
		return nil, b.err
	}
	m := b.m
	return &m, nil
}

// U64Const encodes a u64 constant.
func U64Const(v uint64) Constant {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, v)
	return Constant{Type: U64, Data: data}
}

// AddressConst encodes an address constant.
func AddressConst(a types.Address) Constant {
	return Constant{Type: Address, Data: a.Bytes()}
}

// BytesConst encodes a vector<u8> constant.
func BytesConst(b []byte) Constant {
	return Constant{Type: Vector(U8), Data: append([]byte(nil), b...)}
}
