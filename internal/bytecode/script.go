package bytecode

import "modvm/internal/types"

// ScriptEntryName is the name of the single function of a script.
const ScriptEntryName types.Identifier = "main"

// ScriptModuleID is the pseudo module a script is verified and linked as.
var ScriptModuleID = types.ModuleID{Address: types.AddressZero, Name: "__script__"}

// CompiledScript is a one-shot entry point. It has the handle tables of a
// module (none of which point at itself) plus a single body.
type CompiledScript struct {
	Version                uint8
	ModuleHandles          []ModuleHandle
	StructHandles          []StructHandle
	FunctionHandles        []FunctionHandle
	FunctionInstantiations []FunctionInstantiation
	Constants              []Constant
	TypeParams             []types.AbilitySet
	Params                 []SignatureToken
	Locals                 []SignatureToken
	Code                   []Instruction
}

// AsModule rewrites the script as a module with one public entry function
// named main, declared at ScriptModuleID. Handle indices are shifted so that
// handle 0 is the pseudo module.
func (s *CompiledScript) AsModule() *CompiledModule {
	m := &CompiledModule{
		Version:                s.Version,
		ModuleHandles:          make([]ModuleHandle, 0, len(s.ModuleHandles)+1),
		StructHandles:          make([]StructHandle, len(s.StructHandles)),
		FunctionHandles:        make([]FunctionHandle, len(s.FunctionHandles), len(s.FunctionHandles)+1),
		FunctionInstantiations: s.FunctionInstantiations,
		Constants:              s.Constants,
	}
	m.ModuleHandles = append(m.ModuleHandles, ModuleHandle{Address: ScriptModuleID.Address, Name: ScriptModuleID.Name})
	m.ModuleHandles = append(m.ModuleHandles, s.ModuleHandles...)
	for i, sh := range s.StructHandles {
		sh.Module++
		m.StructHandles[i] = sh
	}
	for i, fh := range s.FunctionHandles {
		fh.Module++
		m.FunctionHandles[i] = fh
	}
	entry := len(m.FunctionHandles)
	m.FunctionHandles = append(m.FunctionHandles, FunctionHandle{
		Module:     0,
		Name:       ScriptEntryName,
		Params:     s.Params,
		TypeParams: s.TypeParams,
	})
	m.FunctionDefs = []FunctionDef{{
		Handle:     uint16(entry),
		Visibility: Public,
		IsEntry:    true,
		Locals:     s.Locals,
		Code:       s.Code,
	}}
	return m
}

// Dependencies lists the modules the script refers to.
func (s *CompiledScript) Dependencies() []types.ModuleID {
	seen := make(map[types.ModuleID]struct{}, len(s.ModuleHandles))
	out := make([]types.ModuleID, 0, len(s.ModuleHandles))
	for _, h := range s.ModuleHandles {
		id := h.ID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
