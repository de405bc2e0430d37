package loader

import (
	"golang.org/x/crypto/sha3"

	"modvm/internal/bytecode"
	"modvm/internal/natives"
	"modvm/internal/types"
	"modvm/internal/vmerr"
)

// link builds a Module out of verified code. deps must return the linked
// module for every non-self handle; nil means the dependency is unavailable.
func link(code *bytecode.CompiledModule, data []byte, reg *natives.Registry, deps func(types.ModuleID) *Module) (*Module, *vmerr.PartialError) {
	m := &Module{
		id:           code.Self(),
		code:         code,
		bytes:        data,
		hash:         sha3.Sum256(data),
		deps:         make([]*Module, len(code.ModuleHandles)),
		funcs:        make([]*Function, len(code.FunctionDefs)),
		structs:      make([]*StructType, len(code.StructDefs)),
		funcByName:   make(map[types.Identifier]*Function, len(code.FunctionDefs)),
		structByName: make(map[types.Identifier]*StructType, len(code.StructDefs)),
	}

	for i, h := range code.ModuleHandles {
		if i == 0 {
			continue
		}
		dep := deps(h.ID())
		if dep == nil {
			return nil, vmerr.Newf(vmerr.LinkerError, "dependency %s is not loaded", h.ID()).
				WithSubStatus(uint64(vmerr.ModuleNotFound))
		}
		m.deps[i] = dep
	}

	for i, sd := range code.StructDefs {
		sh := code.StructHandles[sd.Handle]
		st := &StructType{Module: m, Def: i, Name: sh.Name, Abilities: sh.Abilities, Fields: sd.Fields}
		m.structs[i] = st
		m.structByName[sh.Name] = st
	}

	for i, fd := range code.FunctionDefs {
		fh := code.FunctionHandles[fd.Handle]
		fn := &Function{
			Module:     m,
			Def:        i,
			Name:       fh.Name,
			Params:     fh.Params,
			Returns:    fh.Returns,
			TypeParams: fh.TypeParams,
			Visibility: fd.Visibility,
			IsEntry:    fd.IsEntry,
			Locals:     fd.Locals,
			Code:       fd.Code,
		}
		if fd.IsNative {
			native, ok := reg.Resolve(m.id.Address, m.id.Name, fh.Name)
			if !ok {
				return nil, vmerr.Newf(vmerr.MissingDependency, "native %s::%s is not registered", m.id, fh.Name)
			}
			fn.Native = native
		}
		m.funcs[i] = fn
		m.funcByName[fh.Name] = fn
	}

	m.structHandles = make([]*StructType, len(code.StructHandles))
	for i, sh := range code.StructHandles {
		st, err := m.resolveStruct(sh)
		if err != nil {
			return nil, err
		}
		m.structHandles[i] = st
	}

	m.funcHandles = make([]*Function, len(code.FunctionHandles))
	for i, fh := range code.FunctionHandles {
		fn, err := m.resolveFunction(fh)
		if err != nil {
			return nil, err
		}
		m.funcHandles[i] = fn
	}
	return m, nil
}

func (m *Module) resolveStruct(sh bytecode.StructHandle) (*StructType, *vmerr.PartialError) {
	if sh.Module == 0 {
		st, ok := m.structByName[sh.Name]
		if !ok {
			return nil, vmerr.Newf(vmerr.LookupFailed, "struct %s is declared but not defined", sh.Name)
		}
		return st, nil
	}
	dep := m.deps[sh.Module]
	st, ok := dep.structByName[sh.Name]
	if !ok {
		return nil, vmerr.Newf(vmerr.LookupFailed, "%s does not define struct %s", dep.id, sh.Name)
	}
	if st.Abilities != sh.Abilities {
		return nil, vmerr.Newf(vmerr.LinkTypeMismatch, "%s::%s has abilities {%s}, imported as {%s}",
			dep.id, sh.Name, st.Abilities, sh.Abilities)
	}
	return st, nil
}

func (m *Module) resolveFunction(fh bytecode.FunctionHandle) (*Function, *vmerr.PartialError) {
	if fh.Module == 0 {
		fn, ok := m.funcByName[fh.Name]
		if !ok {
			return nil, vmerr.Newf(vmerr.LookupFailed, "function %s is declared but not defined", fh.Name)
		}
		return fn, nil
	}
	dep := m.deps[fh.Module]
	fn, ok := dep.funcByName[fh.Name]
	if !ok {
		return nil, vmerr.Newf(vmerr.LookupFailed, "%s does not define function %s", dep.id, fh.Name)
	}
	if !fn.IsPublic() {
		return nil, vmerr.Newf(vmerr.LookupFailed, "%s is not public", fn)
	}
	if !sameTokens(m.code, fh.Params, dep.code, fn.Params) ||
		!sameTokens(m.code, fh.Returns, dep.code, fn.Returns) ||
		!sameAbilities(fh.TypeParams, fn.TypeParams) {
		return nil, vmerr.Newf(vmerr.LinkTypeMismatch, "%s is imported as %s but defined as %s",
			fn, m.code.SignatureString(fh), fn.Signature())
	}
	return fn, nil
}

func sameAbilities(a, b []types.AbilitySet) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameTokens(am *bytecode.CompiledModule, a []bytecode.SignatureToken, bm *bytecode.CompiledModule, b []bytecode.SignatureToken) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameToken(am, a[i], bm, b[i]) {
			return false
		}
	}
	return true
}

// sameToken compares tokens written in two different modules; struct
// handles are compared by the name they resolve to.
func sameToken(am *bytecode.CompiledModule, a bytecode.SignatureToken, bm *bytecode.CompiledModule, b bytecode.SignatureToken) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case bytecode.TokVector:
		return sameToken(am, *a.Elem, bm, *b.Elem)
	case bytecode.TokStruct:
		ah, bh := am.StructHandles[a.Index], bm.StructHandles[b.Index]
		return ah.Name == bh.Name && am.ModuleHandles[ah.Module].ID() == bm.ModuleHandles[bh.Module].ID()
	case bytecode.TokTypeParam:
		return a.Index == b.Index
	}
	return true
}
