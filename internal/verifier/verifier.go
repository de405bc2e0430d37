// Package verifier checks modules and scripts in isolation: table bounds,
// uniqueness, identifiers, code shape and an abstract type-stack pass. It
// never looks at dependencies; the loader links those.
package verifier

import (
	"fmt"

	"modvm/internal/bytecode"
	"modvm/internal/types"
	"modvm/internal/vmerr"
)

// Module deserializes and verifies a module.
func Module(data []byte) (*bytecode.CompiledModule, error) {
	m, err := bytecode.DeserializeModule(data)
	if err != nil {
		return nil, vmerr.FinishErr(err, vmerr.Undefined)
	}
	if err := VerifyModule(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Script deserializes and verifies a script.
func Script(data []byte) (*bytecode.CompiledScript, error) {
	s, err := bytecode.DeserializeScript(data)
	if err != nil {
		return nil, vmerr.FinishErr(err, vmerr.ScriptLocation)
	}
	if err := VerifyScript(s); err != nil {
		return nil, err
	}
	return s, nil
}

// VerifyModule checks an in-memory module.
func VerifyModule(m *bytecode.CompiledModule) error {
	if len(m.ModuleHandles) == 0 {
		return vmerr.Newf(vmerr.InvalidModuleHandle, "module has no self handle").Finish(vmerr.Undefined)
	}
	v := &verifier{m: m}
	if perr := v.run(); perr != nil {
		return perr.Finish(vmerr.ModuleLocation(m.Self()))
	}
	return nil
}

// VerifyScript checks a script through its module form. The script may not
// refer to the pseudo module it is verified as.
func VerifyScript(s *bytecode.CompiledScript) error {
	for _, h := range s.ModuleHandles {
		if h.ID() == bytecode.ScriptModuleID {
			return vmerr.Newf(vmerr.InvalidModuleHandle, "script refers to %s", bytecode.ScriptModuleID).
				Finish(vmerr.ScriptLocation)
		}
	}
	if len(s.Code) == 0 {
		return vmerr.Newf(vmerr.MissingScriptEntry, "script has no code").Finish(vmerr.ScriptLocation)
	}
	v := &verifier{m: s.AsModule(), script: true}
	if perr := v.run(); perr != nil {
		return perr.Finish(vmerr.ScriptLocation)
	}
	return nil
}

type verifier struct {
	m      *bytecode.CompiledModule
	script bool
}

func (v *verifier) run() *vmerr.PartialError {
	if v.m.Version != bytecode.Version {
		return vmerr.Newf(vmerr.UnknownVersion, "version %d", v.m.Version)
	}
	checks := []func() *vmerr.PartialError{
		v.checkIdentifiers,
		v.checkBounds,
		v.checkDuplicates,
		v.checkConstants,
		v.checkStructAbilities,
		v.checkFunctions,
	}
	for _, check := range checks {
		if perr := check(); perr != nil {
			return perr
		}
	}
	return nil
}

func (v *verifier) checkIdentifiers() *vmerr.PartialError {
	m := v.m
	for i, h := range m.ModuleHandles {
		if i == 0 && v.script {
			continue
		}
		if !types.IsValidIdentifier(string(h.Name)) {
			return vmerr.Newf(vmerr.InvalidIdentifier, "module handle %d: %q", i, h.Name)
		}
	}
	for i, h := range m.StructHandles {
		if !types.IsValidIdentifier(string(h.Name)) {
			return vmerr.Newf(vmerr.InvalidIdentifier, "struct handle %d: %q", i, h.Name)
		}
	}
	for i, h := range m.FunctionHandles {
		if !types.IsValidIdentifier(string(h.Name)) {
			return vmerr.Newf(vmerr.InvalidIdentifier, "function handle %d: %q", i, h.Name)
		}
	}
	for i, d := range m.StructDefs {
		for _, f := range d.Fields {
			if !types.IsValidIdentifier(string(f.Name)) {
				return vmerr.Newf(vmerr.InvalidIdentifier, "struct def %d field %q", i, f.Name)
			}
		}
	}
	return nil
}

// checkToken validates a signature token against the handle tables.
// typeParams < 0 means type parameters are not allowed at all.
func (v *verifier) checkToken(t bytecode.SignatureToken, typeParams int) error {
	switch t.Kind {
	case bytecode.TokBool, bytecode.TokU8, bytecode.TokU64, bytecode.TokAddress, bytecode.TokSigner:
		return nil
	case bytecode.TokVector:
		if t.Elem == nil {
			return fmt.Errorf("vector without element type")
		}
		return v.checkToken(*t.Elem, typeParams)
	case bytecode.TokStruct:
		if int(t.Index) >= len(v.m.StructHandles) {
			return fmt.Errorf("struct handle %d out of bounds", t.Index)
		}
		return nil
	case bytecode.TokTypeParam:
		if int(t.Index) >= typeParams {
			return fmt.Errorf("type parameter %d out of bounds", t.Index)
		}
		return nil
	}
	return fmt.Errorf("unknown token kind %d", t.Kind)
}

func (v *verifier) checkTokens(ts []bytecode.SignatureToken, typeParams int, what string) *vmerr.PartialError {
	for _, t := range ts {
		if err := v.checkToken(t, typeParams); err != nil {
			return vmerr.Newf(vmerr.IndexOutOfBounds, "%s: %v", what, err)
		}
	}
	return nil
}

func (v *verifier) checkBounds() *vmerr.PartialError {
	m := v.m
	modules := len(m.ModuleHandles)
	for i, h := range m.StructHandles {
		if int(h.Module) >= modules {
			return vmerr.Newf(vmerr.IndexOutOfBounds, "struct handle %d: module %d", i, h.Module)
		}
	}
	for i, h := range m.FunctionHandles {
		if int(h.Module) >= modules {
			return vmerr.Newf(vmerr.IndexOutOfBounds, "function handle %d: module %d", i, h.Module)
		}
		what := fmt.Sprintf("function handle %s", h.Name)
		if perr := v.checkTokens(h.Params, len(h.TypeParams), what); perr != nil {
			return perr
		}
		if perr := v.checkTokens(h.Returns, len(h.TypeParams), what); perr != nil {
			return perr
		}
	}
	for i, fi := range m.FunctionInstantiations {
		if int(fi.Handle) >= len(m.FunctionHandles) {
			return vmerr.Newf(vmerr.IndexOutOfBounds, "instantiation %d: function handle %d", i, fi.Handle)
		}
		// type parameters in instantiations are checked per use site
		if perr := v.checkTokens(fi.TypeArgs, 1<<16, fmt.Sprintf("instantiation %d", i)); perr != nil {
			return perr
		}
	}
	for i, d := range m.StructDefs {
		if int(d.Handle) >= len(m.StructHandles) {
			return vmerr.Newf(vmerr.IndexOutOfBounds, "struct def %d: handle %d", i, d.Handle)
		}
		if m.StructHandles[d.Handle].Module != 0 {
			return vmerr.Newf(vmerr.InvalidModuleHandle, "struct def %d defines a foreign struct", i)
		}
		for _, f := range d.Fields {
			if err := v.checkToken(f.Type, -1); err != nil {
				return vmerr.Newf(vmerr.IndexOutOfBounds, "struct %s field %s: %v", m.StructName(i), f.Name, err)
			}
		}
	}
	for i, d := range m.FunctionDefs {
		if int(d.Handle) >= len(m.FunctionHandles) {
			return vmerr.Newf(vmerr.IndexOutOfBounds, "function def %d: handle %d", i, d.Handle)
		}
		h := m.FunctionHandles[d.Handle]
		if h.Module != 0 {
			return vmerr.Newf(vmerr.InvalidModuleHandle, "function def %d defines a foreign function", i)
		}
		if perr := v.checkTokens(d.Locals, len(h.TypeParams), fmt.Sprintf("locals of %s", h.Name)); perr != nil {
			return perr
		}
	}
	for i, c := range m.Constants {
		if err := v.checkToken(c.Type, -1); err != nil {
			return vmerr.Newf(vmerr.IndexOutOfBounds, "constant %d: %v", i, err)
		}
	}

	// every struct and function handle declared by self needs a definition
	defined := make(map[uint16]bool, len(m.StructDefs))
	for _, d := range m.StructDefs {
		defined[d.Handle] = true
	}
	for i, h := range m.StructHandles {
		if h.Module == 0 && !defined[uint16(i)] {
			return vmerr.Newf(vmerr.MissingStructDefinition, "struct %s has no definition", h.Name)
		}
	}
	fdefined := make(map[uint16]bool, len(m.FunctionDefs))
	for _, d := range m.FunctionDefs {
		fdefined[d.Handle] = true
	}
	for i, h := range m.FunctionHandles {
		if h.Module == 0 && !fdefined[uint16(i)] {
			return vmerr.Newf(vmerr.LookupFailed, "function %s has no definition", h.Name)
		}
	}
	return nil
}

func (v *verifier) checkDuplicates() *vmerr.PartialError {
	m := v.m
	self := m.Self()
	mods := make(map[types.ModuleID]bool, len(m.ModuleHandles))
	for i, h := range m.ModuleHandles {
		id := h.ID()
		if i > 0 && id == self {
			return vmerr.Newf(vmerr.SelfDependency, "module %s refers to itself", self)
		}
		if mods[id] {
			return vmerr.Newf(vmerr.DuplicateElement, "module handle %s", id)
		}
		mods[id] = true
	}
	type key struct {
		module uint16
		name   types.Identifier
	}
	structs := make(map[key]bool, len(m.StructHandles))
	for _, h := range m.StructHandles {
		k := key{h.Module, h.Name}
		if structs[k] {
			return vmerr.Newf(vmerr.DuplicateElement, "struct handle %s", h.Name)
		}
		structs[k] = true
	}
	funcs := make(map[key]bool, len(m.FunctionHandles))
	for _, h := range m.FunctionHandles {
		k := key{h.Module, h.Name}
		if funcs[k] {
			return vmerr.Newf(vmerr.DuplicateElement, "function handle %s", h.Name)
		}
		funcs[k] = true
	}
	sdefs := make(map[uint16]bool, len(m.StructDefs))
	for i, d := range m.StructDefs {
		if sdefs[d.Handle] {
			return vmerr.Newf(vmerr.DuplicateElement, "struct %s defined twice", m.StructName(i))
		}
		sdefs[d.Handle] = true
		fields := make(map[types.Identifier]bool, len(d.Fields))
		for _, f := range d.Fields {
			if fields[f.Name] {
				return vmerr.Newf(vmerr.DuplicateElement, "struct %s field %s", m.StructName(i), f.Name)
			}
			fields[f.Name] = true
		}
	}
	fdefs := make(map[uint16]bool, len(m.FunctionDefs))
	for i, d := range m.FunctionDefs {
		if fdefs[d.Handle] {
			return vmerr.Newf(vmerr.DuplicateElement, "function %s defined twice", m.FunctionName(i))
		}
		fdefs[d.Handle] = true
	}
	return nil
}

func (v *verifier) checkConstants() *vmerr.PartialError {
	for i, c := range v.m.Constants {
		want := -1
		switch c.Type.Kind {
		case bytecode.TokBool:
			want = 1
			if len(c.Data) == 1 && c.Data[0] > 1 {
				return vmerr.Newf(vmerr.ConstantTypeMismatch, "constant %d: bool byte %d", i, c.Data[0])
			}
		case bytecode.TokU8:
			want = 1
		case bytecode.TokU64:
			want = 8
		case bytecode.TokAddress:
			want = types.AddressLength
		case bytecode.TokVector:
			if c.Type.Elem.Kind != bytecode.TokU8 {
				return vmerr.Newf(vmerr.ConstantTypeMismatch, "constant %d: only vector<u8> constants are supported", i)
			}
			continue
		default:
			return vmerr.Newf(vmerr.ConstantTypeMismatch, "constant %d: unsupported type %s", i, v.m.TokenString(c.Type))
		}
		if len(c.Data) != want {
			return vmerr.Newf(vmerr.ConstantTypeMismatch, "constant %d: %d bytes for %s", i, len(c.Data), v.m.TokenString(c.Type))
		}
	}
	return nil
}

// abilities computes the abilities of t; typeParams are the constraints of
// the enclosing function.
func (v *verifier) abilities(t bytecode.SignatureToken, typeParams []types.AbilitySet) types.AbilitySet {
	return TokenAbilities(v.m, t, typeParams)
}

// TokenAbilities computes the abilities of a signature token of m.
func TokenAbilities(m *bytecode.CompiledModule, t bytecode.SignatureToken, typeParams []types.AbilitySet) types.AbilitySet {
	switch t.Kind {
	case bytecode.TokBool, bytecode.TokU8, bytecode.TokU64, bytecode.TokAddress:
		return types.AbilitiesPrimitive
	case bytecode.TokSigner:
		return types.AbilitiesSigner
	case bytecode.TokVector:
		return TokenAbilities(m, *t.Elem, typeParams).Intersect(types.AbilitiesPrimitive)
	case bytecode.TokStruct:
		return m.StructHandles[t.Index].Abilities
	case bytecode.TokTypeParam:
		if int(t.Index) < len(typeParams) {
			return typeParams[t.Index]
		}
	}
	return types.AbilitiesEmpty
}

// checkStructAbilities: every field must carry the struct's copy, drop and
// store abilities, and store if the struct has key.
func (v *verifier) checkStructAbilities() *vmerr.PartialError {
	m := v.m
	for i, d := range m.StructDefs {
		sa := m.StructHandles[d.Handle].Abilities
		need := sa.Intersect(types.AbilitySet(types.AbilityCopy | types.AbilityDrop | types.AbilityStore))
		if sa.Has(types.AbilityKey) {
			need = need.With(types.AbilityStore)
		}
		for _, f := range d.Fields {
			if fa := v.abilities(f.Type, nil); !need.IsSubsetOf(fa) {
				return vmerr.Newf(vmerr.FieldMissingTypeAbility, "struct %s (%s) field %s has %s",
					m.StructName(i), sa, f.Name, fa)
			}
		}
	}
	return nil
}

func (v *verifier) checkFunctions() *vmerr.PartialError {
	for i := range v.m.FunctionDefs {
		if perr := v.checkFunction(i); perr != nil {
			return perr
		}
	}
	return nil
}
