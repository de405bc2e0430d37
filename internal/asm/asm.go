// Package asm assembles a small textual notation into modules and scripts.
//
//	module 0xA::Counter
//	extern fun 0x1::Debug::print<T>(T)
//
//	struct Counter has key {
//	    value: u64
//	}
//
//	public entry fun bump(account: signer) {
//	    ...
//	}
//
// Scripts start with "script" and declare exactly one function, main.
package asm

import (
	"fmt"
	"strings"

	"modvm/internal/bytecode"
	"modvm/internal/types"
)

// Error reports a problem at a source line (1-based).
type Error struct {
	Line int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("asm:%d: %s", e.Line, e.Msg)
}

// Unit is the result of Assemble: exactly one of Module or Script is set.
type Unit struct {
	Module *bytecode.CompiledModule
	Script *bytecode.CompiledScript
}

// Bytes serializes the unit.
func (u *Unit) Bytes() ([]byte, error) {
	if u.Module != nil {
		return bytecode.SerializeModule(u.Module)
	}
	return bytecode.SerializeScript(u.Script)
}

type srcLine struct {
	no   int
	toks []token
}

func (l srcLine) errf(format string, args ...any) *Error {
	return &Error{Line: l.no, Msg: fmt.Sprintf(format, args...)}
}

func (l srcLine) stream() *tokens { return &tokens{toks: l.toks} }

type structDecl struct {
	line      srcLine
	name      types.Identifier
	abilities types.AbilitySet
	fields    []srcLine
}

type param struct {
	name string
	tok  bytecode.SignatureToken
}

type funcDecl struct {
	line       srcLine
	name       types.Identifier
	visibility bytecode.Visibility
	entry      bool
	native     bool
	typeParams []string
	tpAbil     []types.AbilitySet
	params     []param
	returns    []bytecode.SignatureToken
	body       []srcLine
}

type assembler struct {
	b             *bytecode.ModuleBuilder
	self          types.ModuleID
	script        bool
	localStructs  map[types.Identifier]uint16 // name -> struct handle
	structDefs    map[types.Identifier]uint16 // name -> struct definition
	structFields  map[types.Identifier][]types.Identifier
	externStructs map[string]uint16
	localFuncs    map[types.Identifier]uint16
	externFuncs   map[string]uint16
	structs       []*structDecl
	funcs         []*funcDecl
}

// Assemble parses src into a module or a script.
func Assemble(src string) (*Unit, error) {
	lines, err := splitLines(src)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, &Error{Line: 1, Msg: "empty source"}
	}
	a := &assembler{
		localStructs:  make(map[types.Identifier]uint16),
		structDefs:    make(map[types.Identifier]uint16),
		structFields:  make(map[types.Identifier][]types.Identifier),
		externStructs: make(map[string]uint16),
		localFuncs:    make(map[types.Identifier]uint16),
		externFuncs:   make(map[string]uint16),
	}
	if err := a.header(lines[0]); err != nil {
		return nil, err
	}
	if err := a.items(lines[1:]); err != nil {
		return nil, err
	}
	if a.script {
		s, err := a.buildScript()
		if err != nil {
			return nil, err
		}
		return &Unit{Script: s}, nil
	}
	m, err := a.buildModule()
	if err != nil {
		return nil, err
	}
	return &Unit{Module: m}, nil
}

// AssembleModule assembles a module and fails on scripts.
func AssembleModule(src string) (*bytecode.CompiledModule, error) {
	u, err := Assemble(src)
	if err != nil {
		return nil, err
	}
	if u.Module == nil {
		return nil, fmt.Errorf("asm: source is a script, not a module")
	}
	return u.Module, nil
}

// AssembleScript assembles a script and fails on modules.
func AssembleScript(src string) (*bytecode.CompiledScript, error) {
	u, err := Assemble(src)
	if err != nil {
		return nil, err
	}
	if u.Script == nil {
		return nil, fmt.Errorf("asm: source is a module, not a script")
	}
	return u.Script, nil
}

func splitLines(src string) ([]srcLine, error) {
	var out []srcLine
	for i, raw := range strings.Split(src, "\n") {
		if idx := strings.Index(raw, "//"); idx >= 0 {
			raw = raw[:idx]
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		toks, err := tokenizeLine(raw)
		if err != nil {
			return nil, &Error{Line: i + 1, Msg: err.Error()}
		}
		out = append(out, srcLine{no: i + 1, toks: toks})
	}
	return out, nil
}

func (a *assembler) header(l srcLine) error {
	ts := l.stream()
	kw, err := ts.word()
	if err != nil {
		return l.errf("%v", err)
	}
	switch kw {
	case "module":
		path, err := ts.word()
		if err != nil {
			return l.errf("%v", err)
		}
		id, err := types.ParseModuleID(path)
		if err != nil {
			return l.errf("%v", err)
		}
		a.self = id
	case "script":
		a.self = bytecode.ScriptModuleID
		a.script = true
	default:
		return l.errf("expected 'module <address>::<name>' or 'script', got %q", kw)
	}
	if !ts.done() {
		return l.errf("unexpected %q after header", ts.peek().text)
	}
	a.b = bytecode.NewModuleBuilder(a.self)
	return nil
}

// items groups top-level lines into declarations, then assembles them in
// dependency order: struct handles, extern handles, struct fields, function
// handles, function bodies.
func (a *assembler) items(lines []srcLine) error {
	var externs []srcLine
	for i := 0; i < len(lines); i++ {
		l := lines[i]
		first := l.toks[0].text
		switch {
		case first == "import" || first == "extern":
			externs = append(externs, l)
		case first == "struct":
			decl, next, err := a.collectStruct(lines, i)
			if err != nil {
				return err
			}
			a.structs = append(a.structs, decl)
			i = next
		case first == "public" || first == "entry" || first == "native" || first == "fun":
			decl, next, err := a.collectFunc(lines, i)
			if err != nil {
				return err
			}
			a.funcs = append(a.funcs, decl)
			i = next
		default:
			return l.errf("unexpected %q at top level", first)
		}
	}

	if a.script && len(a.structs) > 0 {
		return a.structs[0].line.errf("scripts cannot declare structs")
	}
	for _, s := range a.structs {
		if _, dup := a.localStructs[s.name]; dup {
			return s.line.errf("duplicate struct %s", s.name)
		}
		a.localStructs[s.name] = a.b.StructHandle(0, s.name, s.abilities)
	}
	for _, l := range externs {
		if err := a.extern(l); err != nil {
			return err
		}
	}
	for _, s := range a.structs {
		if err := a.structFieldsDef(s); err != nil {
			return err
		}
	}
	if a.script {
		if len(a.funcs) != 1 || a.funcs[0].name != bytecode.ScriptEntryName {
			line := 1
			if len(lines) > 0 {
				line = lines[0].no
			}
			return &Error{Line: line, Msg: "a script must declare exactly one function named main"}
		}
		return nil
	}
	for _, f := range a.funcs {
		if _, dup := a.localFuncs[f.name]; dup {
			return f.line.errf("duplicate function %s", f.name)
		}
		a.localFuncs[f.name] = a.b.FunctionHandle(0, f.name, paramTokens(f.params), f.returns, f.tpAbil)
	}
	return nil
}

func paramTokens(ps []param) []bytecode.SignatureToken {
	out := make([]bytecode.SignatureToken, len(ps))
	for i, p := range ps {
		out[i] = p.tok
	}
	return out
}

func (a *assembler) collectStruct(lines []srcLine, i int) (*structDecl, int, error) {
	l := lines[i]
	ts := l.stream()
	ts.next() // struct
	name, err := ts.word()
	if err != nil {
		return nil, i, l.errf("%v", err)
	}
	id, err := types.NewIdentifier(name)
	if err != nil {
		return nil, i, l.errf("%v", err)
	}
	decl := &structDecl{line: l, name: id}
	if decl.abilities, err = parseAbilities(ts); err != nil {
		return nil, i, l.errf("%v", err)
	}
	if err := ts.expect("{"); err != nil {
		return nil, i, l.errf("%v", err)
	}
	if ts.accept("}") {
		return decl, i, nil
	}
	if !ts.done() {
		return nil, i, l.errf("fields must start on the next line")
	}
	for j := i + 1; j < len(lines); j++ {
		if len(lines[j].toks) == 1 && lines[j].toks[0].text == "}" {
			return decl, j, nil
		}
		decl.fields = append(decl.fields, lines[j])
	}
	return nil, i, l.errf("struct %s is not closed", name)
}

func (a *assembler) collectFunc(lines []srcLine, i int) (*funcDecl, int, error) {
	l := lines[i]
	decl, hasBody, err := a.funcHeader(l)
	if err != nil {
		return nil, i, err
	}
	if !hasBody {
		return decl, i, nil
	}
	for j := i + 1; j < len(lines); j++ {
		if len(lines[j].toks) == 1 && lines[j].toks[0].text == "}" {
			return decl, j, nil
		}
		decl.body = append(decl.body, lines[j])
	}
	return nil, i, l.errf("function %s is not closed", decl.name)
}

func parseAbilities(ts *tokens) (types.AbilitySet, error) {
	set := types.AbilitiesEmpty
	if !ts.accept("has") {
		return set, nil
	}
	for {
		w, err := ts.word()
		if err != nil {
			return set, err
		}
		ab, ok := types.ParseAbility(w)
		if !ok {
			return set, fmt.Errorf("unknown ability %q", w)
		}
		set = set.With(ab)
		if !ts.accept(",") && !ts.accept("+") {
			return set, nil
		}
	}
}

// typeParams parses "<T: copy + drop, U>".
func parseTypeParams(ts *tokens) ([]string, []types.AbilitySet, error) {
	if !ts.accept("<") {
		return nil, nil, nil
	}
	var names []string
	var abil []types.AbilitySet
	for {
		name, err := ts.word()
		if err != nil {
			return nil, nil, err
		}
		set := types.AbilitiesEmpty
		if ts.accept(":") {
			for {
				w, err := ts.word()
				if err != nil {
					return nil, nil, err
				}
				ab, ok := types.ParseAbility(w)
				if !ok {
					return nil, nil, fmt.Errorf("unknown ability %q", w)
				}
				set = set.With(ab)
				if !ts.accept("+") {
					break
				}
			}
		}
		names = append(names, name)
		abil = append(abil, set)
		if ts.accept(">") {
			return names, abil, nil
		}
		if err := ts.expect(","); err != nil {
			return nil, nil, err
		}
	}
}

func (a *assembler) funcHeader(l srcLine) (*funcDecl, bool, error) {
	ts := l.stream()
	decl := &funcDecl{line: l}
	for {
		switch {
		case ts.accept("public"):
			decl.visibility = bytecode.Public
			continue
		case ts.accept("entry"):
			decl.entry = true
			continue
		case ts.accept("native"):
			decl.native = true
			continue
		}
		break
	}
	if err := ts.expect("fun"); err != nil {
		return nil, false, l.errf("%v", err)
	}
	name, err := ts.word()
	if err != nil {
		return nil, false, l.errf("%v", err)
	}
	if decl.name, err = types.NewIdentifier(name); err != nil {
		return nil, false, l.errf("%v", err)
	}
	if decl.typeParams, decl.tpAbil, err = parseTypeParams(ts); err != nil {
		return nil, false, l.errf("%v", err)
	}
	scope := tpScope(decl.typeParams)
	if err := ts.expect("("); err != nil {
		return nil, false, l.errf("%v", err)
	}
	for !ts.accept(")") {
		pname, err := ts.word()
		if err != nil {
			return nil, false, l.errf("%v", err)
		}
		if err := ts.expect(":"); err != nil {
			return nil, false, l.errf("parameter %s: %v", pname, err)
		}
		tok, err := a.parseType(ts, scope)
		if err != nil {
			return nil, false, l.errf("parameter %s: %v", pname, err)
		}
		decl.params = append(decl.params, param{name: pname, tok: tok})
		if !ts.peekIs(")") {
			if err := ts.expect(","); err != nil {
				return nil, false, l.errf("%v", err)
			}
		}
	}
	if decl.returns, err = a.parseReturns(ts, scope); err != nil {
		return nil, false, l.errf("%v", err)
	}
	hasBody := ts.accept("{")
	if !ts.done() {
		return nil, false, l.errf("unexpected %q after signature", ts.peek().text)
	}
	if decl.native && hasBody {
		return nil, false, l.errf("native function %s cannot have a body", decl.name)
	}
	if !decl.native && !hasBody {
		return nil, false, l.errf("function %s needs a body", decl.name)
	}
	return decl, hasBody, nil
}

func tpScope(names []string) map[string]uint16 {
	scope := make(map[string]uint16, len(names))
	for i, n := range names {
		scope[n] = uint16(i)
	}
	return scope
}

func (a *assembler) parseReturns(ts *tokens, scope map[string]uint16) ([]bytecode.SignatureToken, error) {
	if !ts.accept(":") {
		return nil, nil
	}
	if ts.accept("(") {
		var out []bytecode.SignatureToken
		for !ts.accept(")") {
			tok, err := a.parseType(ts, scope)
			if err != nil {
				return nil, err
			}
			out = append(out, tok)
			if !ts.peekIs(")") {
				if err := ts.expect(","); err != nil {
					return nil, err
				}
			}
		}
		return out, nil
	}
	tok, err := a.parseType(ts, scope)
	if err != nil {
		return nil, err
	}
	return []bytecode.SignatureToken{tok}, nil
}

func (a *assembler) parseType(ts *tokens, scope map[string]uint16) (bytecode.SignatureToken, error) {
	w, err := ts.word()
	if err != nil {
		return bytecode.SignatureToken{}, err
	}
	switch w {
	case "bool":
		return bytecode.Bool, nil
	case "u8":
		return bytecode.U8, nil
	case "u64":
		return bytecode.U64, nil
	case "address":
		return bytecode.Address, nil
	case "signer":
		return bytecode.Signer, nil
	case "vector":
		if err := ts.expect("<"); err != nil {
			return bytecode.SignatureToken{}, err
		}
		elem, err := a.parseType(ts, scope)
		if err != nil {
			return bytecode.SignatureToken{}, err
		}
		if err := ts.expect(">"); err != nil {
			return bytecode.SignatureToken{}, err
		}
		return bytecode.Vector(elem), nil
	}
	if idx, ok := scope[w]; ok {
		return bytecode.TypeParam(idx), nil
	}
	if h, ok := a.localStructs[types.Identifier(w)]; ok {
		return bytecode.Struct(h), nil
	}
	if h, ok := a.externStructs[w]; ok {
		return bytecode.Struct(h), nil
	}
	if strings.Contains(w, "::") {
		if key, err := canonicalPath(w); err == nil {
			if h, ok := a.externStructs[key]; ok {
				return bytecode.Struct(h), nil
			}
		}
		return bytecode.SignatureToken{}, fmt.Errorf("struct %s is not declared (use 'extern struct')", w)
	}
	return bytecode.SignatureToken{}, fmt.Errorf("unknown type %q", w)
}

// splitPath parses "0x1::M::name".
func splitPath(path string) (types.ModuleID, types.Identifier, error) {
	idx := strings.LastIndex(path, "::")
	if idx < 0 {
		return types.ModuleID{}, "", fmt.Errorf("expected <address>::<module>::<name>, got %q", path)
	}
	id, err := types.ParseModuleID(path[:idx])
	if err != nil {
		return types.ModuleID{}, "", err
	}
	name, err := types.NewIdentifier(path[idx+2:])
	if err != nil {
		return types.ModuleID{}, "", err
	}
	return id, name, nil
}

func canonicalPath(path string) (string, error) {
	id, name, err := splitPath(path)
	if err != nil {
		return "", err
	}
	return id.String() + "::" + string(name), nil
}

func (a *assembler) extern(l srcLine) error {
	ts := l.stream()
	kw := ts.next().text
	if kw == "import" {
		path, err := ts.word()
		if err != nil {
			return l.errf("%v", err)
		}
		id, err := types.ParseModuleID(path)
		if err != nil {
			return l.errf("%v", err)
		}
		a.b.ModuleHandle(id)
		return nil
	}
	what, err := ts.word()
	if err != nil {
		return l.errf("%v", err)
	}
	path, err := ts.word()
	if err != nil {
		return l.errf("%v", err)
	}
	id, name, err := splitPath(path)
	if err != nil {
		return l.errf("%v", err)
	}
	key := id.String() + "::" + string(name)
	switch what {
	case "struct":
		abil, err := parseAbilities(ts)
		if err != nil {
			return l.errf("%v", err)
		}
		mod := a.b.ModuleHandle(id)
		a.externStructs[key] = a.b.StructHandle(mod, name, abil)
		a.externStructs[path] = a.externStructs[key]
	case "fun":
		tps, abil, err := parseTypeParams(ts)
		if err != nil {
			return l.errf("%v", err)
		}
		scope := tpScope(tps)
		if err := ts.expect("("); err != nil {
			return l.errf("%v", err)
		}
		var params []bytecode.SignatureToken
		for !ts.accept(")") {
			// optional parameter names
			if ts.peek().kind == tokWord && len(ts.toks) > ts.pos+1 && ts.toks[ts.pos+1].text == ":" {
				ts.pos += 2
			}
			tok, err := a.parseType(ts, scope)
			if err != nil {
				return l.errf("%v", err)
			}
			params = append(params, tok)
			if !ts.peekIs(")") {
				if err := ts.expect(","); err != nil {
					return l.errf("%v", err)
				}
			}
		}
		rets, err := a.parseReturns(ts, scope)
		if err != nil {
			return l.errf("%v", err)
		}
		mod := a.b.ModuleHandle(id)
		a.externFuncs[key] = a.b.FunctionHandle(mod, name, params, rets, abil)
		a.externFuncs[path] = a.externFuncs[key]
	default:
		return l.errf("expected 'extern struct' or 'extern fun', got %q", what)
	}
	if !ts.done() {
		return l.errf("unexpected %q", ts.peek().text)
	}
	return nil
}

func (a *assembler) structFieldsDef(s *structDecl) error {
	fields := make([]bytecode.FieldDef, 0, len(s.fields))
	names := make([]types.Identifier, 0, len(s.fields))
	for _, fl := range s.fields {
		ts := fl.stream()
		fname, err := ts.word()
		if err != nil {
			return fl.errf("%v", err)
		}
		id, err := types.NewIdentifier(fname)
		if err != nil {
			return fl.errf("%v", err)
		}
		if err := ts.expect(":"); err != nil {
			return fl.errf("%v", err)
		}
		tok, err := a.parseType(ts, nil)
		if err != nil {
			return fl.errf("field %s: %v", fname, err)
		}
		ts.accept(",")
		if !ts.done() {
			return fl.errf("unexpected %q after field", ts.peek().text)
		}
		fields = append(fields, bytecode.FieldDef{Name: id, Type: tok})
		names = append(names, id)
	}
	a.structDefs[s.name] = a.b.Struct(s.name, s.abilities, fields)
	a.structFields[s.name] = names
	return nil
}

func (a *assembler) buildModule() (*bytecode.CompiledModule, error) {
	for _, f := range a.funcs {
		spec := bytecode.FunctionSpec{
			Name:       f.name,
			Visibility: f.visibility,
			IsEntry:    f.entry,
			IsNative:   f.native,
			TypeParams: f.tpAbil,
			Params:     paramTokens(f.params),
			Returns:    f.returns,
		}
		if !f.native {
			locals, code, err := a.body(f)
			if err != nil {
				return nil, err
			}
			spec.Locals = locals
			spec.Code = code
		}
		a.b.Function(spec)
	}
	m, err := a.b.Build()
	if err != nil {
		return nil, &Error{Line: 1, Msg: err.Error()}
	}
	return m, nil
}

func (a *assembler) buildScript() (*bytecode.CompiledScript, error) {
	f := a.funcs[0]
	if f.native {
		return nil, f.line.errf("script main cannot be native")
	}
	if len(f.returns) > 0 {
		return nil, f.line.errf("script main cannot return values")
	}
	locals, code, err := a.body(f)
	if err != nil {
		return nil, err
	}
	m, err := a.b.Build()
	if err != nil {
		return nil, &Error{Line: 1, Msg: err.Error()}
	}
	s := &bytecode.CompiledScript{
		Version:                bytecode.Version,
		ModuleHandles:          m.ModuleHandles[1:],
		FunctionInstantiations: m.FunctionInstantiations,
		Constants:              m.Constants,
		TypeParams:             f.tpAbil,
		Params:                 paramTokens(f.params),
		Locals:                 locals,
		Code:                   code,
	}
	for _, sh := range m.StructHandles {
		sh.Module--
		s.StructHandles = append(s.StructHandles, sh)
	}
	for _, fh := range m.FunctionHandles {
		fh.Module--
		s.FunctionHandles = append(s.FunctionHandles, fh)
	}
	return s, nil
}
