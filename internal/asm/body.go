package asm

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"modvm/internal/bytecode"
	"modvm/internal/types"
)

type bodyScope struct {
	tps    map[string]uint16
	locals map[string]uint64
	labels map[string]uint64
}

// body assembles a function body in two passes: the first assigns local
// indices and label offsets, the second encodes instructions.
func (a *assembler) body(f *funcDecl) ([]bytecode.SignatureToken, []bytecode.Instruction, error) {
	sc := &bodyScope{
		tps:    tpScope(f.typeParams),
		locals: make(map[string]uint64),
		labels: make(map[string]uint64),
	}
	for i, p := range f.params {
		if _, dup := sc.locals[p.name]; dup {
			return nil, nil, f.line.errf("duplicate parameter %s", p.name)
		}
		sc.locals[p.name] = uint64(i)
	}

	var locals []bytecode.SignatureToken
	var instrs []srcLine
	for _, l := range f.body {
		ts := l.stream()
		switch {
		case ts.peekIs("local"):
			ts.next()
			name, err := ts.word()
			if err != nil {
				return nil, nil, l.errf("%v", err)
			}
			if err := ts.expect(":"); err != nil {
				return nil, nil, l.errf("%v", err)
			}
			tok, err := a.parseType(ts, sc.tps)
			if err != nil {
				return nil, nil, l.errf("local %s: %v", name, err)
			}
			if _, dup := sc.locals[name]; dup {
				return nil, nil, l.errf("duplicate local %s", name)
			}
			sc.locals[name] = uint64(len(f.params) + len(locals))
			locals = append(locals, tok)
		case len(l.toks) == 2 && l.toks[0].kind == tokWord && l.toks[1].text == ":":
			name := l.toks[0].text
			if _, dup := sc.labels[name]; dup {
				return nil, nil, l.errf("duplicate label %s", name)
			}
			sc.labels[name] = uint64(len(instrs))
		default:
			instrs = append(instrs, l)
		}
	}

	code := make([]bytecode.Instruction, 0, len(instrs))
	for _, l := range instrs {
		in, err := a.instruction(l, sc)
		if err != nil {
			return nil, nil, err
		}
		code = append(code, in)
	}
	return locals, code, nil
}

func (a *assembler) instruction(l srcLine, sc *bodyScope) (bytecode.Instruction, error) {
	ts := l.stream()
	mnemonic, err := ts.word()
	if err != nil {
		return bytecode.Instruction{}, l.errf("%v", err)
	}

	var in bytecode.Instruction
	switch mnemonic {
	case "ld_addr":
		w, err := ts.word()
		if err != nil {
			return in, l.errf("%v", err)
		}
		addr, err := types.ParseAddress(w)
		if err != nil {
			return in, l.errf("%v", err)
		}
		in = bytecode.I(bytecode.OpLdConst, uint64(a.b.Constant(bytecode.AddressConst(addr))))
	case "ld_bytes":
		data, err := bytesLiteral(ts)
		if err != nil {
			return in, l.errf("%v", err)
		}
		in = bytecode.I(bytecode.OpLdConst, uint64(a.b.Constant(bytecode.BytesConst(data))))
	default:
		op, ok := bytecode.OpcodeByName(mnemonic)
		if !ok {
			return in, l.errf("unknown instruction %q", mnemonic)
		}
		in.Op = op
		if op.HasOperand() {
			if in.Arg, err = a.operand(op, ts, sc); err != nil {
				return in, l.errf("%s: %v", mnemonic, err)
			}
		}
	}
	if !ts.done() {
		return in, l.errf("unexpected %q after %s", ts.peek().text, mnemonic)
	}
	return in, nil
}

func (a *assembler) operand(op bytecode.Opcode, ts *tokens, sc *bodyScope) (uint64, error) {
	switch op {
	case bytecode.OpBrTrue, bytecode.OpBrFalse, bytecode.OpBranch:
		w, err := ts.word()
		if err != nil {
			return 0, err
		}
		if off, ok := sc.labels[w]; ok {
			return off, nil
		}
		if n, err := strconv.ParseUint(w, 0, 64); err == nil {
			return n, nil
		}
		return 0, fmt.Errorf("unknown label %q", w)

	case bytecode.OpLdU8, bytecode.OpLdU64:
		w, err := ts.word()
		if err != nil {
			return 0, err
		}
		bits := 64
		if op == bytecode.OpLdU8 {
			bits = 8
		}
		return strconv.ParseUint(w, 0, bits)

	case bytecode.OpLdConst:
		return a.constOperand(ts)

	case bytecode.OpCopyLoc, bytecode.OpMoveLoc, bytecode.OpStLoc:
		w, err := ts.word()
		if err != nil {
			return 0, err
		}
		if idx, ok := sc.locals[w]; ok {
			return idx, nil
		}
		if n, err := strconv.ParseUint(w, 0, 16); err == nil {
			return n, nil
		}
		return 0, fmt.Errorf("unknown local %q", w)

	case bytecode.OpCall:
		w, err := ts.word()
		if err != nil {
			return 0, err
		}
		h, err := a.funcHandle(w)
		return uint64(h), err

	case bytecode.OpCallGeneric:
		w, err := ts.word()
		if err != nil {
			return 0, err
		}
		h, err := a.funcHandle(w)
		if err != nil {
			return 0, err
		}
		if err := ts.expect("<"); err != nil {
			return 0, err
		}
		var args []bytecode.SignatureToken
		for {
			tok, err := a.parseType(ts, sc.tps)
			if err != nil {
				return 0, err
			}
			args = append(args, tok)
			if ts.accept(">") {
				break
			}
			if err := ts.expect(","); err != nil {
				return 0, err
			}
		}
		return uint64(a.b.Instantiate(h, args)), nil

	case bytecode.OpPack, bytecode.OpUnpack, bytecode.OpMoveTo, bytecode.OpMoveFrom, bytecode.OpExists:
		w, err := ts.word()
		if err != nil {
			return 0, err
		}
		def, ok := a.structDefs[types.Identifier(w)]
		if !ok {
			return 0, fmt.Errorf("struct %q is not declared in this module", w)
		}
		return uint64(def), nil

	case bytecode.OpGetField:
		sname, err := ts.word()
		if err != nil {
			return 0, err
		}
		if err := ts.expect("."); err != nil {
			return 0, err
		}
		fname, err := ts.word()
		if err != nil {
			return 0, err
		}
		def, ok := a.structDefs[types.Identifier(sname)]
		if !ok {
			return 0, fmt.Errorf("struct %q is not declared in this module", sname)
		}
		for i, f := range a.structFields[types.Identifier(sname)] {
			if string(f) == fname {
				return bytecode.FieldOperand(def, uint16(i)), nil
			}
		}
		return 0, fmt.Errorf("struct %s has no field %s", sname, fname)
	}
	return 0, fmt.Errorf("no operand syntax for %s", op)
}

func (a *assembler) funcHandle(name string) (uint16, error) {
	if h, ok := a.localFuncs[types.Identifier(name)]; ok {
		return h, nil
	}
	if h, ok := a.externFuncs[name]; ok {
		return h, nil
	}
	if strings.Contains(name, "::") {
		if key, err := canonicalPath(name); err == nil {
			if h, ok := a.externFuncs[key]; ok {
				return h, nil
			}
		}
		return 0, fmt.Errorf("function %s is not declared (use 'extern fun')", name)
	}
	return 0, fmt.Errorf("unknown function %q", name)
}

// constOperand parses "<type> <literal>" into a constant pool entry.
func (a *assembler) constOperand(ts *tokens) (uint64, error) {
	kind, err := ts.word()
	if err != nil {
		return 0, err
	}
	var c bytecode.Constant
	switch kind {
	case "u64":
		w, err := ts.word()
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseUint(w, 0, 64)
		if err != nil {
			return 0, err
		}
		c = bytecode.U64Const(v)
	case "u8":
		w, err := ts.word()
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseUint(w, 0, 8)
		if err != nil {
			return 0, err
		}
		c = bytecode.Constant{Type: bytecode.U8, Data: []byte{byte(v)}}
	case "bool":
		w, err := ts.word()
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseBool(w)
		if err != nil {
			return 0, err
		}
		b := byte(0)
		if v {
			b = 1
		}
		c = bytecode.Constant{Type: bytecode.Bool, Data: []byte{b}}
	case "address":
		w, err := ts.word()
		if err != nil {
			return 0, err
		}
		addr, err := types.ParseAddress(w)
		if err != nil {
			return 0, err
		}
		c = bytecode.AddressConst(addr)
	case "bytes":
		data, err := bytesLiteral(ts)
		if err != nil {
			return 0, err
		}
		c = bytecode.BytesConst(data)
	default:
		return 0, fmt.Errorf("unsupported constant type %q", kind)
	}
	return uint64(a.b.Constant(c)), nil
}

// bytesLiteral accepts a quoted string or 0x-prefixed hex.
func bytesLiteral(ts *tokens) ([]byte, error) {
	tok := ts.next()
	switch tok.kind {
	case tokString:
		return []byte(tok.text), nil
	case tokWord:
		if !strings.HasPrefix(tok.text, "0x") {
			return nil, fmt.Errorf("expected \"string\" or 0x<hex>, got %q", tok.text)
		}
		return hex.DecodeString(tok.text[2:])
	}
	return nil, fmt.Errorf("expected byte literal")
}
