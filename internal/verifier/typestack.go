package verifier

import (
	"fortio.org/safecast"

	"modvm/internal/bytecode"
	"modvm/internal/types"
	"modvm/internal/vmerr"
)

type stack []bytecode.SignatureToken

func (s stack) equal(o stack) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !s[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

type funcChecker struct {
	v       *verifier
	def     int
	fd      bytecode.FunctionDef
	handle  bytecode.FunctionHandle
	locals  []bytecode.SignatureToken
	tparams []types.AbilitySet
}

func (c *funcChecker) errAt(pc int, code vmerr.StatusCode, format string, args ...any) *vmerr.PartialError {
	fn, _ := safecast.Conv[uint16](c.def)
	off, _ := safecast.Conv[uint16](pc)
	return vmerr.Newf(code, "%s: "+format, append([]any{c.handle.Name}, args...)...).AtCodeOffset(fn, off)
}

func (v *verifier) checkFunction(def int) *vmerr.PartialError {
	fd := v.m.FunctionDefs[def]
	h := v.m.FunctionHandles[fd.Handle]
	fn, _ := safecast.Conv[uint16](def)
	if fd.IsNative {
		if len(fd.Code) > 0 || len(fd.Locals) > 0 {
			return vmerr.Newf(vmerr.NativeWithCode, "native %s has a body", h.Name).AtCodeOffset(fn, 0)
		}
		return nil
	}
	if len(fd.Code) == 0 {
		return vmerr.Newf(vmerr.EmptyCodeUnit, "%s has no code", h.Name).AtCodeOffset(fn, 0)
	}
	if _, err := safecast.Conv[uint16](len(fd.Code)); err != nil {
		return vmerr.Newf(vmerr.IndexOutOfBounds, "%s: code too long", h.Name).AtCodeOffset(fn, 0)
	}
	c := &funcChecker{
		v:       v,
		def:     def,
		fd:      fd,
		handle:  h,
		locals:  append(append([]bytecode.SignatureToken(nil), h.Params...), fd.Locals...),
		tparams: h.TypeParams,
	}
	if perr := c.checkShape(); perr != nil {
		return perr
	}
	return c.checkTypes()
}

// checkShape validates opcodes, operand bounds and control flow targets.
func (c *funcChecker) checkShape() *vmerr.PartialError {
	m := c.v.m
	code := c.fd.Code
	last := code[len(code)-1].Op
	if !last.IsUnconditionalBranch() {
		return c.errAt(len(code)-1, vmerr.InvalidFallThrough, "last instruction %s falls through", last)
	}
	for pc, in := range code {
		if !in.Op.Valid() {
			return c.errAt(pc, vmerr.Malformed, "unknown opcode 0x%02x", uint8(in.Op))
		}
		if !in.Op.HasOperand() && in.Arg != 0 {
			return c.errAt(pc, vmerr.Malformed, "%s takes no operand", in.Op)
		}
		var bound int
		switch in.Op {
		case bytecode.OpBrTrue, bytecode.OpBrFalse, bytecode.OpBranch:
			if in.Arg >= uint64(len(code)) {
				return c.errAt(pc, vmerr.BadBranchTarget, "branch to %d", in.Arg)
			}
			continue
		case bytecode.OpLdU8:
			bound = 256
		case bytecode.OpLdU64:
			continue
		case bytecode.OpLdConst:
			bound = len(m.Constants)
		case bytecode.OpCopyLoc, bytecode.OpMoveLoc, bytecode.OpStLoc:
			if in.Arg >= uint64(len(c.locals)) {
				return c.errAt(pc, vmerr.InvalidLocal, "local %d of %d", in.Arg, len(c.locals))
			}
			continue
		case bytecode.OpCall:
			bound = len(m.FunctionHandles)
		case bytecode.OpCallGeneric:
			bound = len(m.FunctionInstantiations)
		case bytecode.OpPack, bytecode.OpUnpack, bytecode.OpMoveTo, bytecode.OpMoveFrom, bytecode.OpExists:
			bound = len(m.StructDefs)
		case bytecode.OpGetField:
			sd, f := bytecode.SplitFieldOperand(in.Arg)
			if sd >= uint64(len(m.StructDefs)) || f >= uint64(len(m.StructDefs[sd].Fields)) {
				return c.errAt(pc, vmerr.IndexOutOfBounds, "field operand %d.%d", sd, f)
			}
			continue
		default:
			continue
		}
		if in.Arg >= uint64(bound) {
			return c.errAt(pc, vmerr.IndexOutOfBounds, "%s operand %d of %d", in.Op, in.Arg, bound)
		}
	}
	return nil
}

// checkTypes runs an abstract interpretation over stack types. Every
// instruction is visited with one stack shape; a second path reaching it with
// a different shape is an error.
func (c *funcChecker) checkTypes() *vmerr.PartialError {
	code := c.fd.Code
	states := make([]stack, len(code))
	seen := make([]bool, len(code))
	seen[0] = true
	states[0] = stack{}
	work := []int{0}

	push := func(pc int, st stack) *vmerr.PartialError {
		if seen[pc] {
			if !states[pc].equal(st) {
				return c.errAt(pc, vmerr.StackMismatchAtJoin, "stack %d vs %d values at join", len(states[pc]), len(st))
			}
			return nil
		}
		seen[pc] = true
		states[pc] = st
		work = append(work, pc)
		return nil
	}

	for len(work) > 0 {
		pc := work[len(work)-1]
		work = work[:len(work)-1]
		st := append(stack(nil), states[pc]...)
		in := code[pc]
		out, perr := c.step(pc, in, st)
		if perr != nil {
			return perr
		}
		switch {
		case in.Op == bytecode.OpRet || in.Op == bytecode.OpAbort:
		case in.Op == bytecode.OpBranch:
			if perr := push(int(in.Arg), out); perr != nil {
				return perr
			}
		case in.Op.IsBranch():
			if perr := push(int(in.Arg), out); perr != nil {
				return perr
			}
			if perr := push(pc+1, append(stack(nil), out...)); perr != nil {
				return perr
			}
		default:
			if perr := push(pc+1, out); perr != nil {
				return perr
			}
		}
	}
	return nil
}

func (c *funcChecker) abil(t bytecode.SignatureToken) types.AbilitySet {
	return c.v.abilities(t, c.tparams)
}

func isInt(t bytecode.SignatureToken) bool {
	return t.Kind == bytecode.TokU8 || t.Kind == bytecode.TokU64
}

func (c *funcChecker) step(pc int, in bytecode.Instruction, st stack) (stack, *vmerr.PartialError) {
	m := c.v.m
	pop := func() (bytecode.SignatureToken, *vmerr.PartialError) {
		if len(st) == 0 {
			return bytecode.SignatureToken{}, c.errAt(pc, vmerr.NegativeStackSize, "%s on empty stack", in.Op)
		}
		t := st[len(st)-1]
		st = st[:len(st)-1]
		return t, nil
	}
	popExpect := func(want bytecode.SignatureToken) *vmerr.PartialError {
		got, perr := pop()
		if perr != nil {
			return perr
		}
		if !got.Equal(want) {
			return c.errAt(pc, vmerr.VerifyTypeMismatch, "%s expects %s, found %s", in.Op, m.TokenString(want), m.TokenString(got))
		}
		return nil
	}
	mismatch := func(format string, args ...any) *vmerr.PartialError {
		return c.errAt(pc, vmerr.VerifyTypeMismatch, format, args...)
	}

	switch in.Op {
	case bytecode.OpNop:
	case bytecode.OpPop:
		t, perr := pop()
		if perr != nil {
			return nil, perr
		}
		if !c.abil(t).Has(types.AbilityDrop) {
			return nil, c.errAt(pc, vmerr.PopWithoutDrop, "pop of %s", m.TokenString(t))
		}
	case bytecode.OpRet:
		rets := c.handle.Returns
		if len(st) != len(rets) {
			return nil, c.errAt(pc, vmerr.RetTypeMismatch, "returns %d values, declared %d", len(st), len(rets))
		}
		for i, r := range rets {
			if !st[i].Equal(r) {
				return nil, c.errAt(pc, vmerr.RetTypeMismatch, "return %d is %s, declared %s", i, m.TokenString(st[i]), m.TokenString(r))
			}
		}
		st = st[:0]
	case bytecode.OpBrTrue, bytecode.OpBrFalse:
		if perr := popExpect(bytecode.Bool); perr != nil {
			return nil, perr
		}
	case bytecode.OpBranch:
	case bytecode.OpLdU8:
		st = append(st, bytecode.U8)
	case bytecode.OpLdU64:
		st = append(st, bytecode.U64)
	case bytecode.OpLdTrue, bytecode.OpLdFalse:
		st = append(st, bytecode.Bool)
	case bytecode.OpLdConst:
		st = append(st, m.Constants[in.Arg].Type)
	case bytecode.OpCopyLoc:
		t := c.locals[in.Arg]
		if !c.abil(t).Has(types.AbilityCopy) {
			return nil, c.errAt(pc, vmerr.CopyLocWithoutCopy, "copy of local %d (%s)", in.Arg, m.TokenString(t))
		}
		st = append(st, t)
	case bytecode.OpMoveLoc:
		st = append(st, c.locals[in.Arg])
	case bytecode.OpStLoc:
		if perr := popExpect(c.locals[in.Arg]); perr != nil {
			return nil, perr
		}
	case bytecode.OpCall, bytecode.OpCallGeneric:
		var h bytecode.FunctionHandle
		var targs []bytecode.SignatureToken
		if in.Op == bytecode.OpCall {
			h = m.FunctionHandles[in.Arg]
			if len(h.TypeParams) != 0 {
				return nil, c.errAt(pc, vmerr.GenericArityMismatch, "call of generic %s without type arguments", h.Name)
			}
		} else {
			fi := m.FunctionInstantiations[in.Arg]
			h = m.FunctionHandles[fi.Handle]
			targs = fi.TypeArgs
			if len(targs) != len(h.TypeParams) {
				return nil, c.errAt(pc, vmerr.GenericArityMismatch, "%s takes %d type arguments, got %d", h.Name, len(h.TypeParams), len(targs))
			}
			for i, ta := range targs {
				if err := c.v.checkToken(ta, len(c.tparams)); err != nil {
					return nil, c.errAt(pc, vmerr.IndexOutOfBounds, "type argument %d: %v", i, err)
				}
				if !h.TypeParams[i].IsSubsetOf(c.abil(ta)) {
					return nil, c.errAt(pc, vmerr.TypeArgConstraintFailed, "type argument %s of %s lacks %s",
						m.TokenString(ta), h.Name, h.TypeParams[i])
				}
			}
		}
		for i := len(h.Params) - 1; i >= 0; i-- {
			if perr := popExpect(Substitute(h.Params[i], targs)); perr != nil {
				return nil, perr
			}
		}
		for _, r := range h.Returns {
			st = append(st, Substitute(r, targs))
		}
	case bytecode.OpPack:
		sd := m.StructDefs[in.Arg]
		for i := len(sd.Fields) - 1; i >= 0; i-- {
			if perr := popExpect(sd.Fields[i].Type); perr != nil {
				return nil, perr
			}
		}
		st = append(st, bytecode.Struct(sd.Handle))
	case bytecode.OpUnpack:
		sd := m.StructDefs[in.Arg]
		if perr := popExpect(bytecode.Struct(sd.Handle)); perr != nil {
			return nil, perr
		}
		for _, f := range sd.Fields {
			st = append(st, f.Type)
		}
	case bytecode.OpGetField:
		def, field := bytecode.SplitFieldOperand(in.Arg)
		sd := m.StructDefs[def]
		if perr := popExpect(bytecode.Struct(sd.Handle)); perr != nil {
			return nil, perr
		}
		// the rest of the struct is discarded
		if !m.StructHandles[sd.Handle].Abilities.Has(types.AbilityDrop) {
			return nil, c.errAt(pc, vmerr.PopWithoutDrop, "get_field consumes %s which has no drop", m.StructHandles[sd.Handle].Name)
		}
		st = append(st, sd.Fields[field].Type)
	case bytecode.OpMoveTo, bytecode.OpMoveFrom, bytecode.OpExists:
		sd := m.StructDefs[in.Arg]
		sh := m.StructHandles[sd.Handle]
		if !sh.Abilities.Has(types.AbilityKey) {
			return nil, c.errAt(pc, vmerr.GlobalOpWithoutKey, "%s on %s", in.Op, sh.Name)
		}
		switch in.Op {
		case bytecode.OpMoveTo:
			if perr := popExpect(bytecode.Struct(sd.Handle)); perr != nil {
				return nil, perr
			}
			if perr := popExpect(bytecode.Signer); perr != nil {
				return nil, perr
			}
		case bytecode.OpMoveFrom:
			if perr := popExpect(bytecode.Address); perr != nil {
				return nil, perr
			}
			st = append(st, bytecode.Struct(sd.Handle))
		default:
			if perr := popExpect(bytecode.Address); perr != nil {
				return nil, perr
			}
			st = append(st, bytecode.Bool)
		}
	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod,
		bytecode.OpLt, bytecode.OpGt, bytecode.OpLe, bytecode.OpGe:
		r, perr := pop()
		if perr != nil {
			return nil, perr
		}
		l, perr := pop()
		if perr != nil {
			return nil, perr
		}
		if !isInt(l) || !l.Equal(r) {
			return nil, mismatch("%s on %s and %s", in.Op, m.TokenString(l), m.TokenString(r))
		}
		switch in.Op {
		case bytecode.OpLt, bytecode.OpGt, bytecode.OpLe, bytecode.OpGe:
			st = append(st, bytecode.Bool)
		default:
			st = append(st, l)
		}
	case bytecode.OpEq, bytecode.OpNeq:
		r, perr := pop()
		if perr != nil {
			return nil, perr
		}
		l, perr := pop()
		if perr != nil {
			return nil, perr
		}
		if !l.Equal(r) {
			return nil, mismatch("%s on %s and %s", in.Op, m.TokenString(l), m.TokenString(r))
		}
		if !c.abil(l).Has(types.AbilityDrop) {
			return nil, c.errAt(pc, vmerr.PopWithoutDrop, "%s consumes %s which has no drop", in.Op, m.TokenString(l))
		}
		st = append(st, bytecode.Bool)
	case bytecode.OpAnd, bytecode.OpOr:
		if perr := popExpect(bytecode.Bool); perr != nil {
			return nil, perr
		}
		if perr := popExpect(bytecode.Bool); perr != nil {
			return nil, perr
		}
		st = append(st, bytecode.Bool)
	case bytecode.OpNot:
		if perr := popExpect(bytecode.Bool); perr != nil {
			return nil, perr
		}
		st = append(st, bytecode.Bool)
	case bytecode.OpCastU8, bytecode.OpCastU64:
		t, perr := pop()
		if perr != nil {
			return nil, perr
		}
		if !isInt(t) {
			return nil, mismatch("%s of %s", in.Op, m.TokenString(t))
		}
		if in.Op == bytecode.OpCastU8 {
			st = append(st, bytecode.U8)
		} else {
			st = append(st, bytecode.U64)
		}
	case bytecode.OpAbort:
		if perr := popExpect(bytecode.U64); perr != nil {
			return nil, perr
		}
	}
	return st, nil
}

// Substitute replaces type parameters in t with args. With no args t is
// returned unchanged.
func Substitute(t bytecode.SignatureToken, args []bytecode.SignatureToken) bytecode.SignatureToken {
	if len(args) == 0 {
		return t
	}
	switch t.Kind {
	case bytecode.TokTypeParam:
		if int(t.Index) < len(args) {
			return args[t.Index]
		}
	case bytecode.TokVector:
		return bytecode.Vector(Substitute(*t.Elem, args))
	}
	return t
}
