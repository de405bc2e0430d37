// Package interp executes linked functions on a stack machine. It owns no
// state between calls: globals go through the Env, modules through the
// loader's linked handle tables.
package interp

import (
	"fortio.org/safecast"

	"modvm/internal/bytecode"
	"modvm/internal/gas"
	"modvm/internal/loader"
	"modvm/internal/natives"
	"modvm/internal/trace"
	"modvm/internal/types"
	"modvm/internal/values"
	"modvm/internal/vmerr"
)

// DefaultMaxCallDepth bounds nested calls when Config leaves it zero.
const DefaultMaxCallDepth = 256

// Env is what a running function sees of its session.
type Env interface {
	natives.Context

	// LoadType resolves a runtime type, loading modules as needed.
	LoadType(tag types.TypeTag) (*loader.Type, error)

	MoveTo(addr types.Address, ty *loader.Type, v values.Value) error
	MoveFrom(addr types.Address, ty *loader.Type) (values.Value, error)
	Exists(addr types.Address, ty *loader.Type) (bool, error)
}

// Config tunes an Interpreter.
type Config struct {
	MaxCallDepth int
	Schedule     *gas.Schedule
	Tracer       trace.Tracer
}

// Interpreter runs one top-level call at a time.
type Interpreter struct {
	env    Env
	cfg    Config
	stack  []values.Value
	frames []*frame
}

type frame struct {
	fn     *loader.Function
	tyArgs []types.TypeTag
	locals []values.Value
	pc     int
	span   *trace.Span
}

// New creates an interpreter bound to env.
func New(env Env, cfg Config) *Interpreter {
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = DefaultMaxCallDepth
	}
	if cfg.Schedule == nil {
		cfg.Schedule = gas.DefaultSchedule
	}
	if cfg.Tracer == nil {
		cfg.Tracer = trace.Nop
	}
	return &Interpreter{env: env, cfg: cfg}
}

// Location is where errors raised inside fn are reported.
func Location(fn *loader.Function) vmerr.Location {
	if fn.Module.ID() == bytecode.ScriptModuleID {
		return vmerr.ScriptLocation
	}
	return vmerr.ModuleLocation(fn.Module.ID())
}

// Execute calls fn with type arguments and arguments that the caller has
// already checked against its signature. Errors are finished at the module
// whose code raised them.
func (in *Interpreter) Execute(fn *loader.Function, tyArgs []types.TypeTag, args []values.Value) ([]values.Value, error) {
	in.stack = in.stack[:0]
	in.frames = in.frames[:0]

	if fn.IsNative() {
		rets, perr := in.callNative(fn, tyArgs, args)
		if perr != nil {
			return nil, perr.Finish(Location(fn))
		}
		return rets, nil
	}
	if perr := in.pushFrame(fn, tyArgs, args); perr != nil {
		return nil, perr.Finish(Location(fn))
	}
	rets, err := in.run()
	for _, f := range in.frames {
		f.span.End("unwound")
	}
	return rets, err
}

func (in *Interpreter) pushFrame(fn *loader.Function, tyArgs []types.TypeTag, args []values.Value) *vmerr.PartialError {
	if len(in.frames) >= in.cfg.MaxCallDepth {
		return vmerr.Newf(vmerr.CallStackOverflow, "call depth %d exceeded calling %s", in.cfg.MaxCallDepth, fn)
	}
	locals := make([]values.Value, fn.LocalCount())
	copy(locals, args)
	f := &frame{fn: fn, tyArgs: tyArgs, locals: locals}
	if in.cfg.Tracer.Enabled() {
		parent := uint64(0)
		if n := len(in.frames); n > 0 {
			parent = in.frames[n-1].span.ID()
		}
		f.span = trace.Begin(in.cfg.Tracer, trace.ScopeCall, "call:"+fn.String(), parent)
	}
	in.frames = append(in.frames, f)
	return nil
}

func (in *Interpreter) push(v values.Value) { in.stack = append(in.stack, v) }

func (in *Interpreter) pop() values.Value {
	v := in.stack[len(in.stack)-1]
	in.stack = in.stack[:len(in.stack)-1]
	return v
}

func (in *Interpreter) popN(n int) []values.Value {
	out := make([]values.Value, n)
	copy(out, in.stack[len(in.stack)-n:])
	in.stack = in.stack[:len(in.stack)-n]
	return out
}

func (in *Interpreter) charge(amount uint64, what string) *vmerr.PartialError {
	if amount == 0 {
		return nil
	}
	return asPartial(in.env.ConsumeGas(amount, what), vmerr.OutOfGas)
}

func (in *Interpreter) run() ([]values.Value, error) {
	for {
		f := in.frames[len(in.frames)-1]
		code := f.fn.Code
		if f.pc >= len(code) {
			return nil, in.fail(f, vmerr.Newf(vmerr.UnknownInvariantViolation, "fell off the end of %s", f.fn))
		}
		instr := code[f.pc]
		if perr := in.charge(in.cfg.Schedule.InstrCost(instr.Op), instr.Op.String()); perr != nil {
			return nil, in.fail(f, perr)
		}

		switch instr.Op {
		case bytecode.OpRet:
			f.span.End("")
			in.frames = in.frames[:len(in.frames)-1]
			if len(in.frames) == 0 {
				return in.popN(len(f.fn.Returns)), nil
			}
			continue

		case bytecode.OpCall, bytecode.OpCallGeneric:
			m := f.fn.Module
			var (
				callee *loader.Function
				tyArgs []types.TypeTag
			)
			if instr.Op == bytecode.OpCall {
				callee = m.FunctionAt(uint16(instr.Arg))
			} else {
				fi := m.Code().FunctionInstantiations[instr.Arg]
				callee = m.FunctionAt(fi.Handle)
				var err error
				if tyArgs, err = m.TypeTags(fi.TypeArgs, f.tyArgs); err != nil {
					return nil, in.fail(f, asPartial(err, vmerr.TypeResolutionFailure))
				}
			}
			f.pc++
			args := in.popN(len(callee.Params))
			if callee.IsNative() {
				rets, perr := in.callNative(callee, tyArgs, args)
				if perr != nil {
					f.pc--
					return nil, in.fail(f, perr)
				}
				in.stack = append(in.stack, rets...)
				continue
			}
			if perr := in.charge(in.cfg.Schedule.CallBase, "call"); perr != nil {
				f.pc--
				return nil, in.fail(f, perr)
			}
			if perr := in.pushFrame(callee, tyArgs, args); perr != nil {
				f.pc--
				return nil, in.fail(f, perr)
			}
			continue

		case bytecode.OpBranch:
			f.pc = int(instr.Arg)
			continue
		case bytecode.OpBrTrue, bytecode.OpBrFalse:
			b, _ := in.pop().AsBool()
			if b == (instr.Op == bytecode.OpBrTrue) {
				f.pc = int(instr.Arg)
				continue
			}

		case bytecode.OpAbort:
			code, _ := in.pop().AsU64()
			return nil, in.fail(f, vmerr.Newf(vmerr.Aborted, "%s aborted with code %d", f.fn, code).WithSubStatus(code))

		default:
			if perr := in.step(f, instr); perr != nil {
				return nil, in.fail(f, perr)
			}
		}
		f.pc++
	}
}

// fail records where perr happened and finishes it at f's module.
func (in *Interpreter) fail(f *frame, perr *vmerr.PartialError) error {
	def, _ := safecast.Conv[uint16](f.fn.Def)
	pc, _ := safecast.Conv[uint16](f.pc)
	return perr.AtCodeOffset(def, pc).Finish(Location(f.fn))
}

// step executes instructions that do not change control flow.
func (in *Interpreter) step(f *frame, instr bytecode.Instruction) *vmerr.PartialError {
	m := f.fn.Module
	switch instr.Op {
	case bytecode.OpNop:
	case bytecode.OpPop:
		in.pop()
	case bytecode.OpLdU8:
		n, err := safecast.Conv[uint8](instr.Arg)
		if err != nil {
			return vmerr.Newf(vmerr.UnknownInvariantViolation, "ld_u8 operand %d", instr.Arg)
		}
		in.push(values.U8(n))
	case bytecode.OpLdU64:
		in.push(values.U64(instr.Arg))
	case bytecode.OpLdTrue:
		in.push(values.Bool(true))
	case bytecode.OpLdFalse:
		in.push(values.Bool(false))
	case bytecode.OpLdConst:
		v, err := constantValue(m.Code().Constants[instr.Arg])
		if err != nil {
			return vmerr.New(vmerr.UnknownInvariantViolation).Wrap(err)
		}
		in.push(v)

	case bytecode.OpCopyLoc, bytecode.OpMoveLoc:
		v := f.locals[instr.Arg]
		if !v.IsValid() {
			return vmerr.Newf(vmerr.UnknownInvariantViolation, "local %d of %s is unavailable", instr.Arg, f.fn)
		}
		if instr.Op == bytecode.OpMoveLoc {
			f.locals[instr.Arg] = values.Value{}
			in.push(v)
		} else {
			in.push(v.Copy())
		}
	case bytecode.OpStLoc:
		f.locals[instr.Arg] = in.pop()

	case bytecode.OpPack:
		st := m.StructDef(int(instr.Arg))
		in.push(values.Struct(in.popN(len(st.Fields))...))
	case bytecode.OpUnpack:
		in.stack = append(in.stack, in.pop().Fields()...)
	case bytecode.OpGetField:
		_, field := bytecode.SplitFieldOperand(instr.Arg)
		in.push(in.pop().Field(int(field)))

	case bytecode.OpMoveTo, bytecode.OpMoveFrom, bytecode.OpExists:
		return in.globalOp(f, instr)

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
		r, l := in.pop(), in.pop()
		v, perr := arith(instr.Op, l, r)
		if perr != nil {
			return perr
		}
		in.push(v)
	case bytecode.OpLt, bytecode.OpGt, bytecode.OpLe, bytecode.OpGe:
		r, _ := in.pop().AsInt()
		l, _ := in.pop().AsInt()
		in.push(values.Bool(compare(instr.Op, l, r)))
	case bytecode.OpEq, bytecode.OpNeq:
		r, l := in.pop(), in.pop()
		in.push(values.Bool(l.Equal(r) == (instr.Op == bytecode.OpEq)))
	case bytecode.OpAnd, bytecode.OpOr:
		r, _ := in.pop().AsBool()
		l, _ := in.pop().AsBool()
		if instr.Op == bytecode.OpAnd {
			in.push(values.Bool(l && r))
		} else {
			in.push(values.Bool(l || r))
		}
	case bytecode.OpNot:
		b, _ := in.pop().AsBool()
		in.push(values.Bool(!b))
	case bytecode.OpCastU8:
		n, _ := in.pop().AsInt()
		b, err := safecast.Conv[uint8](n)
		if err != nil {
			return vmerr.Newf(vmerr.ArithmeticError, "cast_u8 of %d", n)
		}
		in.push(values.U8(b))
	case bytecode.OpCastU64:
		n, _ := in.pop().AsInt()
		in.push(values.U64(n))
	default:
		return vmerr.Newf(vmerr.UnknownInvariantViolation, "unexpected %s", instr.Op)
	}
	return nil
}

func (in *Interpreter) globalOp(f *frame, instr bytecode.Instruction) *vmerr.PartialError {
	st := f.fn.Module.StructDef(int(instr.Arg))
	ty, err := in.env.LoadType(types.StructTypeTag(st.Tag()))
	if err != nil {
		return asPartial(err, vmerr.TypeResolutionFailure)
	}
	switch instr.Op {
	case bytecode.OpMoveTo:
		v := in.pop()
		addr, _ := in.pop().AsSigner()
		return asPartial(in.env.MoveTo(addr, ty, v), vmerr.StorageError)
	case bytecode.OpMoveFrom:
		addr, _ := in.pop().AsAddress()
		v, err := in.env.MoveFrom(addr, ty)
		if err != nil {
			return asPartial(err, vmerr.StorageError)
		}
		in.push(v)
	default:
		addr, _ := in.pop().AsAddress()
		ok, err := in.env.Exists(addr, ty)
		if err != nil {
			return asPartial(err, vmerr.StorageError)
		}
		in.push(values.Bool(ok))
	}
	return nil
}

func (in *Interpreter) callNative(fn *loader.Function, tyArgs []types.TypeTag, args []values.Value) ([]values.Value, *vmerr.PartialError) {
	if perr := in.charge(in.cfg.Schedule.NativeBase, "native:"+fn.String()); perr != nil {
		return nil, perr
	}
	rets, err := fn.Native(in.env, tyArgs, args)
	if err != nil {
		if code, ok := natives.AbortCode(err); ok {
			return nil, vmerr.Newf(vmerr.Aborted, "%s aborted with code %d", fn, code).WithSubStatus(code)
		}
		return nil, asPartial(err, vmerr.NativeFunctionError)
	}
	if len(rets) != len(fn.Returns) {
		return nil, vmerr.Newf(vmerr.NativeFunctionError, "%s returned %d values, declared %d", fn, len(rets), len(fn.Returns))
	}
	return rets, nil
}
