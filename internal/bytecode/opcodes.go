package bytecode

import "fmt"

// Opcode is a single stack-machine operation. Every instruction carries one
// operand (Instruction.Arg); opcodes that do not use it leave it zero.
type Opcode uint8

// Stable opcode values - do not reorder.
const (
	OpNop         Opcode = 0x00
	OpPop         Opcode = 0x01
	OpRet         Opcode = 0x02
	OpBrTrue      Opcode = 0x03 // Arg: target offset
	OpBrFalse     Opcode = 0x04 // Arg: target offset
	OpBranch      Opcode = 0x05 // Arg: target offset
	OpLdU8        Opcode = 0x06 // Arg: value
	OpLdU64       Opcode = 0x07 // Arg: value
	OpLdTrue      Opcode = 0x08
	OpLdFalse     Opcode = 0x09
	OpLdConst     Opcode = 0x0a // Arg: constant pool index
	OpCopyLoc     Opcode = 0x0b // Arg: local index
	OpMoveLoc     Opcode = 0x0c // Arg: local index
	OpStLoc       Opcode = 0x0d // Arg: local index
	OpCall        Opcode = 0x0e // Arg: function handle index
	OpCallGeneric Opcode = 0x0f // Arg: function instantiation index
	OpPack        Opcode = 0x10 // Arg: struct definition index
	OpUnpack      Opcode = 0x11 // Arg: struct definition index
	OpGetField    Opcode = 0x12 // Arg: struct def index << 16 | field index
	OpMoveTo      Opcode = 0x13 // Arg: struct definition index
	OpMoveFrom    Opcode = 0x14 // Arg: struct definition index
	OpExists      Opcode = 0x15 // Arg: struct definition index
	OpAdd         Opcode = 0x16
	OpSub         Opcode = 0x17
	OpMul         Opcode = 0x18
	OpDiv         Opcode = 0x19
	OpMod         Opcode = 0x1a
	OpLt          Opcode = 0x1b
	OpGt          Opcode = 0x1c
	OpLe          Opcode = 0x1d
	OpGe          Opcode = 0x1e
	OpEq          Opcode = 0x1f
	OpNeq         Opcode = 0x20
	OpAnd         Opcode = 0x21
	OpOr          Opcode = 0x22
	OpNot         Opcode = 0x23
	OpCastU8      Opcode = 0x24
	OpCastU64     Opcode = 0x25
	OpAbort       Opcode = 0x26
)

type opInfo struct {
	name       string
	hasOperand bool
}

var opTable = map[Opcode]opInfo{
	OpNop:         {"nop", false},
	OpPop:         {"pop", false},
	OpRet:         {"ret", false},
	OpBrTrue:      {"br_true", true},
	OpBrFalse:     {"br_false", true},
	OpBranch:      {"branch", true},
	OpLdU8:        {"ld_u8", true},
	OpLdU64:       {"ld_u64", true},
	OpLdTrue:      {"ld_true", false},
	OpLdFalse:     {"ld_false", false},
	OpLdConst:     {"ld_const", true},
	OpCopyLoc:     {"copy_loc", true},
	OpMoveLoc:     {"move_loc", true},
	OpStLoc:       {"st_loc", true},
	OpCall:        {"call", true},
	OpCallGeneric: {"call_generic", true},
	OpPack:        {"pack", true},
	OpUnpack:      {"unpack", true},
	OpGetField:    {"get_field", true},
	OpMoveTo:      {"move_to", true},
	OpMoveFrom:    {"move_from", true},
	OpExists:      {"exists", true},
	OpAdd:         {"add", false},
	OpSub:         {"sub", false},
	OpMul:         {"mul", false},
	OpDiv:         {"div", false},
	OpMod:         {"mod", false},
	OpLt:          {"lt", false},
	OpGt:          {"gt", false},
	OpLe:          {"le", false},
	OpGe:          {"ge", false},
	OpEq:          {"eq", false},
	OpNeq:         {"neq", false},
	OpAnd:         {"and", false},
	OpOr:          {"or", false},
	OpNot:         {"not", false},
	OpCastU8:      {"cast_u8", false},
	OpCastU64:     {"cast_u64", false},
	OpAbort:       {"abort", false},
}

var opByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opTable))
	for op, info := range opTable {
		m[info.name] = op
	}
	return m
}()

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	_, ok := opTable[op]
	return ok
}

// HasOperand reports whether the instruction uses Arg.
func (op Opcode) HasOperand() bool { return opTable[op].hasOperand }

func (op Opcode) String() string {
	if info, ok := opTable[op]; ok {
		return info.name
	}
	return fmt.Sprintf("op(0x%02x)", uint8(op))
}

// OpcodeByName looks up an opcode by its mnemonic.
func OpcodeByName(name string) (Opcode, bool) {
	op, ok := opByName[name]
	return op, ok
}

// IsUnconditionalBranch reports whether control never falls through op.
func (op Opcode) IsUnconditionalBranch() bool {
	return op == OpRet || op == OpBranch || op == OpAbort
}

// IsBranch reports whether op transfers control to Arg.
func (op Opcode) IsBranch() bool {
	return op == OpBrTrue || op == OpBrFalse || op == OpBranch
}

// Instruction is one opcode with its operand.
type Instruction struct {
	_   struct{} `cbor:",toarray"`
	Op  Opcode
	Arg uint64
}

// I builds an instruction.
func I(op Opcode, arg ...uint64) Instruction {
	in := Instruction{Op: op}
	if len(arg) > 0 {
		in.Arg = arg[0]
	}
	return in
}

func (in Instruction) String() string {
	if in.Op.HasOperand() {
		return fmt.Sprintf("%s %d", in.Op, in.Arg)
	}
	return in.Op.String()
}

// FieldOperand packs a GetField operand.
func FieldOperand(structDef, field uint16) uint64 {
	return uint64(structDef)<<16 | uint64(field)
}

// SplitFieldOperand unpacks a GetField operand.
func SplitFieldOperand(arg uint64) (structDef, field uint64) {
	return arg >> 16, arg & 0xffff
}
