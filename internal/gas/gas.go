// Package gas meters execution. A Meter is placed in the session's extension
// bag; the interpreter charges every instruction and call against it, and
// natives may charge extra for their own work.
package gas

import (
	"sync/atomic"

	"modvm/internal/bytecode"
	"modvm/internal/vmerr"
)

// Meter tracks gas usage.
type Meter interface {
	ConsumeGas(amount uint64, descriptor string) error
	GasConsumed() uint64
	GasRemaining() uint64
}

// LimitMeter fails with OUT_OF_GAS once the limit is exceeded. The failing
// charge is not recorded, so GasConsumed never exceeds the limit.
type LimitMeter struct {
	limit    uint64
	consumed atomic.Uint64
}

func NewLimitMeter(limit uint64) *LimitMeter {
	return &LimitMeter{limit: limit}
}

func (m *LimitMeter) ConsumeGas(amount uint64, descriptor string) error {
	for {
		used := m.consumed.Load()
		next := used + amount
		if next < used || next > m.limit {
			return vmerr.Newf(vmerr.OutOfGas, "%s needs %d, %d of %d left", descriptor, amount, m.limit-used, m.limit)
		}
		if m.consumed.CompareAndSwap(used, next) {
			return nil
		}
	}
}

func (m *LimitMeter) GasConsumed() uint64  { return m.consumed.Load() }
func (m *LimitMeter) GasRemaining() uint64 { return m.limit - m.consumed.Load() }

// Unmetered counts but never fails.
type Unmetered struct {
	consumed atomic.Uint64
}

func (u *Unmetered) ConsumeGas(amount uint64, _ string) error {
	u.consumed.Add(amount)
	return nil
}

func (u *Unmetered) GasConsumed() uint64  { return u.consumed.Load() }
func (u *Unmetered) GasRemaining() uint64 { return ^uint64(0) }

// Schedule assigns a constant cost to each opcode plus per-call and
// per-byte costs.
type Schedule struct {
	Instr       map[bytecode.Opcode]uint64
	DefaultCost uint64
	CallBase    uint64
	NativeBase  uint64
	PerByte     uint64 // storage reads and writes
}

// DefaultSchedule is used when the session does not install its own.
var DefaultSchedule = &Schedule{
	Instr: map[bytecode.Opcode]uint64{
		bytecode.OpNop:      0,
		bytecode.OpMul:      3,
		bytecode.OpDiv:      3,
		bytecode.OpMod:      3,
		bytecode.OpPack:     2,
		bytecode.OpUnpack:   2,
		bytecode.OpMoveTo:   20,
		bytecode.OpMoveFrom: 20,
		bytecode.OpExists:   10,
	},
	DefaultCost: 1,
	CallBase:    5,
	NativeBase:  5,
	PerByte:     1,
}

// InstrCost returns the cost of op.
func (s *Schedule) InstrCost(op bytecode.Opcode) uint64 {
	if c, ok := s.Instr[op]; ok {
		return c
	}
	return s.DefaultCost
}
