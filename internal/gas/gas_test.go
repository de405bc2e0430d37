package gas_test

import (
	"testing"

	"modvm/internal/bytecode"
	"modvm/internal/gas"
	"modvm/internal/vmerr"
)

func TestLimitMeterStopsAtLimit(t *testing.T) {
	m := gas.NewLimitMeter(10)
	if err := m.ConsumeGas(7, "add"); err != nil {
		t.Fatalf("ConsumeGas: %v", err)
	}
	err := m.ConsumeGas(4, "mul")
	if !vmerr.HasStatus(err, vmerr.OutOfGas) {
		t.Fatalf("err = %v, want OUT_OF_GAS", err)
	}
	if m.GasConsumed() != 7 || m.GasRemaining() != 3 {
		t.Fatalf("consumed = %d remaining = %d", m.GasConsumed(), m.GasRemaining())
	}
	if err := m.ConsumeGas(3, "ret"); err != nil {
		t.Fatalf("exact limit: %v", err)
	}
	if err := m.ConsumeGas(^uint64(0), "overflow"); !vmerr.HasStatus(err, vmerr.OutOfGas) {
		t.Fatalf("overflow: err = %v", err)
	}
}

func TestScheduleCosts(t *testing.T) {
	s := gas.DefaultSchedule
	if s.InstrCost(bytecode.OpAdd) != s.DefaultCost {
		t.Fatal("add should use the default cost")
	}
	if s.InstrCost(bytecode.OpMoveTo) <= s.InstrCost(bytecode.OpAdd) {
		t.Fatal("global writes should cost more than arithmetic")
	}
	var u gas.Unmetered
	_ = u.ConsumeGas(1<<40, "big")
	if u.GasConsumed() != 1<<40 {
		t.Fatalf("unmetered consumed = %d", u.GasConsumed())
	}
}
