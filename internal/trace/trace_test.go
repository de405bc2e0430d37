package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestStreamTracerFiltersByScope(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelPhase, FormatText)

	s := Begin(tr, ScopeSession, "session:1", 0)
	inner := Begin(tr, ScopeModule, "load:0x1::Vector", s.ID())
	inner.End("")
	s.WithExtra("writes", "2").End("")

	out := buf.String()
	if strings.Contains(out, "load:") {
		t.Fatalf("module scope leaked at phase level:\n%s", out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "[session]") || !strings.Contains(lines[1], "{writes=2}") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestNDJSONEvents(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelDebug, FormatNDJSON)
	Point(tr, ScopeCall, "call", "fn", "0xa::M::f")

	var ev struct {
		Kind  string            `json:"kind"`
		Scope string            `json:"scope"`
		Name  string            `json:"name"`
		Extra map[string]string `json:"extra"`
	}
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		t.Fatalf("Unmarshal: %v (%q)", err, buf.String())
	}
	if ev.Scope != "call" || ev.Name != "call" || ev.Extra["fn"] != "0xa::M::f" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestRingKeepsLastEvents(t *testing.T) {
	ring := NewRingTracer(2, LevelDebug)
	for _, name := range []string{"a", "b", "c"} {
		Point(ring, ScopeVM, name)
	}
	got := ring.Snapshot()
	if len(got) != 2 || got[0].Name != "b" || got[1].Name != "c" {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestNewHonoursLevelAndContext(t *testing.T) {
	tr, err := New(Config{Level: LevelOff})
	if err != nil || tr.Enabled() {
		t.Fatalf("off tracer = %v, %v", tr, err)
	}
	var buf bytes.Buffer
	tr, err = New(Config{Level: LevelDetail, Mode: ModeStream, Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := WithTracer(context.Background(), tr)
	if FromContext(ctx) != tr {
		t.Fatal("tracer lost in context")
	}
	if FromContext(context.Background()).Enabled() {
		t.Fatal("empty context should give the nop tracer")
	}
}

func TestLevelGatesScopes(t *testing.T) {
	cases := []struct {
		level Level
		scope Scope
		want  bool
	}{
		{LevelOff, ScopeVM, false},
		{LevelError, ScopeVM, false},
		{LevelPhase, ScopeSession, true},
		{LevelPhase, ScopeModule, false},
		{LevelDetail, ScopeModule, true},
		{LevelDetail, ScopeCall, false},
		{LevelDebug, ScopeCall, true},
	}
	for _, c := range cases {
		if got := c.level.ShouldEmit(c.scope); got != c.want {
			t.Fatalf("%s.ShouldEmit(%s) = %v", c.level, c.scope, got)
		}
	}
	for _, s := range []string{"detail", "DEBUG", "Phase"} {
		l, err := ParseLevel(s)
		if err != nil || !strings.EqualFold(l.String(), s) {
			t.Fatalf("ParseLevel(%q) = %s, %v", s, l, err)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("ParseLevel accepted an unknown level")
	}
}

func TestRingBeforeWrapAndMultiFanOut(t *testing.T) {
	a := NewRingTracer(4, LevelPhase)
	b := NewRingTracer(4, LevelDebug)
	m := NewMultiTracer(LevelDebug, a, b)
	Point(m, ScopeSession, "session:1")
	Point(m, ScopeCall, "call")
	if got := a.Snapshot(); len(got) != 1 || got[0].Name != "session:1" {
		t.Fatalf("phase ring = %+v", got)
	}
	if got := b.Snapshot(); len(got) != 2 || got[1].Name != "call" {
		t.Fatalf("debug ring = %+v", got)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
