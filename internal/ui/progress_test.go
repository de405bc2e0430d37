package ui

import (
	"errors"
	"strings"
	"testing"

	"modvm/internal/types"
	"modvm/internal/vm"
)

func TestProgressModelListsModules(t *testing.T) {
	events := make(chan vm.PrewarmEvent)
	m := NewProgressModel("prewarm", events).(*progressModel)

	m.Update(eventMsg{Module: types.MustParseModuleID("0xA::M"), Batches: 2, Done: 1, Total: 2})
	m.Update(eventMsg{Module: types.MustParseModuleID("0xA::Gone"), Batch: 1, Batches: 2, Done: 2, Total: 2, Err: errors.New("missing")})
	m.Update(doneMsg{})

	view := m.View()
	for _, want := range []string{"done: prewarm (batch 2/2)", "0xa::M", "loaded", "failed", "0xa::Gone"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view lacks %q:\n%s", want, view)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("0x1::Vector", 8); got != "0x1::..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 20); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}
