package main

import "testing"

func TestUIModeFlag(t *testing.T) {
	var m uiMode
	for in, want := range map[string]uiMode{"": uiAuto, " ON ": uiOn, "off": uiOff, "Auto": uiAuto} {
		if err := m.Set(in); err != nil || m != want {
			t.Fatalf("Set(%q) = %q, %v; want %q", in, m, err, want)
		}
	}
	if err := m.Set("sometimes"); err == nil {
		t.Fatal("Set accepted an unknown mode")
	}
	if !uiOn.interactive() || uiOff.interactive() {
		t.Fatal("explicit modes ignored")
	}
}
