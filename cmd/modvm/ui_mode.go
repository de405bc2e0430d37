package main

import (
	"fmt"
	"os"
	"strings"
)

// uiMode is the --ui flag of prewarm: whether progress is drawn with the
// interactive view or printed line by line.
type uiMode string

const (
	uiAuto uiMode = "auto"
	uiOn   uiMode = "on"
	uiOff  uiMode = "off"
)

func (m *uiMode) String() string { return string(*m) }
func (m *uiMode) Type() string   { return "auto|on|off" }

func (m *uiMode) Set(s string) error {
	switch v := uiMode(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		*m = uiAuto
	case uiAuto, uiOn, uiOff:
		*m = v
	default:
		return fmt.Errorf("unknown ui mode %q", s)
	}
	return nil
}

// interactive reports whether the progress view should be used. Auto
// follows whether stdout is a terminal.
func (m uiMode) interactive() bool {
	if m == uiAuto {
		return isTerminal(os.Stdout)
	}
	return m == uiOn
}
