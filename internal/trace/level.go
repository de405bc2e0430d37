package trace

import (
	"fmt"
	"strings"
)

// Level selects how fine-grained the emitted events are.
type Level uint8

const (
	LevelOff    Level = iota
	LevelError        // failure dumps only
	LevelPhase        // VM lifecycle and sessions
	LevelDetail       // plus module loads and links
	LevelDebug        // plus every function call
)

var levelNames = [...]string{"off", "error", "phase", "detail", "debug"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// ParseLevel accepts a level name in any case.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return LevelOff, fmt.Errorf("unknown level %q (expected %s)", s, strings.Join(levelNames[:], "|"))
}

// maxScope is the finest scope each level lets through. Off and error emit
// no regular events.
var maxScope = [...]Scope{
	LevelPhase:  ScopeSession,
	LevelDetail: ScopeModule,
	LevelDebug:  ScopeCall,
}

// ShouldEmit reports whether events of scope pass at level l.
func (l Level) ShouldEmit(scope Scope) bool {
	if l < LevelPhase || int(l) >= len(maxScope) {
		return false
	}
	return scope <= maxScope[l]
}
