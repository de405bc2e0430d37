package types

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Identifier is a validated module, struct or function name.
type Identifier string

// IsValidIdentifier reports whether s is an ASCII identifier
// ([A-Za-z_][A-Za-z0-9_]*, and not a lone underscore) in NFC form.
func IsValidIdentifier(s string) bool {
	if s == "" || s == "_" {
		return false
	}
	if !norm.NFC.IsNormalString(s) {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// NewIdentifier validates s.
func NewIdentifier(s string) (Identifier, error) {
	if !IsValidIdentifier(s) {
		return "", fmt.Errorf("invalid identifier %q", s)
	}
	return Identifier(s), nil
}

// MustIdentifier panics on invalid input; for literals only.
func MustIdentifier(s string) Identifier {
	id, err := NewIdentifier(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (i Identifier) String() string { return string(i) }
