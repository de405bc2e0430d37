package types

import (
	"cmp"
	"fmt"
	"strings"
)

// ModuleID is the (address, name) pair that uniquely names a module.
// It is a comparable value and is used directly as a cache key.
type ModuleID struct {
	Address Address
	Name    Identifier
}

// NewModuleID builds a ModuleID.
func NewModuleID(addr Address, name Identifier) ModuleID {
	return ModuleID{Address: addr, Name: name}
}

// ParseModuleID parses "0xA::Name".
func ParseModuleID(s string) (ModuleID, error) {
	addrPart, namePart, ok := strings.Cut(s, "::")
	if !ok || strings.Contains(namePart, "::") {
		return ModuleID{}, fmt.Errorf("invalid module id %q (expected <address>::<name>)", s)
	}
	addr, err := ParseAddress(addrPart)
	if err != nil {
		return ModuleID{}, err
	}
	name, err := NewIdentifier(namePart)
	if err != nil {
		return ModuleID{}, err
	}
	return ModuleID{Address: addr, Name: name}, nil
}

// MustParseModuleID is ParseModuleID for literals.
func MustParseModuleID(s string) ModuleID {
	id, err := ParseModuleID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (m ModuleID) String() string {
	return m.Address.String() + "::" + string(m.Name)
}

// Compare orders ids by address then name.
func (m ModuleID) Compare(o ModuleID) int {
	if c := cmp.Compare(string(m.Address[:]), string(o.Address[:])); c != 0 {
		return c
	}
	return cmp.Compare(m.Name, o.Name)
}
