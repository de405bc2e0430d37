package types

import "strings"

// Ability is a single type capability.
type Ability uint8

const (
	AbilityCopy  Ability = 0x1
	AbilityDrop  Ability = 0x2
	AbilityStore Ability = 0x4
	AbilityKey   Ability = 0x8
)

// AbilitySet is a bit set of abilities.
type AbilitySet uint8

// Common ability sets.
const (
	AbilitiesEmpty     AbilitySet = 0
	AbilitiesPrimitive            = AbilitySet(AbilityCopy | AbilityDrop | AbilityStore)
	AbilitiesAll                  = AbilitySet(AbilityCopy | AbilityDrop | AbilityStore | AbilityKey)
	AbilitiesSigner               = AbilitySet(AbilityDrop)
)

// Has reports whether a is in the set.
func (s AbilitySet) Has(a Ability) bool { return s&AbilitySet(a) != 0 }

// IsSubsetOf reports whether every ability of s is in other.
func (s AbilitySet) IsSubsetOf(other AbilitySet) bool { return s&other == s }

// Intersect returns s ∩ other.
func (s AbilitySet) Intersect(other AbilitySet) AbilitySet { return s & other }

// With adds an ability.
func (s AbilitySet) With(a Ability) AbilitySet { return s | AbilitySet(a) }

func (s AbilitySet) String() string {
	if s == AbilitiesEmpty {
		return ""
	}
	parts := make([]string, 0, 4)
	if s.Has(AbilityCopy) {
		parts = append(parts, "copy")
	}
	if s.Has(AbilityDrop) {
		parts = append(parts, "drop")
	}
	if s.Has(AbilityStore) {
		parts = append(parts, "store")
	}
	if s.Has(AbilityKey) {
		parts = append(parts, "key")
	}
	return strings.Join(parts, ", ")
}

// ParseAbility maps an ability keyword.
func ParseAbility(s string) (Ability, bool) {
	switch s {
	case "copy":
		return AbilityCopy, true
	case "drop":
		return AbilityDrop, true
	case "store":
		return AbilityStore, true
	case "key":
		return AbilityKey, true
	}
	return 0, false
}
