package types

import "testing"

func TestParseAddressPadsShortForms(t *testing.T) {
	a, err := ParseAddress("0x1")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if a != AddressOne {
		t.Fatalf("0x1 = %s, want %s", a.LongString(), AddressOne.LongString())
	}
	if got := a.String(); got != "0x1" {
		t.Fatalf("String() = %q, want 0x1", got)
	}
	if _, err := ParseAddress("0xzz"); err == nil {
		t.Fatal("expected error for non-hex address")
	}
	long := "0x" + "11223344556677889900aabbccddeeff00"
	if _, err := ParseAddress(long); err == nil {
		t.Fatal("expected error for oversized address")
	}
}

func TestIdentifierValidation(t *testing.T) {
	cases := map[string]bool{
		"Coin":      true,
		"_private":  true,
		"a1":        true,
		"_":         false,
		"1abc":      false,
		"":          false,
		"with-dash": false,
		"Café":      false,
	}
	for in, want := range cases {
		if got := IsValidIdentifier(in); got != want {
			t.Errorf("IsValidIdentifier(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestModuleIDRoundTrip(t *testing.T) {
	id, err := ParseModuleID("0xA::Market")
	if err != nil {
		t.Fatalf("ParseModuleID: %v", err)
	}
	if id.String() != "0xa::Market" {
		t.Fatalf("String() = %q", id.String())
	}
	if _, err := ParseModuleID("0xA::M::N"); err == nil {
		t.Fatal("expected error for three-part id")
	}
	if _, err := ParseModuleID("Market"); err == nil {
		t.Fatal("expected error for id without address")
	}
}

func TestParseTypeTag(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"u64", "u64"},
		{"vector<u8>", "vector<u8>"},
		{"vector<vector<bool>>", "vector<vector<bool>>"},
		{"0x1::Coin::Coin", "0x1::Coin::Coin"},
		{"0x2::Pool::Pair<u64, 0x1::Coin::Coin>", "0x2::Pool::Pair<u64, 0x1::Coin::Coin>"},
	}
	for _, tt := range tests {
		tag, err := ParseTypeTag(tt.in)
		if err != nil {
			t.Fatalf("ParseTypeTag(%q): %v", tt.in, err)
		}
		if got := tag.String(); got != tt.want {
			t.Errorf("ParseTypeTag(%q).String() = %q, want %q", tt.in, got, tt.want)
		}
		again, err := ParseTypeTag(tag.String())
		if err != nil || !again.Equal(tag) {
			t.Errorf("reparse of %q differs: %v", tt.in, err)
		}
	}
	for _, bad := range []string{"", "u32", "vector<u8", "0x1::Coin", "u64 u8"} {
		if _, err := ParseTypeTag(bad); err == nil {
			t.Errorf("ParseTypeTag(%q) succeeded, want error", bad)
		}
	}
}

func TestAbilitySet(t *testing.T) {
	s := AbilitiesEmpty.With(AbilityKey).With(AbilityStore)
	if !s.Has(AbilityKey) || s.Has(AbilityCopy) {
		t.Fatalf("unexpected set %v", s)
	}
	if !AbilitySet(AbilityStore).IsSubsetOf(s) {
		t.Fatal("store should be subset")
	}
	if s.String() != "store, key" {
		t.Fatalf("String() = %q", s.String())
	}
}
