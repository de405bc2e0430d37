// Package types holds the value types shared by every layer of the runtime:
// account addresses, identifiers, module ids and type tags.
package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLength is the size of an account address in bytes.
const AddressLength = 16

// Address identifies an account. Modules and resources are stored under it.
type Address [AddressLength]byte

// Well-known addresses.
var (
	AddressZero = Address{}
	AddressOne  = AddressFromUint64(1)
)

// AddressFromUint64 builds an address whose low 8 bytes hold v (big-endian).
func AddressFromUint64(v uint64) Address {
	var a Address
	for i := 0; i < 8; i++ {
		a[AddressLength-1-i] = byte(v >> (8 * i))
	}
	return a
}

// ParseAddress accepts "0x"-prefixed or bare hex, left-padding short forms
// ("0x1" is the same address as "0x0000...01").
func ParseAddress(s string) (Address, error) {
	var a Address
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if raw == "" {
		return a, fmt.Errorf("empty address %q", s)
	}
	if len(raw) > 2*AddressLength {
		return a, fmt.Errorf("address %q is longer than %d bytes", s, AddressLength)
	}
	if len(raw)%2 == 1 {
		raw = "0" + raw
	}
	buf, err := hex.DecodeString(raw)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	copy(a[AddressLength-len(buf):], buf)
	return a, nil
}

// MustParseAddress is ParseAddress for constants in tests and tables.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the short hex form with leading zero bytes trimmed ("0x1").
func (a Address) String() string {
	s := strings.TrimLeft(hex.EncodeToString(a[:]), "0")
	if s == "" {
		s = "0"
	}
	return "0x" + s
}

// LongString returns the full-width hex form.
func (a Address) LongString() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// AddressFromBytes converts an exact-length byte slice.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLength {
		return a, fmt.Errorf("address must be %d bytes, got %d", AddressLength, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Compare orders addresses bytewise.
func (a Address) Compare(o Address) int {
	return bytes.Compare(a[:], o[:])
}
