package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"modvm/internal/loader"
	"modvm/internal/types"
	"modvm/internal/values"
)

// parseTypeArgs splits a comma-separated list of type tags. Commas inside
// angle brackets belong to the enclosing tag.
func parseTypeArgs(s string) ([]types.TypeTag, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var (
		out   []types.TypeTag
		depth int
		start int
	)
	flush := func(end int) error {
		tag, err := types.ParseTypeTag(strings.TrimSpace(s[start:end]))
		if err != nil {
			return err
		}
		out = append(out, tag)
		return nil
	}
	for i, c := range s {
		switch c {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				if err := flush(i); err != nil {
					return nil, err
				}
				start = i + 1
			}
		}
	}
	if err := flush(len(s)); err != nil {
		return nil, err
	}
	return out, nil
}

// parseArgs converts command-line words into values for the parameters of
// fn.
func parseArgs(fn *loader.Function, tyArgs []types.TypeTag, words []string, layout func(types.TypeTag) (*values.Layout, error)) ([]values.Value, error) {
	if len(words) != len(fn.Params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", fn.Signature(), len(fn.Params), len(words))
	}
	out := make([]values.Value, len(words))
	for i, w := range words {
		tag, err := fn.Module.TypeTag(fn.Params[i], tyArgs)
		if err != nil {
			return nil, err
		}
		l, err := layout(tag)
		if err != nil {
			return nil, err
		}
		v, err := parseValue(w, l)
		if err != nil {
			return nil, fmt.Errorf("argument %d (%s): %w", i+1, tag, err)
		}
		out[i] = v
	}
	return out, nil
}

// parseValue reads one literal: integers in decimal, addresses and signers
// as hex, byte vectors as 0x-hex or a plain string, other vectors as
// [a, b, c].
func parseValue(s string, l *values.Layout) (values.Value, error) {
	s = strings.TrimSpace(s)
	switch l.Kind {
	case values.KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return values.Value{}, err
		}
		return values.Bool(b), nil
	case values.KindU8:
		n, err := strconv.ParseUint(strings.TrimSuffix(s, "u8"), 10, 8)
		if err != nil {
			return values.Value{}, err
		}
		return values.U8(uint8(n)), nil
	case values.KindU64:
		n, err := strconv.ParseUint(strings.TrimSuffix(s, "u64"), 10, 64)
		if err != nil {
			return values.Value{}, err
		}
		return values.U64(n), nil
	case values.KindAddress, values.KindSigner:
		a, err := types.ParseAddress(strings.TrimPrefix(s, "@"))
		if err != nil {
			return values.Value{}, err
		}
		if l.Kind == values.KindSigner {
			return values.Signer(a), nil
		}
		return values.Address(a), nil
	case values.KindVector:
		if l.Elem.Kind == values.KindU8 && !strings.HasPrefix(s, "[") {
			if rest, ok := strings.CutPrefix(s, "0x"); ok {
				b, err := hex.DecodeString(rest)
				if err != nil {
					return values.Value{}, err
				}
				return values.Bytes(b), nil
			}
			return values.Bytes([]byte(s)), nil
		}
		inner, ok := strings.CutPrefix(s, "[")
		if !ok || !strings.HasSuffix(inner, "]") {
			return values.Value{}, fmt.Errorf("expected [..], got %q", s)
		}
		inner = strings.TrimSpace(strings.TrimSuffix(inner, "]"))
		if inner == "" {
			return values.Vector(), nil
		}
		parts := splitTop(inner)
		elems := make([]values.Value, len(parts))
		for i, p := range parts {
			v, err := parseValue(p, l.Elem)
			if err != nil {
				return values.Value{}, err
			}
			elems[i] = v
		}
		return values.Vector(elems...), nil
	}
	return values.Value{}, fmt.Errorf("%s arguments cannot be given on the command line", l)
}

// splitTop splits on commas outside brackets.
func splitTop(s string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}
