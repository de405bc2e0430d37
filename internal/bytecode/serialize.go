package bytecode

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"modvm/internal/vmerr"
)

// Magic prefixes every serialized module and script.
var Magic = [4]byte{0xa1, 0x1c, 0xeb, 0x0b}

// Version is the only binary format version this runtime reads and writes.
const Version uint8 = 1

// Kind distinguishes modules from scripts in the header.
type Kind uint8

const (
	KindModule Kind = 0
	KindScript Kind = 1
)

const headerLen = len(Magic) + 2

// Canonical encoding so that the same module always serializes to the same
// bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
	dm, err := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
		MaxArrayElements:  1 << 20,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

func header(kind Kind) []byte {
	h := make([]byte, 0, headerLen)
	h = append(h, Magic[:]...)
	return append(h, byte(kind), Version)
}

// SerializeModule encodes m.
func SerializeModule(m *CompiledModule) ([]byte, error) {
	cp := *m
	cp.Version = Version
	body, err := encMode.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("bytecode: marshal module: %w", err)
	}
	return append(header(KindModule), body...), nil
}

// SerializeScript encodes s.
func SerializeScript(s *CompiledScript) ([]byte, error) {
	cp := *s
	cp.Version = Version
	body, err := encMode.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("bytecode: marshal script: %w", err)
	}
	return append(header(KindScript), body...), nil
}

func checkHeader(data []byte, want Kind) *vmerr.PartialError {
	if len(data) < headerLen {
		return vmerr.Newf(vmerr.Malformed, "binary too short (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:len(Magic)], Magic[:]) {
		return vmerr.Newf(vmerr.BadMagic, "bad magic %x", data[:len(Magic)])
	}
	if got := Kind(data[len(Magic)]); got != want {
		return vmerr.Newf(vmerr.Malformed, "binary kind %d, expected %d", got, want)
	}
	if v := data[len(Magic)+1]; v != Version {
		return vmerr.Newf(vmerr.UnknownVersion, "binary version %d, supported %d", v, Version)
	}
	return nil
}

// DeserializeModule decodes a module. It checks the header and the CBOR
// shape only; semantic checks are the verifier's job.
func DeserializeModule(data []byte) (*CompiledModule, error) {
	if perr := checkHeader(data, KindModule); perr != nil {
		return nil, perr
	}
	var m CompiledModule
	if err := decMode.Unmarshal(data[headerLen:], &m); err != nil {
		return nil, vmerr.New(vmerr.Malformed).WithMessage("module body").Wrap(err)
	}
	if m.Version != Version {
		return nil, vmerr.Newf(vmerr.UnknownVersion, "body version %d", m.Version)
	}
	return &m, nil
}

// DeserializeScript decodes a script.
func DeserializeScript(data []byte) (*CompiledScript, error) {
	if perr := checkHeader(data, KindScript); perr != nil {
		return nil, perr
	}
	var s CompiledScript
	if err := decMode.Unmarshal(data[headerLen:], &s); err != nil {
		return nil, vmerr.New(vmerr.Malformed).WithMessage("script body").Wrap(err)
	}
	if s.Version != Version {
		return nil, vmerr.Newf(vmerr.UnknownVersion, "body version %d", s.Version)
	}
	return &s, nil
}

// PeekKind reports whether data holds a module or a script.
func PeekKind(data []byte) (Kind, bool) {
	if len(data) < headerLen || !bytes.Equal(data[:len(Magic)], Magic[:]) {
		return 0, false
	}
	return Kind(data[len(Magic)]), true
}
