package natives

import (
	"fmt"
	"io"

	"golang.org/x/crypto/sha3"

	"modvm/internal/extensions"
	"modvm/internal/types"
	"modvm/internal/values"
)

// Abort codes raised by the standard natives.
const (
	AbortVectorIndexOutOfBounds uint64 = 0x20000
	AbortVectorEmpty            uint64 = 0x20001
)

// DebugOutput is the extension Debug::print writes to. Without it printing
// is a no-op.
type DebugOutput struct {
	W io.Writer
}

// Event is one message emitted by Event::emit.
type Event struct {
	Seq  uint64
	Type types.TypeTag
	Data []byte // canonical value encoding
}

// EventLog collects events for the session. Event::emit fails if the host
// did not install one.
type EventLog struct {
	Events []Event
}

// StdEntries returns the standard natives published under addr.
func StdEntries(addr types.Address) []Entry {
	e := func(module, fn string, f NativeFunction) Entry {
		return Entry{Address: addr, Module: types.Identifier(module), Function: types.Identifier(fn), Fn: f}
	}
	return []Entry{
		e("Debug", "print", debugPrint),
		e("Event", "emit", eventEmit),
		e("Hash", "sha3_256", hashSha3),
		e("Signer", "address_of", signerAddressOf),
		e("Vector", "empty", vectorEmpty),
		e("Vector", "length", vectorLength),
		e("Vector", "push_back", vectorPushBack),
		e("Vector", "pop_back", vectorPopBack),
		e("Vector", "get", vectorGet),
	}
}

func argCount(name string, args []values.Value, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s: expected %d arguments, got %d", name, n, len(args))
	}
	return nil
}

func debugPrint(ctx Context, typeArgs []types.TypeTag, args []values.Value) ([]values.Value, error) {
	if err := argCount("Debug::print", args, 1); err != nil {
		return nil, err
	}
	out, ok := extensions.Get[DebugOutput](ctx.Extensions())
	if !ok || out.W == nil {
		return nil, nil
	}
	tag := "?"
	if len(typeArgs) == 1 {
		tag = typeArgs[0].String()
	}
	_, err := fmt.Fprintf(out.W, "[debug] %s: %s\n", tag, args[0])
	return nil, err
}

func eventEmit(ctx Context, typeArgs []types.TypeTag, args []values.Value) ([]values.Value, error) {
	if err := argCount("Event::emit", args, 1); err != nil {
		return nil, err
	}
	if len(typeArgs) != 1 {
		return nil, fmt.Errorf("Event::emit: expected 1 type argument")
	}
	log, ok := extensions.GetMut[EventLog](ctx.Extensions())
	if !ok {
		return nil, fmt.Errorf("Event::emit: no event log installed")
	}
	layout, err := ctx.TypeLayout(typeArgs[0])
	if err != nil {
		return nil, err
	}
	data, err := values.Encode(args[0], layout)
	if err != nil {
		return nil, err
	}
	if err := ctx.ConsumeGas(uint64(len(data)), "Event::emit"); err != nil {
		return nil, err
	}
	log.Events = append(log.Events, Event{Seq: uint64(len(log.Events)), Type: typeArgs[0], Data: data})
	return nil, nil
}

func hashSha3(ctx Context, _ []types.TypeTag, args []values.Value) ([]values.Value, error) {
	if err := argCount("Hash::sha3_256", args, 1); err != nil {
		return nil, err
	}
	data, err := args[0].AsBytes()
	if err != nil {
		return nil, err
	}
	if err := ctx.ConsumeGas(uint64(len(data)), "Hash::sha3_256"); err != nil {
		return nil, err
	}
	sum := sha3.Sum256(data)
	return []values.Value{values.Bytes(sum[:])}, nil
}

func signerAddressOf(_ Context, _ []types.TypeTag, args []values.Value) ([]values.Value, error) {
	if err := argCount("Signer::address_of", args, 1); err != nil {
		return nil, err
	}
	addr, err := args[0].AsSigner()
	if err != nil {
		return nil, err
	}
	return []values.Value{values.Address(addr)}, nil
}

func vectorEmpty(_ Context, _ []types.TypeTag, args []values.Value) ([]values.Value, error) {
	if err := argCount("Vector::empty", args, 0); err != nil {
		return nil, err
	}
	return []values.Value{values.Vector()}, nil
}

func vectorLength(_ Context, _ []types.TypeTag, args []values.Value) ([]values.Value, error) {
	if err := argCount("Vector::length", args, 1); err != nil {
		return nil, err
	}
	return []values.Value{values.U64(uint64(args[0].Len()))}, nil
}

func vectorPushBack(_ Context, _ []types.TypeTag, args []values.Value) ([]values.Value, error) {
	if err := argCount("Vector::push_back", args, 2); err != nil {
		return nil, err
	}
	elems := append(append([]values.Value(nil), args[0].Elems()...), args[1])
	return []values.Value{values.Vector(elems...)}, nil
}

func vectorPopBack(_ Context, _ []types.TypeTag, args []values.Value) ([]values.Value, error) {
	if err := argCount("Vector::pop_back", args, 1); err != nil {
		return nil, err
	}
	elems := args[0].Elems()
	if len(elems) == 0 {
		return nil, Abort(AbortVectorEmpty)
	}
	rest := append([]values.Value(nil), elems[:len(elems)-1]...)
	return []values.Value{values.Vector(rest...), elems[len(elems)-1]}, nil
}

func vectorGet(_ Context, _ []types.TypeTag, args []values.Value) ([]values.Value, error) {
	if err := argCount("Vector::get", args, 2); err != nil {
		return nil, err
	}
	i, err := args[1].AsU64()
	if err != nil {
		return nil, err
	}
	if i >= uint64(args[0].Len()) {
		return nil, Abort(AbortVectorIndexOutOfBounds)
	}
	return []values.Value{args[0].Elems()[i].Copy()}, nil
}
