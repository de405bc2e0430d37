// Package vmerr defines the error surface of the runtime. Every fallible
// operation reports a Location (which module or script, or VM-global) and a
// status (a StatusCode plus an optional sub-status such as an abort code).
//
// Code deep inside the loader or interpreter does not know which location it
// is reporting for, so it builds a PartialError and the public entry point
// calls Finish with the location it was serving.
package vmerr

import (
	"errors"
	"fmt"
	"strings"

	"modvm/internal/types"
)

// LocationKind discriminates Location.
type LocationKind uint8

const (
	// LocUndefined is VM-global (construction, lifecycle).
	LocUndefined LocationKind = iota
	LocModule
	LocScript
)

// Location says where an error was raised.
type Location struct {
	Kind   LocationKind
	Module types.ModuleID
}

// Undefined is the VM-global location.
var Undefined = Location{Kind: LocUndefined}

// ScriptLocation is the location of a transaction script.
var ScriptLocation = Location{Kind: LocScript}

// ModuleLocation returns the location of a module.
func ModuleLocation(id types.ModuleID) Location {
	return Location{Kind: LocModule, Module: id}
}

func (l Location) String() string {
	switch l.Kind {
	case LocModule:
		return l.Module.String()
	case LocScript:
		return "script"
	default:
		return "undefined"
	}
}

// Offset pinpoints the failing instruction.
type Offset struct {
	Function uint16
	Code     uint16
}

// Error is a finished runtime error.
type Error struct {
	Status    StatusCode
	SubStatus *uint64
	Location  Location
	Message   string
	Offsets   []Offset
	cause     error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Status.String())
	sb.WriteString(" at ")
	sb.WriteString(e.Location.String())
	if e.SubStatus != nil {
		fmt.Fprintf(&sb, " [sub=%d]", *e.SubStatus)
	}
	for _, off := range e.Offsets {
		fmt.Fprintf(&sb, " [fn#%d@%d]", off.Function, off.Code)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.cause.Error())
	}
	return sb.String()
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// Type is shorthand for e.Status.Type().
func (e *Error) Type() StatusType { return e.Status.Type() }

// PartialError is an error that has not been tagged with a location yet.
type PartialError struct {
	Status    StatusCode
	SubStatus *uint64
	Message   string
	Offsets   []Offset
	cause     error
}

// New starts a partial error.
func New(code StatusCode) *PartialError {
	return &PartialError{Status: code}
}

// Newf starts a partial error with a formatted message.
func Newf(code StatusCode, format string, args ...any) *PartialError {
	return &PartialError{Status: code, Message: fmt.Sprintf(format, args...)}
}

func (p *PartialError) Error() string {
	return p.Finish(Undefined).Error()
}

// Unwrap exposes the underlying cause.
func (p *PartialError) Unwrap() error { return p.cause }

// WithMessage replaces the message.
func (p *PartialError) WithMessage(format string, args ...any) *PartialError {
	p.Message = fmt.Sprintf(format, args...)
	return p
}

// WithSubStatus attaches a sub-code (abort code, underlying status).
func (p *PartialError) WithSubStatus(sub uint64) *PartialError {
	v := sub
	p.SubStatus = &v
	return p
}

// AtCodeOffset records the failing function definition and instruction.
func (p *PartialError) AtCodeOffset(fn, code uint16) *PartialError {
	p.Offsets = append(p.Offsets, Offset{Function: fn, Code: code})
	return p
}

// Wrap records the cause.
func (p *PartialError) Wrap(cause error) *PartialError {
	p.cause = cause
	return p
}

// Finish tags the error with its location.
func (p *PartialError) Finish(loc Location) *Error {
	return &Error{
		Status:    p.Status,
		SubStatus: p.SubStatus,
		Location:  loc,
		Message:   p.Message,
		Offsets:   append([]Offset(nil), p.Offsets...),
		cause:     p.cause,
	}
}

// outermost returns the first *Error or *PartialError in err's chain.
// errors.As cannot be used here: a partial error wrapping a finished cause
// must report its own status, not the cause's.
func outermost(err error) (*Error, *PartialError) {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch v := e.(type) {
		case *Error:
			return v, nil
		case *PartialError:
			return nil, v
		}
	}
	return nil, nil
}

// FinishErr finishes err at loc if it is a PartialError, leaves an already
// finished *Error untouched and wraps anything else as an invariant
// violation. A nil err stays nil.
func FinishErr(err error, loc Location) error {
	if err == nil {
		return nil
	}
	fin, part := outermost(err)
	switch {
	case fin != nil:
		return err
	case part != nil:
		return part.Finish(loc)
	}
	return New(UnknownInvariantViolation).Wrap(err).Finish(loc)
}

// StatusOf extracts the status code of a finished or partial error.
func StatusOf(err error) (StatusCode, bool) {
	fin, part := outermost(err)
	switch {
	case fin != nil:
		return fin.Status, true
	case part != nil:
		return part.Status, true
	}
	return UnknownStatus, false
}

// SubStatusOf extracts the sub-status, if any.
func SubStatusOf(err error) (uint64, bool) {
	fin, part := outermost(err)
	switch {
	case fin != nil && fin.SubStatus != nil:
		return *fin.SubStatus, true
	case part != nil && part.SubStatus != nil:
		return *part.SubStatus, true
	}
	return 0, false
}

// HasStatus reports whether err carries code.
func HasStatus(err error, code StatusCode) bool {
	got, ok := StatusOf(err)
	return ok && got == code
}

// LocationOf returns the location of a finished error.
func LocationOf(err error) (Location, bool) {
	if fin, _ := outermost(err); fin != nil {
		return fin.Location, true
	}
	return Location{}, false
}
