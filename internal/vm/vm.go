// Package vm is the root of the runtime. A VM owns the native registry and
// the module cache for its whole lifetime and hands out Sessions, each of
// which runs one transaction against a fixed storage view.
//
// Every Session of a VM shares the VM's Loader. A module published in one
// Session is visible to every later lookup in every Session of the same VM,
// whether or not the publishing Session's effects were ever committed. To
// keep that sound at most one Session may publish at a time; the VM enforces
// it with a single outstanding PublishPermit.
package vm

import (
	"strconv"
	"sync"
	"sync/atomic"

	"modvm/internal/gas"
	"modvm/internal/loader"
	"modvm/internal/natives"
	"modvm/internal/storage"
	"modvm/internal/trace"
	"modvm/internal/types"
	"modvm/internal/vmerr"
)

// Lifecycle misuse. All are finished at vmerr.Undefined and compare with
// errors.Is.
var (
	ErrSessionFinished   = vmerr.Newf(vmerr.SessionFinished, "session already finished").Finish(vmerr.Undefined)
	ErrPublishPermitHeld = vmerr.Newf(vmerr.PublishPermitHeld, "publish permit is held by another owner").Finish(vmerr.Undefined)
	ErrVMClosed          = vmerr.Newf(vmerr.VMClosed, "vm is closed").Finish(vmerr.Undefined)
	ErrSessionsOpen      = vmerr.Newf(vmerr.SessionsOpen, "sessions are still open").Finish(vmerr.Undefined)
	ErrPermitBound       = vmerr.Newf(vmerr.PermitAlreadyBound, "publish permit is bound or released").Finish(vmerr.Undefined)
)

// VM is safe for concurrent use. Sessions are not.
type VM struct {
	natives *natives.Registry
	loader  *loader.Loader
	tracer  trace.Tracer

	maxCallDepth int
	schedule     *gas.Schedule

	mu       sync.Mutex
	closed   bool
	sessions int
	permit   *PublishPermit

	nextSession atomic.Uint64
}

// Option configures a VM.
type Option func(*VM)

// WithTracer routes VM, session and loader events to t.
func WithTracer(t trace.Tracer) Option {
	return func(v *VM) {
		if t != nil {
			v.tracer = t
		}
	}
}

// WithMaxCallDepth bounds nested calls in every session.
func WithMaxCallDepth(n int) Option {
	return func(v *VM) { v.maxCallDepth = n }
}

// WithSchedule sets the gas schedule sessions use when their extension bag
// does not carry one.
func WithSchedule(s *gas.Schedule) Option {
	return func(v *VM) {
		if s != nil {
			v.schedule = s
		}
	}
}

// New builds the native registry from entries and an empty module cache.
// It fails with an init error when entries contain duplicates or invalid
// names.
func New(entries []natives.Entry, opts ...Option) (*VM, error) {
	v := &VM{
		tracer:   trace.Nop,
		schedule: gas.DefaultSchedule,
	}
	for _, opt := range opts {
		opt(v)
	}
	span := trace.Begin(v.tracer, trace.ScopeVM, "vm:new", 0)
	defer span.End("")

	reg, err := natives.NewRegistry(entries...)
	if err != nil {
		return nil, vmerr.FinishErr(err, vmerr.Undefined)
	}
	span.WithExtra("natives", strconv.Itoa(reg.Len()))
	v.natives = reg
	v.loader = loader.New(reg, loader.WithTracer(v.tracer))
	return v, nil
}

// Natives is the registry every session binds native declarations through.
func (v *VM) Natives() *natives.Registry { return v.natives }

// Loader exposes the shared module cache for inspection.
func (v *VM) Loader() *loader.Loader { return v.loader }

// Tracer is the tracer the VM was built with.
func (v *VM) Tracer() trace.Tracer { return v.tracer }

// LoadModule loads id and its dependencies into the cache without opening
// a session. It goes through the same path as an in-session load.
func (v *VM) LoadModule(id types.ModuleID, r storage.ModuleResolver) error {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return ErrVMClosed
	}
	_, err := v.loader.LoadModule(id, r)
	return err
}

// Close drops the module cache. It fails while sessions are open and the
// VM is unusable afterwards.
func (v *VM) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrVMClosed
	}
	if v.sessions > 0 {
		return ErrSessionsOpen
	}
	v.closed = true
	if v.permit != nil {
		v.permit.released = true
		v.permit = nil
	}
	trace.Point(v.tracer, trace.ScopeVM, "vm:close", "modules", strconv.Itoa(v.loader.Stats().Modules))
	// the loader stays in place for loads already past the closed check
	v.loader.Clear()
	return nil
}

// sessionOpened registers a new session and returns its number.
func (v *VM) sessionOpened(p *PublishPermit) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return 0, ErrVMClosed
	}
	if p != nil {
		if p.vm != v || p.bound || p.released {
			return 0, ErrPermitBound
		}
		p.bound = true
	}
	v.sessions++
	return v.nextSession.Add(1), nil
}

func (v *VM) sessionClosed(p *PublishPermit) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sessions--
	if p != nil {
		v.releaseLocked(p)
	}
}

// sessionAborted undoes sessionOpened for a session that never started.
func (v *VM) sessionAborted(p *PublishPermit) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sessions--
	if p != nil {
		p.bound = false
	}
}

func (v *VM) releaseLocked(p *PublishPermit) {
	if p.released {
		return
	}
	p.released = true
	if v.permit == p {
		v.permit = nil
	}
}
