package vm

import (
	"strconv"

	"modvm/internal/depgraph"
	"modvm/internal/extensions"
	"modvm/internal/gas"
	"modvm/internal/interp"
	"modvm/internal/loader"
	"modvm/internal/storage"
	"modvm/internal/trace"
	"modvm/internal/types"
	"modvm/internal/values"
	"modvm/internal/verifier"
	"modvm/internal/vmerr"
)

// Session runs one transaction against a fixed storage view. It is not safe
// for concurrent use. After Finish every method fails with
// ErrSessionFinished.
//
// Effects are kept per top-level call: a call that fails leaves the
// session's resource changes exactly as they were before it started.
type Session struct {
	id       uint64
	vm       *VM
	resolver storage.Resolver
	retained storage.Retainer
	ext      *extensions.Bag
	permit   *PublishPermit
	data     *dataCache
	span     *trace.Span
	finished bool
}

// SessionOption configures a session when it is opened.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	permit *PublishPermit
}

// WithPublishPermit lets the session publish modules. The permit goes back
// to the VM when the session finishes.
func WithPublishPermit(p *PublishPermit) SessionOption {
	return func(c *sessionConfig) { c.permit = p }
}

// NewSession opens a session over r with an empty extension bag.
func (v *VM) NewSession(r storage.Resolver, opts ...SessionOption) (*Session, error) {
	return v.NewSessionWithExtensions(r, extensions.New(), opts...)
}

// NewSessionWithExtensions opens a session over r whose natives see ext.
// If r implements storage.Retainer it is retained until the session
// finishes.
func (v *VM) NewSessionWithExtensions(r storage.Resolver, ext *extensions.Bag, opts ...SessionOption) (*Session, error) {
	var cfg sessionConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if ext == nil {
		ext = extensions.New()
	}
	id, err := v.sessionOpened(cfg.permit)
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:       id,
		vm:       v,
		resolver: r,
		ext:      ext,
		permit:   cfg.permit,
		data:     newDataCache(r),
	}
	if rt, ok := r.(storage.Retainer); ok {
		if err := rt.Retain(); err != nil {
			v.sessionAborted(cfg.permit)
			return nil, vmerr.Newf(vmerr.StorageError, "retaining resolver").Wrap(err).Finish(vmerr.Undefined)
		}
		s.retained = rt
	}
	s.span = trace.Begin(v.tracer, trace.ScopeSession, "session:"+strconv.FormatUint(id, 10), 0)
	if s.permit != nil {
		s.span.WithExtra("permit", "yes")
	}
	return s, nil
}

// ID is the session's number within its VM.
func (s *Session) ID() uint64 { return s.id }

// Extensions is the bag natives of this session see.
func (s *Session) Extensions() *extensions.Bag { return s.ext }

// CanPublish reports whether the session holds the VM's publish permit.
func (s *Session) CanPublish() bool { return s.permit != nil }

// ExecuteFunction calls a public or entry function of module id. Type
// arguments must match the function's constraints and arguments its
// parameter types.
func (s *Session) ExecuteFunction(id types.ModuleID, name types.Identifier, tyArgs []types.TypeTag, args []values.Value) ([]values.Value, error) {
	if s.finished {
		return nil, ErrSessionFinished
	}
	span := trace.Begin(s.vm.tracer, trace.ScopeSession, "execute:"+id.String()+"::"+string(name), s.span.ID())
	m, err := s.vm.loader.LoadModule(id, s.resolver)
	if err != nil {
		span.End("load failed")
		return nil, err
	}
	fn, ok := m.Function(name)
	if !ok || !(fn.IsPublic() || fn.IsEntry) {
		span.End("unresolved")
		return nil, vmerr.Newf(vmerr.FunctionResolutionFailure, "%s::%s is not a public or entry function", id, name).
			Finish(vmerr.ModuleLocation(id))
	}
	return s.execute(fn, tyArgs, args, span)
}

// ExecuteScript verifies, links and runs a script. Scripts are cached by
// their bytes and never published.
func (s *Session) ExecuteScript(script []byte, tyArgs []types.TypeTag, args []values.Value) ([]values.Value, error) {
	if s.finished {
		return nil, ErrSessionFinished
	}
	span := trace.Begin(s.vm.tracer, trace.ScopeSession, "script", s.span.ID())
	sc, err := s.vm.loader.LoadScript(script, s.resolver)
	if err != nil {
		span.End("load failed")
		return nil, err
	}
	return s.execute(sc.Entry(), tyArgs, args, span)
}

func (s *Session) execute(fn *loader.Function, tyArgs []types.TypeTag, args []values.Value, span *trace.Span) ([]values.Value, error) {
	if err := s.checkCall(fn, tyArgs, args); err != nil {
		span.End("bad call")
		return nil, err
	}
	cp := s.data.checkpoint()
	in := interp.New(sessionEnv{s}, interp.Config{
		MaxCallDepth: s.vm.maxCallDepth,
		Schedule:     s.schedule(),
		Tracer:       s.vm.tracer,
	})
	rets, err := in.Execute(fn, tyArgs, args)
	if err != nil {
		s.data.restore(cp)
		span.End(err.Error())
		return nil, err
	}
	span.End("")
	return rets, nil
}

// checkCall validates type arguments and arguments against fn.
func (s *Session) checkCall(fn *loader.Function, tyArgs []types.TypeTag, args []values.Value) error {
	loc := interp.Location(fn)
	if len(tyArgs) != len(fn.TypeParams) {
		return vmerr.Newf(vmerr.NumberOfTypeArgumentsMismatch, "%s takes %d type arguments, got %d", fn, len(fn.TypeParams), len(tyArgs)).
			Finish(loc)
	}
	for i, tag := range tyArgs {
		ty, err := s.vm.loader.LoadType(tag, s.resolver)
		if err != nil {
			return vmerr.FinishErr(err, loc)
		}
		if !fn.TypeParams[i].IsSubsetOf(ty.Abilities) {
			return vmerr.Newf(vmerr.ConstraintNotSatisfied, "type argument %s has %s, %s needs %s", tag, ty.Abilities, fn, fn.TypeParams[i]).
				Finish(loc)
		}
	}
	if len(args) != len(fn.Params) {
		return vmerr.Newf(vmerr.NumberOfArgumentsMismatch, "%s takes %d arguments, got %d", fn, len(fn.Params), len(args)).
			Finish(loc)
	}
	for i, arg := range args {
		tag, err := fn.Module.TypeTag(fn.Params[i], tyArgs)
		if err != nil {
			return vmerr.FinishErr(err, loc)
		}
		ty, err := s.vm.loader.LoadType(tag, s.resolver)
		if err != nil {
			return vmerr.FinishErr(err, loc)
		}
		if err := values.Check(arg, ty.Layout); err != nil {
			return vmerr.Newf(vmerr.TypeMismatch, "argument %d of %s", i, fn).Wrap(err).Finish(loc)
		}
	}
	return nil
}

func (s *Session) schedule() *gas.Schedule {
	if sch, ok := extensions.Get[*gas.Schedule](s.ext); ok && sch != nil {
		return sch
	}
	return s.vm.schedule
}

// PublishModule publishes a single module that must be named id and live
// at sender.
func (s *Session) PublishModule(id types.ModuleID, module []byte, sender types.Address) error {
	if s.finished {
		return ErrSessionFinished
	}
	code, err := verifier.Module(module)
	if err != nil {
		return err
	}
	if code.Self() != id {
		return vmerr.Newf(vmerr.ModuleIDDoesNotMatch, "module is %s, expected %s", code.Self(), id).
			Finish(vmerr.ModuleLocation(id))
	}
	return s.publish([]loader.Published{{Code: code, Bytes: module}}, sender)
}

// PublishModuleBundle publishes modules that may depend on each other. The
// bundle is verified, ordered and linked as a unit; either every module
// becomes visible or none does.
func (s *Session) PublishModuleBundle(bundle [][]byte, sender types.Address) error {
	if s.finished {
		return ErrSessionFinished
	}
	if len(bundle) == 0 {
		return vmerr.Newf(vmerr.EmptyBundle, "nothing to publish").Finish(vmerr.Undefined)
	}
	pubs := make([]loader.Published, len(bundle))
	for i, data := range bundle {
		code, err := verifier.Module(data)
		if err != nil {
			return err
		}
		pubs[i] = loader.Published{Code: code, Bytes: data}
	}
	return s.publish(pubs, sender)
}

func (s *Session) publish(pubs []loader.Published, sender types.Address) error {
	if s.permit == nil {
		return vmerr.Newf(vmerr.PublishPermitRequired, "session %d holds no publish permit", s.id).Finish(vmerr.Undefined)
	}
	byID := make(map[types.ModuleID]loader.Published, len(pubs))
	nodes := make([]depgraph.Node, len(pubs))
	for i, p := range pubs {
		self := p.Code.Self()
		if self.Address != sender {
			return vmerr.Newf(vmerr.ModuleAddressDoesNotMatchSender, "%s published by %s", self, sender).
				Finish(vmerr.ModuleLocation(self))
		}
		byID[self] = p
		nodes[i] = depgraph.Node{ID: self, Deps: p.Code.Dependencies()}
	}
	batches, err := depgraph.Sort(nodes)
	if err != nil {
		return err
	}
	ordered := make([]loader.Published, 0, len(pubs))
	for _, id := range depgraph.Flatten(batches) {
		ordered = append(ordered, byID[id])
	}

	span := trace.Begin(s.vm.tracer, trace.ScopeSession, "publish", s.span.ID())
	span.WithExtra("modules", strconv.Itoa(len(ordered)))
	if _, err := s.vm.loader.Publish(ordered, s.resolver); err != nil {
		span.End("rejected")
		return err
	}
	for _, p := range ordered {
		s.data.publish(storage.ModuleWrite{ID: p.Code.Self(), Bytes: p.Bytes})
	}
	span.End("")
	return nil
}

// LoadType resolves tag through the VM's type cache.
func (s *Session) LoadType(tag types.TypeTag) (*loader.Type, error) {
	if s.finished {
		return nil, ErrSessionFinished
	}
	ty, err := s.vm.loader.LoadType(tag, s.resolver)
	if err != nil {
		return nil, vmerr.FinishErr(err, tagLocation(tag))
	}
	return ty, nil
}

// tagLocation is the module declaring the struct tag names, looking
// through vectors.
func tagLocation(tag types.TypeTag) vmerr.Location {
	for tag.Kind == types.TagVector && tag.Elem != nil {
		tag = *tag.Elem
	}
	if tag.Kind == types.TagStruct && tag.Struct != nil {
		return vmerr.ModuleLocation(tag.Struct.ModuleID())
	}
	return vmerr.Undefined
}

// TypeLayout is LoadType(tag).Layout.
func (s *Session) TypeLayout(tag types.TypeTag) (*values.Layout, error) {
	ty, err := s.LoadType(tag)
	if err != nil {
		return nil, err
	}
	return ty.Layout, nil
}

// NumMutatedAccounts counts the accounts the session has changed so far,
// with sender always counted.
func (s *Session) NumMutatedAccounts(sender types.Address) (uint64, error) {
	if s.finished {
		return 0, ErrSessionFinished
	}
	n := uint64(1)
	for _, a := range s.data.accounts() {
		if a != sender {
			n++
		}
	}
	return n, nil
}

// Finish ends the session and returns its effects. The resolver and the
// publish permit are released even when the effects cannot be built.
func (s *Session) Finish() (*storage.ChangeSet, error) {
	cs, _, err := s.FinishWithExtensions()
	return cs, err
}

// FinishWithExtensions is Finish that also hands back the extension bag.
func (s *Session) FinishWithExtensions() (*storage.ChangeSet, *extensions.Bag, error) {
	if s.finished {
		return nil, nil, ErrSessionFinished
	}
	s.finished = true
	cs, err := s.data.changeSet()
	if s.retained != nil {
		s.retained.Release()
	}
	s.vm.sessionClosed(s.permit)
	ext := s.ext
	s.data, s.ext, s.resolver, s.permit = nil, nil, nil, nil
	if err != nil {
		s.span.End("error")
		return nil, ext, err
	}
	s.span.WithExtra("publishes", strconv.Itoa(len(cs.Publishes))).
		WithExtra("writes", strconv.Itoa(len(cs.Writes))).
		WithExtra("deletes", strconv.Itoa(len(cs.Deletes)))
	s.span.End("")
	return cs, ext, nil
}

// sessionEnv is what the interpreter sees of a session.
type sessionEnv struct {
	s *Session
}

func (e sessionEnv) Extensions() *extensions.Bag { return e.s.ext }

func (e sessionEnv) TypeLayout(tag types.TypeTag) (*values.Layout, error) {
	return e.s.vm.loader.TypeLayout(tag, e.s.resolver)
}

func (e sessionEnv) LoadType(tag types.TypeTag) (*loader.Type, error) {
	return e.s.vm.loader.LoadType(tag, e.s.resolver)
}

// ConsumeGas charges the gas.Meter in the extension bag. Sessions without
// one run unmetered.
func (e sessionEnv) ConsumeGas(amount uint64, descriptor string) error {
	m, ok := extensions.Get[gas.Meter](e.s.ext)
	if !ok || m == nil {
		return nil
	}
	return m.ConsumeGas(amount, descriptor)
}

func (e sessionEnv) slot(addr types.Address, ty *loader.Type) (*resourceSlot, error) {
	sl, n, perr := e.s.data.slot(addr, ty)
	if perr != nil {
		return nil, perr
	}
	if n > 0 {
		if err := e.ConsumeGas(uint64(n)*e.s.schedule().PerByte, "read "+sl.key.String()); err != nil {
			return nil, err
		}
	}
	return sl, nil
}

func (e sessionEnv) MoveTo(addr types.Address, ty *loader.Type, v values.Value) error {
	sl, err := e.slot(addr, ty)
	if err != nil {
		return err
	}
	if sl.exists {
		return vmerr.Newf(vmerr.ResourceAlreadyExists, "%s", sl.key)
	}
	sl.value, sl.exists = v, true
	return nil
}

func (e sessionEnv) MoveFrom(addr types.Address, ty *loader.Type) (values.Value, error) {
	sl, err := e.slot(addr, ty)
	if err != nil {
		return values.Value{}, err
	}
	if !sl.exists {
		return values.Value{}, vmerr.Newf(vmerr.MissingData, "%s", sl.key)
	}
	v := sl.value
	sl.value, sl.exists = values.Value{}, false
	return v, nil
}

func (e sessionEnv) Exists(addr types.Address, ty *loader.Type) (bool, error) {
	sl, err := e.slot(addr, ty)
	if err != nil {
		return false, err
	}
	return sl.exists, nil
}
