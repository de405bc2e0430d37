package vm

// noCopy makes go vet's copylocks check flag copies of a PublishPermit.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// PublishPermit is the right to publish modules into a VM's cache. A VM has
// at most one outstanding permit. It is bound to a session with
// WithPublishPermit and goes back to the VM when that session finishes.
type PublishPermit struct {
	_ noCopy

	vm       *VM
	bound    bool
	released bool
}

// AcquirePublishPermit hands out the VM's permit, or fails with
// ErrPublishPermitHeld while another one is outstanding.
func (v *VM) AcquirePublishPermit() (*PublishPermit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrVMClosed
	}
	if v.permit != nil {
		return nil, ErrPublishPermitHeld
	}
	p := &PublishPermit{vm: v}
	v.permit = p
	return p, nil
}

// Release returns a permit that was never bound to a session. Permits held
// by a session are returned by Finish, so Release on them does nothing.
func (p *PublishPermit) Release() {
	if p == nil || p.vm == nil {
		return
	}
	v := p.vm
	v.mu.Lock()
	defer v.mu.Unlock()
	if p.bound {
		return
	}
	v.releaseLocked(p)
}
