package loader

import (
	"golang.org/x/crypto/sha3"

	"modvm/internal/bytecode"
	"modvm/internal/storage"
	"modvm/internal/types"
	"modvm/internal/verifier"
	"modvm/internal/vmerr"
)

// Script is a linked script. Scripts are cached by the hash of their bytes
// and are never reachable by module id.
type Script struct {
	hash   [32]byte
	code   *bytecode.CompiledScript
	module *Module
}

func (s *Script) Hash() [32]byte { return s.hash }

// Entry is the script's main function.
func (s *Script) Entry() *Function { return s.module.funcs[0] }

// Module is the pseudo module the script was linked as.
func (s *Script) Module() *Module { return s.module }

// Code returns the verified script.
func (s *Script) Code() *bytecode.CompiledScript { return s.code }

// LoadScript verifies and links a script, loading its dependencies through r.
func (l *Loader) LoadScript(data []byte, r storage.ModuleResolver) (*Script, error) {
	hash := sha3.Sum256(data)
	l.mu.RLock()
	s, ok := l.scripts[hash]
	l.mu.RUnlock()
	if ok {
		l.hits.Add(1)
		return s, nil
	}
	l.misses.Add(1)

	code, err := verifier.Script(data)
	if err != nil {
		return nil, err
	}
	for _, dep := range code.Dependencies() {
		if _, err := l.LoadModule(dep, r); err != nil {
			return nil, vmerr.Newf(vmerr.LinkerError, "script dependency %s failed", dep).
				WithSubStatus(uint64(rootStatus(err))).Wrap(err).Finish(vmerr.ScriptLocation)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.scripts[hash]; ok {
		return s, nil
	}
	m, perr := link(code.AsModule(), data, l.natives, func(id types.ModuleID) *Module { return l.modules[id] })
	if perr != nil {
		return nil, perr.Finish(vmerr.ScriptLocation)
	}
	s = &Script{hash: hash, code: code, module: m}
	l.scripts[hash] = s
	return s, nil
}
