// Package trace records what the VM is doing: session lifetimes, module
// loads and, at debug level, individual calls.
//
// Enable it from the CLI:
//
//	modvm run 0xA::Coin mint --trace=- --trace-level=detail
//
// Tracers: Nop (disabled), StreamTracer (text or NDJSON to a writer),
// RingTracer (last N events, dumped on failure) and MultiTracer.
//
// Scopes, coarse to fine: ScopeVM, ScopeSession, ScopeModule, ScopeCall.
// LevelPhase emits the first two, LevelDetail adds module loads and
// LevelDebug adds calls.
//
//	span := trace.Begin(t, trace.ScopeModule, "load:"+id.String(), parent)
//	defer span.End("")
package trace
