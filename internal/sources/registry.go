// Package sources implements the four event sources that feed the Event
// Queue (spec §4.4): the per-application accessibility observer, the
// window-server connection, workspace-level notifications, and the
// reconciliation poll. Every source does the minimum possible work in its
// OS callback — translate, then queue.Post — per spec §5's run-loop
// contract; none of them touch the state model directly.
package sources

import (
	"sync"
	"sync/atomic"
)

// Registry implements spec §9's re-architecture note for "ad-hoc callback
// parameter smuggling via opaque pointers": rather than pass a raw `self`
// pointer to an OS callback, every registration gets a u64 token. The
// callback carries only the token; Registry is the sole place that
// resolves it back to a handler. This also absorbs the "weak-referenced
// delegate callbacks" note — each record carries a generation counter, and
// Dispatch no-ops once a record's generation has been bumped by Remove, so
// a callback that fires after its target was torn down is silently
// dropped instead of touching freed state.
type Registry struct {
	next    atomic.Uint64
	records sync.Map // token(uint64) -> *record
}

type record struct {
	generation atomic.Uint64
	handler    atomic.Value // func(payload []byte)
}

// Register installs handler under a fresh token and returns it along with
// a remove func. Calling remove is idempotent; it bumps the record's
// generation so any callback already in flight becomes a no-op on arrival.
func (r *Registry) Register(handler func(payload []byte)) (token uint64, remove func()) {
	token = r.next.Add(1)
	rec := &record{}
	rec.handler.Store(handler)
	r.records.Store(token, rec)
	return token, func() {
		if v, ok := r.records.LoadAndDelete(token); ok {
			v.(*record).generation.Add(1)
		}
	}
}

// Dispatch resolves token and invokes its handler with payload. A token
// that was never registered, or whose record was removed, is a silent
// no-op — the OS delivered a callback for a target that no longer exists.
func (r *Registry) Dispatch(token uint64, payload []byte) {
	v, ok := r.records.Load(token)
	if !ok {
		return
	}
	rec := v.(*record)
	gen := rec.generation.Load()
	h, _ := rec.handler.Load().(func(payload []byte))
	if h == nil {
		return
	}
	// Re-check generation after loading the handler: Remove may have run
	// concurrently between Load and the call below.
	if rec.generation.Load() != gen {
		return
	}
	h(payload)
}
