package asset

import "sync/atomic"

// Handle is a counted reference to a pooled impulse response. The impulse
// stays reachable until the handle is released. Handles are safe for
// concurrent use.
type Handle struct {
	pool     *Pool
	ref      Reference
	ir       *ImpulseResponse
	released atomic.Bool
}

// Detached returns a handle that is not tracked by any pool. Release only
// marks it released.
func Detached(ref Reference, ir *ImpulseResponse) *Handle {
	return &Handle{ref: ref, ir: ir}
}

// IR returns the impulse response.
func (h *Handle) IR() *ImpulseResponse { return h.ir }

// Reference returns the reference the handle was resolved from.
func (h *Handle) Reference() Reference { return h.ref }

// Released reports whether Release has been called.
func (h *Handle) Released() bool { return h.released.Load() }

// Clone returns an independent handle to the same impulse.
func (h *Handle) Clone() *Handle {
	if h.pool == nil {
		return Detached(h.ref, h.ir)
	}
	return h.pool.acquire(h.ref, h.ir)
}

// Release drops the reference. Calls after the first are no-ops.
func (h *Handle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	if h.pool != nil {
		h.pool.release(h.ref, h.ir)
	}
}
