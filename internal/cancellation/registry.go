// Package cancellation implements the process-wide registry mapping
// request IDs to cancellation state and abort callbacks. Backend
// handlers register a callback that closes their upstream HTTP response
// so a cancellation propagates into an active backend read.
package cancellation

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

type entry struct {
	cancelled bool
	callbacks []func()
}

// Registry tracks cancelled request IDs and their abort callbacks. All
// methods are safe for concurrent use and never fail; unknown or empty
// IDs are silently ignored where that is the safe behavior.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Default is the process-wide registry shared by the dispatcher and the
// backend handlers.
var Default = NewRegistry()

// RequestCancellation marks id cancelled. On the first call for an id
// every registered abort callback fires exactly once; subsequent calls
// are no-ops. Callbacks run outside the registry lock so they may call
// back into the registry.
func (r *Registry) RequestCancellation(id string) {
	if id == "" {
		return
	}

	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		e = &entry{}
		r.entries[id] = e
	}
	if e.cancelled {
		r.mu.Unlock()
		return
	}
	e.cancelled = true
	callbacks := e.callbacks
	e.callbacks = nil
	r.mu.Unlock()

	log.Debugf("cancellation requested for request %s (%d abort callbacks)", id, len(callbacks))
	for _, cb := range callbacks {
		invoke(id, cb)
	}
}

// IsCancelled reports whether id has a pending, unacknowledged
// cancellation.
func (r *Registry) IsCancelled(id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return ok && e.cancelled
}

// AcknowledgeCancellation removes id from the registry, dropping its
// cancelled flag and any callbacks. Safe if id is absent.
func (r *Registry) AcknowledgeCancellation(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// RegisterAbortCallback appends cb to id's callback list. If id is
// already cancelled, cb is invoked immediately (outside the lock) and
// not retained.
func (r *Registry) RegisterAbortCallback(id string, cb func()) {
	if id == "" || cb == nil {
		return
	}

	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		e = &entry{}
		r.entries[id] = e
	}
	if e.cancelled {
		r.mu.Unlock()
		invoke(id, cb)
		return
	}
	e.callbacks = append(e.callbacks, cb)
	r.mu.Unlock()
}

// UnregisterAbortCallbacks drops id's callbacks without touching the
// cancelled flag. Called on normal completion so a late cancellation
// cannot fire stale callbacks.
func (r *Registry) UnregisterAbortCallbacks(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	if e, ok := r.entries[id]; ok {
		e.callbacks = nil
		if !e.cancelled {
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()
}

// invoke runs a callback, containing panics so a broken callback cannot
// poison the registry.
func invoke(id string, cb func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Warnf("abort callback for request %s panicked: %v", id, rec)
		}
	}()
	cb()
}
