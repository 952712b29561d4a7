package playback

import "sync"

// Registry maps a call correlation id to its currently scheduled playback set.
// The map is guarded by mu; each entry has its own lock so replacing playback
// on one call never waits on another call.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	mu       sync.Mutex
	set      *Set
	released bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

func (r *Registry) entry(callID string) *registryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[callID]
	if !ok {
		e = &registryEntry{}
		r.entries[callID] = e
	}
	return e
}

// lock returns the live entry for callID with its lock held. An entry that
// was released while the caller waited is skipped for a fresh one.
func (r *Registry) lock(callID string) *registryEntry {
	for {
		e := r.entry(callID)
		e.mu.Lock()
		if !e.released {
			return e
		}
		e.mu.Unlock()
	}
}

// Replace cancels the set currently registered for callID (if any), stores
// next in its place and arms it. The three steps run under the per-call lock,
// so at most one set per call is ever active. It returns the number of frames
// of the previous set that were cancelled before firing.
func (r *Registry) Replace(callID string, next *Set) int {
	e := r.lock(callID)
	defer e.mu.Unlock()

	cancelled := e.set.Cancel()
	e.set = next
	if next != nil {
		next.start()
	}
	return cancelled
}

// Cancel cancels the set registered for callID and clears it. Safe to call
// for unknown ids and repeatedly.
func (r *Registry) Cancel(callID string) int {
	r.mu.Lock()
	e, ok := r.entries[callID]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.set.Cancel()
	e.set = nil
	return n
}

// Active returns the set currently registered for callID, or nil.
func (r *Registry) Active(callID string) *Set {
	r.mu.Lock()
	e, ok := r.entries[callID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Release drops the bookkeeping for callID when the registered set is owned
// by owner or there is none. A set that belongs to another sink, such as a
// newer connection for the same call, is kept so the next Replace still
// cancels it. Pending frames of a released set are not cancelled; they no-op
// once their sink is closed. Release reports whether the entry was dropped.
func (r *Registry) Release(callID string, owner Sink) bool {
	r.mu.Lock()
	e, ok := r.entries[callID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released || (e.set != nil && e.set.sink != owner) {
		return false
	}
	e.released = true

	r.mu.Lock()
	if r.entries[callID] == e {
		delete(r.entries, callID)
	}
	r.mu.Unlock()
	return true
}

// Len returns the number of call ids tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
