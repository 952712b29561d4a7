package httpapi

import (
	"sync"
)

// CallRegistry tracks live call sessions by correlation id and supports
// graceful draining. When draining is enabled, new calls are rejected while
// in-flight calls finish naturally.
//
// mu makes the draining check and wg.Add atomic in Register, so no call can
// slip in after StartDraining returns.
type CallRegistry struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	sessions map[string]*callSession
}

// NewCallRegistry creates a new CallRegistry.
func NewCallRegistry() *CallRegistry {
	return &CallRegistry{sessions: make(map[string]*callSession)}
}

// Register records s under its session key. Returns false if the registry
// is draining. A second connection for the same key replaces the first in
// the index; both still count as active until they unregister.
func (cr *CallRegistry) Register(s *callSession) bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.draining {
		return false
	}
	cr.wg.Add(1)
	cr.sessions[s.key] = s
	return true
}

// Unregister marks s as completed. Must be called exactly once per
// successful Register.
func (cr *CallRegistry) Unregister(s *callSession) {
	cr.mu.Lock()
	if cur, ok := cr.sessions[s.key]; ok && cur == s {
		delete(cr.sessions, s.key)
	}
	cr.mu.Unlock()
	cr.wg.Done()
}

// Lookup returns the live session for key, if any.
func (cr *CallRegistry) Lookup(key string) (*callSession, bool) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	s, ok := cr.sessions[key]
	return s, ok
}

// StartDraining sets the draining flag so that future Register calls
// return false.
func (cr *CallRegistry) StartDraining() {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (cr *CallRegistry) IsDraining() bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.draining
}

// ActiveCount returns the number of indexed call sessions.
func (cr *CallRegistry) ActiveCount() int {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return len(cr.sessions)
}

// Wait blocks until every registered session has unregistered.
func (cr *CallRegistry) Wait() {
	cr.wg.Wait()
}
