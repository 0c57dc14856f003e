package engine

import "sync"

// stopSet holds one cooperative stop flag per session. Requests against
// sessions with nothing running are accepted and cleared when the next
// execution picks up, so a stale stop never kills a fresh turn.
type stopSet struct {
	mu    sync.Mutex
	flags map[string]bool
}

func newStopSet() *stopSet {
	return &stopSet{flags: make(map[string]bool)}
}

func (s *stopSet) request(sessionID string) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	s.flags[sessionID] = true
	s.mu.Unlock()
}

// clear removes any pending flag; executions call it when they start.
func (s *stopSet) clear(sessionID string) {
	s.mu.Lock()
	delete(s.flags, sessionID)
	s.mu.Unlock()
}

// consume reports and resets the flag in one step.
func (s *stopSet) consume(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.flags[sessionID] {
		return false
	}
	delete(s.flags, sessionID)
	return true
}
