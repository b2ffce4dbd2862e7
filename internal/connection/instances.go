package connection

import "sync"

// instanceSet tracks which streaming instance identifiers are currently
// connected. The synchronization verdict is "set non-empty".
//
// ready is closed while the set is non-empty and replaced with a fresh
// channel when the set empties. A waiter that captured the channel before
// a connect still observes the close, so a connect followed immediately by
// a disconnect cannot be missed.
type instanceSet struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	ready chan struct{}
}

func newInstanceSet() *instanceSet {
	return &instanceSet{
		ids:   make(map[string]struct{}),
		ready: make(chan struct{}),
	}
}

// markConnected adds the instance to the set. Idempotent. Returns true when
// the verdict flipped false to true.
func (s *instanceSet) markConnected(instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[instanceID]; ok {
		return false
	}
	s.ids[instanceID] = struct{}{}

	if len(s.ids) == 1 {
		close(s.ready)
		return true
	}
	return false
}

// markDisconnected removes the instance from the set. Removing an absent
// identifier is a no-op. Returns true when the verdict flipped true to false.
func (s *instanceSet) markDisconnected(instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[instanceID]; !ok {
		return false
	}
	delete(s.ids, instanceID)

	if len(s.ids) == 0 {
		s.ready = make(chan struct{})
		return true
	}
	return false
}

// markStreamClosed removes the instance from the set on transport stream
// closure. Same effect as markDisconnected; the triggers are distinct and
// either may follow any connect.
func (s *instanceSet) markStreamClosed(instanceID string) bool {
	return s.markDisconnected(instanceID)
}

// synchronized reports whether any instance is connected.
func (s *instanceSet) synchronized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids) > 0
}

// size returns the number of connected instances.
func (s *instanceSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// readyCh returns the channel that is closed while the set is non-empty.
// Callers must capture it once per wait; a channel obtained while the set
// is non-empty is already closed.
func (s *instanceSet) readyCh() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}
