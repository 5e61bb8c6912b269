package gap

import (
	"sync"
)

// DiscoverySession is a client's interest in inquiry results. Inquiry keeps
// running while at least one session is open.
type DiscoverySession struct {
	m *BrEdrDiscoveryManager

	mu       sync.Mutex
	active   bool
	resultCb func(*Peer)
	errorCb  func(error)
}

func newDiscoverySession(m *BrEdrDiscoveryManager) *DiscoverySession {
	return &DiscoverySession{m: m, active: true}
}

// SetResultCallback sets the receiver of discovered peers. It runs on the
// manager's dispatcher.
func (s *DiscoverySession) SetResultCallback(cb func(*Peer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resultCb = cb
}

// SetErrorCallback sets the receiver of the error that ends the session.
func (s *DiscoverySession) SetErrorCallback(cb func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCb = cb
}

// Active reports whether the session still receives results.
func (s *DiscoverySession) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Close releases the session. Inquiry is not interrupted; the manager
// forgets the session at the next Inquiry Complete.
func (s *DiscoverySession) Close() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()

	m := s.m
	m.d.Post(func() {
		if m.live.Alive() {
			m.removeDiscoverySession(s)
		}
	})
}

func (s *DiscoverySession) notifyResult(p *Peer) {
	s.mu.Lock()
	cb := s.resultCb
	active := s.active
	s.mu.Unlock()
	if active && cb != nil {
		cb(p)
	}
}

func (s *DiscoverySession) notifyError(err error) {
	s.mu.Lock()
	cb := s.errorCb
	s.active = false
	s.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// DiscoverableSession is a client's request for the device to be inquiry
// scannable.
type DiscoverableSession struct {
	m *BrEdrDiscoveryManager

	mu     sync.Mutex
	closed bool
}

// Close releases the session; the last one to close disables inquiry scan.
func (s *DiscoverableSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	m := s.m
	m.d.Post(func() {
		if m.live.Alive() {
			m.removeDiscoverableSession(s)
		}
	})
}
