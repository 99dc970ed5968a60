package transport

import (
	"net"
	"sync"
)

// datagram is one queued packet in a MemorySocket's inbox.
type datagram struct {
	data []byte
	from Endpoint
}

// MemorySocket is an in-process Socket used by engine tests to run
// two-sided session handshakes without touching the network. Two
// MemorySockets are wired together with Pipe.
type MemorySocket struct {
	mu     sync.Mutex
	inbox  []datagram
	port   int
	peer   *MemorySocket
	closed bool
}

// NewMemorySocket constructs an unconnected MemorySocket bound to the
// given nominal port (ports are labels only; no real binding occurs).
func NewMemorySocket(port int) *MemorySocket {
	return &MemorySocket{port: port}
}

// Pipe connects a and b so that each one's Send delivers into the
// other's inbox, as if they were peers across a real link.
func Pipe(a, b *MemorySocket) {
	a.peer = b
	b.peer = a
}

// Send enqueues b into the peer's inbox, tagged with this socket's own
// endpoint (the IPv4 loopback address and the nominal port) so the
// peer's Recv reports a sensible "from".
func (s *MemorySocket) Send(b []byte, _ Endpoint) error {
	s.mu.Lock()
	closed := s.closed
	peer := s.peer
	port := s.port
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if peer == nil {
		return nil
	}
	cp := append([]byte(nil), b...)
	peer.mu.Lock()
	peer.inbox = append(peer.inbox, datagram{data: cp, from: Endpoint{IP: net.IPv4(127, 0, 0, 1), Port: port}})
	peer.mu.Unlock()
	return nil
}

// Recv pops the oldest queued datagram, if any.
func (s *MemorySocket) Recv(buf []byte) (n int, from Endpoint, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, Endpoint{}, false, ErrClosed
	}
	if len(s.inbox) == 0 {
		return 0, Endpoint{}, false, nil
	}
	d := s.inbox[0]
	s.inbox = s.inbox[1:]
	n = copy(buf, d.data)
	return n, d.from, true, nil
}

// LocalPort returns the socket's nominal port label.
func (s *MemorySocket) LocalPort() int {
	return s.port
}

// Close marks the socket closed; queued Recv and future Send calls
// fail with ErrClosed.
func (s *MemorySocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
