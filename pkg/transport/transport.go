// Package transport provides the two UDP sockets (control and data
// port) an RTP-MIDI session engine needs, plus an in-memory
// implementation for deterministic engine tests. Send/Recv are
// exercised from the engine's tick loop (spec.md section 4, "the host
// calls RunSession once per tick"), so Recv must never block: reads
// are polled with an already-elapsed deadline, the same
// SetReadDeadline technique the teacher's pkg/rtp.UDPTransport uses to
// avoid blocking a receive goroutine, pushed to its non-blocking
// extreme since this engine has no dedicated receive goroutine at all.
package transport

import (
	"errors"
	"net"
	"time"
)

// ErrClosed is returned by Send/Recv once Close has been called.
var ErrClosed = errors.New("transport: closed")

// Endpoint identifies a remote peer by address and port, independent
// of net.UDPAddr so callers outside this package don't need to import
// "net" just to name a peer.
type Endpoint struct {
	IP   net.IP
	Port int
}

func (e Endpoint) udpAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: e.IP, Port: e.Port}
}

// Socket is a single non-blocking UDP endpoint. The engine keeps one
// for the control port and one for the data port (spec.md section
// 4.1: "two UDP sockets, control and data, differing by one in port
// number").
type Socket interface {
	// Send writes b to remote. remote is ignored by implementations
	// that only ever talk to one fixed peer after the first Recv.
	Send(b []byte, remote Endpoint) error
	// Recv polls for one pending datagram without blocking. ok is
	// false when nothing was waiting.
	Recv(buf []byte) (n int, from Endpoint, ok bool, err error)
	LocalPort() int
	Close() error
}

// UDPSocket is the production Socket backed by a real net.UDPConn.
type UDPSocket struct {
	conn *net.UDPConn
	port int
}

// NewUDPSocket binds a UDP socket on the given local port (0 picks an
// ephemeral one).
func NewUDPSocket(localPort int) (*UDPSocket, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: localPort})
	if err != nil {
		return nil, err
	}
	addr := conn.LocalAddr().(*net.UDPAddr)
	return &UDPSocket{conn: conn, port: addr.Port}, nil
}

// Send writes b to remote.
func (s *UDPSocket) Send(b []byte, remote Endpoint) error {
	_, err := s.conn.WriteToUDP(b, remote.udpAddr())
	return err
}

// Recv polls for a single waiting datagram. It never blocks: the read
// deadline is set to a time already in the past, so ReadFromUDP
// returns immediately with os.ErrDeadlineExceeded if nothing is
// queued, which Recv translates into ok=false rather than an error.
func (s *UDPSocket) Recv(buf []byte) (n int, from Endpoint, ok bool, err error) {
	if err := s.conn.SetReadDeadline(time.Now()); err != nil {
		return 0, Endpoint{}, false, err
	}
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		if netErr, isNetErr := err.(net.Error); isNetErr && netErr.Timeout() {
			return 0, Endpoint{}, false, nil
		}
		return 0, Endpoint{}, false, err
	}
	return n, Endpoint{IP: addr.IP, Port: addr.Port}, true, nil
}

// LocalPort returns the bound local UDP port.
func (s *UDPSocket) LocalPort() int {
	return s.port
}

// Close releases the underlying socket.
func (s *UDPSocket) Close() error {
	return s.conn.Close()
}
