package engine

import (
	"net"

	"github.com/bbouchez/jackrtpmidid/pkg/clock"
)

// Role distinguishes which side of the handshake an Engine plays
// (spec.md section 4.1: "Initiator path" / "Listener path").
type Role int

const (
	RoleInitiator Role = iota
	RoleListener
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "listener"
}

// Status is the coarse session status spec.md section 6.2 exposes to
// the host: session_status() -> {0=Closed, 1=Inviting, 2=Syncing, 3=Opened}.
type Status int

const (
	StatusClosed Status = iota
	StatusInviting
	StatusSyncing
	StatusOpened
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusInviting:
		return "inviting"
	case StatusSyncing:
		return "syncing"
	case StatusOpened:
		return "opened"
	default:
		return "unknown"
	}
}

// Endpoint names a remote host by IP and UDP port.
type Endpoint struct {
	IP   net.IP
	Port int
}

// Message is one complete, host-visible MIDI message decoded from the
// wire (spec.md section 4.5: "invoke the host callback with
// (host_ctx, length, bytes, event_time)"). Bytes is owned by the
// callback; the decoder never reuses it after invoking the callback.
type Message struct {
	Bytes     []byte
	EventTime clock.Stamp
}

// Callback receives one decoded MIDI message at a time, invoked
// synchronously from RunSession. It must return promptly (spec.md
// section 6.3: "must return promptly").
type Callback func(msg Message)
