package engine

import "errors"

// ErrControlBindFailed / ErrDataBindFailed are returned by
// InitiateSession when the corresponding UDP socket could not be
// bound (spec.md section 6.2: "-1"/"-2").
var (
	ErrControlBindFailed = errors.New("engine: control socket bind failed")
	ErrDataBindFailed    = errors.New("engine: data socket bind failed")
)

// ErrNotInitiator is returned by RestartSession when called on a
// listener-role engine (spec.md section 6.2: "restart_session — initiator only").
var ErrNotInitiator = errors.New("engine: restart_session is initiator-only")

// ErrFIFOFull names the condition in which SendMIDIBlock returns false:
// the block does not fit in the outbound FIFO (spec.md: "atomic
// per-block: writes nothing if the block does not fit"). SendMIDIBlock
// reports it only as that bool; no function here returns this error.
var ErrFIFOFull = errors.New("engine: outbound FIFO has insufficient space")
