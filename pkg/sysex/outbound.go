// Package sysex implements the two halves of spec.md section 4.4/4.5
// that deal with System Exclusive messages: splitting an oversized
// outbound SysEx across paced 512-byte fragments, and reassembling
// fragments (and out-of-order real-time/corruption interleavings)
// received from the wire back into whole messages.
package sysex

import (
	"errors"
	"time"

	"github.com/bbouchez/jackrtpmidid/pkg/clock"
)

// ErrSlotBusy is returned by Submit when a previous SysEx message is
// still being fragmented out (spec.md: "single-slot staging area").
var ErrSlotBusy = errors.New("sysex: outbound slot already has a pending message")

// chunkSize is the fragment size spec.md section 4.4 specifies.
const chunkSize = 512

// wholeMessageMax is the largest SysEx message emitted whole in a
// single payload with no fragment markers (spec.md section 4.4:
// "A SysEx message <= MAX_RTP_LOAD - 1 is emitted whole"; MAX_RTP_LOAD
// is 1024, distinct from the 512-byte fragment chunkSize above).
const wholeMessageMax = 1023

// InterFragmentCooldown is the pacing delay spec.md requires between
// consecutive fragments of one SysEx message ("empirically calibrated
// for 512-byte fragments at legacy hardware rates").
const InterFragmentCooldown = 131 * time.Millisecond

// Outbound is the single-slot outbound SysEx fragmenter (spec.md
// "Outbound SysEx slot"). The zero value is ready to use.
type Outbound struct {
	data       []byte
	chunkIndex int
	cooldown   clock.Timer
}

// Submit stages msg (a complete SysEx message, 0xF0...0xF7 inclusive)
// for transmission. Fails with ErrSlotBusy if a previous message hasn't
// finished emitting yet.
func (o *Outbound) Submit(msg []byte) error {
	if o.data != nil {
		return ErrSlotBusy
	}
	o.data = append([]byte(nil), msg...)
	o.chunkIndex = 0
	return nil
}

// Pending reports whether a SysEx message is staged (fully or
// partially emitted).
func (o *Outbound) Pending() bool {
	return o.data != nil
}

// Tick advances the inter-fragment cooldown by the given number of
// clock.Unit ticks. Must be called once per engine tick regardless of
// Pending, mirroring spec.md's "Subsequent ticks decrement it".
func (o *Outbound) Tick(ticks uint32) {
	o.cooldown.Tick(ticks)
}

// Ready reports whether a fragment may be emitted this tick: there is
// pending data and the inter-fragment cooldown (if any) has expired.
func (o *Outbound) Ready() bool {
	return o.data != nil && !o.cooldown.Armed()
}

// numChunks returns how many fragments o.data splits into: 1 whenever
// the whole message fits within wholeMessageMax (sent unfragmented,
// regardless of chunkSize), otherwise the number of 512-byte chunks
// needed to cover it.
func numChunks(total int) int {
	if total == 0 {
		return 0
	}
	if total <= wholeMessageMax {
		return 1
	}
	return (total + chunkSize - 1) / chunkSize
}

// NextFragment builds the next fragment's MIDI-list bytes (the leading
// 0x00 delta-time, any continuation marker, the chunk payload, and any
// trailer marker), per spec.md section 4.4, and advances internal
// state. Returns nil if Ready() is false. When this was the final
// fragment, the slot is cleared (Pending() becomes false) and no
// further cooldown is armed; otherwise InterFragmentCooldown is armed
// so the next Ready() call returns false until it elapses.
func (o *Outbound) NextFragment() []byte {
	if !o.Ready() {
		return nil
	}

	total := len(o.data)
	chunks := numChunks(total)
	i := o.chunkIndex
	first := i == 0
	last := i == chunks-1

	start := i * chunkSize
	end := start + chunkSize
	if last || end > total {
		end = total
	}
	chunk := o.data[start:end]

	frag := make([]byte, 0, len(chunk)+3)
	frag = append(frag, 0x00) // delta-time, always zero on SysEx fragments
	if !first {
		frag = append(frag, 0xF7) // leading continuation marker
	}
	frag = append(frag, chunk...)
	if !last {
		frag = append(frag, 0xF0) // trailing "more to come" marker
	}

	if last {
		o.data = nil
		o.chunkIndex = 0
		o.cooldown.Cancel()
	} else {
		o.chunkIndex++
		o.cooldown.Arm(uint32(InterFragmentCooldown / clock.Unit))
	}
	return frag
}
