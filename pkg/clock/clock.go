// Package clock implements the engine's monotonic 100-microsecond
// counter and one-shot countdown timer (spec.md section 4.6). Both are
// advanced explicitly by the tick caller's elapsed-time argument rather
// than by wall-clock reads, so the whole engine stays deterministic and
// testable without real sleeps.
package clock

import "time"

// Unit is the engine's native time unit: 100 microseconds, matching
// the TS1L/TS2L/TS3L fields of the Apple session CK packet.
const Unit = 100 * time.Microsecond

// Stamp is a raw sample of Clock's counter, in Unit ticks. It wraps at
// 32 bits, exactly like the wire TSxL fields it feeds.
type Stamp uint32

// Clock is the engine's monotonic 100us counter. It is not
// goroutine-safe; it is owned and advanced solely by the tick thread,
// per spec.md section 5.
type Clock struct {
	counter uint32
}

// Advance moves the counter forward by the given duration, rounding
// down to whole 100us units, and returns the new value. Called once
// per tick with the elapsed wall time since the previous tick.
func (c *Clock) Advance(elapsed time.Duration) Stamp {
	c.counter += uint32(elapsed / Unit)
	return Stamp(c.counter)
}

// Now returns the current counter value without advancing it.
func (c *Clock) Now() Stamp {
	return Stamp(c.counter)
}

// Timer is a one-shot countdown armed in Clock ticks. At most one
// timer is meaningful per engine at a time (spec.md: "At most one such
// timer is armed at a time; arming cancels any previous"); Engine
// enforces that by holding a single Timer value and calling Arm again
// to replace it.
type Timer struct {
	remaining uint32
	armed     bool
}

// Arm starts (or restarts) the timer for the given number of Unit
// ticks. Arming with 0 fires on the very next Tick call.
func (t *Timer) Arm(ticks uint32) {
	t.remaining = ticks
	t.armed = true
}

// Cancel disarms the timer without firing it.
func (t *Timer) Cancel() {
	t.armed = false
	t.remaining = 0
}

// Armed reports whether the timer is currently counting down.
func (t *Timer) Armed() bool {
	return t.armed
}

// Tick advances the timer by the given number of elapsed Unit ticks and reports
// whether it fired (transitioned from armed to expired) on this call.
// Once fired, the timer disarms itself; callers that need recurring
// behavior must call Arm again.
func (t *Timer) Tick(ticks uint32) bool {
	if !t.armed {
		return false
	}
	if ticks >= t.remaining {
		t.remaining = 0
		t.armed = false
		return true
	}
	t.remaining -= ticks
	return false
}
