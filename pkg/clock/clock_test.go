package clock

import (
	"testing"
	"time"
)

func TestClockAdvance(t *testing.T) {
	var c Clock
	if got := c.Advance(1 * time.Millisecond); got != 10 {
		t.Errorf("Advance(1ms) = %d, want 10", got)
	}
	if got := c.Advance(1 * time.Millisecond); got != 20 {
		t.Errorf("Advance(1ms) second call = %d, want 20", got)
	}
	if got := c.Now(); got != 20 {
		t.Errorf("Now() = %d, want 20", got)
	}
}

func TestClockWraps32Bits(t *testing.T) {
	c := Clock{counter: ^uint32(0)}
	got := c.Advance(1 * time.Millisecond)
	if got != 9 {
		t.Errorf("Advance across wrap = %d, want 9", got)
	}
}

func TestTimerFiresOnce(t *testing.T) {
	var tm Timer
	tm.Arm(25) // 25 units of 100us = 2.5ms

	if tm.Tick(10) {
		t.Fatal("fired too early")
	}
	if tm.Tick(10) {
		t.Fatal("fired too early")
	}
	if !tm.Tick(10) {
		t.Fatal("did not fire when remaining ticks exhausted")
	}
	if tm.Armed() {
		t.Fatal("timer still armed after firing")
	}
	if tm.Tick(100) {
		t.Fatal("fired a second time without being re-armed")
	}
}

func TestTimerCancel(t *testing.T) {
	var tm Timer
	tm.Arm(10)
	tm.Cancel()
	if tm.Armed() {
		t.Fatal("Cancel did not disarm")
	}
	if tm.Tick(100) {
		t.Fatal("canceled timer fired")
	}
}

func TestTimerRearmReplacesPrevious(t *testing.T) {
	var tm Timer
	tm.Arm(5)
	tm.Arm(50) // arming cancels the previous per spec.md
	if tm.Tick(5) {
		t.Fatal("fired based on the replaced arm value")
	}
}
