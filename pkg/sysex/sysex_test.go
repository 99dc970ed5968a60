package sysex

import (
	"bytes"
	"testing"
)

func makeSysEx(n int) []byte {
	msg := make([]byte, n)
	msg[0] = 0xF0
	for i := 1; i < n-1; i++ {
		msg[i] = byte(i)
	}
	msg[n-1] = 0xF7
	return msg
}

func TestOutboundSmallMessageSinglePacket(t *testing.T) {
	var o Outbound
	msg := makeSysEx(100)
	if err := o.Submit(msg); err != nil {
		t.Fatal(err)
	}
	if !o.Ready() {
		t.Fatal("should be ready immediately, no cooldown armed yet")
	}
	frag := o.NextFragment()
	want := append([]byte{0x00}, msg...)
	if !bytes.Equal(frag, want) {
		t.Fatalf("fragment = %v, want %v", frag, want)
	}
	if o.Pending() {
		t.Fatal("slot should be cleared after single-packet emission")
	}
}

func TestOutboundMidSizeMessageSentWhole(t *testing.T) {
	// 700 bytes is above the 512-byte fragment chunk size but still
	// under wholeMessageMax (1023): must go out as a single
	// unfragmented payload, not split into two 512-byte fragments.
	var o Outbound
	msg := makeSysEx(700)
	if err := o.Submit(msg); err != nil {
		t.Fatal(err)
	}
	frag := o.NextFragment()
	want := append([]byte{0x00}, msg...)
	if !bytes.Equal(frag, want) {
		t.Fatalf("fragment len = %d, want whole message of len %d (no fragment markers)", len(frag), len(want))
	}
	if o.Pending() {
		t.Fatal("slot should be cleared after single-packet emission")
	}
}

func TestOutboundSlotBusy(t *testing.T) {
	var o Outbound
	if err := o.Submit(makeSysEx(50)); err != nil {
		t.Fatal(err)
	}
	if err := o.Submit(makeSysEx(50)); err != ErrSlotBusy {
		t.Fatalf("err = %v, want ErrSlotBusy", err)
	}
}

func TestOutboundFragmentationRoundTrip(t *testing.T) {
	var o Outbound
	msg := makeSysEx(1024)
	if err := o.Submit(msg); err != nil {
		t.Fatal(err)
	}

	var fragments [][]byte
	for o.Pending() {
		o.Tick(1)
		if !o.Ready() {
			// Force the cooldown to fully elapse for the test instead of
			// modeling real time.
			o.Tick(1 << 20)
			continue
		}
		frag := o.NextFragment()
		if frag == nil {
			t.Fatal("NextFragment returned nil while Ready")
		}
		fragments = append(fragments, frag)
	}

	if len(fragments) != 2 {
		t.Fatalf("got %d fragments, want 2", len(fragments))
	}
	if len(fragments[0]) != 514 || len(fragments[1]) != 514 {
		t.Fatalf("fragment lengths = %d, %d, want 514, 514", len(fragments[0]), len(fragments[1]))
	}

	// Reconstruct per the testable-property formula in spec.md section 8:
	// strip the leading delta-time from every fragment, the leading 0xF7
	// from continuation fragments, and the trailing 0xF0 from fragments
	// that have one.
	var rebuilt []byte
	for i, f := range fragments {
		b := f[1:] // strip leading delta-time
		if i > 0 {
			b = b[1:] // strip leading 0xF7 continuation marker
		}
		if i < len(fragments)-1 {
			b = b[:len(b)-1] // strip trailing 0xF0 more-to-come marker
		}
		rebuilt = append(rebuilt, b...)
	}
	if !bytes.Equal(rebuilt, msg) {
		t.Fatalf("reassembled fragments do not match original message")
	}
}

func TestOutboundCooldownBlocksNextFragment(t *testing.T) {
	var o Outbound
	o.Submit(makeSysEx(1024))
	first := o.NextFragment()
	if first == nil {
		t.Fatal("expected first fragment")
	}
	if o.Ready() {
		t.Fatal("cooldown should block readiness immediately after a non-final fragment")
	}
	if o.NextFragment() != nil {
		t.Fatal("NextFragment should return nil while cooldown is active")
	}
}

func TestInboundSimpleSysEx(t *testing.T) {
	in := NewInbound(1024)
	msg := makeSysEx(10)
	var emitted []byte
	for i, b := range msg {
		ev := in.HandleByte(b)
		if i < len(msg)-1 {
			if ev.Kind != EventNone {
				t.Fatalf("byte %d: kind = %v, want EventNone", i, ev.Kind)
			}
		} else {
			if ev.Kind != EventEmit {
				t.Fatalf("final byte: kind = %v, want EventEmit", ev.Kind)
			}
			emitted = ev.Payload
		}
	}
	if !bytes.Equal(emitted, msg) {
		t.Fatalf("emitted = %v, want %v", emitted, msg)
	}
	if in.Active() {
		t.Fatal("buffer should be idle after emitting")
	}
}

func TestInboundFragmentedAcrossPackets(t *testing.T) {
	in := NewInbound(2048)
	// Packet 1: F0 <data> F0 (mid-stream F0 = end of fragment).
	packet1 := append([]byte{0xF0}, bytes.Repeat([]byte{0x11}, 5)...)
	packet1 = append(packet1, 0xF0)
	// Packet 2: F7 (start of continuation) <data> F7 (end).
	packet2 := append([]byte{0xF7}, bytes.Repeat([]byte{0x22}, 5)...)
	packet2 = append(packet2, 0xF7)

	var emitted []byte
	for _, b := range packet1 {
		ev := in.HandleByte(b)
		if ev.Kind == EventEmit {
			t.Fatal("should not emit mid-stream")
		}
	}
	if !in.Active() {
		t.Fatal("should remain active across the packet boundary")
	}
	for i, b := range packet2 {
		ev := in.HandleByte(b)
		if i == len(packet2)-1 {
			if ev.Kind != EventEmit {
				t.Fatalf("final byte of packet2: kind = %v, want EventEmit", ev.Kind)
			}
			emitted = ev.Payload
		}
	}

	want := append([]byte{0xF0}, bytes.Repeat([]byte{0x11}, 5)...)
	want = append(want, bytes.Repeat([]byte{0x22}, 5)...)
	want = append(want, 0xF7)
	if !bytes.Equal(emitted, want) {
		t.Fatalf("emitted = %v, want %v", emitted, want)
	}
}

func TestInboundRealtimeInterleaved(t *testing.T) {
	in := NewInbound(1024)
	in.HandleByte(0xF0)
	in.HandleByte(0x11)
	ev := in.HandleByte(0xF8) // real-time clock tick mid-sysex
	if ev.Kind != EventRealtime || ev.Payload[0] != 0xF8 {
		t.Fatalf("expected real-time pass-through, got %+v", ev)
	}
	if !in.Active() {
		t.Fatal("real-time byte must not disturb sysex reassembly")
	}
	ev = in.HandleByte(0x22)
	if ev.Kind != EventNone {
		t.Fatalf("expected data byte appended silently, got %+v", ev)
	}
	ev = in.HandleByte(0xF7)
	if ev.Kind != EventEmit {
		t.Fatal("expected emit after resuming and terminating")
	}
	want := []byte{0xF0, 0x11, 0x22, 0xF7}
	if !bytes.Equal(ev.Payload, want) {
		t.Fatalf("emitted = %v, want %v", ev.Payload, want)
	}
}

func TestInboundCancelByte(t *testing.T) {
	in := NewInbound(1024)
	in.HandleByte(0xF0)
	in.HandleByte(0x11)
	in.HandleByte(0xF4)
	if in.Active() {
		t.Fatal("0xF4 must cancel the in-progress sysex")
	}
}

func TestInboundCorruptionReprocesses(t *testing.T) {
	in := NewInbound(1024)
	in.HandleByte(0xF0)
	in.HandleByte(0x11)
	ev := in.HandleByte(0x90) // unrelated status byte mid-sysex
	if ev.Kind != EventReprocess || ev.Payload[0] != 0x90 {
		t.Fatalf("expected reprocess of 0x90, got %+v", ev)
	}
	if in.Active() {
		t.Fatal("corrupted sysex buffer should have been discarded")
	}
}

func TestInboundOverflowDropsWithoutPartialEmit(t *testing.T) {
	in := NewInbound(4)
	in.HandleByte(0xF0) // fill=1
	in.HandleByte(0x01) // fill=2
	in.HandleByte(0x02) // fill=3
	in.HandleByte(0x03) // fill=4, buffer now full
	ev := in.HandleByte(0x04)
	if ev.Kind != EventNone {
		t.Fatalf("overflow byte should be silently dropped, got %+v", ev)
	}
	ev = in.HandleByte(0xF7)
	if ev.Kind != EventOverflow {
		t.Fatalf("overflowed sysex must report EventOverflow, got %+v", ev)
	}
	if ev.Payload != nil {
		t.Fatal("overflowed sysex must not be emitted, even partially")
	}
	if in.Active() {
		t.Fatal("buffer should reset after a dropped overflowed message")
	}
}

func TestInboundOverflowRecoversOnNextValidStart(t *testing.T) {
	in := NewInbound(2)
	in.HandleByte(0xF0)
	in.HandleByte(0x01)
	in.HandleByte(0x02) // overflow
	// Next valid SysEx start should recover cleanly.
	in.HandleByte(0xF0)
	ev := in.HandleByte(0xF7)
	if ev.Kind != EventEmit {
		t.Fatalf("expected clean emit after recovery, got %+v", ev)
	}
	want := []byte{0xF0, 0xF7}
	if !bytes.Equal(ev.Payload, want) {
		t.Fatalf("emitted = %v, want %v", ev.Payload, want)
	}
}
