package fifo

import (
	"sync"
	"testing"
)

func TestPushDrainOrder(t *testing.T) {
	f := New(2048)
	if !f.Push([]byte("A")) {
		t.Fatal("push A failed")
	}
	if !f.Push([]byte("B")) {
		t.Fatal("push B failed")
	}
	if !f.Push([]byte("C")) {
		t.Fatal("push C failed")
	}

	got := f.Drain(1024)
	if string(got) != "ABC" {
		t.Fatalf("Drain = %q, want ABC", got)
	}
}

func TestPushRejectsWholeBlockWhenFull(t *testing.T) {
	f := New(2048)
	full := make([]byte, 2048)
	if !f.Push(full) {
		t.Fatal("first push should have fit exactly")
	}
	if f.Push([]byte{1}) {
		t.Fatal("push should have been rejected, ring is full")
	}
	if f.Len() != 2048 {
		t.Fatalf("Len() = %d, want 2048 (rejected push must not partially land)", f.Len())
	}
}

func TestMinimumCapacity(t *testing.T) {
	f := New(16)
	if len(f.buf) != minCapacity {
		t.Fatalf("New(16) capacity = %d, want %d", len(f.buf), minCapacity)
	}
}

func TestDrainPartial(t *testing.T) {
	f := New(2048)
	f.Push([]byte("0123456789"))
	first := f.Drain(4)
	if string(first) != "0123" {
		t.Fatalf("first drain = %q", first)
	}
	second := f.Drain(100)
	if string(second) != "456789" {
		t.Fatalf("second drain = %q", second)
	}
}

func TestWraparound(t *testing.T) {
	f := New(minCapacity)
	// Push and drain repeatedly so the cursors wrap past the ring size,
	// and confirm ordering survives the wrap.
	for i := 0; i < 10000; i++ {
		block := []byte{byte(i), byte(i + 1), byte(i + 2)}
		if !f.Push(block) {
			t.Fatalf("push %d failed unexpectedly", i)
		}
		out := f.Drain(3)
		if len(out) != 3 || out[0] != block[0] || out[1] != block[1] || out[2] != block[2] {
			t.Fatalf("iteration %d: drained %v, want %v", i, out, block)
		}
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	f := New(minCapacity)
	const total = 50000

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if f.Push([]byte{byte(i)}) {
				i++
			}
		}
	}()

	received := make([]byte, 0, total)
	go func() {
		defer wg.Done()
		for len(received) < total {
			out := f.Drain(64)
			received = append(received, out...)
		}
	}()

	wg.Wait()
	for i, b := range received {
		if b != byte(i) {
			t.Fatalf("byte %d = %d, want %d (order violated)", i, b, byte(i))
		}
	}
}
