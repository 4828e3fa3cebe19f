package sim

import "testing"

func TestTickerFiresOncePerInterval(t *testing.T) {
	tk := NewTicker(100)

	if !tk.Due(0) {
		t.Fatal("first poll at t=0 should fire")
	}
	if tk.Due(50) {
		t.Fatal("mid-interval poll must not fire")
	}
	if !tk.Due(100) {
		t.Fatal("boundary poll should fire")
	}
	if tk.Due(100) {
		t.Fatal("repeated poll at the same time must not fire twice")
	}
	// Skipping several boundaries still yields a single fire.
	if !tk.Due(450) {
		t.Fatal("poll past several boundaries should fire once")
	}
	if tk.Due(499) {
		t.Fatal("still inside the 400-500 interval")
	}
	if !tk.Due(500) {
		t.Fatal("next boundary should fire")
	}
}

func TestTickerZeroIntervalNeverFires(t *testing.T) {
	tk := NewTicker(0)
	for _, now := range []uint64{0, 1, 1000} {
		if tk.Due(now) {
			t.Fatalf("zero-interval ticker fired at %d", now)
		}
	}
}
