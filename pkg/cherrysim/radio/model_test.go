package radio

import (
	"math"
	"testing"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/rng"
)

func TestDistanceScalesByMapDimensions(t *testing.T) {
	m := NewModel(100, 50, 0, false)
	d := m.Distance(0, 0, 0, 1, 1, 0)
	want := math.Sqrt(100*100 + 50*50)
	if math.Abs(d-want) > 1e-9 {
		t.Fatalf("expected distance %v, got %v", want, d)
	}
}

func TestRSSIImpossibleConnectionOverride(t *testing.T) {
	m := NewModel(10, 10, 0, false)
	if got := m.RSSI(0, 1, true, nil); got != NoConnection {
		t.Fatalf("expected %v for impossible connection, got %v", NoConnection, got)
	}
}

func TestRSSIDecreasesWithDistance(t *testing.T) {
	m := NewModel(10, 10, 0, false)
	near := m.RSSI(0, 1, false, nil)
	far := m.RSSI(0, 10, false, nil)
	if far >= near {
		t.Fatalf("expected RSSI to decrease with distance: near=%v far=%v", near, far)
	}
}

func TestReceptionProbabilitySteps(t *testing.T) {
	cases := []struct {
		rssi float64
		want float64
	}{
		{-50, 0.9},
		{-70, 0.8},
		{-82, 0.5},
		{-87, 0.3},
		{-95, 0},
	}
	for _, c := range cases {
		if got := ReceptionProbability(c.rssi); got != c.want {
			t.Fatalf("ReceptionProbability(%v) = %v, want %v", c.rssi, got, c.want)
		}
	}
}

func TestRSSIRingWrapsAndAverages(t *testing.T) {
	r := NewRSSIRing(3)
	r.Push(-60)
	r.Push(-70)
	r.Push(-80)
	r.Push(-90) // overwrites -60
	if r.Latest() != -90 {
		t.Fatalf("expected latest -90, got %v", r.Latest())
	}
	if r.Len() != 3 {
		t.Fatalf("expected ring capped at capacity 3, got %d", r.Len())
	}
	want := (-70.0 - 80.0 - 90.0) / 3
	if got := r.Average(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected average %v, got %v", want, got)
	}
}

func TestReceivedUsesRNGThreshold(t *testing.T) {
	s := rng.NewStream(1)
	// Just ensure it runs deterministically without panic across many RSSI
	// levels; exact bool values depend on the MT19937 stream itself.
	for i := 0; i < 50; i++ {
		_ = Received(float64(-50-i), s)
	}
}
