package siteio

import (
	"testing"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/rng"
)

func TestEpsilonMatchesFormula(t *testing.T) {
	// stableRssiThreshold=-85, calibratedTx=-45, defaultDbmTx=-4, N=2.5
	// exponent = (85 - 45 - 4) / 25 = 36/25 = 1.44
	got := Epsilon(-85, -45, -4, 2.5)
	want := 27.5422870333817 // 10^1.44
	if diff := got - want; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestDbscanClusterOfMergesNearbyPoints(t *testing.T) {
	points := [][2]float64{{0, 0}, {0.01, 0}, {0.02, 0}, {0.9, 0.9}}
	clusters := dbscanClusterOf(points, 0.05)
	if clusters[0] != clusters[1] || clusters[1] != clusters[2] {
		t.Fatalf("expected first three points in one cluster, got %v", clusters)
	}
	if clusters[3] == clusters[0] {
		t.Fatalf("expected the far point in a separate cluster")
	}
}

func TestRandomPlacementAllPointsConnected(t *testing.T) {
	stream := rng.NewStream(7)
	// A generous epsilon so the rejection loop terminates quickly in a test.
	placements := RandomPlacement(5, 2.0, stream)
	if len(placements) != 5 {
		t.Fatalf("expected 5 placements, got %d", len(placements))
	}
	points := make([][2]float64, len(placements))
	for i, p := range placements {
		points[i] = [2]float64{p.X, p.Y}
	}
	clusters := dbscanClusterOf(points, 2.0)
	for _, c := range clusters {
		if c != 0 {
			t.Fatalf("expected all points in cluster 0, got %v", clusters)
		}
	}
}

func TestRandomPlacementEmpty(t *testing.T) {
	if got := RandomPlacement(0, 1.0, rng.NewStream(1)); got != nil {
		t.Fatalf("expected nil for zero nodes, got %v", got)
	}
}
