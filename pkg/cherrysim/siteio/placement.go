package siteio

import (
	"math"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/rng"
)

// Epsilon computes the DBSCAN neighborhood radius used to ensure randomly
// placed nodes all land in radio range of each other: ε =
// 10^((-stableRssiThreshold + defaultCalibratedTx + defaultDbmTx)/(10·N)).
func Epsilon(stableRssiThreshold, defaultCalibratedTx, defaultDbmTx, pathLossExponent float64) float64 {
	exponent := (-stableRssiThreshold + defaultCalibratedTx + defaultDbmTx) / (10 * pathLossExponent)
	return math.Pow(10, exponent)
}

// dbscanClusterOf runs single-linkage DBSCAN with minPts=1 over 2D points
// and returns, for each point, the index of the cluster it was assigned
// to. minPts=1 means every point is a core point, so this reduces to
// connected-components under the ε-neighborhood graph.
func dbscanClusterOf(points [][2]float64, epsilon float64) []int {
	n := len(points)
	cluster := make([]int, n)
	for i := range cluster {
		cluster[i] = -1
	}

	nextCluster := 0
	for i := 0; i < n; i++ {
		if cluster[i] != -1 {
			continue
		}
		cluster[i] = nextCluster
		queue := []int{i}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for j := 0; j < n; j++ {
				if cluster[j] != -1 {
					continue
				}
				dx := points[cur][0] - points[j][0]
				dy := points[cur][1] - points[j][1]
				if math.Sqrt(dx*dx+dy*dy) <= epsilon {
					cluster[j] = nextCluster
					queue = append(queue, j)
				}
			}
		}
		nextCluster++
	}
	return cluster
}

// RandomPlacement assigns random (x,y) in [0,1)^2 to n nodes, re-randomizing
// and rerunning DBSCAN until every point belongs to cluster 0 — i.e. the
// whole node population forms one radio-connected blob, per the spec's
// fallback placement contract when no site JSON is imported.
func RandomPlacement(n int, epsilon float64, rngStream *rng.Stream) []Placement {
	if n == 0 {
		return nil
	}

	for {
		points := make([][2]float64, n)
		for i := range points {
			points[i] = [2]float64{rngStream.Float64(), rngStream.Float64()}
		}

		clusters := dbscanClusterOf(points, epsilon)
		allClusterZero := true
		for _, c := range clusters {
			if c != 0 {
				allClusterZero = false
				break
			}
		}
		if !allClusterZero {
			continue
		}

		placements := make([]Placement, n)
		for i, p := range points {
			placements[i] = Placement{X: p[0], Y: p[1], Z: 0}
		}
		return placements
	}
}
