// Package radio implements the simulated BLE physical layer: distance and
// RSSI between two node positions, reception probability from RSSI, and a
// rolling RSSI history ring used by connection RSSI-changed reporting.
package radio

import (
	"math"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/rng"
)

// NoConnection is the RSSI value reported between two nodes that can never
// reach each other (an explicit "impossible connection" override), chosen
// far below any realistic reading so reception probability is always zero.
const NoConnection = -10000

// PathLossExponent is the default path-loss exponent N used in the RSSI
// formula when a configuration doesn't override it.
const PathLossExponent = 2.5

// Model holds the map geometry and calibration parameters the RSSI formula
// needs. Map width/height scale normalized [0,1) node x/y coordinates into
// meters before distance is computed.
type Model struct {
	MapWidthMeters  float64
	MapHeightMeters float64

	CalibratedTxDbm float64

	PathLossExponent float64

	NoiseEnabled bool
}

// NewModel returns a Model with the spec's default path-loss exponent.
func NewModel(mapWidth, mapHeight, calibratedTx float64, noiseEnabled bool) *Model {
	return &Model{
		MapWidthMeters:   mapWidth,
		MapHeightMeters:  mapHeight,
		CalibratedTxDbm:  calibratedTx,
		PathLossExponent: PathLossExponent,
		NoiseEnabled:     noiseEnabled,
	}
}

// Distance returns the Euclidean distance in meters between two normalized
// positions (ax,ay,az) and (bx,by,bz), scaling x/y by the map dimensions.
func (m *Model) Distance(ax, ay, az, bx, by, bz float64) float64 {
	dx := (ax - bx) * m.MapWidthMeters
	dy := (ay - by) * m.MapHeightMeters
	dz := az - bz
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// RSSI computes the received signal strength at receiver from sender, given
// sender's tx power in dBm, the distance between them, and whether the pair
// is marked mutually unreachable. If rngStream is non-nil and NoiseEnabled,
// a Gaussian sample is added per the spec's noise model.
func (m *Model) RSSI(txDbm, distanceMeters float64, impossible bool, rngStream *rng.Stream) float64 {
	if impossible {
		return NoConnection
	}
	n := m.PathLossExponent
	if n == 0 {
		n = PathLossExponent
	}
	rssi := (txDbm + m.CalibratedTxDbm) - 10*n*log10(distanceMeters)
	if m.NoiseEnabled && rngStream != nil {
		sigma := 0.0497*rssi + 6.3438
		rssi += rngStream.Gaussian(0, sigma)
	}
	return rssi
}

func log10(x float64) float64 {
	if x <= 0 {
		// A zero or negative distance only occurs for co-located nodes;
		// clamp to the smallest representable positive distance so the
		// path-loss term doesn't diverge to -Inf.
		x = 1e-9
	}
	return math.Log10(x)
}

// ReceptionProbability maps an RSSI value to the probability that a scan or
// advertisement is actually received, per the spec's piecewise step table.
func ReceptionProbability(rssiDbm float64) float64 {
	switch {
	case rssiDbm > -60:
		return 0.9
	case rssiDbm > -80:
		return 0.8
	case rssiDbm > -85:
		return 0.5
	case rssiDbm > -90:
		return 0.3
	default:
		return 0
	}
}

// Received samples u~U[0,1) from rngStream and reports whether a message at
// the given RSSI is received.
func Received(rssiDbm float64, rngStream *rng.Stream) bool {
	return rngStream.Float64() < ReceptionProbability(rssiDbm)
}
