package node

// FeatureMask is a compact bitset of per-node feature toggles, a direct
// port of the firmware's BitMask.h idiom: several independent booleans
// (advertising active, scanning active, jittering-exempt, ...) packed into
// one word instead of scattered struct fields.
type FeatureMask uint32

// Feature bit positions.
const (
	FeatureAdvertisingActive FeatureMask = 1 << iota
	FeatureScanningActive
	FeatureConnectingActive
	FeatureJitterExempt
	FeatureRssiMeasurementActive
	FeatureEnrolled
)

// Has reports whether all bits in mask are set.
func (f FeatureMask) Has(mask FeatureMask) bool {
	return f&mask == mask
}

// Set returns f with mask's bits set.
func (f FeatureMask) Set(mask FeatureMask) FeatureMask {
	return f | mask
}

// Clear returns f with mask's bits cleared.
func (f FeatureMask) Clear(mask FeatureMask) FeatureMask {
	return f &^ mask
}
