// Package siteio loads map dimensions and node placements from the site
// exporter's JSON format, and falls back to randomized placement (via
// DBSCAN rejection sampling) when no JSON is supplied.
package siteio

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// SiteResult is the portion of a site export this package cares about:
// the first entry's map dimensions.
type SiteResult struct {
	LengthInMeter float64 `json:"lengthInMeter"`
	HeightInMeter float64 `json:"heightInMeter"`
}

// SiteFile is the top-level site JSON document.
type SiteFile struct {
	Results []SiteResult `json:"results"`
}

// LoadSite parses a site export and returns its map dimensions.
func LoadSite(data []byte) (widthMeters, heightMeters float64, err error) {
	var f SiteFile
	if err := json.Unmarshal(data, &f); err != nil {
		return 0, 0, fmt.Errorf("siteio: parse site json: %w", err)
	}
	if len(f.Results) == 0 {
		return 0, 0, fmt.Errorf("siteio: site json has no results[0]")
	}
	return f.Results[0].LengthInMeter, f.Results[0].HeightInMeter, nil
}

// flexibleNumber unmarshals a JSON value that may be a number or a
// decimal string, per the site exporter's inconsistent device schema.
type flexibleNumber float64

func (n *flexibleNumber) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = flexibleNumber(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("siteio: value is neither number nor string: %s", data)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("siteio: cannot parse %q as a number: %w", s, err)
	}
	*n = flexibleNumber(f)
	return nil
}

// deviceProperties holds the positional fields the simulator reads off a
// device entry.
type deviceProperties struct {
	OnMap json.RawMessage `json:"onMap"`
	X     flexibleNumber  `json:"x"`
	Y     flexibleNumber  `json:"y"`
	Z     *flexibleNumber `json:"z"`
}

// Device is one entry in the devices JSON document.
type Device struct {
	Platform   string           `json:"platform"`
	Properties deviceProperties `json:"properties"`
}

// DevicesFile is the top-level devices JSON document: a bare array.
type DevicesFile []Device

// Placement is a single node's position in meters, as imported from a
// devices JSON document.
type Placement struct {
	X, Y, Z float64
}

// onMapTrue reports whether the raw onMap field is boolean true or the
// string "true", per the spec's documented acceptance of both forms.
func onMapTrue(raw json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s == "true"
	}
	return false
}

// LoadDevices parses a devices export and returns the placements of every
// BLENODE device with onMap set, in document order.
func LoadDevices(data []byte) ([]Placement, error) {
	var devices DevicesFile
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("siteio: parse devices json: %w", err)
	}

	placements := make([]Placement, 0, len(devices))
	for _, d := range devices {
		if d.Platform != "BLENODE" {
			continue
		}
		if d.Properties.OnMap == nil || !onMapTrue(d.Properties.OnMap) {
			continue
		}
		z := 0.0
		if d.Properties.Z != nil {
			z = float64(*d.Properties.Z)
		}
		placements = append(placements, Placement{
			X: float64(d.Properties.X),
			Y: float64(d.Properties.Y),
			Z: z,
		})
	}
	return placements, nil
}
