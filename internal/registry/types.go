package registry

import (
	"sort"
	"time"
)

// Device is a canonical BLE identity in the registry.
type Device struct {
	// ID is the canonical device identifier ("ble:" + derived hash).
	ID string `json:"id"`

	// CreatedAt is when the identity was first established.
	CreatedAt time.Time `json:"created_at"`

	// LastSeenAt is the timestamp of the most recent merged observation.
	LastSeenAt time.Time `json:"last_seen_at"`

	// PrimaryFingerprint is the fingerprint the ID was derived from.
	PrimaryFingerprint string `json:"primary_fingerprint"`

	// CompanyID is the manufacturer company identifier, -1 if unknown.
	CompanyID int `json:"company_id"`

	// Evidence is the accumulated identity evidence.
	Evidence Evidence `json:"evidence"`

	// Sightings counts merged observations.
	Sightings int64 `json:"sightings"`

	// Fingerprints lists all fingerprints bound to this device.
	Fingerprints []Fingerprint `json:"fingerprints,omitempty"`
}

// Fingerprint is one fingerprint bound to a device. A fingerprint value
// belongs to at most one device for the lifetime of the registry.
type Fingerprint struct {
	// Value is the hex fingerprint hash.
	Value string `json:"value"`

	// Kind is "stable" or "addr".
	Kind string `json:"kind"`

	// CreatedAt is when the fingerprint was first bound.
	CreatedAt time.Time `json:"created_at"`
}

// Alias is a human-facing label for a device. Each source maintains its
// own alias independently.
type Alias struct {
	DeviceID  string    `json:"device_id"`
	Alias     string    `json:"alias"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Evidence is the accumulated identity evidence for a device, stored as
// JSON in the registry. It grows monotonically as observations merge.
type Evidence struct {
	// Services is the union of advertised service UUIDs, sorted.
	Services []string `json:"services,omitempty"`

	// CompanyID is the manufacturer company identifier, -1 if unknown.
	CompanyID int `json:"company_id"`

	// MaskedMfg is the hex-encoded masked manufacturer data.
	MaskedMfg string `json:"masked_mfg,omitempty"`

	// NamePattern is the normalised advertised name pattern.
	NamePattern string `json:"name_pattern,omitempty"`

	// Addr and AddrType are from the most recent observation that
	// carried an address.
	Addr     string `json:"addr,omitempty"`
	AddrType string `json:"addr_type,omitempty"`

	// Scanners is the set of scanner nodes that have sighted this
	// device, sorted.
	Scanners []string `json:"scanners,omitempty"`
}

// Merge folds new evidence into e. Set-valued fields take the union;
// scalar fields keep the established value and only fill gaps, except
// the address which tracks the most recent sighting.
func (e *Evidence) Merge(in Evidence) {
	e.Services = unionSorted(e.Services, in.Services)
	e.Scanners = unionSorted(e.Scanners, in.Scanners)

	if e.CompanyID < 0 {
		e.CompanyID = in.CompanyID
	}
	if e.MaskedMfg == "" {
		e.MaskedMfg = in.MaskedMfg
	}
	if e.NamePattern == "" {
		e.NamePattern = in.NamePattern
	}
	if in.Addr != "" {
		e.Addr = in.Addr
		e.AddrType = in.AddrType
	}
}

// unionSorted merges two string sets into a sorted, deduplicated slice.
func unionSorted(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
