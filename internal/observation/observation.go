package observation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// RSSI bounds in dBm. Values outside this range are discarded as
// radio noise rather than rejecting the whole observation.
const (
	minRSSI = -127
	maxRSSI = 20
)

// bluetoothBaseUUIDSuffix completes a 16-bit or 32-bit service UUID
// to the 128-bit Bluetooth base UUID form.
const bluetoothBaseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

var (
	addrPattern     = regexp.MustCompile(`^[0-9a-f]{2}(:[0-9a-f]{2}){5}$`)
	uuid128Pattern  = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	uuidShortHexPat = regexp.MustCompile(`^(0x)?[0-9a-f]{4}([0-9a-f]{4})?$`)
)

// Observation is a single BLE advertisement sighting reported by a scanner.
//
// TsMS and ScannerID are required; everything else is best-effort and may
// be absent depending on what the scanner could parse from the air.
// Byte fields are base64 in JSON per encoding/json defaults.
type Observation struct {
	// TsMS is the capture time in milliseconds since the Unix epoch.
	TsMS int64 `json:"ts_ms"`

	// ScannerID identifies the reporting scanner node.
	ScannerID string `json:"scanner_id"`

	// RSSI is the received signal strength in dBm.
	RSSI *int `json:"rssi,omitempty"`

	// Addr is the advertised address, lowercase colon-separated hex.
	Addr string `json:"addr,omitempty"`

	// AddrType is the address type ("public" or "random").
	AddrType string `json:"addr_type,omitempty"`

	// AdvDataRaw is the raw advertisement payload.
	AdvDataRaw []byte `json:"adv_data_raw,omitempty"`

	// ScanRspRaw is the raw scan response payload, if one was captured.
	ScanRspRaw []byte `json:"scan_rsp_raw,omitempty"`

	// Name is the advertised device name.
	Name string `json:"name,omitempty"`

	// Services lists advertised service UUIDs, normalised to lowercase
	// 128-bit form, sorted and deduplicated.
	Services []string `json:"services,omitempty"`

	// MfgCompanyID is the Bluetooth SIG assigned company identifier
	// from the manufacturer-specific data block.
	MfgCompanyID *int `json:"mfg_company_id,omitempty"`

	// MfgDataRaw is the manufacturer-specific data payload (excluding
	// the company identifier prefix).
	MfgDataRaw []byte `json:"mfg_data_raw,omitempty"`

	// TxPower is the advertised transmit power level in dBm.
	TxPower *int `json:"tx_power,omitempty"`
}

// envelope is the event wrapper emitted by scanner firmware. Observations
// arriving via MQTT or replay logs may be wrapped or bare; DecodeLine
// handles both.
type envelope struct {
	NodeID string          `json:"node_id"`
	Ts     int64           `json:"ts"`
	Domain string          `json:"domain"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
}

// Decode parses and validates a bare observation payload.
//
// Validation rules:
//   - ts_ms must be positive
//   - scanner_id must be non-empty
//   - the payload must be valid JSON
//
// Normalisation applied to valid observations:
//   - addr and addr_type lowercased; a malformed addr is dropped
//   - services lowercased, expanded to 128-bit form, sorted, deduplicated
//   - out-of-range rssi values dropped
//
// Returns ErrMalformed (wrapped with detail) when validation fails.
func Decode(payload []byte) (*Observation, error) {
	var obs Observation
	if err := json.Unmarshal(payload, &obs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if err := obs.normalise(); err != nil {
		return nil, err
	}
	return &obs, nil
}

// DecodeLine parses one observation line from an event log or MQTT payload.
//
// Lines may be bare observations or firmware event envelopes of the form
// {"node_id":..., "ts":..., "domain":"ble", "type":"observation", "data":{...}}.
// For enveloped lines the inner data object is decoded, with node_id
// filling a missing scanner_id and ts filling a missing ts_ms.
func DecodeLine(line []byte) (*Observation, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if len(env.Data) == 0 {
		return Decode(line)
	}

	if env.Domain != "" && env.Domain != "ble" {
		return nil, fmt.Errorf("%w: not a ble event (domain %q)", ErrMalformed, env.Domain)
	}
	switch env.Type {
	case "", "observation", "adv":
	default:
		return nil, fmt.Errorf("%w: unsupported ble event type %q", ErrMalformed, env.Type)
	}

	var obs Observation
	if err := json.Unmarshal(env.Data, &obs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if obs.ScannerID == "" {
		obs.ScannerID = env.NodeID
	}
	if obs.TsMS == 0 && env.Ts > 0 {
		obs.TsMS = scaleTimestamp(env.Ts)
	}

	if err := obs.normalise(); err != nil {
		return nil, err
	}
	return &obs, nil
}

// scaleTimestamp converts envelope timestamps to milliseconds.
// Older firmware emits second-resolution timestamps.
func scaleTimestamp(ts int64) int64 {
	const msThreshold = 1_000_000_000_000
	if ts < msThreshold {
		return ts * 1000
	}
	return ts
}

// normalise validates required fields and canonicalises optional ones
// in place.
func (o *Observation) normalise() error {
	if o.TsMS <= 0 {
		return fmt.Errorf("%w: ts_ms missing or non-positive", ErrMalformed)
	}
	if o.ScannerID == "" {
		return fmt.Errorf("%w: scanner_id missing", ErrMalformed)
	}

	o.Addr = strings.ToLower(strings.TrimSpace(o.Addr))
	if o.Addr != "" && !addrPattern.MatchString(o.Addr) {
		// Unparseable addresses are dropped; the observation may still
		// carry enough advertisement content to fingerprint.
		o.Addr = ""
	}

	o.AddrType = strings.ToLower(strings.TrimSpace(o.AddrType))
	if o.Addr == "" {
		o.AddrType = ""
	}

	if o.RSSI != nil && (*o.RSSI < minRSSI || *o.RSSI > maxRSSI) {
		o.RSSI = nil
	}

	o.Services = NormaliseServices(o.Services)

	if o.MfgCompanyID != nil && *o.MfgCompanyID < 0 {
		o.MfgCompanyID = nil
		o.MfgDataRaw = nil
	}

	return nil
}

// NormaliseServices canonicalises a service UUID list: lowercase, 128-bit
// expansion of short UUIDs, sorted, deduplicated. Unrecognisable entries
// are dropped. Returns nil for an empty result.
func NormaliseServices(services []string) []string {
	if len(services) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(services))
	out := make([]string, 0, len(services))
	for _, s := range services {
		u, ok := normaliseUUID(s)
		if !ok || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}

	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// normaliseUUID converts a service UUID to canonical lowercase 128-bit form.
// Accepts full 128-bit UUIDs and 16/32-bit short forms (with or without
// an 0x prefix).
func normaliseUUID(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}

	if uuid128Pattern.MatchString(s) {
		return s, true
	}

	if uuidShortHexPat.MatchString(s) {
		s = strings.TrimPrefix(s, "0x")
		// Left-pad 16-bit UUIDs to the 32-bit field width.
		for len(s) < 8 {
			s = "0" + s
		}
		return s + bluetoothBaseUUIDSuffix, true
	}

	return "", false
}

// HasAddr reports whether the observation carries a usable address.
func (o *Observation) HasAddr() bool {
	return o.Addr != ""
}

// HasStableContent reports whether the observation carries any
// advertisement content usable for a stable fingerprint.
func (o *Observation) HasStableContent() bool {
	return len(o.Services) > 0 || o.MfgCompanyID != nil || o.Name != ""
}
