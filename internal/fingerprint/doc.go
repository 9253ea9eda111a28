// Package fingerprint derives identity material from BLE observations.
//
// Two fingerprints are extracted per observation. The stable fingerprint
// hashes content that survives address rotation: advertised services,
// vendor-masked manufacturer data, and the normalised name pattern. The
// address fingerprint hashes the advertised address and its type, and is
// only as durable as the address itself.
//
// Manufacturer data is masked before hashing because most vendors mix
// static product identifiers with rotating counters in one payload. The
// mask table keeps the per-vendor stable bytes and zeroes the rest; a
// conservative keep-the-prefix rule covers vendors without an entry.
//
// Canonical device identifiers are derived from the primary fingerprint
// by DeviceID and are fully deterministic.
package fingerprint
