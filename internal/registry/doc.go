// Package registry persists canonical BLE device identities.
//
// The registry is three SQLite tables: ble_devices holds one row per
// resolved identity with accumulated evidence, ble_fps binds fingerprint
// values to devices (a fingerprint maps to at most one device, ever),
// and ble_aliases carries human-facing labels keyed by source.
//
// Provisional identities that scored in the uncertain band live in an
// in-memory CandidateSet rather than the database. They are promoted to
// devices once corroborated, or age out after the configured TTL; losing
// them on restart is acceptable because the next observation recreates
// them from the same fingerprints.
package registry
