// Package resolve turns streams of BLE observations into stable device
// identities.
//
// Observations are grouped by primary fingerprint over a short merge
// window, so several scanners sighting one broadcast yield a single
// resolution decision. Each flushed cluster is scored against registered
// devices and in-memory candidates with additive evidence rules; the
// total lands in one of three bands: merge into the matched identity,
// hold as a provisional candidate, or establish a new identity.
//
// Two entry points share the resolution core. The live Engine shards
// observations across workers by fingerprint hash (serialising each
// fingerprint through one merge window) and sweeps on wall clock. Replay
// drives the same logic single-threaded in event-time order, which makes
// rebuilds fully deterministic: the same input logs always produce the
// same registry.
package resolve
