// Package observation defines the BLE sighting model and its decoding.
//
// An observation is one advertisement sighting from one scanner at one
// moment. Scanners differ in what they can parse from the air, so only
// the timestamp and scanner identity are required; address, services,
// manufacturer data, and name are all best-effort.
//
// Decoding normalises the fields that feed fingerprinting: addresses are
// lowercased, service UUIDs are expanded to canonical 128-bit form and
// sorted, and out-of-range signal values are dropped. Payloads may arrive
// bare or wrapped in the scanner firmware's event envelope; DecodeLine
// accepts both.
package observation
