package fingerprint

import (
	"crypto/sha256"
	"encoding/base32"
)

// Canonical device identifier format.
const (
	// DeviceIDPrefix marks canonical BLE device identifiers.
	DeviceIDPrefix = "ble:"

	// deviceIDLen is the number of Base32 characters kept after the prefix.
	deviceIDLen = 26
)

var deviceIDEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// DeviceID derives the canonical device identifier from a primary
// fingerprint.
//
// The identifier is "ble:" followed by the first 26 characters of the
// unpadded standard Base32 encoding of SHA-256(fingerprint). The same
// fingerprint always yields the same identifier, on any node, in any
// replay.
func DeviceID(primaryFP string) string {
	sum := sha256.Sum256([]byte(primaryFP))
	encoded := deviceIDEncoding.EncodeToString(sum[:])
	return DeviceIDPrefix + encoded[:deviceIDLen]
}
