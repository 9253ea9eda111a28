package mqtt

import "fmt"

// Topic prefixes for the SODS MQTT hierarchy.
//
// Scanner nodes publish raw observations under sods/ble/observation/{scanner_id}.
// The identity core publishes resolution events under sods/ble/event/{type}
// and its own liveness under sods/system/status.
const (
	// TopicPrefixBLE is the base for all BLE topics.
	TopicPrefixBLE = "sods/ble"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "sods/system"
)

// Topics provides builders for SODS MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	obsTopic := topics.Observation("scanner-hall")
//	// Returns: "sods/ble/observation/scanner-hall"
type Topics struct{}

// Observation returns the topic a specific scanner publishes observations on.
//
// Example: sods/ble/observation/scanner-hall
func (Topics) Observation(scannerID string) string {
	return fmt.Sprintf("%s/observation/%s", TopicPrefixBLE, scannerID)
}

// AllObservations returns a pattern matching observations from every scanner.
//
// Pattern: sods/ble/observation/+
func (Topics) AllObservations() string {
	return fmt.Sprintf("%s/observation/+", TopicPrefixBLE)
}

// Event returns the topic for identity resolution events.
//
// Example: sods/ble/event/device.seen
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixBLE, eventType)
}

// AllEvents returns a pattern matching all resolution events.
//
// Pattern: sods/ble/event/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefixBLE)
}

// SystemStatus returns the system status topic.
//
// Example: sods/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
