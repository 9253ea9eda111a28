// Package influxdb provides optional sighting telemetry.
//
// Each resolved observation can be recorded as a ble_sighting point,
// tagged by device, scanner, and decision. Writes are batched and
// asynchronous; the resolver never blocks on telemetry.
package influxdb
