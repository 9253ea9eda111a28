package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSighting records a resolved observation to the ble_sighting measurement.
//
// The write is non-blocking; points are batched and sent asynchronously.
// Tags are kept low-cardinality (device, scanner, decision); the signal
// strength and match score go into fields.
//
// Parameters:
//   - deviceID: Canonical device identifier ("ble:...")
//   - scannerID: Scanner node that produced the observation
//   - decision: Resolution outcome ("merge", "candidate", "new")
//   - rssi: Received signal strength in dBm (0 if unknown)
//   - score: Match score against the chosen device
//   - ts: Observation timestamp
func (c *Client) WriteSighting(deviceID, scannerID, decision string, rssi int, score int, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"ble_sighting",
		map[string]string{
			"device_id":  deviceID,
			"scanner_id": scannerID,
			"decision":   decision,
		},
		map[string]interface{}{
			"rssi":  rssi,
			"score": score,
		},
		ts,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
