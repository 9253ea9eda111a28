// Package mqtt provides the broker connection used for observation intake
// and resolution event output.
//
// Scanner nodes publish raw advertisement observations under
// sods/ble/observation/{scanner_id}; the identity core subscribes with a
// wildcard and publishes device.seen and device.merged events under
// sods/ble/event/. Connection status is advertised on sods/system/status
// with an LWT so downstream consumers can detect an unclean exit.
package mqtt
