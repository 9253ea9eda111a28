// Package config loads and validates the SODS identity core configuration.
//
// Configuration comes from a YAML file with hardcoded defaults underneath
// and SODS_* environment variable overrides on top. The loaded Config is
// immutable after Load() returns; components receive the sections they need
// by value.
package config
