// Package logging provides the structured logger used across the identity core.
//
// It is a thin wrapper over log/slog that applies the configured level,
// format, and output, and attaches the service/version default fields.
package logging
