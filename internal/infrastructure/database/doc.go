// Package database provides the SQLite connection and schema migrations
// for the identity registry.
//
// The registry lives in a single database file opened in WAL mode so the
// diagnostics API can read while the resolver writes. Schema changes are
// applied through versioned migrations embedded in the binary.
package database
