// Package api provides the HTTP REST API for the identity core.
//
// It exposes the resolved device registry (devices, fingerprint
// bindings, aliases) and live resolution statistics to dashboards and
// operational tooling. The surface is read-mostly: alias management is
// the only write endpoint, since device identities are owned entirely
// by the resolution pipeline.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
