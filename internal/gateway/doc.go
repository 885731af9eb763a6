// Package gateway orchestrates the fleetd server components.
//
// # Overview
//
// The Gateway owns and wires the major components: the websocket hub, the
// session registry, the presence service and its staleness monitor, the
// stream manager, the relay, the SQLite store, and the HTTP API. It is
// created from a config, run until the context ends, and shut down in
// dependency order.
//
// # HTTP Surface
//
// Public routes: /healthz, /api/login, and /ws (which carries its own
// credential check via query parameters). Everything under /api/ requires
// a bearer token and passes through the auth middleware.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx)
//
// Run blocks until the context is canceled, then drains HTTP, closes the
// hub, and closes the store.
package gateway
