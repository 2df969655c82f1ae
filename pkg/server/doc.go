// Package server provides the protocol runtime of the kestrel compositor.
//
// The server package accepts client connections, splits their byte streams
// into messages, dispatches requests to the protocol objects each client owns,
// and writes the resulting events back. Protocol objects themselves live in
// pkg/ifs; this package defines the contract they implement.
//
// # Architecture
//
//   - State: process-wide root holding the global registry, the client table,
//     lifecycle observers, metrics and the event loop
//   - Loop: the single goroutine that owns every protocol object
//   - Client: one connection with its object registry, serials and output buffer
//   - Globals: advertised capabilities and the bind factory
//   - Object / Requests: the dispatch contract and per-interface request tables
//
// # Client Lifecycle
//
// Each connection runs two goroutines:
//   - readLoop: reads bytes and file descriptors, frames messages, and submits
//     them to the Loop as one task per read
//   - writeLoop: flushes the output buffer whenever events are queued
//
// All other state is touched only from the Loop, so request handlers run to
// completion without locks and never observe a partial update.
//
// # Request Processing
//
//  1. readLoop frames the bytes into protocol.Request values
//  2. The Loop looks up the target object in the client's registry
//  3. The opcode is checked against the object's negotiated request count
//  4. The handler runs with a Parser scoped to the request payload
//  5. Parser.EOF verifies the payload was consumed exactly
//  6. Any error is fatal: a wl_display.error event is sent and the client is
//     disconnected
//
// # Example Usage
//
//	state := server.New(server.DefaultConfig())
//	ifs.Install(state, ifs.DefaultOptions())
//
//	ln, err := server.Listen(state, "/run/user/1000/wayland-1", false)
//	if err != nil {
//	    return err
//	}
//	go ln.Serve(ctx)
//
//	return state.Run(ctx)
package server
