// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the per-connection protocol state machine for duplexws.
//
// A Connection owns exactly one api.Transport for its whole life and drives
// it through accept, open, receive loop and close handshake, calling the
// application's api.Handler hooks at each step.
//
// Includes:
//   - ReadMessage, which reassembles fragments into one message in a fixed buffer
//   - Outbound writes serialized through a per-connection queue
//   - A table-driven classifier separating benign peer teardown from faults
//   - Best-effort close handshake that fires the close hook exactly once
package protocol
