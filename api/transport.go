// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the duplex transport contract consumed by the connection state
// machine, and the handoff contract a host implements to deliver it.

package api

import (
	"context"
	"net/http"
)

// Transport is a live, message-capable duplex socket established after an
// upgrade. ReceiveFragment is never called concurrently with itself and
// SendFragment/CloseHandshake are never called concurrently with each other;
// a read and a write may be in flight at the same time.
type Transport interface {
	// ReceiveFragment blocks until the next fragment is copied into p, the
	// peer sends a close frame (Kind == MessageClose), or ctx ends.
	ReceiveFragment(ctx context.Context, p []byte) (Fragment, error)

	// SendFragment writes p as part of a message of the given kind.
	SendFragment(ctx context.Context, p []byte, kind MessageKind, endOfMessage bool) error

	// CloseHandshake sends a close frame with status and reason.
	CloseHandshake(ctx context.Context, status CloseStatus, reason string) error

	// State reports close-handshake progress.
	State() TransportState

	// CloseStatus returns the status and description the peer reported, if any.
	CloseStatus() (CloseStatus, string)

	// Close releases the underlying socket. Pending reads and writes fail.
	Close() error
}

// HandshakeContext is supplied by the host for one inbound request.
type HandshakeContext interface {
	// Request is the inbound HTTP request.
	Request() *http.Request

	// IsUpgradeRequest reports whether the request may become a Transport.
	IsUpgradeRequest() bool

	// Authenticated reports whether an identity was already attached to the
	// request by the host. Used to pick 401 vs 403 on denial.
	Authenticated() bool

	// Args returns path-pattern captures for the matched route.
	Args() map[string]string

	// DisableBuffering asks the host not to buffer or compress the response.
	DisableBuffering()

	// Accept performs the upgrade and calls established with the live
	// transport. Hosts may call established synchronously.
	Accept(established func(Transport)) error

	// Reject completes the request with status without upgrading.
	Reject(status int)
}
