// File: api/handler.go
// Package api defines the application-facing connection contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import (
	"context"
	"net/http"
)

// Conn is the surface a Handler sees for the connection it serves.
// Send methods may be called from any goroutine.
type Conn interface {
	ID() string
	MaxMessageSize() int
	Args() map[string]string
	State() LifecycleState
	TransportState() TransportState

	SendBinary(p []byte) Completion
	SendText(s string) Completion
	Send(p []byte, endOfMessage bool, kind MessageKind) Completion

	// Close starts a close handshake without driving the lifecycle; the
	// lifecycle finishes when the peer answers.
	Close(status CloseStatus, reason string) Completion
}

// Handler is implemented by each concrete connection variant. Authorize is
// required; embed NopHooks to take the default for the rest.
//
// All hooks run on the connection's receive goroutine and are awaited, so a
// slow hook delays delivery of the next message.
type Handler interface {
	Authorize(r *http.Request) bool

	OnOpen(ctx context.Context, c Conn) error
	OnMessage(ctx context.Context, c Conn, msg Message) error
	OnClose(ctx context.Context, c Conn, status CloseStatus, reason string)
	OnReceiveError(ctx context.Context, c Conn, err error)
}

// NopHooks provides no-op lifecycle hooks.
type NopHooks struct{}

func (NopHooks) OnOpen(context.Context, Conn) error                 { return nil }
func (NopHooks) OnMessage(context.Context, Conn, Message) error     { return nil }
func (NopHooks) OnClose(context.Context, Conn, CloseStatus, string) {}
func (NopHooks) OnReceiveError(context.Context, Conn, error)        {}
