// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package transport adapts gorilla/websocket connections to api.Transport.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/momentics/duplexws/api"
)

// DefaultControlTimeout bounds a close frame write when the caller's
// context carries no deadline.
const DefaultControlTimeout = 5 * time.Second

// WebSocket is an api.Transport over an upgraded gorilla connection.
//
// One goroutine may receive while one other sends; callers serialize sends
// and close handshakes among themselves.
type WebSocket struct {
	conn *gorilla.Conn

	// receive side, owned by the receiving goroutine
	reader   io.Reader
	readKind api.MessageKind

	// send side, owned by whoever holds the send slot
	writer    io.WriteCloser
	writeKind api.MessageKind

	mu          sync.Mutex
	state       api.TransportState
	closeStatus api.CloseStatus
	closeReason string
	released    bool
}

// NewWebSocket wraps an upgraded connection. The close frame from the peer
// is recorded but not echoed; the connection answers it through
// CloseHandshake.
func NewWebSocket(conn *gorilla.Conn) *WebSocket {
	ws := &WebSocket{conn: conn, state: api.TransportOpen}
	conn.SetCloseHandler(ws.onPeerClose)
	return ws
}

func (ws *WebSocket) onPeerClose(code int, text string) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.closeStatus, ws.closeReason = api.CloseStatus(code), text
	switch ws.state {
	case api.TransportOpen:
		ws.state = api.TransportCloseReceived
	case api.TransportCloseSent:
		ws.state = api.TransportClosed
	}
	return nil
}

// ReceiveFragment implements api.Transport. Cancelling ctx expires the read
// deadline, which leaves the connection unusable for further reads.
func (ws *WebSocket) ReceiveFragment(ctx context.Context, p []byte) (api.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return api.Fragment{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = ws.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	frag, err := ws.receive(p)
	switch {
	case err == nil:
		return frag, nil
	case ctx.Err() != nil:
		// Reads are dead after the deadline fired, writes still work.
		return api.Fragment{}, ctx.Err()
	default:
		return ws.readFailed(err)
	}
}

func (ws *WebSocket) receive(p []byte) (api.Fragment, error) {
	if ws.reader == nil {
		mt, r, err := ws.conn.NextReader()
		if err != nil {
			return api.Fragment{}, err
		}
		ws.reader, ws.readKind = r, kindOf(mt)
	}

	n, err := ws.reader.Read(p)
	switch {
	case err == nil:
		return api.Fragment{Count: n, Kind: ws.readKind}, nil
	case errors.Is(err, io.EOF):
		ws.reader = nil
		return api.Fragment{Count: n, Kind: ws.readKind, EndOfMessage: true}, nil
	default:
		ws.reader = nil
		return api.Fragment{}, err
	}
}

// readFailed turns a close frame into a close fragment. Any other error
// leaves the connection broken.
func (ws *WebSocket) readFailed(err error) (api.Fragment, error) {
	var ce *gorilla.CloseError
	if errors.As(err, &ce) && ce.Code != gorilla.CloseAbnormalClosure {
		return api.Fragment{Kind: api.MessageClose, EndOfMessage: true}, nil
	}

	ws.mu.Lock()
	if !ws.state.Terminal() {
		ws.state = api.TransportAborted
	}
	ws.mu.Unlock()

	if ce != nil {
		// gorilla reports a vanished peer as an abnormal close.
		return api.Fragment{}, fmt.Errorf("%s: %w", ce.Text, io.ErrUnexpectedEOF)
	}
	return api.Fragment{}, err
}

// SendFragment implements api.Transport. A non-final fragment keeps the
// message writer open for the next call, which must use the same kind.
func (ws *WebSocket) SendFragment(ctx context.Context, p []byte, kind api.MessageKind, endOfMessage bool) error {
	if !ws.writable() {
		return api.ErrTransportClosed
	}
	if kind != api.MessageText && kind != api.MessageBinary {
		return api.NewError(api.ErrCodeInvalidArgument, "unsupported message kind").
			WithContext("kind", kind.String())
	}
	if ws.writer != nil && kind != ws.writeKind {
		return api.NewError(api.ErrCodeInvalidArgument, "message kind changed mid-message").
			WithContext("kind", kind.String()).
			WithContext("open_kind", ws.writeKind.String())
	}

	deadline, _ := ctx.Deadline()
	if err := ws.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = ws.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if ws.writer == nil {
		w, err := ws.conn.NextWriter(messageType(kind))
		if err != nil {
			return ws.writeFailed(ctx, err)
		}
		ws.writer, ws.writeKind = w, kind
	}
	if _, err := ws.writer.Write(p); err != nil {
		ws.writer = nil
		return ws.writeFailed(ctx, err)
	}
	if !endOfMessage {
		return nil
	}
	err := ws.writer.Close()
	ws.writer = nil
	if err != nil {
		return ws.writeFailed(ctx, err)
	}
	return nil
}

func (ws *WebSocket) writeFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (ws *WebSocket) writable() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return !ws.released && (ws.state == api.TransportOpen || ws.state == api.TransportCloseReceived)
}

// CloseHandshake implements api.Transport.
func (ws *WebSocket) CloseHandshake(ctx context.Context, status api.CloseStatus, reason string) error {
	ws.mu.Lock()
	state := ws.state
	ws.mu.Unlock()
	if state != api.TransportOpen && state != api.TransportCloseReceived {
		return api.ErrTransportClosed
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultControlTimeout)
	}
	code := int(status)
	if status == api.CloseStatusEmpty {
		code = gorilla.CloseNoStatusReceived
	}
	if err := ws.conn.WriteControl(gorilla.CloseMessage, gorilla.FormatCloseMessage(code, reason), deadline); err != nil {
		return err
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	switch ws.state {
	case api.TransportOpen:
		ws.state = api.TransportCloseSent
	case api.TransportCloseReceived:
		ws.state = api.TransportClosed
	}
	return nil
}

// State implements api.Transport.
func (ws *WebSocket) State() api.TransportState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

// CloseStatus implements api.Transport.
func (ws *WebSocket) CloseStatus() (api.CloseStatus, string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.closeStatus, ws.closeReason
}

// Close releases the network connection. Later calls are no-ops.
func (ws *WebSocket) Close() error {
	ws.mu.Lock()
	if ws.released {
		ws.mu.Unlock()
		return nil
	}
	ws.released = true
	if !ws.state.Terminal() {
		ws.state = api.TransportAborted
	}
	ws.mu.Unlock()
	return ws.conn.Close()
}

func kindOf(messageType int) api.MessageKind {
	if messageType == gorilla.TextMessage {
		return api.MessageText
	}
	return api.MessageBinary
}

func messageType(kind api.MessageKind) int {
	if kind == api.MessageText {
		return gorilla.TextMessage
	}
	return gorilla.BinaryMessage
}
