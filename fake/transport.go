// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the transport and
// handshake contracts.

package fake

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/duplexws/api"
)

// step is one scripted receive outcome.
type step struct {
	data   []byte
	kind   api.MessageKind
	final  bool
	status api.CloseStatus
	reason string
	err    error
}

// Sent records one SendFragment call.
type Sent struct {
	Data         []byte
	Kind         api.MessageKind
	EndOfMessage bool
}

// CloseCall records one CloseHandshake call.
type CloseCall struct {
	Status api.CloseStatus
	Reason string
}

// Transport is a scripted api.Transport. Receives are fed with Push* calls
// and block until a step is available, the context ends or Close is called.
type Transport struct {
	mu          sync.Mutex
	script      chan step
	pending     *step
	state       api.TransportState
	closeStatus api.CloseStatus
	closeReason string
	sent        []Sent
	closes      []CloseCall
	sendError   error
	closeError  error
	released    bool
	closed      chan struct{}
	closeOnce   sync.Once

	writeDelay   time.Duration
	inFlight     atomic.Int32
	maxInFlight  atomic.Int32
	releaseCalls atomic.Int32
}

// NewTransport creates an open fake transport.
func NewTransport() *Transport {
	return &Transport{
		script: make(chan step, 256),
		state:  api.TransportOpen,
		closed: make(chan struct{}),
	}
}

// PushFragment scripts one data fragment.
func (t *Transport) PushFragment(data []byte, kind api.MessageKind, final bool) {
	t.script <- step{data: append([]byte(nil), data...), kind: kind, final: final}
}

// PushText scripts a complete single-fragment text message.
func (t *Transport) PushText(s string) {
	t.PushFragment([]byte(s), api.MessageText, true)
}

// PushBinary scripts a complete single-fragment binary message.
func (t *Transport) PushBinary(p []byte) {
	t.PushFragment(p, api.MessageBinary, true)
}

// PushClose scripts a close frame from the peer.
func (t *Transport) PushClose(status api.CloseStatus, reason string) {
	t.script <- step{kind: api.MessageClose, final: true, status: status, reason: reason}
}

// PushError scripts a receive failure.
func (t *Transport) PushError(err error) {
	t.script <- step{err: err}
}

// SetSendError makes subsequent SendFragment calls fail with err.
func (t *Transport) SetSendError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendError = err
}

// SetCloseError makes subsequent CloseHandshake calls fail with err.
func (t *Transport) SetCloseError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeError = err
}

// SetWriteDelay stretches every SendFragment by d.
func (t *Transport) SetWriteDelay(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeDelay = d
}

// SetState forces the handshake state.
func (t *Transport) SetState(s api.TransportState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// ReceiveFragment implements api.Transport.
func (t *Transport) ReceiveFragment(ctx context.Context, p []byte) (api.Fragment, error) {
	t.mu.Lock()
	cur := t.pending
	t.pending = nil
	t.mu.Unlock()

	if cur == nil {
		select {
		case s := <-t.script:
			cur = &s
		case <-ctx.Done():
			return api.Fragment{}, ctx.Err()
		case <-t.closed:
			return api.Fragment{}, api.ErrTransportClosed
		}
	}

	if cur.err != nil {
		return api.Fragment{}, cur.err
	}
	if cur.kind == api.MessageClose {
		t.mu.Lock()
		t.closeStatus, t.closeReason = cur.status, cur.reason
		if t.state == api.TransportCloseSent {
			t.state = api.TransportClosed
		} else if !t.state.Terminal() {
			t.state = api.TransportCloseReceived
		}
		t.mu.Unlock()
		return api.Fragment{Kind: api.MessageClose, EndOfMessage: true}, nil
	}

	n := copy(p, cur.data)
	if n < len(cur.data) {
		rest := *cur
		rest.data = cur.data[n:]
		t.mu.Lock()
		t.pending = &rest
		t.mu.Unlock()
		return api.Fragment{Count: n, Kind: cur.kind}, nil
	}
	return api.Fragment{Count: n, Kind: cur.kind, EndOfMessage: cur.final}, nil
}

// SendFragment implements api.Transport.
func (t *Transport) SendFragment(ctx context.Context, p []byte, kind api.MessageKind, endOfMessage bool) error {
	n := t.inFlight.Add(1)
	defer t.inFlight.Add(-1)
	for {
		m := t.maxInFlight.Load()
		if n <= m || t.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	t.mu.Lock()
	delay := t.writeDelay
	t.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released || t.state.Terminal() || t.state == api.TransportCloseSent {
		return api.ErrTransportClosed
	}
	if t.sendError != nil {
		return t.sendError
	}
	t.sent = append(t.sent, Sent{Data: append([]byte(nil), p...), Kind: kind, EndOfMessage: endOfMessage})
	return nil
}

// CloseHandshake implements api.Transport.
func (t *Transport) CloseHandshake(ctx context.Context, status api.CloseStatus, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes = append(t.closes, CloseCall{Status: status, Reason: reason})
	if t.closeError != nil {
		return t.closeError
	}
	switch t.state {
	case api.TransportOpen:
		t.state = api.TransportCloseSent
	case api.TransportCloseReceived:
		t.state = api.TransportClosed
	default:
		return api.ErrTransportClosed
	}
	return nil
}

// State implements api.Transport.
func (t *Transport) State() api.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// CloseStatus implements api.Transport.
func (t *Transport) CloseStatus() (api.CloseStatus, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeStatus, t.closeReason
}

// Close implements api.Transport. A transport that did not finish the close
// handshake ends Aborted.
func (t *Transport) Close() error {
	t.releaseCalls.Add(1)
	t.mu.Lock()
	t.released = true
	if !t.state.Terminal() {
		t.state = api.TransportAborted
	}
	t.mu.Unlock()
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// GetSent returns a copy of all recorded sends.
func (t *Transport) GetSent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.sent...)
}

// CloseCalls returns a copy of all recorded close handshakes.
func (t *Transport) CloseCalls() []CloseCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]CloseCall(nil), t.closes...)
}

// Released reports whether Close was called.
func (t *Transport) Released() bool {
	return t.releaseCalls.Load() > 0
}

// MaxConcurrentSends is the highest number of SendFragment calls observed
// in flight at once.
func (t *Transport) MaxConcurrentSends() int {
	return int(t.maxInFlight.Load())
}
