// File: protocol/connection.go
// Package protocol implements the core WebSocket connection handling.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection encapsulates a full-duplex WebSocket session: accept, open,
// receive loop and close handshake, with writes serialized through a queue.

package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"

	"github.com/momentics/duplexws/api"
	"github.com/momentics/duplexws/control"
	"github.com/momentics/duplexws/internal/concurrency"
	"github.com/momentics/duplexws/pool"
)

const (
	DefaultMaxMessageSize = control.DefaultMaxMessageSize
	DefaultCloseTimeout   = control.DefaultCloseTimeout
)

// ErrHookPanicked wraps a panic recovered from an application hook.
var ErrHookPanicked = errors.New("connection hook panicked")

var _ api.Conn = (*Connection)(nil)

// Option configures a Connection at construction.
type Option func(*Connection)

// WithMaxMessageSize sets the receive buffer capacity in bytes.
func WithMaxMessageSize(n int) Option {
	return func(c *Connection) {
		if n > 0 {
			c.maxMessageSize = n
		}
	}
}

// WithCloseTimeout bounds the close handshake and explicit Close calls.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Connection) {
		if d > 0 {
			c.closeTimeout = d
		}
	}
}

// WithLogger sets the logger; the connection adds a conn_id field.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Connection) { c.logger = l }
}

// WithMetrics records connection counters into m.
func WithMetrics(m *control.MetricsRegistry) Option {
	return func(c *Connection) { c.metrics = m }
}

// WithClassifier replaces DefaultClassifier.
func WithClassifier(cl *Classifier) Option {
	return func(c *Connection) {
		if cl != nil {
			c.classifier = cl
		}
	}
}

// WithBufferPool draws the receive buffer from p; the maximum message size
// becomes p.Size().
func WithBufferPool(p *pool.BytePool) Option {
	return func(c *Connection) { c.buffers = p }
}

// Connection is one accepted transport and its lifecycle.
type Connection struct {
	id             string
	handler        api.Handler
	maxMessageSize int
	closeTimeout   time.Duration
	classifier     *Classifier
	buffers        *pool.BytePool
	logger         zerolog.Logger
	metrics        *control.MetricsRegistry

	state atomic.Int32

	mu        sync.RWMutex
	transport api.Transport
	args      map[string]string

	sendQ *concurrency.SerialQueue

	// tmb runs the receive goroutine; ctx is canceled once it is dying.
	tmb tomb.Tomb
	ctx context.Context

	// closeCode is only touched from the receive goroutine.
	closeCode api.CloseStatus

	done     chan struct{}
	doneOnce sync.Once
}

// NewConnection creates an Idle connection served by h.
func NewConnection(h api.Handler, opts ...Option) *Connection {
	c := &Connection{
		id:             uuid.NewString(),
		handler:        h,
		maxMessageSize: DefaultMaxMessageSize,
		closeTimeout:   DefaultCloseTimeout,
		classifier:     DefaultClassifier(),
		logger:         zerolog.Nop(),
		args:           map[string]string{},
		sendQ:          concurrency.NewSerialQueue(),
		closeCode:      api.CloseNormalClosure,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.buffers != nil {
		c.maxMessageSize = c.buffers.Size()
	} else {
		c.buffers = pool.ForSize(c.maxMessageSize)
	}
	c.logger = c.logger.With().Str("conn_id", c.id).Logger()
	c.ctx = c.tmb.Context(context.Background())
	return c
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string { return c.id }

// MaxMessageSize returns the receive buffer capacity.
func (c *Connection) MaxMessageSize() int { return c.maxMessageSize }

// State returns the lifecycle state.
func (c *Connection) State() api.LifecycleState {
	return api.LifecycleState(c.state.Load())
}

// Context is canceled when the connection starts shutting down.
func (c *Connection) Context() context.Context { return c.ctx }

// Done is closed after the close hook returned.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Args returns a copy of the path-pattern captures.
func (c *Connection) Args() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.args))
	for k, v := range c.args {
		out[k] = v
	}
	return out
}

// TransportState reports the transport's handshake progress.
func (c *Connection) TransportState() api.TransportState {
	if tr := c.currentTransport(); tr != nil {
		return tr.State()
	}
	return api.TransportNone
}

func (c *Connection) currentTransport() api.Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transport
}

func (c *Connection) setState(s api.LifecycleState) {
	prev := api.LifecycleState(c.state.Swap(int32(s)))
	c.logger.Debug().Stringer("from", prev).Stringer("to", s).Msg("connection state")
}

func (c *Connection) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Accept resolves authorization and hands the request to the host for
// upgrade. On denial the connection stays Idle and hc.Reject receives 401
// (no authenticated identity) or 403. On approval the connection moves to
// Accepting and Open runs from the host's established callback.
func (c *Connection) Accept(ctx context.Context, hc api.HandshakeContext) error {
	if !hc.IsUpgradeRequest() {
		return api.ErrNotUpgradeRequest
	}
	if c.State() != api.StateIdle {
		return api.ErrInvalidState
	}

	if !c.authorize(hc.Request()) {
		status := http.StatusUnauthorized
		if hc.Authenticated() {
			status = http.StatusForbidden
		}
		c.metrics.Add(control.MetricConnectionsRejected, 1)
		c.logger.Info().Int("status", status).Msg("upgrade denied")
		hc.Reject(status)
		return &api.AuthError{Status: status}
	}

	if !c.state.CompareAndSwap(int32(api.StateIdle), int32(api.StateAccepting)) {
		return api.ErrInvalidState
	}
	c.logger.Debug().Msg("connection state accepting")

	c.mu.Lock()
	for k, v := range hc.Args() {
		c.args[k] = v
	}
	c.mu.Unlock()

	hc.DisableBuffering()
	c.metrics.Add(control.MetricConnectionsAccepted, 1)

	err := hc.Accept(func(tr api.Transport) {
		if err := c.Open(ctx, tr); err != nil {
			c.logger.Error().Err(err).Msg("open failed")
		}
	})
	if err != nil {
		if c.state.CompareAndSwap(int32(api.StateAccepting), int32(api.StateClosed)) {
			c.tmb.Kill(nil)
			c.finish()
		}
		return fmt.Errorf("accept transport: %w", err)
	}
	return nil
}

func (c *Connection) authorize(r *http.Request) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error().Interface("panic", rec).Msg("authorize hook panicked")
			ok = false
		}
	}()
	return c.handler.Authorize(r)
}

// Open takes ownership of tr and serves it until the connection is Closed.
// It is valid once, in the Accepting state. Cancellation of ctx shuts the
// connection down.
func (c *Connection) Open(ctx context.Context, tr api.Transport) error {
	if tr == nil {
		return api.ErrInvalidState
	}
	c.mu.Lock()
	if c.transport != nil {
		c.mu.Unlock()
		return api.ErrAlreadyAccepted
	}
	if c.State() != api.StateAccepting {
		c.mu.Unlock()
		return api.ErrInvalidState
	}
	c.transport = tr
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, c.Shutdown)
	defer stop()

	c.setState(api.StateOpen)
	c.metrics.Add(control.MetricConnectionsActive, 1)
	c.logger.Info().Msg("connection opened")

	c.tmb.Go(func() error {
		c.run(tr)
		return nil
	})
	<-c.tmb.Dead()

	status, reason := tr.CloseStatus()
	c.setState(api.StateClosed)
	c.metrics.Add(control.MetricConnectionsActive, -1)
	c.metrics.Add(control.MetricConnectionsClosed, 1)
	c.logger.Info().Int("status", int(status)).Str("reason", reason).Msg("connection closed")

	c.invokeClose(context.WithoutCancel(c.ctx), status, reason)
	c.finish()
	return nil
}

// Shutdown raises the cancellation signal. The receive loop exits quietly
// and the close sequence runs. Safe to call at any time, more than once.
func (c *Connection) Shutdown() {
	c.tmb.Kill(nil)
}

// run is the receive goroutine: open hook, receive loop, close handshake.
func (c *Connection) run(tr api.Transport) {
	if err := c.invokeOpen(c.ctx); err != nil {
		c.handleReceiveError(c.ctx, err)
	} else {
		c.receiveLoop(c.ctx, tr)
	}
	c.closeTransport(c.ctx, tr)
}

func (c *Connection) receiveLoop(ctx context.Context, tr api.Transport) {
	buf := c.buffers.GetBuffer()
	defer c.buffers.PutBuffer(buf)

	for {
		msg, err := ReadMessage(ctx, tr, buf)
		if err != nil {
			c.handleReceiveError(ctx, err)
			return
		}
		if msg.Kind == api.MessageClose {
			c.logger.Debug().Msg("peer sent close")
			return
		}
		if len(msg.Payload) == 0 {
			continue
		}
		c.metrics.Add(control.MetricMessagesReceived, 1)
		c.metrics.Add(control.MetricBytesReceived, int64(len(msg.Payload)))

		if err := c.invokeMessage(ctx, msg); err != nil {
			c.handleReceiveError(ctx, err)
			return
		}
	}
}

// handleReceiveError applies the error policy: cancellation and a disposed
// transport end quietly, benign teardown ends without the error hook, and
// anything else is reported once through OnReceiveError.
func (c *Connection) handleReceiveError(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		c.logger.Debug().Err(err).Msg("receive canceled")
		return
	case errors.Is(err, api.ErrTransportClosed) || errors.Is(err, net.ErrClosed):
		c.logger.Debug().Err(err).Msg("transport disposed")
		return
	case errors.Is(err, api.ErrMessageTooLarge):
		c.closeCode = api.CloseMessageTooBig
	}

	if c.classifier.Classify(err) == Benign {
		c.metrics.Add(control.MetricBenignTeardowns, 1)
		c.logger.Debug().Err(err).Msg("peer went away")
		return
	}
	c.metrics.Add(control.MetricReceiveErrors, 1)
	c.logger.Error().Err(err).Msg("receive failed")
	c.invokeReceiveError(ctx, err)
}

// closeTransport attempts the close handshake through the send queue so it
// cannot interleave with an application write. Failures are swallowed.
func (c *Connection) closeTransport(ctx context.Context, tr api.Transport) {
	c.setState(api.StateClosing)

	if !tr.State().Terminal() {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.closeTimeout)
		status := c.closeCode
		f := c.sendQ.Enqueue(func() error {
			return tr.CloseHandshake(hctx, status, "")
		})
		if err := f.Wait(hctx); err != nil {
			c.logger.Debug().Err(err).Msg("close handshake failed")
		}
		cancel()
	}
	if err := tr.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("transport release failed")
	}
}

// SendBinary queues p as one complete binary message.
func (c *Connection) SendBinary(p []byte) api.Completion {
	return c.Send(p, true, api.MessageBinary)
}

// SendText queues s as one complete text message.
func (c *Connection) SendText(s string) api.Completion {
	return c.Send([]byte(s), true, api.MessageText)
}

// Send queues one fragment. p is copied before Send returns. Each call's
// outcome is reported only through the returned Completion.
func (c *Connection) Send(p []byte, endOfMessage bool, kind api.MessageKind) api.Completion {
	tr := c.currentTransport()
	if tr == nil {
		return concurrency.Failed(api.ErrInvalidState)
	}
	payload := bytes.Clone(p)
	ctx := c.ctx
	return c.sendQ.Enqueue(func() error {
		err := tr.SendFragment(ctx, payload, kind, endOfMessage)
		if err != nil {
			c.metrics.Add(control.MetricSendsFailed, 1)
			return err
		}
		c.metrics.Add(control.MetricSendsCompleted, 1)
		return nil
	})
}

// Close sends a close frame with status and reason. It does not change the
// lifecycle state; the connection closes when the receive loop sees the
// peer's reply.
func (c *Connection) Close(status api.CloseStatus, reason string) api.Completion {
	tr := c.currentTransport()
	if tr == nil {
		return concurrency.Failed(api.ErrInvalidState)
	}
	timeout := c.closeTimeout
	return c.sendQ.Enqueue(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return tr.CloseHandshake(ctx, status, reason)
	})
}

func hookPanic(name string, rec any) error {
	return fmt.Errorf("%w: %s: %v", ErrHookPanicked, name, rec)
}

func (c *Connection) invokeOpen(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = hookPanic("OnOpen", rec)
		}
	}()
	return c.handler.OnOpen(ctx, c)
}

func (c *Connection) invokeMessage(ctx context.Context, msg api.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = hookPanic("OnMessage", rec)
		}
	}()
	return c.handler.OnMessage(ctx, c, msg)
}

func (c *Connection) invokeReceiveError(ctx context.Context, recvErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error().Err(hookPanic("OnReceiveError", rec)).Msg("hook failed")
		}
	}()
	c.handler.OnReceiveError(ctx, c, recvErr)
}

func (c *Connection) invokeClose(ctx context.Context, status api.CloseStatus, reason string) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error().Err(hookPanic("OnClose", rec)).Msg("hook failed")
		}
	}()
	c.handler.OnClose(ctx, c, status, reason)
}
