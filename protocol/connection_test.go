package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/duplexws/api"
	"github.com/momentics/duplexws/control"
	"github.com/momentics/duplexws/fake"
)

// recorder is a Handler that logs every hook invocation.
type recorder struct {
	allow     bool
	openErr   error
	onMessage func(api.Conn, api.Message) error

	mu       sync.Mutex
	events   []string
	messages []api.Message
	errs     []error
	status   api.CloseStatus
	reason   string

	opened chan struct{}
}

func newRecorder() *recorder {
	return &recorder{allow: true, opened: make(chan struct{})}
}

func (r *recorder) record(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) Authorize(*http.Request) bool { return r.allow }

func (r *recorder) OnOpen(ctx context.Context, c api.Conn) error {
	r.record("open")
	close(r.opened)
	return r.openErr
}

func (r *recorder) OnMessage(ctx context.Context, c api.Conn, msg api.Message) error {
	r.mu.Lock()
	r.events = append(r.events, "message")
	r.messages = append(r.messages, api.Message{Payload: bytes.Clone(msg.Payload), Kind: msg.Kind})
	r.mu.Unlock()
	if r.onMessage != nil {
		return r.onMessage(c, msg)
	}
	return nil
}

func (r *recorder) OnClose(ctx context.Context, c api.Conn, status api.CloseStatus, reason string) {
	r.mu.Lock()
	r.events = append(r.events, "close")
	r.status, r.reason = status, reason
	r.mu.Unlock()
}

func (r *recorder) OnReceiveError(ctx context.Context, c api.Conn, err error) {
	r.mu.Lock()
	r.events = append(r.events, "error")
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Messages() []api.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.Message(nil), r.messages...)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func waitClosed(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not close")
	}
}

func waitOpened(t *testing.T, r *recorder) {
	t.Helper()
	select {
	case <-r.opened:
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not open")
	}
}

// serveAsync accepts tr on a new connection and returns once OnOpen ran.
func serveAsync(t *testing.T, r *recorder, tr *fake.Transport, opts ...Option) *Connection {
	t.Helper()
	c := NewConnection(r, opts...)
	hs := fake.NewHandshake(tr)
	hs.Async = true
	require.NoError(t, c.Accept(context.Background(), hs))
	waitOpened(t, r)
	return c
}

func TestAcceptRejectsNonUpgrade(t *testing.T) {
	r := newRecorder()
	c := NewConnection(r)
	hs := fake.NewHandshake(fake.NewTransport())
	hs.Upgrade = false

	err := c.Accept(context.Background(), hs)
	assert.ErrorIs(t, err, api.ErrNotUpgradeRequest)
	assert.Equal(t, api.StateIdle, c.State())
	assert.False(t, hs.Accepted())
}

func TestAcceptDenied(t *testing.T) {
	cases := []struct {
		name          string
		authenticated bool
		want          int
	}{
		{"anonymous", false, http.StatusUnauthorized},
		{"authenticated", true, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRecorder()
			r.allow = false
			metrics := control.NewMetricsRegistry()
			c := NewConnection(r, WithMetrics(metrics))
			hs := fake.NewHandshake(fake.NewTransport())
			hs.Identity = tc.authenticated

			err := c.Accept(context.Background(), hs)

			var authErr *api.AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tc.want, authErr.Status)
			assert.ErrorIs(t, err, api.ErrHandshakeRejected)
			assert.Equal(t, tc.want, hs.RejectedWith())
			assert.False(t, hs.Accepted())
			assert.Equal(t, api.StateIdle, c.State())
			assert.Empty(t, r.Events())
			assert.EqualValues(t, 1, metrics.Get(control.MetricConnectionsRejected))
		})
	}
}

func TestLifecycleDeliversMessagesInOrder(t *testing.T) {
	tr := fake.NewTransport()
	tr.PushText("hello")
	tr.PushFragment([]byte("abc"), api.MessageBinary, false)
	tr.PushFragment([]byte("de"), api.MessageBinary, false)
	tr.PushFragment([]byte("f"), api.MessageBinary, true)
	tr.PushClose(api.CloseNormalClosure, "bye")

	r := newRecorder()
	metrics := control.NewMetricsRegistry()
	c := NewConnection(r, WithMetrics(metrics))
	hs := fake.NewHandshake(tr)
	hs.Params = map[string]string{"room": "lobby"}

	require.NoError(t, c.Accept(context.Background(), hs))
	waitClosed(t, c)

	assert.Equal(t, []string{"open", "message", "message", "close"}, r.Events())
	msgs := r.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, api.Message{Payload: []byte("hello"), Kind: api.MessageText}, msgs[0])
	assert.Equal(t, api.Message{Payload: []byte("abcdef"), Kind: api.MessageBinary}, msgs[1])

	assert.Equal(t, api.CloseNormalClosure, r.status)
	assert.Equal(t, "bye", r.reason)
	assert.Equal(t, api.StateClosed, c.State())
	assert.Equal(t, api.TransportClosed, c.TransportState())
	assert.True(t, tr.Released())
	assert.True(t, hs.BufferingDisabled())
	assert.Equal(t, map[string]string{"room": "lobby"}, c.Args())
	assert.Equal(t, []fake.CloseCall{{Status: api.CloseNormalClosure}}, tr.CloseCalls())

	assert.EqualValues(t, 1, metrics.Get(control.MetricConnectionsAccepted))
	assert.EqualValues(t, 0, metrics.Get(control.MetricConnectionsActive))
	assert.EqualValues(t, 1, metrics.Get(control.MetricConnectionsClosed))
	assert.EqualValues(t, 2, metrics.Get(control.MetricMessagesReceived))
	assert.EqualValues(t, 11, metrics.Get(control.MetricBytesReceived))
}

func TestEmptyMessagesAreNotDispatched(t *testing.T) {
	tr := fake.NewTransport()
	tr.PushFragment(nil, api.MessageText, true)
	tr.PushText("x")
	tr.PushClose(api.CloseNormalClosure, "")

	r := newRecorder()
	c := NewConnection(r)
	require.NoError(t, c.Accept(context.Background(), fake.NewHandshake(tr)))

	assert.Equal(t, []string{"open", "message", "close"}, r.Events())
}

func TestOversizeMessageClosesWithTooBig(t *testing.T) {
	tr := fake.NewTransport()
	tr.PushText("abcdef")

	r := newRecorder()
	c := NewConnection(r, WithMaxMessageSize(4))
	require.NoError(t, c.Accept(context.Background(), fake.NewHandshake(tr)))

	assert.Equal(t, []string{"open", "error", "close"}, r.Events())
	require.Len(t, r.Errors(), 1)
	assert.ErrorIs(t, r.Errors()[0], api.ErrMessageTooLarge)

	calls := tr.CloseCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, api.CloseMessageTooBig, calls[0].Status)
	assert.Equal(t, 4, c.MaxMessageSize())
}

func TestBenignTeardownSkipsErrorHook(t *testing.T) {
	tr := fake.NewTransport()
	tr.PushText("one")
	tr.PushError(fmt.Errorf("read: %w", io.ErrUnexpectedEOF))

	r := newRecorder()
	metrics := control.NewMetricsRegistry()
	c := NewConnection(r, WithMetrics(metrics))
	require.NoError(t, c.Accept(context.Background(), fake.NewHandshake(tr)))

	assert.Equal(t, []string{"open", "message", "close"}, r.Events())
	assert.EqualValues(t, 1, metrics.Get(control.MetricBenignTeardowns))
	assert.EqualValues(t, 0, metrics.Get(control.MetricReceiveErrors))
}

func TestFatalReceiveErrorReportedOnce(t *testing.T) {
	boom := errors.New("boom")
	tr := fake.NewTransport()
	tr.PushError(boom)

	r := newRecorder()
	c := NewConnection(r)
	require.NoError(t, c.Accept(context.Background(), fake.NewHandshake(tr)))

	assert.Equal(t, []string{"open", "error", "close"}, r.Events())
	assert.ErrorIs(t, r.Errors()[0], boom)
	assert.Equal(t, api.TransportAborted, c.TransportState())
	assert.Equal(t, api.CloseStatusEmpty, r.status)
}

func TestHookFailuresAreReceiveErrors(t *testing.T) {
	boom := errors.New("handler failed")

	t.Run("message error", func(t *testing.T) {
		tr := fake.NewTransport()
		tr.PushText("a")
		tr.PushText("b")

		r := newRecorder()
		r.onMessage = func(api.Conn, api.Message) error { return boom }
		c := NewConnection(r)
		require.NoError(t, c.Accept(context.Background(), fake.NewHandshake(tr)))

		assert.Equal(t, []string{"open", "message", "error", "close"}, r.Events())
		assert.ErrorIs(t, r.Errors()[0], boom)
	})

	t.Run("message panic", func(t *testing.T) {
		tr := fake.NewTransport()
		tr.PushText("a")

		r := newRecorder()
		r.onMessage = func(api.Conn, api.Message) error { panic("kaboom") }
		c := NewConnection(r)
		require.NoError(t, c.Accept(context.Background(), fake.NewHandshake(tr)))

		assert.Equal(t, []string{"open", "message", "error", "close"}, r.Events())
		assert.ErrorIs(t, r.Errors()[0], ErrHookPanicked)
	})

	t.Run("open error", func(t *testing.T) {
		tr := fake.NewTransport()
		tr.PushText("never")

		r := newRecorder()
		r.openErr = boom
		c := NewConnection(r)
		require.NoError(t, c.Accept(context.Background(), fake.NewHandshake(tr)))

		assert.Equal(t, []string{"open", "error", "close"}, r.Events())
		assert.Empty(t, r.Messages())
	})
}

func TestShutdownIsQuiet(t *testing.T) {
	tr := fake.NewTransport()
	r := newRecorder()
	c := serveAsync(t, r, tr)

	assert.Equal(t, api.StateOpen, c.State())
	c.Shutdown()
	waitClosed(t, c)
	c.Shutdown()

	assert.Equal(t, []string{"open", "close"}, r.Events())
	assert.Error(t, c.Context().Err())
	assert.True(t, tr.Released())
	assert.Equal(t, []fake.CloseCall{{Status: api.CloseNormalClosure}}, tr.CloseCalls())
}

func TestHostContextCancelShutsDown(t *testing.T) {
	tr := fake.NewTransport()
	r := newRecorder()
	c := NewConnection(r)
	hs := fake.NewHandshake(tr)
	hs.Async = true

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Accept(ctx, hs))
	waitOpened(t, r)
	cancel()
	waitClosed(t, c)

	assert.Equal(t, []string{"open", "close"}, r.Events())
}

func TestExplicitCloseWaitsForPeer(t *testing.T) {
	tr := fake.NewTransport()
	r := newRecorder()
	c := serveAsync(t, r, tr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Close(api.CloseGoingAway, "done").Wait(ctx))

	assert.Equal(t, api.StateOpen, c.State())
	assert.Equal(t, api.TransportCloseSent, c.TransportState())

	tr.PushClose(api.CloseGoingAway, "done")
	waitClosed(t, c)

	assert.Equal(t, []string{"open", "close"}, r.Events())
	assert.Equal(t, []fake.CloseCall{{Status: api.CloseGoingAway, Reason: "done"}}, tr.CloseCalls())
	assert.Equal(t, api.TransportClosed, c.TransportState())
}

func TestCloseAfterClosedDoesNotRepeatHook(t *testing.T) {
	tr := fake.NewTransport()
	tr.PushClose(api.CloseNormalClosure, "bye")
	r := newRecorder()
	c := NewConnection(r)
	require.NoError(t, c.Accept(context.Background(), fake.NewHandshake(tr)))
	waitClosed(t, c)
	require.Equal(t, []string{"open", "close"}, r.Events())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Close(api.CloseGoingAway, "late").Wait(ctx)
	assert.ErrorIs(t, err, api.ErrTransportClosed)
	c.Shutdown()

	assert.Equal(t, []string{"open", "close"}, r.Events())
	assert.Equal(t, api.CloseNormalClosure, r.status)
	assert.Equal(t, "bye", r.reason)
	assert.Equal(t, api.StateClosed, c.State())
}

func TestSendsAreSerialized(t *testing.T) {
	tr := fake.NewTransport()
	tr.SetWriteDelay(time.Millisecond)
	r := newRecorder()
	metrics := control.NewMetricsRegistry()
	c := serveAsync(t, r, tr, WithMetrics(metrics))
	defer c.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				assert.NoError(t, c.SendText(fmt.Sprintf("%d-%d", g, i)).Wait(ctx))
			}
		}(g)
	}
	wg.Wait()

	assert.Len(t, tr.GetSent(), 50)
	assert.Equal(t, 1, tr.MaxConcurrentSends())
	assert.EqualValues(t, 50, metrics.Get(control.MetricSendsCompleted))
}

func TestSendCopiesPayload(t *testing.T) {
	tr := fake.NewTransport()
	tr.SetWriteDelay(5 * time.Millisecond)
	r := newRecorder()
	c := serveAsync(t, r, tr)
	defer c.Shutdown()

	buf := []byte("original")
	f := c.Send(buf, false, api.MessageBinary)
	copy(buf, "mutated!")
	require.NoError(t, f.Wait(context.Background()))

	sent := tr.GetSent()
	require.Len(t, sent, 1)
	assert.Equal(t, fake.Sent{Data: []byte("original"), Kind: api.MessageBinary}, sent[0])
}

func TestSendFailureOnlyFailsItsCompletion(t *testing.T) {
	tr := fake.NewTransport()
	r := newRecorder()
	c := serveAsync(t, r, tr)
	defer c.Shutdown()

	ctx := context.Background()
	boom := errors.New("write failed")
	tr.SetSendError(boom)
	assert.ErrorIs(t, c.SendText("a").Wait(ctx), boom)

	tr.SetSendError(nil)
	assert.NoError(t, c.SendText("b").Wait(ctx))
	assert.Equal(t, api.StateOpen, c.State())
}

func TestSendBeforeOpen(t *testing.T) {
	c := NewConnection(newRecorder())

	assert.ErrorIs(t, c.SendText("x").Err(), api.ErrInvalidState)
	assert.ErrorIs(t, c.Close(api.CloseNormalClosure, "").Err(), api.ErrInvalidState)
	assert.Equal(t, api.TransportNone, c.TransportState())
}

func TestOpenPreconditions(t *testing.T) {
	c := NewConnection(newRecorder())
	assert.ErrorIs(t, c.Open(context.Background(), fake.NewTransport()), api.ErrInvalidState)

	tr := fake.NewTransport()
	tr.PushClose(api.CloseNormalClosure, "")
	require.NoError(t, c.Accept(context.Background(), fake.NewHandshake(tr)))
	waitClosed(t, c)

	assert.ErrorIs(t, c.Open(context.Background(), fake.NewTransport()), api.ErrAlreadyAccepted)
	assert.ErrorIs(t, c.Accept(context.Background(), fake.NewHandshake(fake.NewTransport())), api.ErrInvalidState)
}

func TestAcceptFailureClosesWithoutHooks(t *testing.T) {
	r := newRecorder()
	c := NewConnection(r)
	hs := fake.NewHandshake(fake.NewTransport())
	hs.AcceptError = errors.New("hijack failed")

	err := c.Accept(context.Background(), hs)
	assert.ErrorIs(t, err, hs.AcceptError)
	assert.Equal(t, api.StateClosed, c.State())
	assert.Empty(t, r.Events())
	waitClosed(t, c)
}

func TestCloseHandshakeFailureIsSwallowed(t *testing.T) {
	tr := fake.NewTransport()
	tr.SetCloseError(errors.New("socket gone"))
	tr.PushClose(api.CloseNormalClosure, "")

	r := newRecorder()
	c := NewConnection(r, WithCloseTimeout(100*time.Millisecond))
	require.NoError(t, c.Accept(context.Background(), fake.NewHandshake(tr)))

	assert.Equal(t, []string{"open", "close"}, r.Events())
	assert.True(t, tr.Released())
}

func TestConnectionIDsAreUnique(t *testing.T) {
	a := NewConnection(newRecorder())
	b := NewConnection(newRecorder())
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, DefaultMaxMessageSize, a.MaxMessageSize())
}
