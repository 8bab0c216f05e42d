package highlevel_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"github.com/momentics/duplexws/api"
	"github.com/momentics/duplexws/control"
	"github.com/momentics/duplexws/highlevel"
)

func TestHighlevel(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Highlevel server suite")
}

// roomEcho echoes every message prefixed with the room parameter.
type roomEcho struct {
	api.NopHooks
	closed chan api.CloseStatus
	errs   chan error
}

func newRoomEcho() *roomEcho {
	return &roomEcho{
		closed: make(chan api.CloseStatus, 8),
		errs:   make(chan error, 8),
	}
}

func (h *roomEcho) Authorize(r *http.Request) bool {
	return r.URL.Query().Get("token") == "ok"
}

func (h *roomEcho) OnMessage(ctx context.Context, c api.Conn, msg api.Message) error {
	prefix := highlevel.Param(c, "room") + ":"
	c.Send(append([]byte(prefix), msg.Payload...), true, msg.Kind)
	return nil
}

func (h *roomEcho) OnClose(ctx context.Context, c api.Conn, status api.CloseStatus, reason string) {
	h.closed <- status
}

func (h *roomEcho) OnReceiveError(ctx context.Context, c api.Conn, err error) {
	h.errs <- err
}

// userHeader attaches an authenticated identity when X-User is set.
func userHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := r.Header.Get("X-User"); user != "" {
			r = highlevel.WithIdentity(r, highlevel.Identity{Subject: user, Authenticated: true})
		}
		next.ServeHTTP(w, r)
	})
}

var _ = Describe("Server", func() {
	var (
		srv     *highlevel.Server
		ts      *httptest.Server
		handler *roomEcho
	)

	dial := func(path string, header http.Header) (*gorilla.Conn, *http.Response, error) {
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
		return gorilla.DefaultDialer.Dial(url, header)
	}

	BeforeEach(func() {
		cfg := control.DefaultConfig()
		cfg.MaxMessageSize = 1024
		srv = highlevel.NewServer(cfg, zerolog.New(GinkgoWriter))
		handler = newRoomEcho()
		srv.Use(userHeader)
		srv.Handle("/echo/:room", func() api.Handler { return handler })
		ts = httptest.NewServer(srv)
	})

	AfterEach(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Expect(srv.Shutdown(ctx)).To(Succeed())
		ts.Close()
	})

	Context("upgrading", func() {
		It("echoes messages with the room parameter", func() {
			conn, resp, err := dial("/echo/lobby?token=ok", nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()
			Expect(resp.Header.Get("X-Accel-Buffering")).To(Equal("no"))

			Expect(conn.WriteMessage(gorilla.TextMessage, []byte("hi"))).To(Succeed())
			mt, p, err := conn.ReadMessage()
			Expect(err).NotTo(HaveOccurred())
			Expect(mt).To(Equal(gorilla.TextMessage))
			Expect(string(p)).To(Equal("lobby:hi"))

			Expect(conn.WriteMessage(gorilla.BinaryMessage, []byte{1, 2, 3})).To(Succeed())
			mt, p, err = conn.ReadMessage()
			Expect(err).NotTo(HaveOccurred())
			Expect(mt).To(Equal(gorilla.BinaryMessage))
			Expect(p).To(Equal([]byte("lobby:\x01\x02\x03")))

			Eventually(srv.ActiveConnections).Should(Equal(1))
		})

		It("answers 401 to anonymous requests it does not authorize", func() {
			_, resp, err := dial("/echo/lobby", nil)
			Expect(err).To(MatchError(gorilla.ErrBadHandshake))
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(srv.Metrics()).To(HaveKeyWithValue(control.MetricConnectionsRejected, int64(1)))
		})

		It("answers 403 when an authenticated identity is not authorized", func() {
			_, resp, err := dial("/echo/lobby", http.Header{"X-User": {"alice"}})
			Expect(err).To(MatchError(gorilla.ErrBadHandshake))
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})

		It("answers 404 for unknown routes", func() {
			_, resp, err := dial("/nowhere?token=ok", nil)
			Expect(err).To(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("answers 400 to plain HTTP requests", func() {
			resp, err := http.Get(ts.URL + "/echo/lobby?token=ok")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Context("closing", func() {
		It("fires the close hook once when the client closes", func() {
			conn, _, err := dial("/echo/lobby?token=ok", nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			msg := gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, "bye")
			Expect(conn.WriteControl(gorilla.CloseMessage, msg, time.Now().Add(time.Second))).To(Succeed())

			Eventually(handler.closed).Should(Receive(Equal(api.CloseNormalClosure)))
			Eventually(srv.ActiveConnections).Should(BeZero())
			Consistently(handler.closed, 100*time.Millisecond).ShouldNot(Receive())
			Expect(handler.errs).NotTo(Receive())
		})

		It("treats a vanished client as a normal teardown", func() {
			conn, _, err := dial("/echo/lobby?token=ok", nil)
			Expect(err).NotTo(HaveOccurred())
			Eventually(srv.ActiveConnections).Should(Equal(1))

			Expect(conn.UnderlyingConn().Close()).To(Succeed())

			Eventually(handler.closed).Should(Receive(Equal(api.CloseStatusEmpty)))
			Expect(handler.errs).NotTo(Receive())
			Expect(srv.Metrics()).To(HaveKeyWithValue(control.MetricBenignTeardowns, int64(1)))
		})

		It("treats a reset connection as a normal teardown", func() {
			conn, _, err := dial("/echo/lobby?token=ok", nil)
			Expect(err).NotTo(HaveOccurred())
			Eventually(srv.ActiveConnections).Should(Equal(1))

			tcp, ok := conn.UnderlyingConn().(*net.TCPConn)
			Expect(ok).To(BeTrue())
			Expect(tcp.SetLinger(0)).To(Succeed())
			Expect(tcp.Close()).To(Succeed())

			Eventually(handler.closed).Should(Receive(Equal(api.CloseStatusEmpty)))
			Consistently(handler.errs, 100*time.Millisecond).ShouldNot(Receive())
			Expect(srv.Metrics()).To(HaveKeyWithValue(control.MetricBenignTeardowns, int64(1)))
		})

		It("closes oversized messages with 1009", func() {
			conn, _, err := dial("/echo/lobby?token=ok", nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			Expect(conn.WriteMessage(gorilla.BinaryMessage, make([]byte, 2048))).To(Succeed())

			_, _, err = conn.ReadMessage()
			Expect(gorilla.IsCloseError(err, gorilla.CloseMessageTooBig)).To(BeTrue())
			Eventually(handler.errs).Should(Receive(MatchError(api.ErrMessageTooLarge)))
		})

		It("shuts down open connections with a close frame", func() {
			conn, _, err := dial("/echo/lobby?token=ok", nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()
			Eventually(srv.ActiveConnections).Should(Equal(1))

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			Expect(srv.Shutdown(ctx)).To(Succeed())

			_, _, err = conn.ReadMessage()
			Expect(gorilla.IsCloseError(err, gorilla.CloseNormalClosure)).To(BeTrue())
			Expect(handler.closed).To(Receive())
			Expect(srv.ActiveConnections()).To(BeZero())

			resp, err := http.Get(ts.URL + "/echo/lobby?token=ok")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
		})
	})
})
