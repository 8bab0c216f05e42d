// File: highlevel/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package highlevel serves duplexws connections over net/http.
// It owns routing, the upgrade handshake and connection tracking; each
// accepted request is driven by a protocol.Connection.
package highlevel

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"sync"

	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/momentics/duplexws/api"
	"github.com/momentics/duplexws/control"
	"github.com/momentics/duplexws/internal/session"
	"github.com/momentics/duplexws/pool"
	"github.com/momentics/duplexws/protocol"
)

// route binds a pattern to a handler factory.
type route struct {
	pattern string
	regex   *regexp.Regexp // nil for exact paths
	params  []string
	factory HandlerFactory
}

// RouteGroup represents a group of routes with common prefix
type RouteGroup struct {
	server *Server
	prefix string
}

// Server is an http.Handler that upgrades matching requests and serves each
// one on its own protocol.Connection.
type Server struct {
	cfg      control.Config
	logger   zerolog.Logger
	metrics  *control.MetricsRegistry
	probes   *control.DebugProbes
	upgrader gorilla.Upgrader
	classify *protocol.Classifier
	buffers  *pool.BytePool

	handlerMux sync.RWMutex
	exact      map[string]*route
	patterns   []*route
	middleware []Middleware

	// Context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc

	// Connection tracking
	connections   *session.Registry
	connectionsMu sync.Mutex
	closing       bool
	wg            sync.WaitGroup

	httpMu  sync.Mutex
	httpSrv *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithUpgrader replaces the gorilla upgrader, e.g. to set CheckOrigin or
// buffer sizes.
func WithUpgrader(u gorilla.Upgrader) ServerOption {
	return func(s *Server) { s.upgrader = u }
}

// WithClassifier sets the receive-error classifier for every connection.
func WithClassifier(cl *protocol.Classifier) ServerOption {
	return func(s *Server) { s.classify = cl }
}

// WithMetrics records into m instead of a private registry.
func WithMetrics(m *control.MetricsRegistry) ServerOption {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithDebugProbes registers the server's probes into dp.
func WithDebugProbes(dp *control.DebugProbes) ServerOption {
	return func(s *Server) {
		if dp != nil {
			s.probes = dp
		}
	}
}

// NewServer creates a server for cfg. Zero values in cfg take defaults.
func NewServer(cfg control.Config, logger zerolog.Logger, opts ...ServerOption) *Server {
	def := control.DefaultConfig()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		metrics:     control.NewMetricsRegistry(),
		probes:      control.NewDebugProbes(),
		classify:    protocol.DefaultClassifier(),
		exact:       make(map[string]*route),
		ctx:         ctx,
		cancel:      cancel,
		connections: session.NewRegistry(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.buffers = pool.ForSize(cfg.MaxMessageSize)
	s.probes.RegisterProbe("connections", func() any { return s.connectionStates() })
	s.probes.RegisterProbe("metrics", func() any { return s.metrics.GetSnapshot() })
	s.probes.RegisterProbe("buffers", func() any {
		return map[string]int64{"size": int64(s.buffers.Size()), "allocated": s.buffers.Allocated()}
	})
	return s
}

// Handle registers factory for pattern. Patterns are exact paths or contain
// ":name" segments, e.g. "/rooms/:room".
func (s *Server) Handle(pattern string, factory HandlerFactory) {
	if factory == nil {
		panic(ErrNilHandlerFactory)
	}
	s.handlerMux.Lock()
	defer s.handlerMux.Unlock()

	rt := &route{pattern: pattern, factory: factory}
	if !containsParam(pattern) {
		s.exact[pattern] = rt
		return
	}
	regexPattern, paramNames := convertToRegex(pattern)
	rt.regex = regexp.MustCompile("^" + regexPattern + "$")
	rt.params = paramNames
	s.patterns = append(s.patterns, rt)
}

// Use adds middleware around every request. The first middleware added is
// the outermost.
func (s *Server) Use(middleware ...Middleware) {
	s.handlerMux.Lock()
	defer s.handlerMux.Unlock()
	s.middleware = append(s.middleware, middleware...)
}

// Group creates a new route group with the given prefix.
func (s *Server) Group(prefix string) *RouteGroup {
	return &RouteGroup{
		server: s,
		prefix: prefix,
	}
}

// Handle registers factory for pattern under the group prefix.
func (g *RouteGroup) Handle(pattern string, factory HandlerFactory) {
	g.server.Handle(g.joinPrefix(pattern), factory)
}

// Group creates a nested route group with the given prefix appended to the current group's prefix.
func (g *RouteGroup) Group(prefix string) *RouteGroup {
	return &RouteGroup{
		server: g.server,
		prefix: g.joinPrefix(prefix),
	}
}

// Prefix returns the group's prefix
func (g *RouteGroup) Prefix() string {
	return g.prefix
}

// joinPrefix joins the group prefix with the pattern
func (g *RouteGroup) joinPrefix(pattern string) string {
	if g.prefix == "" {
		return pattern
	}

	// Ensure there's only one slash between prefix and pattern
	result := g.prefix
	if !strings.HasSuffix(g.prefix, "/") && !strings.HasPrefix(pattern, "/") {
		result += "/"
	} else if strings.HasSuffix(g.prefix, "/") && strings.HasPrefix(pattern, "/") {
		return result + pattern[1:]
	}

	return result + pattern
}

// containsParam checks if a pattern contains parameter placeholders (e.g., :id)
func containsParam(pattern string) bool {
	return strings.Contains(pattern, ":")
}

// convertToRegex converts a parameterized route to a regex pattern and extracts parameter names
func convertToRegex(pattern string) (regex string, paramNames []string) {
	parts := strings.Split(pattern, "/")
	regexParts := make([]string, 0, len(parts))

	for _, part := range parts {
		if strings.HasPrefix(part, ":") {
			regexParts = append(regexParts, `([^/]+)`)
			paramNames = append(paramNames, strings.TrimPrefix(part, ":"))
			continue
		}
		regexParts = append(regexParts, regexp.QuoteMeta(part))
	}
	return strings.Join(regexParts, "/"), paramNames
}

// findHandler finds the route for a request path and extracts parameters.
// Exact paths win over patterns; patterns match in registration order.
func (s *Server) findHandler(path string) (*route, []RouteParam) {
	s.handlerMux.RLock()
	defer s.handlerMux.RUnlock()

	if rt, ok := s.exact[path]; ok {
		return rt, nil
	}
	for _, rt := range s.patterns {
		matches := rt.regex.FindStringSubmatch(path)
		if matches == nil {
			continue
		}
		params := make([]RouteParam, 0, len(rt.params))
		for i, name := range rt.params {
			params = append(params, RouteParam{Key: name, Value: matches[i+1]})
		}
		return rt, params
	}
	return nil, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handlerMux.RLock()
	var h http.Handler = http.HandlerFunc(s.serveUpgrade)
	for i := len(s.middleware) - 1; i >= 0; i-- {
		h = s.middleware[i](h)
	}
	s.handlerMux.RUnlock()
	h.ServeHTTP(w, r)
}

func (s *Server) serveUpgrade(w http.ResponseWriter, r *http.Request) {
	rt, params := s.findHandler(r.URL.Path)
	if rt == nil {
		http.NotFound(w, r)
		return
	}

	conn := protocol.NewConnection(rt.factory(),
		protocol.WithBufferPool(s.buffers),
		protocol.WithCloseTimeout(s.cfg.CloseTimeout.Std()),
		protocol.WithClassifier(s.classify),
		protocol.WithMetrics(s.metrics),
		protocol.WithLogger(s.logger.With().Str("route", rt.pattern).Str("remote", r.RemoteAddr).Logger()),
	)
	if !s.addConnection(conn) {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.removeConnection(conn)

	hs := newHandshake(w, r, paramMap(params), s.upgrader)
	err := conn.Accept(s.ctx, hs)

	var authErr *api.AuthError
	switch {
	case err == nil:
	case errors.Is(err, api.ErrNotUpgradeRequest):
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
	case errors.As(err, &authErr):
		// Reject already answered.
	default:
		s.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("upgrade failed")
	}
}

// addConnection adds a connection to the tracking list. It refuses once
// Shutdown has started.
func (s *Server) addConnection(conn *protocol.Connection) bool {
	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()
	if s.closing || !s.connections.Add(conn) {
		return false
	}
	s.wg.Add(1)
	return true
}

// removeConnection removes a connection from the tracking list
func (s *Server) removeConnection(conn *protocol.Connection) {
	s.connections.Delete(conn.ID())
	s.wg.Done()
}

func (s *Server) connectionStates() map[string]string {
	out := make(map[string]string, s.connections.Len())
	s.connections.Range(func(sess session.Session) {
		if c, ok := sess.(*protocol.Connection); ok {
			out[c.ID()] = c.State().String()
		}
	})
	return out
}

// ListenAndServe serves on cfg.ListenAddr until Shutdown.
func (s *Server) ListenAndServe() error {
	s.httpMu.Lock()
	if s.httpSrv != nil {
		s.httpMu.Unlock()
		return api.ErrInvalidState
	}
	s.httpSrv = &http.Server{Addr: s.cfg.ListenAddr, Handler: s}
	srv := s.httpSrv
	s.httpMu.Unlock()

	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return ErrServerClosed
		}
		return err
	}
	return nil
}

// Shutdown stops accepting requests, shuts down every tracked connection
// and waits for their close hooks, or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connectionsMu.Lock()
	s.closing = true
	s.connectionsMu.Unlock()

	var err error
	s.httpMu.Lock()
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.httpMu.Unlock()

	s.cancel()
	s.connections.ShutdownAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Info().Msg("server stopped")
	return err
}

// ActiveConnections returns the number of currently tracked connections.
func (s *Server) ActiveConnections() int {
	return s.connections.Len()
}

// Metrics returns a snapshot of the server's counters.
func (s *Server) Metrics() map[string]int64 {
	return s.metrics.GetSnapshot()
}

// DebugState returns the output of every registered debug probe.
func (s *Server) DebugState() map[string]any {
	return s.probes.DumpState()
}
