// Package gateway serves sessions over HTTP and a WebSocket RPC protocol.
package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/roundtable/internal/config"
	"github.com/soyeahso/roundtable/internal/hooks"
	"github.com/soyeahso/roundtable/internal/logging"
	"github.com/soyeahso/roundtable/internal/session"
	"github.com/soyeahso/roundtable/internal/store"
	"github.com/soyeahso/roundtable/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

const (
	maxPayload       = 4 * 1024 * 1024
	handshakeTimeout = 10 * time.Second
	exchangeTimeout  = 10 * time.Minute
)

// Server is the roundtable HTTP + WebSocket gateway.
type Server struct {
	cfg      config.Config
	auth     ResolvedAuth
	log      *logging.Logger
	sessions *session.Registry
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string

	logs  *store.LogStore
	hooks *hooks.Manager

	mu         sync.RWMutex
	configRaw  map[string]any
	configPath string

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
	limiter    *authLimiter
	ready      chan struct{}
	addr       string
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithConfigRaw exposes the raw config map to config.get and config.set.
func WithConfigRaw(raw map[string]any) ServerOption {
	return func(s *Server) { s.configRaw = raw }
}

// WithConfigFile makes config.set write the raw map back to path.
func WithConfigFile(path string) ServerOption {
	return func(s *Server) { s.configPath = path }
}

// WithLogStore enables session.search and stored session listings.
func WithLogStore(ls *store.LogStore) ServerOption {
	return func(s *Server) { s.logs = ls }
}

// WithHooks emits gateway lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// New creates a gateway over the session registry.
func New(cfg config.Config, sessions *session.Registry, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:       cfg,
		auth:      ResolveAuth(cfg.Gateway.Auth),
		log:       log.Sub("gateway"),
		sessions:  sessions,
		clients:   NewClientRegistry(log.Sub("clients")),
		handlers:  make(map[string]RequestHandler),
		version:   version.Version,
		configRaw: make(map[string]any),
		startedAt: time.Now(),
		limiter:   newAuthLimiter(),
		ready:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	return s
}

// checkWebSocketOrigin admits requests without an Origin header and those
// whose Origin is allowed.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isOriginAllowed(origin, allowed)
	}
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	return slices.Sorted(maps.Keys(s.handlers))
}

// Handler returns the routed HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.Gateway.AllowedOrigins)
}

func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// listen opens the configured address, wrapping it in TLS when enabled,
// and warns about exposed setups without TLS or a credential.
func (s *Server) listen() (net.Listener, error) {
	gw := s.cfg.Gateway
	addr := resolveBindAddr(gw)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	exposed := gw.Bind != "" && gw.Bind != "loopback"
	switch {
	case gw.TLS.Enabled:
		cert, err := tls.LoadX509KeyPair(gw.TLS.CertPath, gw.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return nil, fmt.Errorf("load TLS key pair: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
		s.log.Info().Msg("TLS enabled")
	case exposed:
		s.log.Warn().Msg("TLS is not enabled; credentials travel in cleartext")
	}
	if exposed && s.auth.Mode == AuthModeNone {
		s.log.Warn().Msg("no gateway credential configured; every client is accepted")
	}
	return ln, nil
}

// Start serves until ctx is cancelled. The session sweeper runs for the
// lifetime of the server.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: exchangeTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.startedAt = time.Now()
	s.mu.Unlock()
	close(s.ready)

	go s.sessions.Run(ctx, time.Minute)

	s.log.Info().
		Str("addr", s.Addr()).
		Str("auth", s.auth.Mode).
		Int("methods", len(s.handlers)).
		Msg("gateway ready")
	s.emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": s.Addr()})

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gateway stopping")
		s.emit(context.WithoutCancel(ctx), hooks.EventGatewayStop, nil)
		s.clients.CloseAll()
		s.limiter.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Close releases background resources of a server that was never started.
func (s *Server) Close() {
	s.limiter.Close()
	s.clients.CloseAll()
}

func (s *Server) emit(ctx context.Context, event string, data map[string]any) {
	if s.hooks != nil {
		s.hooks.Emit(ctx, event, data)
	}
}

func (s *Server) uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startedAt)
}
