package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/nyxsignal"
	"github.com/luciancaetano/nyxsignal/internal/bridge"
	"github.com/luciancaetano/nyxsignal/internal/metrics"
	"github.com/luciancaetano/nyxsignal/internal/relay"
)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is a callback function that is called when a new client connects.
// It is called after the WebSocket handshake completes and the connection is
// tracked by the relay, before the message reading loop starts.
//
// Note: This function is called synchronously on the client's read goroutine.
// Avoid long-running operations.
type OnConnectFn = func(client nyxsignal.Client)

// OnClientDisconnectFn is a callback type invoked after a client has been
// released by the relay. voluntary is true when the client sent a normal or
// going-away close frame, false for transport errors, heartbeat evictions and
// server shutdown.
type OnClientDisconnectFn = func(client nyxsignal.Client, voluntary bool)

// Limits are the admission, liveness and transport bounds of a server.
type Limits struct {
	// MaxMessageBytes is the largest frame that is processed.
	MaxMessageBytes int
	// RateLimitMessages frames are allowed per connection per RateLimitWindow.
	RateLimitMessages int
	RateLimitWindow   time.Duration
	// HeartbeatInterval is the ping period of the liveness supervisor.
	HeartbeatInterval time.Duration
	// SendQueueSize is the per-client outbound queue length.
	SendQueueSize int
	// WriteTimeout bounds each frame written to a client.
	WriteTimeout time.Duration
	// MaxUpgradesPerSecond limits new WebSocket handshakes server-wide.
	// Zero disables the limit.
	MaxUpgradesPerSecond float64
	UpgradeBurst         int
}

// DefaultLimits returns the default limits: 64 KiB frames, 200 frames per
// 5 seconds, a 30 second heartbeat and 50 upgrades per second.
func DefaultLimits() Limits {
	return Limits{
		MaxMessageBytes:      nyxsignal.DefaultMaxMessageBytes,
		RateLimitMessages:    nyxsignal.DefaultRateLimitMessages,
		RateLimitWindow:      nyxsignal.DefaultRateLimitWindow,
		HeartbeatInterval:    nyxsignal.DefaultHeartbeatInterval,
		SendQueueSize:        nyxsignal.DefaultSendQueueSize,
		WriteTimeout:         nyxsignal.DefaultWriteTimeout,
		MaxUpgradesPerSecond: 50,
		UpgradeBurst:         100,
	}
}

func (l Limits) relayConfig() relay.Config {
	return relay.Config{
		MaxMessageBytes:   l.MaxMessageBytes,
		RateLimitMessages: l.RateLimitMessages,
		RateLimitWindow:   l.RateLimitWindow,
		HeartbeatInterval: l.HeartbeatInterval,
	}.WithDefaults()
}

type ServerConfig struct {
	Addr               string
	Limits             Limits
	CheckOrigin        CheckOriginFn
	OnConnect          OnConnectFn
	OnClientDisconnect OnClientDisconnectFn

	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Enable it only behind a proxy that sets those headers.
	TrustProxyHeaders bool

	// Logger defaults to a disabled logger.
	Logger *zerolog.Logger
	// Metrics defaults to a fresh registry, served on /metrics.
	Metrics *metrics.Metrics
	// Bridge, when set, mirrors fanout to other instances.
	Bridge bridge.Bridge
}

// Server accepts WebSocket connections and feeds their events to the relay
// engine.
type Server struct {
	addr     string
	server   *http.Server
	listener net.Listener
	router   chi.Router
	clients  sync.Map // map[string]*Client

	engine         *relay.Engine
	limits         Limits
	log            zerolog.Logger
	metrics        *metrics.Metrics
	bridge         bridge.Bridge
	upgradeLimiter *rate.Limiter

	mu           sync.RWMutex
	running      bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	upgrader     websocket.Upgrader
	onConnect    OnConnectFn
	onDisconnect OnClientDisconnectFn
	trustProxy   bool
}

// New creates a new relay server with the specified configuration.
//
// Zero limits fall back to DefaultLimits values, except
// MaxUpgradesPerSecond where zero disables the upgrade limiter. A nil
// CheckOrigin allows only same-origin requests, as in gorilla's upgrader.
func New(cfg *ServerConfig) *Server {
	d := DefaultLimits()
	limits := cfg.Limits
	if limits.SendQueueSize <= 0 {
		limits.SendQueueSize = d.SendQueueSize
	}
	if limits.WriteTimeout <= 0 {
		limits.WriteTimeout = d.WriteTimeout
	}
	rc := limits.relayConfig()
	limits.MaxMessageBytes = rc.MaxMessageBytes
	limits.RateLimitMessages = rc.RateLimitMessages
	limits.RateLimitWindow = rc.RateLimitWindow
	limits.HeartbeatInterval = rc.HeartbeatInterval

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	opts := []relay.Option{relay.WithLogger(log), relay.WithMetrics(m)}
	if cfg.Bridge != nil {
		opts = append(opts, relay.WithPublisher(cfg.Bridge))
	}

	s := &Server{
		addr:         cfg.Addr,
		engine:       relay.New(rc, opts...),
		limits:       limits,
		log:          log.With().Str("component", "websocket").Logger(),
		metrics:      m,
		bridge:       cfg.Bridge,
		onConnect:    cfg.OnConnect,
		onDisconnect: cfg.OnClientDisconnect,
		trustProxy:   cfg.TrustProxyHeaders,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
	if limits.MaxUpgradesPerSecond > 0 {
		burst := limits.UpgradeBurst
		if burst <= 0 {
			burst = int(limits.MaxUpgradesPerSecond) + 1
		}
		s.upgradeLimiter = rate.NewLimiter(rate.Limit(limits.MaxUpgradesPerSecond), burst)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(s.upgradeMiddleware)

	// every plain request that is not /metrics gets the health body
	r.Get("/", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.NotFound(s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.PrometheusHandler(s.metrics, func() (int, int) {
		st := s.engine.Stats()
		return st.Rooms, st.Connections
	}))
	return r
}

// upgradeMiddleware sends WebSocket handshakes on any path to the relay.
func (s *Server) upgradeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			s.handleWebSocket(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the HTTP handler. It is used by Start and can be mounted
// elsewhere, in which case the caller must also call RunSupervisor.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listening socket, then serves connections and runs the
// heartbeat supervisor (and the bridge subscriber, when configured) in the
// background. Cancelling ctx stops the server.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New(nyxsignal.ErrServerAlreadyRunning)
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.listener = ln
	s.cancel = cancel
	s.running = true
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.server
	s.mu.Unlock()

	s.RunSupervisor(runCtx)

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("http server stopped")
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if err := s.Stop(stopCtx); err != nil {
				s.log.Warn().Err(err).Msg("stop after context cancellation")
			}
		case <-runCtx.Done():
		}
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("relay listening")
	return nil
}

// RunSupervisor starts the heartbeat supervisor and the bridge subscriber
// until ctx is cancelled or Stop is called.
func (s *Server) RunSupervisor(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.engine.Run(ctx)
	}()

	if s.bridge == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.bridge.Run(ctx, s.deliverRemote)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error().Err(err).Msg("bridge subscription ended")
		}
	}()
}

// Stop closes all client connections with a going-away frame, stops the
// supervisor and the bridge, then shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	server := s.server
	s.mu.Unlock()

	cancel()

	s.clients.Range(func(key, value any) bool {
		if client, ok := value.(*Client); ok {
			_ = client.CloseWithCode(ctx, websocket.CloseGoingAway, "server shutting down")
		}
		return true
	})

	if s.bridge != nil {
		if err := s.bridge.Close(); err != nil {
			s.log.Warn().Err(err).Msg("bridge close failed")
		}
	}

	var err error
	if server != nil {
		err = server.Shutdown(ctx)
	}
	s.wg.Wait()

	s.log.Info().Msg("relay stopped")
	return err
}

// Addr returns the bound listener address, or the configured address before
// Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stats returns a snapshot of the room registry.
func (s *Server) Stats() nyxsignal.Stats {
	return s.engine.Stats()
}

// Metrics returns the event counters of this server.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// GetClient returns a client by ID
func (s *Server) GetClient(id string) (*Client, bool) {
	if client, ok := s.clients.Load(id); ok {
		return client.(*Client), true
	}
	return nil, false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, nyxsignal.HealthResponse)
}

// handleWebSocket handles incoming WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.upgradeLimiter != nil && !s.upgradeLimiter.Allow() {
		s.metrics.Inc(metrics.UpgradeRejected)
		s.log.Debug().Str("remote_addr", r.RemoteAddr).Msg("upgrade rate limit exceeded")
		http.Error(w, "too many connection attempts", http.StatusServiceUnavailable)
		return
	}

	// the upgrader has already written an error response on failure
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.Inc(metrics.UpgradeRejected)
		s.log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	client := NewClient(conn, r.RemoteAddr, s.limits.SendQueueSize, s.limits.WriteTimeout)
	if !s.engine.Accept(client) {
		_ = client.Terminate()
		return
	}
	s.clients.Store(client.ID(), client)

	s.log.Debug().
		Str("conn_id", client.ID()).
		Str("remote_addr", client.RemoteAddr()).
		Str("request_id", middleware.GetReqID(r.Context())).
		Msg("client connected")

	go s.handleClient(client)
}

// handleClient runs the read loop of one client and reports every event to
// the engine. It returns once the connection is gone.
func (s *Server) handleClient(client *Client) {
	var readErr error
	defer func() {
		voluntary := websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway)

		switch {
		case !client.IsAlive() || voluntary:
			// closed by us (stop, eviction) or by a clean close handshake
			_ = client.Terminate()
			s.engine.OnClose(client)
		default:
			s.engine.OnError(client, readErr)
		}

		s.clients.Delete(client.ID())
		if s.onDisconnect != nil {
			s.onDisconnect(client, voluntary)
		}
	}()

	client.conn.SetPongHandler(func(string) error {
		s.engine.OnProbeResponse(client)
		return nil
	})

	if s.onConnect != nil {
		s.onConnect(client)
	}

	for {
		_, r, err := client.conn.NextReader()
		if err != nil {
			readErr = err
			return
		}

		data, err := readFrame(r, s.limits.MaxMessageBytes)
		if err != nil {
			readErr = err
			return
		}

		s.engine.OnMessage(client, data)
	}
}

// readFrame reads at most limit+1 bytes of the current message and discards
// the rest, so an oversize frame is detected without buffering it whole.
func readFrame(r io.Reader, limit int) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(data) > limit {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (s *Server) deliverRemote(room string, frame []byte) {
	n := s.engine.Deliver(room, frame)
	s.log.Debug().Str("room", room).Int("delivered", n).Msg("remote frame delivered")
}
