// Package embedded runs the whole reservation service in-process: store,
// sweeper, event emitter, websocket hub and HTTP API.
package embedded

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/auth"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/config"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/events"
	httpapi "github.com/joyshmitz/flywheel-gateway-sub010/internal/http"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/reservation"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/server"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/ws"
)

// Config configures the embedded server.
type Config struct {
	// Addr is the TCP listen address. Defaults to 127.0.0.1:7340; use port 0
	// for an ephemeral port.
	Addr       string
	SocketPath string

	Reservations reservation.Config

	EventBufferSize  int
	BreakerThreshold int
	BreakerReset     time.Duration

	// KeysFile enables API key auth when set. Without it every caller is
	// treated as local.
	KeysFile string

	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// FromConfig maps a loaded service configuration onto Config.
func FromConfig(c config.Config, logger *slog.Logger) Config {
	return Config{
		Addr:             c.Server.Addr,
		SocketPath:       c.Server.SocketPath,
		Reservations:     c.StoreConfig(),
		EventBufferSize:  c.Events.BufferSize,
		BreakerThreshold: c.Events.BreakerThreshold,
		BreakerReset:     c.Events.BreakerReset,
		KeysFile:         c.Auth.KeysFile,
		ShutdownTimeout:  c.Server.ShutdownTimeout,
		Logger:           logger,
	}
}

// httpServer is the part of server.Server that the embedded stack drives.
type httpServer interface {
	Run(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Addr() string
}

// Server is an embedded reservation service.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	store   *reservation.Store
	hub     *ws.Hub
	emitter *events.Emitter
	http    httpServer

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

// New assembles the stack and binds the listeners. Nothing runs until Start
// or Run.
func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = config.DefaultAddr
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ring := auth.NewKeyring(true, nil)
	if cfg.KeysFile != "" {
		var err error
		if ring, err = auth.LoadKeyring(cfg.KeysFile); err != nil {
			return nil, fmt.Errorf("load auth: %w", err)
		}
	}

	hub := ws.NewHub(logger.With("component", "ws"))
	opts := []events.EmitterOption{events.WithLogger(logger.With("component", "events"))}
	if cfg.EventBufferSize > 0 {
		opts = append(opts, events.WithBufferSize(cfg.EventBufferSize))
	}
	if cfg.BreakerThreshold > 0 {
		opts = append(opts, events.WithBreaker(cfg.BreakerThreshold, cfg.BreakerReset))
	}
	emitter := events.NewEmitter(hub, opts...)

	store := reservation.NewStore(
		reservation.WithConfig(cfg.Reservations),
		reservation.WithSink(emitter),
		reservation.WithLogger(logger.With("component", "reservations")),
	)
	router := httpapi.NewRouter(httpapi.NewService(store, logger.With("component", "http")), hub.Handler(), auth.Middleware(ring))

	httpSrv, err := server.New(server.Config{
		Addr:            cfg.Addr,
		SocketPath:      cfg.SocketPath,
		Handler:         router,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})
	if err != nil {
		emitter.Close()
		return nil, fmt.Errorf("init server: %w", err)
	}

	return &Server{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		hub:     hub,
		emitter: emitter,
		http:    httpSrv,
	}, nil
}

// Start runs the server in the background. Calling it twice is a no-op. A
// stopped Server cannot be started again.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return nil
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.runErr = s.run(ctx)
	}()
	return nil
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		select {
		case <-ctx.Done():
		case <-done:
		}
	}
	return s.Stop()
}

// Stop shuts down the HTTP server, then the sweeper, then flushes pending
// events. It releases the listeners even if the server never started.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started, cancel, done := s.started, s.cancel, s.done
	s.mu.Unlock()

	if !started {
		s.emitter.Close()
		return s.http.Shutdown(context.Background())
	}
	cancel()
	<-done
	return s.runErr
}

func (s *Server) run(ctx context.Context) error {
	s.store.StartCleanupJob(ctx)
	err := s.http.Run(ctx)
	s.store.StopCleanupJob()
	s.emitter.Close()
	if dropped := s.emitter.Dropped(); dropped > 0 {
		s.logger.Warn("events dropped during run", "dropped", dropped)
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Addr returns the bound TCP address.
func (s *Server) Addr() string { return s.http.Addr() }

// URL returns the base URL for the server.
func (s *Server) URL() string { return "http://" + s.http.Addr() }

// Store returns the reservation store for direct in-process calls.
func (s *Server) Store() *reservation.Store { return s.store }

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub { return s.hub }
