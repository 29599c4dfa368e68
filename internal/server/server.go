// Package server runs the HTTP API on TCP and, optionally, a unix socket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"
)

type Config struct {
	Addr            string
	SocketPath      string
	Handler         http.Handler
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

type Server struct {
	cfg    Config
	logger *slog.Logger
	http   *http.Server
	tcpLn  net.Listener
	unixLn net.Listener
}

// New binds the listeners so that Addr reports the real port when Addr
// ends in :0.
func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, errors.New("addr required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := cfg.Handler
	if h == nil {
		h = http.NewServeMux()
	}

	tcpLn, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("tcp listen: %w", err)
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		http: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		tcpLn: tcpLn,
	}

	if cfg.SocketPath != "" {
		// A socket file left by a previous run blocks the bind.
		if err := os.Remove(cfg.SocketPath); err != nil && !os.IsNotExist(err) {
			tcpLn.Close()
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		ln, err := net.Listen("unix", cfg.SocketPath)
		if err != nil {
			tcpLn.Close()
			return nil, fmt.Errorf("unix listen: %w", err)
		}
		if err := os.Chmod(cfg.SocketPath, 0o660); err != nil {
			ln.Close()
			tcpLn.Close()
			return nil, fmt.Errorf("chmod socket: %w", err)
		}
		s.unixLn = ln
	}
	return s, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 2)
	serve := func(ln net.Listener) {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}
	go serve(s.tcpLn)
	if s.unixLn != nil {
		go serve(s.unixLn)
	}
	s.logger.Info("listening", "addr", s.Addr(), "socket", s.cfg.SocketPath)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := s.Shutdown(shutdownCtx)
	return errors.Join(serveErr, err)
}

// Shutdown stops accepting connections and waits for in-flight requests.
// It also releases listeners that were never served.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.tcpLn.Close()
	if s.unixLn != nil {
		s.unixLn.Close()
	}
	if s.cfg.SocketPath != "" {
		if rmErr := os.Remove(s.cfg.SocketPath); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = rmErr
		}
	}
	return err
}

// Addr returns the bound TCP address.
func (s *Server) Addr() string {
	return s.tcpLn.Addr().String()
}

// SocketPath returns the configured socket path, or empty if not configured.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}
