package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// HTTPServer runs an http.Server as a suture service.
type HTTPServer struct {
	addr    string
	handler http.Handler
	ready   chan net.Addr
}

func NewHTTPServer(addr string, h http.Handler) *HTTPServer {
	return &HTTPServer{addr: addr, handler: h, ready: make(chan net.Addr, 1)}
}

// Ready delivers the bound address once the listener is open.
func (s *HTTPServer) Ready() <-chan net.Addr { return s.ready }

// Serve listens until ctx is done, then shuts down gracefully.
func (s *HTTPServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	select {
	case s.ready <- ln.Addr():
	default:
	}
	slog.Info("api listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("api shutdown", "error", err)
		}
		return ctx.Err()
	}
}

func (s *HTTPServer) String() string { return "http-api" }
