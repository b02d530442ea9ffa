// Package server is the HTTP surface of the bot: the LINE webhook, the
// OAuth consent redirect, and health probes. Work triggered by a webhook
// runs asynchronously on the Dispatcher so LINE always gets a fast 200.
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

const (
	defaultReadHeaderTimeout = 10 * time.Second
	readyTimeout             = 2 * time.Second
	maxWebhookBody           = 1 << 20
)

// ConsentCompleter finishes an OAuth consent started from a chat prompt.
type ConsentCompleter interface {
	Complete(ctx context.Context, state, code string) (string, error)
}

// Pinger reports whether the durable store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures a Server.
type Config struct {
	Listen            string
	ChannelSecret     string
	ReadHeaderTimeout time.Duration
}

// Server routes HTTP requests to the bot.
type Server struct {
	cfg        Config
	dispatcher *Dispatcher
	consent    ConsentCompleter
	store      Pinger
	logger     *slog.Logger
	httpServer *http.Server
}

// New creates a Server. Nothing listens until Serve or ListenAndServe.
func New(cfg Config, dispatcher *Dispatcher, consent ConsentCompleter, store Pinger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaultReadHeaderTimeout
	}

	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		consent:    consent,
		store:      store,
		logger:     logger,
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	return s
}

// Handler returns the routed handler wrapped in request id and logging
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /callback", s.handleWebhook)
	mux.HandleFunc("GET "+ConsentCallbackPath, s.handleConsentCallback)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	var handler http.Handler = mux
	handler = loggingMiddleware(handler, s.logger)
	handler = requestIDMiddleware(handler)

	return handler
}

// ListenAndServe binds cfg.Listen and serves until Shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("server: binding %s: %w", s.cfg.Listen, err)
	}

	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http server listening", slog.String("addr", ln.Addr().String()))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serving: %w", err)
	}

	return nil
}

// Shutdown stops accepting requests, then waits for dispatched work to
// finish, both bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	httpErr := s.httpServer.Shutdown(ctx)
	if httpErr != nil {
		s.logger.Warn("http server shutdown error", slog.String("error", httpErr.Error()))
	}

	drainErr := s.dispatcher.Wait(ctx)
	if drainErr != nil {
		s.logger.Warn("in-flight work did not finish before shutdown deadline",
			slog.String("error", drainErr.Error()),
		)
	}

	return errors.Join(httpErr, drainErr)
}
