// Package api exposes the configurator conversation over HTTP.
//
// Every JSON endpoint answers with the models.APIResponse envelope. The
// report export endpoint streams the rendered TXT or YAML file instead.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spapperi/configurator/internal/export"
	"github.com/spapperi/configurator/internal/flow"
	"github.com/spapperi/configurator/internal/store"
)

const (
	// DefaultServerAddr is the default address the HTTP API listens on.
	DefaultServerAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout bounds reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// MaxRequestBodyBytes caps JSON request bodies.
	MaxRequestBodyBytes = 1 << 20
)

// Conversations is the part of flow.Machine the API drives.
type Conversations interface {
	Start(ctx context.Context, conversationID string) (flow.Reply, error)
	SubmitAnswer(ctx context.Context, conversationID, text string) (flow.Reply, error)
	Abandon(ctx context.Context, conversationID string) error
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr     string
	Gatherer prometheus.Gatherer
	Webhook  http.Handler
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithMetrics serves the gatherer's metrics on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(o *Opts) {
		o.Gatherer = g
	}
}

// WithTwilioWebhook mounts the Twilio inbound webhook on /webhooks/twilio.
func WithTwilioWebhook(h http.Handler) Option {
	return func(o *Opts) {
		o.Webhook = h
	}
}

// Server holds the collaborators of the HTTP handlers.
type Server struct {
	conversations Conversations
	st            store.Store
	exporter      *export.Writer
	opts          Opts
}

// NewServer creates a Server.
func NewServer(conversations Conversations, st store.Store, exporter *export.Writer, opts ...Option) *Server {
	o := Opts{Addr: DefaultServerAddr}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{conversations: conversations, st: st, exporter: exporter, opts: o}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.chatHandler)
	mux.HandleFunc("POST /api/conversation", s.startConversationHandler)
	mux.HandleFunc("GET /api/conversation/{id}", s.getConversationHandler)
	mux.HandleFunc("GET /api/conversation/{id}/history", s.historyHandler)
	mux.HandleFunc("GET /api/conversation/{id}/export", s.exportHandler)
	mux.HandleFunc("POST /api/conversation/{id}/abandon", s.abandonHandler)
	mux.HandleFunc("GET /api/phases", s.phasesHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	if s.opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.opts.Webhook != nil {
		mux.Handle("POST /webhooks/twilio", s.opts.Webhook)
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	slog.Info("API server stopped")
	return nil
}
