// ABOUTME: HTTP server orchestrating the webhook, tenant router and background jobs
// ABOUTME: Routes the health path to a static OK and everything else to ingest

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"tailscale.com/tsnet"

	"github.com/2389/coven-webhook/internal/config"
	"github.com/2389/coven-webhook/internal/dedupe"
	"github.com/2389/coven-webhook/internal/kv"
	"github.com/2389/coven-webhook/internal/scheduler"
	"github.com/2389/coven-webhook/internal/telegram"
	"github.com/2389/coven-webhook/internal/tenant"
	"github.com/2389/coven-webhook/internal/webhook"
)

// Acknowledged updates are remembered this long; Telegram stops redelivering
// well before.
const (
	dedupeTTL      = 10 * time.Minute
	dedupeMaxSize  = 100_000
	dedupeInterval = time.Minute
)

// Server owns the HTTP listener and every component behind it.
type Server struct {
	config      *config.Config
	router      *tenant.Router
	webhook     *webhook.Service
	dedupe      *dedupe.Cache
	scheduler   *scheduler.Scheduler
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// New creates a Server from cfg. When acknowledgements are enabled it
// authorizes the bot token against the Bot API.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	var notifier telegram.Notifier
	if cfg.Telegram.AckEnabled {
		bot, err := telegram.NewBotNotifier(cfg.Telegram.BotToken, cfg.Telegram.APIEndpoint, logger.With("component", "telegram"))
		if err != nil {
			return nil, err
		}
		notifier = bot
	}
	return newServer(cfg, logger, notifier)
}

func newServer(cfg *config.Config, logger *slog.Logger, notifier telegram.Notifier) (*Server, error) {
	open, err := kv.Backend(cfg.Storage.Backend)
	if err != nil {
		return nil, err
	}

	router := tenant.New(cfg.Storage.BasePath, open, logger.With("component", "tenant-router"))
	if cfg.Storage.Preload {
		if err := router.Preload(context.Background()); err != nil {
			router.Close()
			return nil, fmt.Errorf("preloading tenant stores: %w", err)
		}
	}

	s := &Server{
		config: cfg,
		router: router,
		logger: logger.With("component", "server"),
	}

	hookCfg := webhook.Config{
		Router:       router,
		Logger:       logger.With("component", "webhook"),
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	if notifier != nil {
		s.dedupe = dedupe.New(dedupeTTL, dedupeMaxSize, dedupeInterval)
		hookCfg.Notifier = notifier
		hookCfg.AckText = cfg.Telegram.AckText
		hookCfg.Dedupe = s.dedupe
	}
	s.webhook = webhook.New(hookCfg)

	if cfg.Report.Schedule != "" {
		s.scheduler, err = scheduler.New(cfg.Report.Schedule, router, logger.With("component", "scheduler"))
		if err != nil {
			s.closeComponents()
			return nil, err
		}
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	return s, nil
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.config.Server.HealthPath, s.handleHealth)
	mux.Handle("/", s.webhook)
	return mux
}

// Router exposes the tenant router.
func (s *Server) Router() *tenant.Router {
	return s.router
}

// setupListener returns a Tailscale listener when enabled, otherwise TCP.
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		s.logger.Debug("server.http_addr is ignored when tailscale is enabled", "http_addr", s.config.Server.HTTPAddr)
		return s.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// Run serves until ctx is canceled or the listener fails, then shuts down.
// Returns nil after a graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		s.closeComponents()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if s.scheduler != nil {
		s.scheduler.Start()
	}

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	// The run context is already canceled; shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, waits for in-flight work and closes
// every tenant store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	errs = append(errs, s.closeComponents()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// closeComponents releases everything except the HTTP server.
func (s *Server) closeComponents() []error {
	var errs []error

	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.webhook != nil {
		s.webhook.Wait()
	}
	if s.dedupe != nil {
		s.dedupe.Close()
	}
	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "tenant stores close", s.router.Close())
	return errs
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("healthy"))
}
