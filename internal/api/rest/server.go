package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"triarb/internal/arbitrage"
	"triarb/internal/config"
	"triarb/internal/infra/health"
	"triarb/internal/infra/http/middleware"
	"triarb/internal/infra/log"
	"triarb/internal/infra/metrics"
	"triarb/internal/infra/netutil"
	"triarb/internal/infra/version"
)

// StatusSource reports the scanner state for /status.
type StatusSource interface {
	Status() arbitrage.Status
}

// Server is the admin HTTP surface: probes, version, metrics and status.
// Metrics, status and pprof are restricted to the configured CIDRs.
type Server struct {
	cfg    config.Config
	srv    *http.Server
	logger log.Logger
}

func New(cfg config.Config, reg *prometheus.Registry, status StatusSource, logger log.Logger) *Server {
	logger = logger.With().Str("component", "admin").Logger()
	allowed, invalid := netutil.ParseCIDRs(cfg.Server.AdminAllowCIDRs)
	if len(invalid) > 0 {
		logger.Warn().Strs("cidrs", invalid).Msg("ignoring invalid admin CIDRs")
	}
	gate := func(h http.Handler) http.Handler { return middleware.AdminGate(allowed, h) }

	mux := http.NewServeMux()
	mux.Handle("/metrics", gate(metrics.Handler(reg)))
	mux.HandleFunc("/healthz", health.Healthz)
	mux.HandleFunc("/readyz", health.Readyz)
	mux.HandleFunc("/version", version.Handler)
	mux.Handle("/status", gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status.Status())
	})))
	if cfg.Server.Pprof {
		mux.Handle("/debug/pprof/", gate(http.HandlerFunc(pprof.Index)))
		mux.Handle("/debug/pprof/cmdline", gate(http.HandlerFunc(pprof.Cmdline)))
		mux.Handle("/debug/pprof/profile", gate(http.HandlerFunc(pprof.Profile)))
		mux.Handle("/debug/pprof/symbol", gate(http.HandlerFunc(pprof.Symbol)))
		mux.Handle("/debug/pprof/trace", gate(http.HandlerFunc(pprof.Trace)))
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		srv: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           middleware.RequestID(middleware.Logger(logger)(mux)),
			ReadHeaderTimeout: 2 * time.Second,
			ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
			WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
			IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
		},
	}
}

func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("admin server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}
	return nil
}
