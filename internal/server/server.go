// ABOUTME: Assembles the livedesk server from config: store, tenants, websockets, HTTP
// ABOUTME: Owns startup order and graceful shutdown

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/livedesk/internal/auth"
	"github.com/2389/livedesk/internal/blob"
	"github.com/2389/livedesk/internal/config"
	"github.com/2389/livedesk/internal/events"
	"github.com/2389/livedesk/internal/imaging"
	"github.com/2389/livedesk/internal/metrics"
	"github.com/2389/livedesk/internal/store"
	"github.com/2389/livedesk/internal/tenant"
	"github.com/2389/livedesk/internal/ws"
)

// Server is the fully wired livedesk process.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	events   events.Publisher
	registry *tenant.Registry
	httpSrv  *http.Server
}

// New builds the server: opens the store, recovers stranded talks, and wires
// every tenant runtime behind the websocket endpoints.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	storage, err := blob.NewDiskStorage(cfg.Files.Dir, cfg.Files.BaseURL)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening file storage: %w", err)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.URL != "" {
		publisher, err = events.NewAMQPPublisher(cfg.Events.URL, cfg.Events.Exchange, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("connecting event broker: %w", err)
		}
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(promReg)

	registry, err := tenant.NewRegistry(ctx, tenant.Config{
		Store:         st,
		Images:        imaging.NewProcessor(storage, logger),
		FileURL:       storage.URL,
		Events:        publisher,
		Metrics:       m,
		Logger:        logger,
		Mode:          cfg.Dispatch.Mode,
		MaxPerAgent:   cfg.Dispatch.MaxPerAgent,
		ConnectLimit:  cfg.Presence.ConnectLimit,
		CustomerGrace: cfg.Presence.CustomerGrace,
	})
	if err != nil {
		publisher.Close()
		st.Close()
		return nil, fmt.Errorf("building tenant registry: %w", err)
	}

	authn := auth.NewAuthenticator(st, []byte(cfg.Auth.JWTSecret), cfg.Auth.SessionTTL, logger)

	mux := http.NewServeMux()
	ws.NewServer(registry, authn, logger).Register(mux)
	mux.Handle("/files/", http.StripPrefix("/files/", http.FileServer(http.Dir(cfg.Files.Dir))))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"tenants": len(registry.All()),
		})
	})
	mux.HandleFunc("POST /admin/articles/reload", func(w http.ResponseWriter, r *http.Request) {
		if err := registry.ReloadArticles(r.URL.Query().Get("tenant")); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	}

	return &Server{
		cfg:      cfg,
		logger:   logger.With("component", "server"),
		store:    st,
		events:   publisher,
		registry: registry,
		httpSrv: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http listening", "addr", s.cfg.Server.HTTPAddr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown", "error", err)
	}
	if err := s.events.Close(); err != nil {
		s.logger.Error("event publisher close", "error", err)
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}
