// ABOUTME: Server assembly: store, rooms, chat service and the HTTP listener
// ABOUTME: Owns startup wiring and graceful shutdown for the serve command

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skillswap/chat-gateway/internal/auth"
	"github.com/skillswap/chat-gateway/internal/chat"
	"github.com/skillswap/chat-gateway/internal/config"
	"github.com/skillswap/chat-gateway/internal/room"
	"github.com/skillswap/chat-gateway/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Server is a fully wired gateway process.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.SQLiteStore
	http   *http.Server
}

// NewServer opens the store and assembles the full request path.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	rooms := room.NewManager(logger)
	service := chat.New(st, rooms, logger)
	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	opts := []Option{WithSendBuffer(cfg.Gateway.SendBuffer)}
	if cfg.Metrics.Enabled {
		opts = append(opts, WithMetrics(NewMetrics(prometheus.DefaultRegisterer)))
	}

	gw := New(rooms, service, verifier, logger, opts...)
	router := gw.Router()
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		store:  st,
		http: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves until ctx is cancelled, then drains connections and closes the
// store.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Server.HTTPAddr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		_ = s.store.Close()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown incomplete", "error", err)
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}
