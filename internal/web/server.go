package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vitos/crypto_trade_dsl/internal/domain"
	"github.com/vitos/crypto_trade_dsl/internal/infrastructure/metrics"
	"github.com/vitos/crypto_trade_dsl/internal/usecase"
	"go.uber.org/zap"
)

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	watcher   *usecase.Watcher
	store     domain.StateStore
	setup     *usecase.PositionSetup
	logger    *zap.Logger
	startedAt time.Time
}

func NewServer(
	port int,
	watcher *usecase.Watcher,
	store domain.StateStore,
	setup *usecase.PositionSetup,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		watcher:   watcher,
		store:     store,
		setup:     setup,
		logger:    logger,
		startedAt: time.Now().UTC(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)

	// Positions
	s.router.HandleFunc("GET /positions", s.handleListPositions)
	s.router.HandleFunc("GET /positions/{strategy}/{asset}", s.handleGetPosition)
	s.router.HandleFunc("POST /positions/{strategy}/{asset}/deactivate", s.handleDeactivate)

	// Metrics
	s.router.Handle("GET /metrics", metrics.Handler())
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
