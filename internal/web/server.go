package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/camuig/autotrader/internal/config"
	"github.com/camuig/autotrader/internal/domain"
	"github.com/camuig/autotrader/internal/logger"
	"github.com/camuig/autotrader/internal/observability"
	"github.com/camuig/autotrader/internal/storage"
)

// Strategies is the orchestrator surface exposed over HTTP.
type Strategies interface {
	Deploy(ctx context.Context, cfg domain.DeploymentConfig) (domain.InstanceSnapshot, error)
	Pause(strategyID string) (domain.InstanceSnapshot, error)
	Resume(strategyID string) (domain.InstanceSnapshot, error)
	Stop(strategyID string) (domain.InstanceSnapshot, error)
	Status(strategyID string) (domain.InstanceSnapshot, error)
	List() []domain.InstanceSnapshot
}

type Orders interface {
	Cancel(ctx context.Context, id string) (*domain.Order, error)
}

type Store interface {
	storage.OrderStore
	storage.BacktestStore
	storage.TickLogStore
	storage.SnapshotStore
}

type Server struct {
	httpServer *http.Server
	strategies Strategies
	orders     Orders
	store      Store
	runtime    *config.Runtime
	metrics    *observability.Metrics
	port       int
	logger     *logger.Logger
}

func NewServer(strategies Strategies, orders Orders, store Store, runtime *config.Runtime, metrics *observability.Metrics, cfg config.WebConfig, log *logger.Logger) *Server {
	s := &Server{
		strategies: strategies,
		orders:     orders,
		store:      store,
		runtime:    runtime,
		metrics:    metrics,
		port:       cfg.Port,
		logger:     log,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /api/strategies", s.handleListStrategies)
	mux.HandleFunc("POST /api/strategies", s.handleDeploy)
	mux.HandleFunc("GET /api/strategies/{id}", s.handleStrategy)
	mux.HandleFunc("POST /api/strategies/{id}/pause", s.handleLifecycle(s.strategies.Pause))
	mux.HandleFunc("POST /api/strategies/{id}/resume", s.handleLifecycle(s.strategies.Resume))
	mux.HandleFunc("POST /api/strategies/{id}/stop", s.handleLifecycle(s.strategies.Stop))
	mux.HandleFunc("GET /api/strategies/{id}/ticks", s.handleTicks)

	mux.HandleFunc("GET /api/orders", s.handleOrders)
	mux.HandleFunc("POST /api/orders/{id}/cancel", s.handleCancelOrder)
	mux.HandleFunc("GET /api/backtests", s.handleBacktests)
	mux.HandleFunc("GET /api/portfolios/{id}/snapshot", s.handleSnapshot)

	mux.HandleFunc("GET /api/runtime", s.handleRuntime)
	mux.HandleFunc("PUT /api/runtime", s.handleUpdateRuntime)
	return mux
}

func (s *Server) Start() error {
	s.logger.Info("web server starting", "port", s.port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
