package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/camuig/autotrader/internal/config"
	"github.com/camuig/autotrader/internal/domain"
)

const defaultListLimit = 50

type errorResponse struct {
	Error   string   `json:"error"`
	Reasons []string `json:"reasons,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	list := s.strategies.List()
	counts := make(map[domain.InstanceStatus]int)
	for _, inst := range list {
		counts[inst.Status]++
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"strategies": counts,
		"runtime":    s.runtime.Snapshot(),
	})
}

func (s *Server) handleListStrategies(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.strategies.List())
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var cfg domain.DeploymentConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json: " + err.Error()})
		return
	}
	snap, err := s.strategies.Deploy(r.Context(), cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	snap, err := s.strategies.Status(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLifecycle(fn func(id string) (domain.InstanceSnapshot, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := fn(r.PathValue("id"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, snap)
	}
}

func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.RecentTickLogs(r.Context(), r.PathValue("id"), limitParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.OrderFilter{
		PortfolioID: q.Get("portfolio_id"),
		StrategyID:  q.Get("strategy_id"),
		Symbol:      strings.ToUpper(q.Get("symbol")),
		Limit:       limitParam(r),
	}
	for _, st := range strings.Split(q.Get("status"), ",") {
		if st = strings.TrimSpace(st); st != "" {
			f.Statuses = append(f.Statuses, domain.OrderStatus(strings.ToUpper(st)))
		}
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: name + " must be RFC3339"})
				return
			}
			*dst = t
		}
	}

	orders, err := s.store.ListOrders(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleBacktests(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListBacktests(r.Context(), r.URL.Query().Get("strategy_id"), limitParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.LatestSnapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRuntime(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.runtime.Snapshot())
}

// handleUpdateRuntime merges the request body over the current settings, so
// a partial document only changes the fields it names.
func (s *Server) handleUpdateRuntime(w http.ResponseWriter, r *http.Request) {
	next := s.runtime.Snapshot()
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json: " + err.Error()})
		return
	}
	if err := next.Validate(); err != nil {
		s.writeError(w, err)
		return
	}
	updated := s.runtime.Update(func(c *config.RuntimeConfig) { *c = next })
	s.logger.Info("runtime config updated",
		"enabled", updated.Enabled,
		"auto_execution", updated.AutoExecution,
		"minimum_confidence", updated.MinimumConfidence,
		"maximum_risk_level", updated.MaximumRiskLevel,
	)
	s.writeJSON(w, http.StatusOK, updated)
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return n
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Reasons: verr.Reasons})
	case errors.Is(err, domain.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrAlreadyDeployed), errors.Is(err, domain.ErrInvalidTransition):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("api request failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}
