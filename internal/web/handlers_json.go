package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/vitos/crypto_trade_dsl/internal/domain"
	"go.uber.org/zap"
)

type statusView struct {
	StartedAt time.Time      `json:"started_at"`
	Positions int            `json:"positions"`
	Active    int            `json:"active"`
	Errors    int            `json:"errors"`
	States    map[string]int `json:"states"`
	LastCheck *time.Time     `json:"last_check,omitempty"`
}

type positionView struct {
	Key        string                `json:"key"`
	Lifecycle  domain.LifecycleState `json:"lifecycle"`
	State      *domain.PositionState `json:"state"`
	LastResult *domain.CycleResult   `json:"last_result,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view := statusView{StartedAt: s.startedAt, States: map[string]int{}}
	for _, res := range s.latestResults() {
		view.Positions++
		if res.Active {
			view.Active++
		}
		if res.Status == domain.StatusError {
			view.Errors++
		}
		if res.State != "" {
			view.States[string(res.State)]++
		}
		if view.LastCheck == nil || res.CheckedAt.After(*view.LastCheck) {
			t := res.CheckedAt
			view.LastCheck = &t
		}
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.List(r.Context())
	if err != nil {
		// Unreadable files are reported but do not hide the readable ones.
		s.logger.Warn("Some position records could not be listed", zap.Error(err))
	}

	latest := make(map[domain.PositionKey]*domain.CycleResult)
	for _, res := range s.latestResults() {
		latest[domain.PositionKey{StrategyID: res.StrategyID, Asset: res.Asset}] = res
	}

	views := make([]positionView, 0, len(keys))
	for _, key := range keys {
		state, err := s.store.Load(r.Context(), key)
		if err != nil {
			s.logger.Warn("Failed to load position", zap.String("position", key.String()), zap.Error(err))
			continue
		}
		views = append(views, positionView{
			Key:        key.String(),
			Lifecycle:  state.Lifecycle(),
			State:      state,
			LastResult: latest[key],
		})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	key := domain.PositionKey{StrategyID: r.PathValue("strategy"), Asset: r.PathValue("asset")}
	state, err := s.store.Load(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view := positionView{Key: key.String(), Lifecycle: state.Lifecycle(), State: state}
	for _, res := range s.latestResults() {
		if res.StrategyID == key.StrategyID && res.Asset == key.Asset {
			view.LastResult = res
		}
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	key := domain.PositionKey{StrategyID: r.PathValue("strategy"), Asset: r.PathValue("asset")}
	reason := r.URL.Query().Get("reason")

	state, err := s.setup.Deactivate(r.Context(), key, reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, positionView{Key: key.String(), Lifecycle: state.Lifecycle(), State: state})
}

func (s *Server) latestResults() []*domain.CycleResult {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Latest()
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrStateNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrLockHeld):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidState):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
