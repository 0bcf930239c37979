package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vitos/crypto_trade_dsl/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultCloseAttempts = 3
	DefaultCloseBackoff  = 500 * time.Millisecond
	DefaultCloseTimeout  = 10 * time.Second
)

type CloseConfig struct {
	Attempts int
	Backoff  time.Duration // waits Backoff*n before attempt n+1
	Timeout  time.Duration // per attempt
}

// CloseOutcome is the result of one bounded close run.
type CloseOutcome struct {
	Closed   bool
	Status   domain.CloseStatus
	Attempts int
	Err      error
}

// CloseExecutor drives the position-closing service with a bounded number of
// attempts and records the outcome on the position state.
type CloseExecutor struct {
	closer domain.PositionCloser
	cfg    CloseConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewCloseExecutor(closer domain.PositionCloser, cfg CloseConfig, logger *zap.Logger) *CloseExecutor {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultCloseAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCloseTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloseExecutor{
		closer: closer,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Close attempts to close the position and applies the outcome:
// success deactivates it, exhaustion leaves it active with pending_close set.
func (e *CloseExecutor) Close(ctx context.Context, state *domain.PositionState, reason string, now time.Time) CloseOutcome {
	req := domain.CloseRequest{
		WalletID:   state.WalletID,
		StrategyID: state.StrategyID,
		Asset:      state.Asset,
		Direction:  state.Direction,
		Size:       state.Size,
	}
	log := e.logger.With(
		zap.String("strategy", state.StrategyID),
		zap.String("asset", state.Asset),
		zap.String("direction", string(state.Direction)),
		zap.String("reason", reason),
	)

	var out CloseOutcome
	var errs []error
	for attempt := 1; attempt <= e.cfg.Attempts; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, e.cfg.Backoff*time.Duration(attempt-1)); err != nil {
				errs = append(errs, err)
				break
			}
		}
		out.Attempts = attempt

		status, err := e.attempt(ctx, req)
		if err == nil {
			out.Closed = true
			out.Status = status
			break
		}
		errs = append(errs, fmt.Errorf("attempt %d: %w", attempt, err))
		log.Warn("Close attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}

	if out.Closed {
		state.Active = false
		state.PendingClose = false
		state.CloseFailures = 0
		state.CloseReason = reason
		if out.Status == domain.CloseStatusAlreadyClosed {
			state.CloseReason = reason + "/" + string(domain.CloseStatusAlreadyClosed)
		}
		closedAt := now
		state.ClosedAt = &closedAt
		log.Info("Position closed", zap.String("status", string(out.Status)), zap.Int("attempts", out.Attempts))
		return out
	}

	out.Err = errors.Join(errs...)
	state.PendingClose = true
	state.CloseFailures++
	log.Error("Close failed, will retry next cycle",
		zap.Int("attempts", out.Attempts),
		zap.Int("close_failures", state.CloseFailures),
		zap.Error(out.Err))
	return out
}

func (e *CloseExecutor) attempt(ctx context.Context, req domain.CloseRequest) (domain.CloseStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	status, err := e.closer.ClosePosition(ctx, req)
	if err != nil {
		return "", err
	}
	switch status {
	case domain.CloseStatusClosed, domain.CloseStatusAlreadyClosed:
		return status, nil
	default:
		return "", fmt.Errorf("unexpected close status %q", status)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
