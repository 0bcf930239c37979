package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vitos/crypto_trade_dsl/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWatchInterval    = 30 * time.Second
	DefaultWatchConcurrency = 4
)

// Watcher is a simple in-process scheduler: on every tick it runs one cycle
// for each record in the store. Results are kept only for display.
type Watcher struct {
	controller  *RunController
	store       domain.StateStore
	interval    time.Duration
	concurrency int
	logger      *zap.Logger

	mu     sync.RWMutex
	latest map[domain.PositionKey]*domain.CycleResult
}

func NewWatcher(controller *RunController, store domain.StateStore, interval time.Duration, concurrency int, logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	if concurrency <= 0 {
		concurrency = DefaultWatchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		controller:  controller,
		store:       store,
		interval:    interval,
		concurrency: concurrency,
		logger:      logger,
		latest:      make(map[domain.PositionKey]*domain.CycleResult),
	}
}

// Run ticks until ctx is done. A tick in progress is allowed to finish.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("Starting watcher", zap.Duration("interval", w.interval), zap.Int("concurrency", w.concurrency))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.RunOnce(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info("Watcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce evaluates every stored position once.
func (w *Watcher) RunOnce(ctx context.Context) []*domain.CycleResult {
	keys, err := w.store.List(ctx)
	if err != nil {
		w.logger.Error("Failed to list some position records", zap.Error(err))
	}

	// Cycles are never cancelled halfway; shutdown only stops future ticks.
	cycleCtx := context.WithoutCancel(ctx)
	results := make([]*domain.CycleResult, len(keys))

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			results[i] = w.controller.RunCycle(cycleCtx, key)
			return nil
		})
	}
	_ = g.Wait()

	w.mu.Lock()
	for _, r := range results {
		w.latest[domain.PositionKey{StrategyID: r.StrategyID, Asset: r.Asset}] = r
	}
	w.mu.Unlock()

	for _, r := range results {
		if r.Status == domain.StatusError {
			w.logger.Warn("Cycle reported error",
				zap.String("strategy", r.StrategyID),
				zap.String("asset", r.Asset),
				zap.String("kind", string(r.ErrorKind)),
				zap.String("summary", r.Summary))
		}
	}
	return results
}

// Latest returns the most recent result of every position, sorted by key.
func (w *Watcher) Latest() []*domain.CycleResult {
	w.mu.RLock()
	out := make([]*domain.CycleResult, 0, len(w.latest))
	for _, r := range w.latest {
		out = append(out, r)
	}
	w.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StrategyID != out[j].StrategyID {
			return out[i].StrategyID < out[j].StrategyID
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}
