package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_trade_dsl/internal/domain"
	"go.uber.org/zap"
)

const DefaultPriceTimeout = 5 * time.Second

const (
	closeReasonBreach  = "breach"
	closeReasonPending = "pending_close_retry"
)

// RunController runs one evaluation cycle of one position. It keeps no state
// between cycles: every cycle reloads the persisted record.
type RunController struct {
	store    domain.StateStore
	locker   domain.Locker
	feed     domain.PriceFeed
	executor *CloseExecutor
	tiers    *TierEngine
	floors   *FloorCalculator
	breaches *BreachDetector

	history   domain.HistoryRecorder
	observers []domain.CycleObserver

	priceTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
	newRunID     func() string
}

type Option func(*RunController)

func WithObservers(observers ...domain.CycleObserver) Option {
	return func(c *RunController) { c.observers = append(c.observers, observers...) }
}

func WithHistory(history domain.HistoryRecorder) Option {
	return func(c *RunController) { c.history = history }
}

func WithPriceTimeout(d time.Duration) Option {
	return func(c *RunController) {
		if d > 0 {
			c.priceTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *RunController) { c.now = now }
}

func NewRunController(
	store domain.StateStore,
	locker domain.Locker,
	feed domain.PriceFeed,
	executor *CloseExecutor,
	logger *zap.Logger,
	opts ...Option,
) *RunController {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &RunController{
		store:        store,
		locker:       locker,
		feed:         feed,
		executor:     executor,
		tiers:        NewTierEngine(),
		floors:       NewFloorCalculator(),
		breaches:     NewBreachDetector(),
		priceTimeout: DefaultPriceTimeout,
		logger:       logger,
		now:          time.Now,
		newRunID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunCycle evaluates the position identified by key once. Every failure is
// reported in the returned result; it never returns nil.
func (c *RunController) RunCycle(ctx context.Context, key domain.PositionKey) *domain.CycleResult {
	now := c.now().UTC()
	res := &domain.CycleResult{
		RunID:            c.newRunID(),
		StrategyID:       key.StrategyID,
		Asset:            key.Asset,
		CurrentTierIndex: -1,
		Status:           domain.StatusOK,
		CheckedAt:        now,
	}
	log := c.logger.With(zap.String("run_id", res.RunID), zap.String("position", key.String()))

	release, err := c.locker.TryLock(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			res.Skipped = true
			res.Summary = "cycle skipped: another cycle holds the position lock"
			log.Info("Cycle skipped, lock contended")
			return res
		}
		c.fail(res, domain.ErrorKindLock, fmt.Errorf("acquire lock: %w", err))
		log.Error("Failed to acquire lock", zap.Error(err))
		c.notify(ctx, nil, res)
		return res
	}
	defer release()

	state, err := c.store.Load(ctx, key)
	if err != nil {
		c.fail(res, domain.ErrorKindConfig, fmt.Errorf("load state: %w", err))
		log.Error("Failed to load position state", zap.Error(err))
		c.notify(ctx, nil, res)
		return res
	}
	log = log.With(zap.String("direction", string(state.Direction)))

	switch {
	case !state.Active:
		c.fill(res, state)
		res.Summary = fmt.Sprintf("%s %s inactive (%s), nothing to do", state.Direction, state.Asset, state.Lifecycle())
	case state.PendingClose:
		c.retryClose(ctx, log, state, res, now)
	default:
		c.evaluate(ctx, log, state, res, now)
	}

	c.notify(ctx, state, res)
	return res
}

func (c *RunController) retryClose(ctx context.Context, log *zap.Logger, state *domain.PositionState, res *domain.CycleResult, now time.Time) {
	log.Info("Retrying pending close")
	out := c.executor.Close(ctx, state, closeReasonPending, now)
	state.LastCheckedAt = &now
	state.UpdatedAt = now

	persistErr := c.store.Save(ctx, state)
	c.fill(res, state)
	res.Closed = out.Closed
	if out.Closed {
		res.Summary = fmt.Sprintf("pending close of %s %s completed (%s) after %d attempt(s)",
			state.Direction, state.Asset, out.Status, out.Attempts)
		c.recordHistory(ctx, log, state, state.LastPrice, now)
	} else {
		c.fail(res, domain.ErrorKindClose, out.Err)
		res.Summary = fmt.Sprintf("pending close of %s %s failed again (%d consecutive cycles)",
			state.Direction, state.Asset, state.CloseFailures)
	}
	c.checkPersist(log, res, persistErr)
}

func (c *RunController) evaluate(ctx context.Context, log *zap.Logger, state *domain.PositionState, res *domain.CycleResult, now time.Time) {
	price, err := c.fetchPrice(ctx, state.Asset)
	if err != nil {
		state.ConsecutiveFailures++
		state.LastCheckedAt = &now
		state.UpdatedAt = now
		persistErr := c.store.Save(ctx, state)

		c.fill(res, state)
		res.ROEPct = state.LastROEPct
		res.DistanceToNextTier = c.tiers.DistanceToNextTier(state, state.LastROEPct)
		c.fail(res, domain.ErrorKindFetch, err)
		res.Summary = fmt.Sprintf("price fetch failed for %s (%d consecutive)", state.Asset, state.ConsecutiveFailures)
		log.Warn("Price fetch failed", zap.Int("consecutive_failures", state.ConsecutiveFailures), zap.Error(err))
		c.checkPersist(log, res, persistErr)
		return
	}
	state.ConsecutiveFailures = 0
	state.LastPrice = price

	tier := c.tiers.Apply(state, price)
	floor := c.floors.Apply(state, price)
	breach := c.breaches.Apply(state, price)
	state.LastROEPct = tier.ROEPct

	if tier.TierChanged {
		log.Info("Tier advanced",
			zap.Int("from", tier.PreviousIndex),
			zap.Int("to", state.CurrentTierIndex),
			zap.Float64("roe_pct", tier.ROEPct),
			zap.Float64p("tier_floor", state.TierFloorPrice),
			zap.Int("phase", state.Phase))
	}
	if breach.Breached {
		log.Warn("Floor breached",
			zap.Float64("price", price),
			zap.Float64("floor", floor.Effective),
			zap.Int("count", breach.Count),
			zap.Int("required", breach.Required))
	}

	var out CloseOutcome
	if breach.Triggered {
		out = c.executor.Close(ctx, state, closeReasonBreach, now)
	}

	state.LastCheckedAt = &now
	state.UpdatedAt = now
	persistErr := c.store.Save(ctx, state)

	c.fill(res, state)
	res.Price = price
	res.ROEPct = tier.ROEPct
	res.TrailingFloor = floor.Trailing
	res.TierChanged = tier.TierChanged
	res.Breached = breach.Breached
	res.BreachesRequired = breach.Required
	res.DistanceToNextTier = c.tiers.DistanceToNextTier(state, tier.ROEPct)
	res.Closed = out.Closed

	switch {
	case out.Closed:
		res.Summary = fmt.Sprintf("closed %s %s at %s after %d/%d breaches of floor %s (%s)",
			state.Direction, state.Asset, fmtPrice(price), breach.Count, breach.Required, fmtPrice(floor.Effective), out.Status)
		c.recordHistory(ctx, log, state, price, now)
	case breach.Triggered:
		c.fail(res, domain.ErrorKindClose, out.Err)
		res.Summary = fmt.Sprintf("close of %s %s failed after %d attempt(s), pending close",
			state.Direction, state.Asset, out.Attempts)
	default:
		res.Summary = fmt.Sprintf("%s %s price=%s floor=%s roe=%.2f%% tier=%d phase=%d breaches=%d/%d",
			state.Direction, state.Asset, fmtPrice(price), fmtPrice(floor.Effective), tier.ROEPct,
			state.CurrentTierIndex, state.Phase, breach.Count, breach.Required)
	}
	c.checkPersist(log, res, persistErr)
}

func (c *RunController) fetchPrice(ctx context.Context, asset string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.priceTimeout)
	defer cancel()

	price, err := c.feed.GetPrice(ctx, asset)
	if err != nil {
		return 0, fmt.Errorf("get price %s: %w", asset, err)
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("get price %s: invalid price %v", asset, price)
	}
	return price, nil
}

func (c *RunController) recordHistory(ctx context.Context, log *zap.Logger, state *domain.PositionState, exit float64, now time.Time) {
	if c.history == nil {
		return
	}
	move := exit - state.EntryPrice
	if state.Direction == domain.DirectionShort {
		move = -move
	}
	h := &domain.PositionHistory{
		StrategyID:  state.StrategyID,
		WalletID:    state.WalletID,
		Asset:       state.Asset,
		Direction:   state.Direction,
		Size:        state.Size,
		EntryPrice:  state.EntryPrice,
		ExitPrice:   exit,
		RealizedPnL: move * state.Size,
		Leverage:    state.Leverage,
		TierIndex:   state.CurrentTierIndex,
		Reason:      state.CloseReason,
		ClosedAt:    now,
	}
	if err := c.history.SavePositionHistory(ctx, h); err != nil {
		log.Error("Failed to save position history", zap.Error(err))
	}
}

// fill copies the persisted view of state into the result.
func (c *RunController) fill(res *domain.CycleResult, state *domain.PositionState) {
	res.Direction = state.Direction
	res.State = state.Lifecycle()
	res.Active = state.Active
	res.PendingClose = state.PendingClose
	res.CurrentBreachCount = state.CurrentBreachCount
	res.BreachesRequired = state.BreachesRequired()
	res.ConsecutiveFailures = state.ConsecutiveFailures
	res.CloseFailures = state.CloseFailures
	res.Phase = state.Phase
	res.FloorPrice = state.FloorPrice
	res.TierFloorPrice = state.TierFloorPrice
	res.HighWaterPrice = state.HighWaterPrice
	res.CurrentTierIndex = state.CurrentTierIndex
}

func (c *RunController) fail(res *domain.CycleResult, kind domain.ErrorKind, err error) {
	res.Status = domain.StatusError
	res.ErrorKind = kind
	if err != nil {
		res.Error = err.Error()
	}
	if res.Summary == "" && err != nil {
		res.Summary = err.Error()
	}
}

// checkPersist downgrades the result when the atomic save failed. The
// close flags are kept because they describe what happened on the exchange.
func (c *RunController) checkPersist(log *zap.Logger, res *domain.CycleResult, err error) {
	if err == nil {
		return
	}
	log.Error("Failed to persist position state", zap.Error(err))
	prev := res.Error
	c.fail(res, domain.ErrorKindPersist, fmt.Errorf("save state: %w", err))
	if prev != "" {
		res.Error = prev + "; " + res.Error
	}
	res.Summary += " (state not persisted)"
}

func (c *RunController) notify(ctx context.Context, state *domain.PositionState, res *domain.CycleResult) {
	for _, o := range c.observers {
		o.ObserveCycle(ctx, state, res)
	}
}

func fmtPrice(v float64) string {
	return decFromFloat(v).Round(8).String()
}
