package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vitos/crypto_trade_dsl/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultPhase1Breaches = 3
	DefaultPhase2Breaches = 1
)

// PositionSpec is the input of the setup step that starts monitoring a position.
type PositionSpec struct {
	StrategyID  string              `yaml:"strategy_id" json:"strategy_id"`
	WalletID    string              `yaml:"wallet_id" json:"wallet_id"`
	Asset       string              `yaml:"asset" json:"asset"`
	Direction   domain.Direction    `yaml:"direction" json:"direction"`
	Leverage    float64             `yaml:"leverage" json:"leverage"`
	EntryPrice  float64             `yaml:"entry_price" json:"entry_price"`
	Size        float64             `yaml:"size" json:"size"`
	BreachDecay domain.DecayMode    `yaml:"breach_decay" json:"breach_decay"`
	Phase1      Phase1Spec          `yaml:"phase1" json:"phase1"`
	Phase2      domain.Phase2Config `yaml:"phase2" json:"phase2"`
	Tiers       []domain.Tier       `yaml:"tiers" json:"tiers"`
}

type Phase1Spec struct {
	RetraceThreshold            float64 `yaml:"retrace_threshold" json:"retrace_threshold"`
	ConsecutiveBreachesRequired int     `yaml:"consecutive_breaches_required" json:"consecutive_breaches_required"`
	AbsoluteFloor               float64 `yaml:"absolute_floor" json:"absolute_floor"`
	// MaxLossPct derives the absolute floor as an ROE loss when AbsoluteFloor is 0.
	MaxLossPct float64 `yaml:"max_loss_pct" json:"max_loss_pct"`
}

// BuildState turns a spec into a fresh, validated position state.
func BuildState(spec PositionSpec, now time.Time) (*domain.PositionState, error) {
	state := &domain.PositionState{
		SchemaVersion: domain.SchemaVersion,
		StrategyID:    strings.TrimSpace(spec.StrategyID),
		WalletID:      strings.TrimSpace(spec.WalletID),
		Asset:         strings.ToUpper(strings.TrimSpace(spec.Asset)),
		Direction:     domain.Direction(strings.ToUpper(string(spec.Direction))),
		Leverage:      spec.Leverage,
		EntryPrice:    spec.EntryPrice,
		Size:          spec.Size,
		Active:        true,
		Phase:         1,
		Phase1: domain.Phase1Config{
			RetraceThreshold:            spec.Phase1.RetraceThreshold,
			ConsecutiveBreachesRequired: spec.Phase1.ConsecutiveBreachesRequired,
			AbsoluteFloor:               spec.Phase1.AbsoluteFloor,
		},
		Phase2:           spec.Phase2,
		BreachDecay:      domain.DecayMode(strings.ToLower(string(spec.BreachDecay))),
		CurrentTierIndex: -1,
		HighWaterPrice:   spec.EntryPrice,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	state.Tiers = make([]domain.Tier, len(spec.Tiers))
	copy(state.Tiers, spec.Tiers)

	if state.Phase1.ConsecutiveBreachesRequired == 0 {
		state.Phase1.ConsecutiveBreachesRequired = DefaultPhase1Breaches
	}
	if state.Phase2.ConsecutiveBreachesRequired == 0 {
		state.Phase2.ConsecutiveBreachesRequired = DefaultPhase2Breaches
	}
	if state.BreachDecay == "" {
		state.BreachDecay = domain.DecayHard
	}
	if state.Phase1.AbsoluteFloor == 0 && spec.Phase1.MaxLossPct > 0 && state.Direction.Valid() && state.Leverage > 0 {
		loss := decFromFloat(spec.Phase1.MaxLossPct).Div(decHundred).Div(decFromFloat(state.Leverage))
		// a loss moves the floor against the position, so flip the offset sign
		state.Phase1.AbsoluteFloor = offsetFromEntry(state.Direction, state.EntryPrice, loss.Neg())
	}

	if err := state.Validate(); err != nil {
		return nil, err
	}
	state.FloorPrice = NewFloorCalculator().Compute(state).Effective
	return state, nil
}

// PositionSetup creates and tears down monitored position records.
type PositionSetup struct {
	store  domain.StateStore
	locker domain.Locker
	logger *zap.Logger
	now    func() time.Time
}

func NewPositionSetup(store domain.StateStore, locker domain.Locker, logger *zap.Logger) *PositionSetup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PositionSetup{store: store, locker: locker, logger: logger, now: time.Now}
}

// Create persists a new record for spec. An existing active record for the
// same key is never overwritten.
func (p *PositionSetup) Create(ctx context.Context, spec PositionSpec) (*domain.PositionState, error) {
	state, err := BuildState(spec, p.now().UTC())
	if err != nil {
		return nil, err
	}
	key := state.Key()

	release, err := p.locker.TryLock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	defer release()

	existing, err := p.store.Load(ctx, key)
	switch {
	case err == nil && existing.Active:
		return nil, fmt.Errorf("%w: %s", domain.ErrStateExists, key)
	case err != nil && !errors.Is(err, domain.ErrStateNotFound) && !errors.Is(err, domain.ErrInvalidState):
		return nil, fmt.Errorf("check existing %s: %w", key, err)
	}

	if err := p.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save %s: %w", key, err)
	}
	p.logger.Info("Position registered",
		zap.String("position", key.String()),
		zap.String("direction", string(state.Direction)),
		zap.Float64("entry", state.EntryPrice),
		zap.Float64("leverage", state.Leverage),
		zap.Int("tiers", len(state.Tiers)),
		zap.Float64("floor", state.FloorPrice))
	return state, nil
}

// Deactivate stops monitoring without closing anything on the exchange.
// Deactivating an inactive record is a no-op.
func (p *PositionSetup) Deactivate(ctx context.Context, key domain.PositionKey, reason string) (*domain.PositionState, error) {
	release, err := p.locker.TryLock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	defer release()

	state, err := p.store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if !state.Active {
		return state, nil
	}

	now := p.now().UTC()
	if reason == "" {
		reason = "manual"
	}
	state.Active = false
	state.PendingClose = false
	state.CloseReason = "deactivated: " + reason
	state.DeactivatedAt = &now
	state.UpdatedAt = now
	if err := p.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save %s: %w", key, err)
	}
	p.logger.Info("Position deactivated", zap.String("position", key.String()), zap.String("reason", reason))
	return state, nil
}
