package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// SchemaVersion is the version written by every save of a PositionState.
const SchemaVersion = 2

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// DecayMode controls how the breach counter reacts to a non-breaching tick.
type DecayMode string

const (
	DecayHard DecayMode = "hard" // reset to 0
	DecaySoft DecayMode = "soft" // decrement by 1
)

func (m DecayMode) Valid() bool {
	return m == DecayHard || m == DecaySoft
}

type Phase1Config struct {
	RetraceThreshold            float64 `json:"retrace_threshold" yaml:"retrace_threshold"`
	ConsecutiveBreachesRequired int     `json:"consecutive_breaches_required" yaml:"consecutive_breaches_required"`
	AbsoluteFloor               float64 `json:"absolute_floor" yaml:"absolute_floor"` // 0 = not configured
}

type Phase2Config struct {
	RetraceThreshold            float64 `json:"retrace_threshold" yaml:"retrace_threshold"`
	ConsecutiveBreachesRequired int     `json:"consecutive_breaches_required" yaml:"consecutive_breaches_required"`
	TriggerTier                 int     `json:"trigger_tier" yaml:"trigger_tier"`
}

// Tier locks LockPct of ROE once ROE reaches TriggerPct. Both are whole percents.
type Tier struct {
	TriggerPct float64  `json:"trigger_pct" yaml:"trigger_pct"`
	LockPct    float64  `json:"lock_pct" yaml:"lock_pct"`
	Retrace    *float64 `json:"retrace,omitempty" yaml:"retrace,omitempty"`
}

// PositionKey identifies one monitored position.
type PositionKey struct {
	StrategyID string
	Asset      string
}

func (k PositionKey) String() string {
	return k.StrategyID + "/" + k.Asset
}

// PositionState is the persisted record of one monitored position.
type PositionState struct {
	SchemaVersion int `json:"schema_version"`

	StrategyID string    `json:"strategy_id"`
	WalletID   string    `json:"wallet_id"`
	Asset      string    `json:"asset"`
	Direction  Direction `json:"direction"`

	Leverage   float64 `json:"leverage"`
	EntryPrice float64 `json:"entry_price"`
	Size       float64 `json:"size"`

	Active       bool `json:"active"`
	PendingClose bool `json:"pending_close"`
	Phase        int  `json:"phase"`

	Phase1      Phase1Config `json:"phase1"`
	Phase2      Phase2Config `json:"phase2"`
	Tiers       []Tier       `json:"tiers"`
	BreachDecay DecayMode    `json:"breach_decay"`

	CurrentTierIndex    int      `json:"current_tier_index"`
	TierFloorPrice      *float64 `json:"tier_floor_price"`
	TierRetrace         *float64 `json:"tier_retrace"`
	HighWaterPrice      float64  `json:"high_water_price"`
	FloorPrice          float64  `json:"floor_price"`
	CurrentBreachCount  int      `json:"current_breach_count"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
	CloseFailures       int      `json:"close_failures"`
	LastPrice           float64  `json:"last_price"`
	LastROEPct          float64  `json:"last_roe_pct"`
	CloseReason         string   `json:"close_reason,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

func (s *PositionState) Key() PositionKey {
	return PositionKey{StrategyID: s.StrategyID, Asset: s.Asset}
}

// BreachesRequired returns the consecutive breach threshold of the current phase.
func (s *PositionState) BreachesRequired() int {
	if s.Phase == 2 {
		return s.Phase2.ConsecutiveBreachesRequired
	}
	return s.Phase1.ConsecutiveBreachesRequired
}

// ActiveRetrace returns the retrace used for the trailing floor: the tier
// override once one was adopted, otherwise the current phase's threshold.
func (s *PositionState) ActiveRetrace() float64 {
	if s.TierRetrace != nil {
		return *s.TierRetrace
	}
	if s.Phase == 2 {
		return s.Phase2.RetraceThreshold
	}
	return s.Phase1.RetraceThreshold
}

type LifecycleState string

const (
	StateNew          LifecycleState = "NEW"
	StateActivePhase1 LifecycleState = "ACTIVE_PHASE1"
	StateActivePhase2 LifecycleState = "ACTIVE_PHASE2"
	StatePendingClose LifecycleState = "PENDING_CLOSE"
	StateClosed       LifecycleState = "CLOSED"
	StateDeactivated  LifecycleState = "DEACTIVATED"
)

func (s *PositionState) Lifecycle() LifecycleState {
	switch {
	case !s.Active && s.DeactivatedAt != nil:
		return StateDeactivated
	case !s.Active:
		return StateClosed
	case s.PendingClose:
		return StatePendingClose
	case s.Phase == 2:
		return StateActivePhase2
	case s.LastCheckedAt == nil:
		return StateNew
	default:
		return StateActivePhase1
	}
}

// Clone returns a deep copy.
func (s *PositionState) Clone() *PositionState {
	c := *s
	c.Tiers = make([]Tier, len(s.Tiers))
	for i, t := range s.Tiers {
		c.Tiers[i] = t
		c.Tiers[i].Retrace = cloneFloat(t.Retrace)
	}
	c.TierFloorPrice = cloneFloat(s.TierFloorPrice)
	c.TierRetrace = cloneFloat(s.TierRetrace)
	c.LastCheckedAt = cloneTime(s.LastCheckedAt)
	c.ClosedAt = cloneTime(s.ClosedAt)
	c.DeactivatedAt = cloneTime(s.DeactivatedAt)
	return &c
}

// Validate reports every problem of the record joined into one error.
// Each wrapped error matches ErrInvalidState.
func (s *PositionState) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...)))
	}

	if s.StrategyID == "" {
		bad("strategy_id is empty")
	}
	if s.Asset == "" {
		bad("asset is empty")
	}
	if !s.Direction.Valid() {
		bad("invalid direction %q", s.Direction)
	}
	if !positive(s.Leverage) {
		bad("leverage must be > 0, got %v", s.Leverage)
	}
	if !positive(s.EntryPrice) {
		bad("entry_price must be > 0, got %v", s.EntryPrice)
	}
	if !positive(s.Size) {
		bad("size must be > 0, got %v", s.Size)
	}
	if s.Phase != 1 && s.Phase != 2 {
		bad("phase must be 1 or 2, got %d", s.Phase)
	}
	if !validRetrace(s.Phase1.RetraceThreshold) {
		bad("phase1.retrace_threshold must be in (0,1), got %v", s.Phase1.RetraceThreshold)
	}
	if !validRetrace(s.Phase2.RetraceThreshold) {
		bad("phase2.retrace_threshold must be in (0,1), got %v", s.Phase2.RetraceThreshold)
	}
	if s.Phase1.ConsecutiveBreachesRequired < 1 {
		bad("phase1.consecutive_breaches_required must be >= 1")
	}
	if s.Phase2.ConsecutiveBreachesRequired < 1 {
		bad("phase2.consecutive_breaches_required must be >= 1")
	}
	if s.Phase1.AbsoluteFloor < 0 || math.IsNaN(s.Phase1.AbsoluteFloor) {
		bad("phase1.absolute_floor must be >= 0")
	}
	if s.Phase1.AbsoluteFloor > 0 && positive(s.EntryPrice) {
		if s.Direction == DirectionLong && s.Phase1.AbsoluteFloor >= s.EntryPrice {
			bad("phase1.absolute_floor %v must be below entry %v for LONG", s.Phase1.AbsoluteFloor, s.EntryPrice)
		}
		if s.Direction == DirectionShort && s.Phase1.AbsoluteFloor <= s.EntryPrice {
			bad("phase1.absolute_floor %v must be above entry %v for SHORT", s.Phase1.AbsoluteFloor, s.EntryPrice)
		}
	}
	if s.Phase == 2 && s.CurrentTierIndex < s.Phase2.TriggerTier {
		bad("phase 2 requires current_tier_index >= phase2.trigger_tier (%d < %d)", s.CurrentTierIndex, s.Phase2.TriggerTier)
	}
	if len(s.Tiers) > 0 && (s.Phase2.TriggerTier < 0 || s.Phase2.TriggerTier >= len(s.Tiers)) {
		bad("phase2.trigger_tier %d out of range [0,%d)", s.Phase2.TriggerTier, len(s.Tiers))
	}
	for i, t := range s.Tiers {
		if math.IsNaN(t.TriggerPct) || math.IsInf(t.TriggerPct, 0) || math.IsNaN(t.LockPct) || math.IsInf(t.LockPct, 0) {
			bad("tier %d has non-finite values", i)
		}
		if i > 0 && t.TriggerPct <= s.Tiers[i-1].TriggerPct {
			bad("tiers must be strictly ascending by trigger_pct (tier %d: %v <= %v)", i, t.TriggerPct, s.Tiers[i-1].TriggerPct)
		}
		if t.Retrace != nil && !validRetrace(*t.Retrace) {
			bad("tier %d retrace must be in (0,1), got %v", i, *t.Retrace)
		}
	}
	if !s.BreachDecay.Valid() {
		bad("invalid breach_decay %q", s.BreachDecay)
	}
	if s.CurrentTierIndex < -1 || s.CurrentTierIndex >= len(s.Tiers) {
		bad("current_tier_index %d out of range", s.CurrentTierIndex)
	}
	if s.CurrentTierIndex >= 0 && s.TierFloorPrice == nil {
		bad("tier_floor_price missing for current_tier_index %d", s.CurrentTierIndex)
	}
	if s.TierRetrace != nil && !validRetrace(*s.TierRetrace) {
		bad("tier_retrace must be in (0,1)")
	}
	if !positive(s.HighWaterPrice) {
		bad("high_water_price must be > 0")
	}
	if s.CurrentBreachCount < 0 || s.ConsecutiveFailures < 0 || s.CloseFailures < 0 {
		bad("counters must be >= 0")
	}
	if s.PendingClose && !s.Active {
		bad("pending_close set on inactive position")
	}
	return errors.Join(errs...)
}

// Position is an open position as reported by the exchange.
type Position struct {
	Exchange      string
	Symbol        string
	Side          Direction
	Size          float64
	EntryPrice    float64
	CurrentPrice  float64
	UnrealizedPnL float64
	Leverage      float64
	PositionIdx   int // 0 one-way, 1 hedge Buy, 2 hedge Sell
}

// PositionHistory is a position closed by the guard.
type PositionHistory struct {
	ID          int64
	StrategyID  string
	WalletID    string
	Asset       string
	Direction   Direction
	Size        float64
	EntryPrice  float64
	ExitPrice   float64
	RealizedPnL float64 // estimated from the last observed price
	Leverage    float64
	TierIndex   int
	Reason      string
	ClosedAt    time.Time
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func validRetrace(v float64) bool {
	return v > 0 && v < 1
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
