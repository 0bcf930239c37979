package domain

import "time"

type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

type ErrorKind string

const (
	ErrorKindNone    ErrorKind = ""
	ErrorKindFetch   ErrorKind = "fetch"
	ErrorKindClose   ErrorKind = "close"
	ErrorKindConfig  ErrorKind = "config"
	ErrorKindPersist ErrorKind = "persist"
	ErrorKindLock    ErrorKind = "lock"
)

// CycleResult is the complete observable outcome of one evaluation cycle.
type CycleResult struct {
	RunID      string         `json:"run_id"`
	StrategyID string         `json:"strategy_id"`
	Asset      string         `json:"asset"`
	Direction  Direction      `json:"direction,omitempty"`
	State      LifecycleState `json:"state,omitempty"`
	Active     bool           `json:"active"`
	Skipped    bool           `json:"skipped"`

	Closed              bool     `json:"closed"`
	PendingClose        bool     `json:"pending_close"`
	TierChanged         bool     `json:"tier_changed"`
	Breached            bool     `json:"breached"`
	CurrentBreachCount  int      `json:"current_breach_count"`
	BreachesRequired    int      `json:"breaches_required"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
	CloseFailures       int      `json:"close_failures"`
	DistanceToNextTier  *float64 `json:"distance_to_next_tier_pct"`

	Phase            int      `json:"phase,omitempty"`
	Price            float64  `json:"price,omitempty"`
	ROEPct           float64  `json:"roe_pct"`
	FloorPrice       float64  `json:"floor_price,omitempty"`
	TierFloorPrice   *float64 `json:"tier_floor_price"`
	TrailingFloor    float64  `json:"trailing_floor,omitempty"`
	HighWaterPrice   float64  `json:"high_water_price,omitempty"`
	CurrentTierIndex int      `json:"current_tier_index"`

	Status    Status    `json:"status"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	Summary   string    `json:"summary"`
	CheckedAt time.Time `json:"checked_at"`
}
