package domain

import (
	"context"
	"errors"
)

var (
	ErrStateNotFound = errors.New("position state not found")
	ErrInvalidState  = errors.New("invalid position state")
	ErrUnknownAsset  = errors.New("unknown asset")
	ErrLockHeld      = errors.New("position lock held by another cycle")
	ErrStateExists   = errors.New("active position state already exists")
)

// PriceFeed returns the current price of an asset. Read-only and unauthenticated.
type PriceFeed interface {
	GetPrice(ctx context.Context, asset string) (float64, error)
}

type CloseStatus string

const (
	CloseStatusClosed        CloseStatus = "closed"
	CloseStatusAlreadyClosed CloseStatus = "already_closed"
)

type CloseRequest struct {
	WalletID   string
	StrategyID string
	Asset      string
	Direction  Direction
	Size       float64
}

// PositionCloser submits a full close. Returning an error means the attempt failed;
// it must be safe to call when nothing is open anymore.
type PositionCloser interface {
	ClosePosition(ctx context.Context, req CloseRequest) (CloseStatus, error)
}

// PositionReader looks up the exchange view of a position.
type PositionReader interface {
	GetPosition(ctx context.Context, asset string) (*Position, error)
}

// StateStore persists one record per PositionKey. Save must replace the whole
// record atomically.
type StateStore interface {
	Load(ctx context.Context, key PositionKey) (*PositionState, error)
	Save(ctx context.Context, state *PositionState) error
	List(ctx context.Context) ([]PositionKey, error)
}

// Locker grants exclusive access to one position for the duration of a cycle.
// TryLock returns ErrLockHeld when another holder owns the lock.
type Locker interface {
	TryLock(ctx context.Context, key PositionKey) (release func(), err error)
}

// CycleObserver is notified after every completed cycle.
type CycleObserver interface {
	ObserveCycle(ctx context.Context, state *PositionState, result *CycleResult)
}

// HistoryRecorder stores positions closed by the guard.
type HistoryRecorder interface {
	SavePositionHistory(ctx context.Context, history *PositionHistory) error
}
