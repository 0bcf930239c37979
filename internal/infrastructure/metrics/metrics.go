// Package metrics exposes Prometheus collectors for the guard:
//
//	dsl_cycles_total{status,error_kind}  cycles by outcome
//	dsl_closes_total{outcome}            close attempts (closed|already_closed|failed)
//	dsl_breaches_total{asset}            breaching ticks
//	dsl_tier_changes_total{asset}        tier advances
//	dsl_floor_price{position}            effective floor per position
//	dsl_breach_count{position}           current consecutive breach count
//	dsl_roe_pct{position}                last observed ROE
//
// Collectors are registered in init() and served at /metrics by the web server.
package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/crypto_trade_dsl/internal/domain"
)

var (
	mtxCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dsl_cycles_total",
			Help: "Evaluation cycles by status and error kind",
		},
		[]string{"status", "error_kind"},
	)

	mtxCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dsl_closes_total",
			Help: "Close attempts by outcome",
		},
		[]string{"outcome"},
	)

	mtxBreaches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dsl_breaches_total",
			Help: "Ticks whose price breached the effective floor",
		},
		[]string{"asset"},
	)

	mtxTierChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dsl_tier_changes_total",
			Help: "Profit tier advances",
		},
		[]string{"asset"},
	)

	gaugeFloor = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dsl_floor_price",
			Help: "Effective floor price per position",
		},
		[]string{"position"},
	)

	gaugeBreachCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dsl_breach_count",
			Help: "Current consecutive breach count per position",
		},
		[]string{"position"},
	)

	gaugeROE = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dsl_roe_pct",
			Help: "Last observed ROE percent per position",
		},
		[]string{"position"},
	)
)

func init() {
	prometheus.MustRegister(mtxCycles, mtxCloses, mtxBreaches, mtxTierChanges)
	prometheus.MustRegister(gaugeFloor, gaugeBreachCount, gaugeROE)
}

func Handler() http.Handler { return promhttp.Handler() }

// Observer feeds cycle results into the collectors.
type Observer struct{}

func NewObserver() *Observer { return &Observer{} }

func (o *Observer) ObserveCycle(ctx context.Context, state *domain.PositionState, r *domain.CycleResult) {
	mtxCycles.WithLabelValues(string(r.Status), string(r.ErrorKind)).Inc()

	key := domain.PositionKey{StrategyID: r.StrategyID, Asset: r.Asset}.String()
	if r.Breached {
		mtxBreaches.WithLabelValues(r.Asset).Inc()
	}
	if r.TierChanged {
		mtxTierChanges.WithLabelValues(r.Asset).Inc()
	}

	switch {
	case r.Closed:
		outcome := "closed"
		if state != nil && strings.HasSuffix(state.CloseReason, "/already_closed") {
			outcome = "already_closed"
		}
		mtxCloses.WithLabelValues(outcome).Inc()
	case r.ErrorKind == domain.ErrorKindClose:
		mtxCloses.WithLabelValues("failed").Inc()
	}

	if r.ErrorKind == domain.ErrorKindConfig || r.ErrorKind == domain.ErrorKindLock {
		// The record was not read this cycle; keep its last known series.
		return
	}
	if !r.Active {
		// Terminal positions stop reporting per-position series.
		gaugeFloor.DeleteLabelValues(key)
		gaugeBreachCount.DeleteLabelValues(key)
		gaugeROE.DeleteLabelValues(key)
		return
	}
	if r.FloorPrice > 0 {
		gaugeFloor.WithLabelValues(key).Set(r.FloorPrice)
	}
	gaugeBreachCount.WithLabelValues(key).Set(float64(r.CurrentBreachCount))
	gaugeROE.WithLabelValues(key).Set(r.ROEPct)
}

