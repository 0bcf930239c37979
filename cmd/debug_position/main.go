package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/vitos/crypto_trade_dsl/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_dsl/internal/usecase"
)

func main() {
	statePath := flag.String("state", "", "path to a position state file")
	price := flag.Float64("price", 0, "hypothetical price to evaluate")
	flag.Parse()

	if *statePath == "" || *price <= 0 {
		fmt.Println("usage: debug_position -state <file> -price <price>")
		os.Exit(2)
	}

	// 1. Load the record exactly as a cycle would
	raw, err := os.ReadFile(*statePath)
	if err != nil {
		fmt.Printf("❌ Failed to read state: %v\n", err)
		os.Exit(1)
	}
	state, err := storage.DecodeState(raw)
	if err != nil {
		fmt.Printf("❌ Invalid state: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Position %s (%s x%.0f) entry=%f size=%f lifecycle=%s\n",
		state.Key(), state.Direction, state.Leverage, state.EntryPrice, state.Size, state.Lifecycle())
	fmt.Printf("Before: phase=%d tier=%d hw=%f floor=%f breaches=%d/%d\n",
		state.Phase, state.CurrentTierIndex, state.HighWaterPrice, state.FloorPrice,
		state.CurrentBreachCount, state.BreachesRequired())

	if !state.Active {
		fmt.Println("⚠️ Position is inactive; a cycle would do nothing")
		return
	}
	if state.PendingClose {
		fmt.Println("⚠️ Position has a pending close; a cycle would only retry the close")
		return
	}

	// 2. Dry-run the cycle
	p := usecase.PreviewCycle(state, *price)
	s := p.State

	fmt.Printf("\nAt price %f:\n", *price)
	fmt.Printf("  ROE:            %.4f%%\n", p.Tier.ROEPct)
	if p.Tier.TierChanged {
		fmt.Printf("  Tier:           %d -> %d ✅\n", p.Tier.PreviousIndex, s.CurrentTierIndex)
	} else {
		fmt.Printf("  Tier:           %d\n", s.CurrentTierIndex)
	}
	if p.Tier.PhaseChanged {
		fmt.Printf("  Phase:          %d (entered phase 2)\n", s.Phase)
	} else {
		fmt.Printf("  Phase:          %d\n", s.Phase)
	}
	if p.DistanceToNextTier != nil {
		fmt.Printf("  Next tier in:   %.4f%% ROE\n", *p.DistanceToNextTier)
	}
	fmt.Printf("  High water:     %f\n", p.Floor.HighWater)
	fmt.Printf("  Trailing floor: %f (retrace %.4f)\n", p.Floor.Trailing, p.Floor.Retrace)
	if p.Floor.Tier != nil {
		fmt.Printf("  Tier floor:     %f\n", *p.Floor.Tier)
	}
	if p.Floor.AbsoluteApplied {
		fmt.Printf("  Absolute floor: %f\n", p.Floor.Absolute)
	}
	fmt.Printf("  Effective:      %f\n", p.Floor.Effective)
	fmt.Printf("  Breaches:       %d/%d\n", p.Breach.Count, p.Breach.Required)

	if p.WouldClose {
		fmt.Println("\n❌ This tick would CLOSE the position")
	} else if p.Breach.Breached {
		fmt.Println("\n⚠️ Floor breached, not yet enough consecutive breaches")
	} else {
		fmt.Println("\n✅ Position holds")
	}
}
