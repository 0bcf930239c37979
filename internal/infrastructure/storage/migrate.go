package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/vitos/crypto_trade_dsl/internal/domain"
)

// v1 records used camelCase names and kept the phase-2 trigger tier at the
// top level. Each table maps one v1 object to its v2 field names.
var (
	v1TopLevel = map[string]string{
		"strategyId":          "strategy_id",
		"wallet":              "wallet_id",
		"walletId":            "wallet_id",
		"coin":                "asset",
		"asset":               "asset",
		"direction":           "direction",
		"leverage":            "leverage",
		"entryPrice":          "entry_price",
		"size":                "size",
		"active":              "active",
		"pendingClose":        "pending_close",
		"phase":               "phase",
		"tiers":               "tiers",
		"breachDecay":         "breach_decay",
		"currentTierIndex":    "current_tier_index",
		"tierFloorPrice":      "tier_floor_price",
		"highWaterPrice":      "high_water_price",
		"floorPrice":          "floor_price",
		"currentBreachCount":  "current_breach_count",
		"consecutiveFailures": "consecutive_failures",
		"lastPrice":           "last_price",
		"createdAt":           "created_at",
		"lastCheck":           "last_checked_at",
		"closedAt":            "closed_at",
		"closeReason":         "close_reason",
	}
	v1Phase = map[string]string{
		"retraceThreshold":            "retrace_threshold",
		"consecutiveBreachesRequired": "consecutive_breaches_required",
		"absoluteFloor":               "absolute_floor",
	}
	v1Tier = map[string]string{
		"triggerPct": "trigger_pct",
		"lockPct":    "lock_pct",
		"retrace":    "retrace",
	}
)

// Migrate upgrades a raw record to the current schema version. It reports
// whether anything changed. Records without schema_version are version 1.
func Migrate(raw []byte) ([]byte, bool, error) {
	if !gjson.ValidBytes(raw) {
		return nil, false, fmt.Errorf("%w: record is not valid JSON", domain.ErrInvalidState)
	}
	v := gjson.GetBytes(raw, "schema_version")
	version := int64(1)
	if v.Exists() {
		if v.Type != gjson.Number {
			return nil, false, fmt.Errorf("%w: schema_version must be a number", domain.ErrInvalidState)
		}
		version = v.Int()
	}

	switch version {
	case domain.SchemaVersion:
		return raw, false, nil
	case 1:
		out, err := migrateV1(raw)
		if err != nil {
			return nil, false, err
		}
		return out, true, nil
	default:
		return nil, false, fmt.Errorf("%w: unsupported schema_version %d", domain.ErrInvalidState, version)
	}
}

func migrateV1(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var in map[string]any
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("%w: decode v1 record: %v", domain.ErrInvalidState, err)
	}

	out := renameKeys(in, v1TopLevel, "phase1", "phase2", "phase2TriggerTier", "schema_version")
	out["schema_version"] = domain.SchemaVersion

	if p1, ok := in["phase1"].(map[string]any); ok {
		out["phase1"] = renameKeys(p1, v1Phase)
	}
	if p2, ok := in["phase2"].(map[string]any); ok {
		phase2 := renameKeys(p2, v1Phase)
		if tt, ok := in["phase2TriggerTier"]; ok {
			phase2["trigger_tier"] = tt
		}
		out["phase2"] = phase2
	}

	var tierRetrace any
	reached := -1
	if n, ok := in["currentTierIndex"].(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			reached = int(i)
		}
	}
	if tiers, ok := in["tiers"].([]any); ok {
		migrated := make([]any, len(tiers))
		for i, t := range tiers {
			tm, ok := t.(map[string]any)
			if !ok {
				migrated[i] = t
				continue
			}
			nt := renameKeys(tm, v1Tier)
			if r, ok := nt["retrace"]; ok && i <= reached && r != nil {
				tierRetrace = r
			}
			migrated[i] = nt
		}
		out["tiers"] = migrated
	}

	if d, ok := out["direction"].(string); ok {
		out["direction"] = strings.ToUpper(d)
	}
	if _, ok := out["breach_decay"]; !ok {
		out["breach_decay"] = string(domain.DecayHard)
	}
	if _, ok := out["tier_floor_price"]; !ok {
		out["tier_floor_price"] = nil
	}
	out["tier_retrace"] = tierRetrace
	if _, ok := out["close_failures"]; !ok {
		out["close_failures"] = 0
	}
	if created, ok := out["created_at"]; ok {
		out["updated_at"] = created
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode migrated record: %w", err)
	}
	return data, nil
}

// renameKeys copies m with keys renamed by table. Keys listed in skip are
// left out; keys absent from table are kept verbatim.
func renameKeys(m map[string]any, table map[string]string, skip ...string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if contains(skip, k) {
			continue
		}
		if nk, ok := table[k]; ok {
			out[nk] = v
			continue
		}
		out[k] = v
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
