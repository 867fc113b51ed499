package config

import "arbitrage-bot-go/internal/models"

// FeeTable is an immutable lookup of per-exchange taker fees in bps.
type FeeTable struct {
	fees map[string]models.FeeConfig
}

// NewFeeTable copies the fee schedules out of cfg.
func NewFeeTable(cfg *models.Config) FeeTable {
	fees := make(map[string]models.FeeConfig, len(cfg.Exchanges))
	for name, ex := range cfg.Exchanges {
		fees[name] = ex.Fees
	}
	return FeeTable{fees: fees}
}

// NewFeeTableFrom builds a table from explicit schedules.
func NewFeeTableFrom(fees map[string]models.FeeConfig) FeeTable {
	cp := make(map[string]models.FeeConfig, len(fees))
	for k, v := range fees {
		cp[k] = v
	}
	return FeeTable{fees: cp}
}

// Taker returns the market-order fee in bps for the given side. Unknown
// exchanges are fee free.
func (t FeeTable) Taker(exchange string, side models.Side) float64 {
	f := t.fees[exchange]
	if side == models.Buy {
		return f.Buy
	}
	return f.Sell
}

// ThresholdTable is an immutable lookup of minimum spreads in bps keyed by
// (sell exchange, buy exchange), with a default fallback.
type ThresholdTable struct {
	def       float64
	overrides map[string]map[string]float64
}

// NewThresholdTable copies the thresholds out of cfg.
func NewThresholdTable(cfg *models.Config) ThresholdTable {
	overrides := make(map[string]map[string]float64)
	for sell, ex := range cfg.Exchanges {
		if len(ex.Thresholds) == 0 {
			continue
		}
		m := make(map[string]float64, len(ex.Thresholds))
		for buy, v := range ex.Thresholds {
			m[buy] = v
		}
		overrides[sell] = m
	}
	return ThresholdTable{def: cfg.Thresholds.Default, overrides: overrides}
}

// NewThresholdTableFrom builds a table from a default and explicit overrides.
func NewThresholdTableFrom(def float64, overrides map[string]map[string]float64) ThresholdTable {
	cp := make(map[string]map[string]float64, len(overrides))
	for sell, m := range overrides {
		inner := make(map[string]float64, len(m))
		for buy, v := range m {
			inner[buy] = v
		}
		cp[sell] = inner
	}
	return ThresholdTable{def: def, overrides: cp}
}

// Get returns the threshold for selling on sell and buying on buy.
func (t ThresholdTable) Get(sell, buy string) float64 {
	if m, ok := t.overrides[sell]; ok {
		if v, ok := m[buy]; ok {
			return v
		}
	}
	return t.def
}
