package selector

import (
	"arbitrage-bot-go/internal/config"
	"arbitrage-bot-go/internal/models"
)

// Filter marks every signal with AboveThreshold and returns the ones whose
// spread reaches the threshold of their (sell, buy) pair.
func Filter(signals []models.Signal, thresholds config.ThresholdTable) []models.Signal {
	passing := make([]models.Signal, 0, len(signals))
	for i := range signals {
		s := &signals[i]
		s.AboveThreshold = s.SpreadBps >= thresholds.Get(s.SellExchange, s.BuyExchange)
		if s.AboveThreshold {
			passing = append(passing, *s)
		}
	}
	return passing
}

// FilterLiquidity drops signals whose volume is below the minimum lot size.
func FilterLiquidity(signals []models.Signal, minLot float64) []models.Signal {
	kept := signals[:0:0]
	for _, s := range signals {
		if s.Volume > 0 && s.Volume >= minLot {
			kept = append(kept, s)
		}
	}
	return kept
}

// Score ranks a signal by how far its spread clears the threshold, weighted
// by volume. A zero threshold scores the raw spread.
func Score(s models.Signal, threshold float64) float64 {
	if threshold == 0 {
		return s.SpreadBps * s.Volume
	}
	return s.SpreadBps / threshold * s.Volume
}

// Select returns the highest scoring signal. Ties keep the first one seen.
func Select(signals []models.Signal, thresholds config.ThresholdTable) (models.Signal, bool) {
	var best models.Signal
	var bestScore float64
	found := false
	for _, s := range signals {
		score := Score(s, thresholds.Get(s.SellExchange, s.BuyExchange))
		if !found || score > bestScore {
			best, bestScore, found = s, score, true
		}
	}
	return best, found
}
