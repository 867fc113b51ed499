package quote

import "arbitrage-bot-go/internal/models"

// BestPrice returns the executable price for volume on one side of a book.
// If the first level alone covers volume its price is returned with its full
// volume. Otherwise levels are walked until volume is filled or the book is
// exhausted and the VWAP of the consumed volume is returned.
func BestPrice(levels []models.Level, volume float64) (price, available float64) {
	if len(levels) == 0 {
		return 0, 0
	}
	if levels[0].Volume >= volume {
		return levels[0].Price, levels[0].Volume
	}
	var notional, filled float64
	for _, l := range levels {
		take := l.Volume
		if remaining := volume - filled; take > remaining {
			take = remaining
		}
		notional += take * l.Price
		filled += take
		if filled >= volume {
			break
		}
	}
	if filled == 0 {
		return 0, 0
	}
	return notional / filled, filled
}
