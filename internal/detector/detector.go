package detector

import (
	"arbitrage-bot-go/internal/models"
	"sort"

	"github.com/shopspring/decimal"
)

// Detect evaluates every ordered (sell, buy) exchange pair of quotes and
// returns one signal per pair, whatever the sign of its spread. Pairs with a
// missing or unusable quote are skipped. The output order is deterministic.
func Detect(quotes map[string]models.MarketQuotes, pair models.PairConfig) []models.Signal {
	names := make([]string, 0, len(quotes))
	for name := range quotes {
		names = append(names, name)
	}
	sort.Strings(names)

	signals := make([]models.Signal, 0, len(names)*(len(names)-1))
	for _, sell := range names {
		for _, buy := range names {
			if sell == buy {
				continue
			}
			if sig, ok := evaluate(sell, buy, quotes[sell].Bid, quotes[buy].Ask, pair); ok {
				signals = append(signals, sig)
			}
		}
	}
	return signals
}

// evaluate computes the spread of selling into bid and buying from ask. The
// quotes already carry the taker fees of their venues, so the spread is
// ((bid*(1-fee_sell)) / (ask*(1+fee_buy)) - 1) * 1e4.
func evaluate(sell, buy string, bid, ask models.Quote, pair models.PairConfig) (models.Signal, bool) {
	if bid.RawPrice <= 0 || ask.RawPrice <= 0 || ask.EffectivePrice <= 0 {
		return models.Signal{}, false
	}
	spread := (bid.EffectivePrice/ask.EffectivePrice - 1) * 1e4
	volume := minFloat(bid.Volume, ask.Volume, pair.LotSize)
	return models.Signal{
		SellExchange: sell,
		BuyExchange:  buy,
		SpreadBps:    spread,
		Volume:       FloorToPrecision(volume, pair.Precision),
		SellPrice:    bid.RawPrice,
		BuyPrice:     ask.RawPrice,
	}, true
}

// FloorToPrecision rounds v down to the given number of decimal places.
func FloorToPrecision(v float64, precision int32) float64 {
	return decimal.NewFromFloat(v).RoundFloor(precision).InexactFloat64()
}

func minFloat(first float64, rest ...float64) float64 {
	m := first
	for _, v := range rest {
		if v < m {
			m = v
		}
	}
	return m
}
