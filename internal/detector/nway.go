package detector

import (
	"arbitrage-bot-go/internal/config"
	"arbitrage-bot-go/internal/models"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInconsistentBook aborts an N-way cycle whose aggregates cannot be
// resolved into a direction.
var ErrInconsistentBook = errors.New("detector: inconsistent order book state")

type sideAggregate struct {
	volume   float64
	notional float64
}

// PlanNWay looks at all books at once. When the highest best ask exceeds the
// lowest best bid, each venue's asks above the lowest bid and bids below the
// highest ask are aggregated, and one order per venue is derived from the
// dominant side: ask-side activity is bought, bid-side activity is sold.
// Equal volumes resolve to selling. Venues without activity get no order.
func PlanNWay(books map[string]*models.OrderBook, fees config.FeeTable, pair models.PairConfig) ([]models.PlannedOrder, error) {
	names := make([]string, 0, len(books))
	for name, b := range books {
		if !b.Empty() {
			names = append(names, name)
		}
	}
	if len(names) < 2 {
		return nil, nil
	}
	sort.Strings(names)

	maxAsk := math.Inf(-1)
	minBid := math.Inf(1)
	for _, name := range names {
		b := books[name]
		if len(b.Asks) > 0 {
			maxAsk = math.Max(maxAsk, b.Asks[0].Price)
		}
		if len(b.Bids) > 0 {
			minBid = math.Min(minBid, b.Bids[0].Price)
		}
	}
	if math.IsInf(maxAsk, 0) || math.IsInf(minBid, 0) || !(maxAsk > minBid) {
		return nil, nil
	}

	var orders []models.PlannedOrder
	for _, name := range names {
		b := books[name]
		var asks, bids sideAggregate
		for _, l := range b.Asks {
			if l.Price > minBid {
				asks.volume += l.Volume
				asks.notional += l.Volume * l.Price
			}
		}
		for _, l := range b.Bids {
			if l.Price < maxAsk {
				bids.volume += l.Volume
				bids.notional += l.Volume * l.Price
			}
		}

		var side models.Side
		var agg sideAggregate
		switch {
		case invalid(asks) || invalid(bids):
			return nil, fmt.Errorf("%w: %s aggregates asks=%v bids=%v", ErrInconsistentBook, name, asks, bids)
		case asks.volume > 0 && bids.volume > 0:
			if asks.volume-bids.volume > 0 {
				side, agg = models.Buy, asks
			} else {
				side, agg = models.Sell, bids
			}
		case asks.volume > 0:
			side, agg = models.Buy, asks
		case bids.volume > 0:
			side, agg = models.Sell, bids
		default:
			continue
		}

		volume := FloorToPrecision(math.Min(agg.volume, pair.LotSize), pair.Precision)
		if volume <= 0 {
			continue
		}
		price := agg.notional / agg.volume
		notional := volume * price
		orders = append(orders, models.PlannedOrder{
			Exchange: name,
			Side:     side,
			Volume:   volume,
			Price:    price,
			Notional: notional,
			Fee:      notional * fees.Taker(name, side) / 1e4,
		})
	}
	return orders, nil
}

func invalid(a sideAggregate) bool {
	return a.volume < 0 || a.notional < 0 || math.IsNaN(a.volume) || math.IsNaN(a.notional) ||
		math.IsInf(a.volume, 0) || math.IsInf(a.notional, 0)
}
