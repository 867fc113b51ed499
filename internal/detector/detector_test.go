package detector

import (
	"arbitrage-bot-go/internal/config"
	"arbitrage-bot-go/internal/models"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pair = models.PairConfig{Base: "LINK", Quote: "EUR", Precision: 2, LotSize: 5}

func quotes(bid, bidVol, ask, askVol float64) models.MarketQuotes {
	return models.MarketQuotes{
		Bid: models.Quote{Side: models.Sell, RawPrice: bid, EffectivePrice: bid, Volume: bidVol},
		Ask: models.Quote{Side: models.Buy, RawPrice: ask, EffectivePrice: ask, Volume: askVol},
	}
}

func TestDetectSpreadWithoutFees(t *testing.T) {
	q := map[string]models.MarketQuotes{
		"a": quotes(100, 10, 100.5, 10),
		"b": quotes(98.5, 10, 99, 10),
	}
	signals := Detect(q, pair)
	require.Len(t, signals, 2)

	var ab models.Signal
	for _, s := range signals {
		if s.SellExchange == "a" && s.BuyExchange == "b" {
			ab = s
		}
	}
	assert.InDelta(t, 101.0101, ab.SpreadBps, 1e-3)
	assert.Equal(t, 100.0, ab.SellPrice)
	assert.Equal(t, 99.0, ab.BuyPrice)
	assert.Equal(t, 5.0, ab.Volume, "capped at lot size")
}

func TestDetectNeverPairsAnExchangeWithItself(t *testing.T) {
	q := map[string]models.MarketQuotes{
		"a": quotes(100, 1, 101, 1),
		"b": quotes(100, 1, 101, 1),
		"c": quotes(100, 1, 101, 1),
	}
	signals := Detect(q, pair)
	assert.Len(t, signals, 6)
	for _, s := range signals {
		assert.NotEqual(t, s.SellExchange, s.BuyExchange)
	}
}

func TestDetectEmitsNegativeSpreads(t *testing.T) {
	q := map[string]models.MarketQuotes{
		"a": quotes(100, 1, 101, 1),
		"b": quotes(100, 1, 101, 1),
	}
	for _, s := range Detect(q, pair) {
		assert.Less(t, s.SpreadBps, 0.0)
	}
}

func TestDetectUsesFeeAdjustedPrices(t *testing.T) {
	q := map[string]models.MarketQuotes{
		"a": {Bid: models.Quote{RawPrice: 100, EffectivePrice: 100 * (1 - 0.001), Volume: 1}, Ask: models.Quote{RawPrice: 101, EffectivePrice: 101, Volume: 1}},
		"b": {Bid: models.Quote{RawPrice: 98, EffectivePrice: 98, Volume: 1}, Ask: models.Quote{RawPrice: 99, EffectivePrice: 99 * (1 + 0.002), Volume: 1}},
	}
	signals := Detect(q, pair)
	want := ((100*(1-0.001))/(99*(1+0.002)) - 1) * 1e4
	found := false
	for _, s := range signals {
		if s.SellExchange == "a" {
			assert.InDelta(t, want, s.SpreadBps, 1e-9)
			found = true
		}
	}
	assert.True(t, found)
}

func TestDetectIsDeterministic(t *testing.T) {
	q := map[string]models.MarketQuotes{
		"x": quotes(100, 1.234, 100.2, 3),
		"y": quotes(100.4, 0.5, 100.6, 2),
		"z": quotes(99.9, 7, 100.1, 0.25),
	}
	first := Detect(q, pair)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Detect(q, pair))
	}
}

func TestDetectSkipsMissingQuotes(t *testing.T) {
	q := map[string]models.MarketQuotes{
		"a": quotes(100, 1, 101, 1),
		"b": quotes(0, 0, 0, 0),
	}
	assert.Empty(t, Detect(q, pair))
}

func TestDetectOneSidedVenues(t *testing.T) {
	q := map[string]models.MarketQuotes{
		"bids": quotes(100, 1, 0, 0),
		"asks": quotes(0, 0, 99, 1),
	}
	signals := Detect(q, pair)
	require.Len(t, signals, 1)
	assert.Equal(t, "bids", signals[0].SellExchange)
	assert.Equal(t, "asks", signals[0].BuyExchange)
}

func TestFloorToPrecision(t *testing.T) {
	assert.Equal(t, 1.23, FloorToPrecision(1.239, 2))
	assert.Equal(t, 0.0, FloorToPrecision(0.009, 2))
	assert.Equal(t, 3.0, FloorToPrecision(3.99, 0))
}

func book(name string, bids, asks []models.Level) *models.OrderBook {
	return &models.OrderBook{Exchange: name, Bids: bids, Asks: asks}
}

func TestPlanNWayDirections(t *testing.T) {
	books := map[string]*models.OrderBook{
		// cheap venue: its asks sit below the highest ask and above the lowest bid
		"cheap": book("cheap", []models.Level{{Price: 98, Volume: 1}}, []models.Level{{Price: 99, Volume: 3}}),
		// rich venue: its bids sit below the highest ask
		"rich": book("rich", []models.Level{{Price: 101, Volume: 2}, {Price: 100, Volume: 2}}, []models.Level{{Price: 102, Volume: 1}}),
	}
	fees := config.NewFeeTableFrom(map[string]models.FeeConfig{"cheap": {Buy: 10, Sell: 10}, "rich": {Buy: 10, Sell: 10}})
	orders, err := PlanNWay(books, fees, models.PairConfig{Precision: 2, LotSize: 100})
	require.NoError(t, err)
	require.Len(t, orders, 2)

	byName := map[string]models.PlannedOrder{}
	for _, o := range orders {
		byName[o.Exchange] = o
	}
	// cheap: asks>98 -> 3, bids<102 -> 1: buys 3
	assert.Equal(t, models.Buy, byName["cheap"].Side)
	assert.Equal(t, 3.0, byName["cheap"].Volume)
	assert.Equal(t, 99.0, byName["cheap"].Price)
	assert.InDelta(t, 297*10/1e4, byName["cheap"].Fee, 1e-9)
	// rich: asks>98 -> 1, bids<102 -> 4: sells 4
	assert.Equal(t, models.Sell, byName["rich"].Side)
	assert.Equal(t, 4.0, byName["rich"].Volume)
	assert.InDelta(t, 100.5, byName["rich"].Price, 1e-9)
}

func TestPlanNWayNoOpportunity(t *testing.T) {
	books := map[string]*models.OrderBook{
		"a": book("a", []models.Level{{Price: 105, Volume: 1}}, []models.Level{{Price: 100, Volume: 1}}),
		"b": book("b", []models.Level{{Price: 104, Volume: 1}}, []models.Level{{Price: 101, Volume: 1}}),
	}
	orders, err := PlanNWay(books, config.FeeTable{}, pair)
	require.NoError(t, err)
	assert.Empty(t, orders)

	orders, err = PlanNWay(map[string]*models.OrderBook{"a": books["a"]}, config.FeeTable{}, pair)
	require.NoError(t, err)
	assert.Empty(t, orders, "a single venue cannot arbitrage")
}

func TestPlanNWayInconsistentBook(t *testing.T) {
	books := map[string]*models.OrderBook{
		"a": book("a", []models.Level{{Price: 98, Volume: 1}}, []models.Level{{Price: 99, Volume: math.NaN()}}),
		"b": book("b", []models.Level{{Price: 100, Volume: 1}}, []models.Level{{Price: 102, Volume: 1}}),
	}
	_, err := PlanNWay(books, config.FeeTable{}, pair)
	assert.ErrorIs(t, err, ErrInconsistentBook)
}

func TestPlanNWayOneSidedVenues(t *testing.T) {
	books := map[string]*models.OrderBook{
		"asks": book("asks", nil, []models.Level{{Price: 103, Volume: 1}}),
		"bids": book("bids", []models.Level{{Price: 100, Volume: 2}}, nil),
		"full": book("full", []models.Level{{Price: 101, Volume: 1}}, []models.Level{{Price: 102, Volume: 1}}),
	}
	orders, err := PlanNWay(books, config.FeeTable{}, models.PairConfig{Precision: 2, LotSize: 100})
	require.NoError(t, err)
	require.Len(t, orders, 3)

	byName := map[string]models.PlannedOrder{}
	for _, o := range orders {
		byName[o.Exchange] = o
	}
	assert.Equal(t, models.Buy, byName["asks"].Side)
	assert.Equal(t, 1.0, byName["asks"].Volume)
	assert.Equal(t, models.Sell, byName["bids"].Side)
	assert.Equal(t, 2.0, byName["bids"].Volume)
	assert.Equal(t, models.Sell, byName["full"].Side, "equal volumes sell")

	orders, err = PlanNWay(map[string]*models.OrderBook{
		"a": book("a", nil, []models.Level{{Price: 103, Volume: 1}}),
		"b": book("b", nil, []models.Level{{Price: 104, Volume: 1}}),
	}, config.FeeTable{}, pair)
	require.NoError(t, err)
	assert.Empty(t, orders, "no venue quotes bids")
}
