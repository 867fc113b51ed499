package exchange

import (
	"arbitrage-bot-go/internal/models"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var linkEUR = models.PairConfig{Base: "LINK", Quote: "EUR", Precision: 5, LotSize: 20, MinLotSize: 1}

func newTestVenue(t *testing.T, fillAfter int) *SimulatedVenue {
	t.Helper()
	v := NewSimulatedVenue("sim", models.ExchangeConfig{
		Fees: models.FeeConfig{Buy: 10, Sell: 10},
		Simulated: models.SimulatedConfig{
			Balances:  map[string]float64{"EUR": 10000, "LINK": 100},
			FillAfter: fillAfter,
		},
	}, nil)
	v.SetOrderBook(&models.OrderBook{
		Base:  "LINK",
		Quote: "EUR",
		Bids:  []models.Level{{Price: 100, Volume: 2}, {Price: 99, Volume: 5}},
		Asks:  []models.Level{{Price: 101, Volume: 1}, {Price: 102, Volume: 10}},
	})
	return v
}

func TestSimulatedMarketBuyWalksLevels(t *testing.T) {
	v := newTestVenue(t, 0)
	ctx := context.Background()

	h, err := v.PlaceMarketOrder(ctx, models.OrderRequest{Base: "LINK", Quote: "EUR", Side: models.Buy, Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, "sim", h.Exchange)

	rep, err := v.OrderStatus(ctx, h.OrderRef)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, rep.Status)
	assert.InDelta(t, 3, rep.FilledQuantity(), 1e-9)
	// 1 @ 101 + 2 @ 102
	assert.InDelta(t, 305.0/3, rep.AveragePrice(), 1e-9)
	fee, cur := rep.TotalFee()
	assert.InDelta(t, 0.305, fee, 1e-9)
	assert.Equal(t, "EUR", cur)

	assert.InDelta(t, 103, v.Balance("LINK"), 1e-9)
	assert.InDelta(t, 10000-305-0.305, v.Balance("EUR"), 1e-9)
}

func TestSimulatedSellRejectsInsufficientBalance(t *testing.T) {
	v := newTestVenue(t, 0)
	v.SetBalance("LINK", 0.5)

	_, err := v.PlaceMarketOrder(context.Background(), models.OrderRequest{Base: "LINK", Quote: "EUR", Side: models.Sell, Quantity: 1})
	assert.Error(t, err)
	assert.InDelta(t, 0.5, v.Balance("LINK"), 1e-12)
}

func TestSimulatedOrderStaysOpenUntilPolled(t *testing.T) {
	v := newTestVenue(t, 2)
	ctx := context.Background()

	h, err := v.PlaceMarketOrder(ctx, models.OrderRequest{Base: "LINK", Quote: "EUR", Side: models.Sell, Quantity: 1})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		rep, err := v.OrderStatus(ctx, h.OrderRef)
		require.NoError(t, err)
		assert.Equal(t, models.StatusOpen, rep.Status)
	}
	rep, err := v.OrderStatus(ctx, h.OrderRef)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, rep.Status)

	err = v.CancelOrder(ctx, h.OrderRef)
	assert.ErrorIs(t, err, ErrOrderNotFound, "settled orders cannot be cancelled")
}

func TestSimulatedCancelOpenOrder(t *testing.T) {
	v := newTestVenue(t, 5)
	ctx := context.Background()

	h, err := v.PlaceMarketOrder(ctx, models.OrderRequest{Base: "LINK", Quote: "EUR", Side: models.Sell, Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, v.CancelOrder(ctx, h.OrderRef))

	rep, err := v.OrderStatus(ctx, h.OrderRef)
	require.NoError(t, err)
	assert.True(t, rep.Status.Terminal())
}

func TestSimulatedUnknownOrder(t *testing.T) {
	v := newTestVenue(t, 0)
	_, err := v.OrderStatus(context.Background(), models.OrderRef{Exchange: "sim", OrderID: "404"})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestSimulatedOrderBookDepth(t *testing.T) {
	v := newTestVenue(t, 0)
	book, err := v.OrderBook(context.Background(), linkEUR, 1)
	require.NoError(t, err)
	assert.Len(t, book.Bids, 1)
	assert.Len(t, book.Asks, 1)
	assert.Equal(t, "sim", book.Exchange)

	_, err = v.OrderBook(context.Background(), models.PairConfig{Base: "BTC", Quote: "EUR"}, 10)
	assert.ErrorIs(t, err, ErrEmptyBook)
}
