package exchange

import (
	"arbitrage-bot-go/internal/models"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRouterOrderBooksReturnsPartialResults(t *testing.T) {
	good := newTestVenue(t, 0)
	broken := NewSimulatedVenue("broken", models.ExchangeConfig{}, nil)
	broken.BookErr = ErrTransient

	r := NewRouter(zap.NewNop(), good, broken)
	books, err := r.OrderBooks(context.Background(), []string{"sim", "broken", "missing"}, linkEUR, 10)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, ErrUnknownExchange)
	require.Len(t, books, 1)
	assert.Contains(t, books, "sim")
}

func TestRouterRoutesOrdersByExchange(t *testing.T) {
	a := newTestVenue(t, 0)
	r := NewRouter(zap.NewNop(), a)
	ctx := context.Background()

	h, err := r.PlaceOrder(ctx, models.OrderRequest{Exchange: "sim", Base: "LINK", Quote: "EUR", Side: models.Buy, Type: models.Market, Quantity: 1})
	require.NoError(t, err)

	rep, err := r.OrderStatus(ctx, h.OrderRef)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, rep.Status)

	_, err = r.PlaceOrder(ctx, models.OrderRequest{Exchange: "nope", Quantity: 1})
	assert.True(t, errors.Is(err, ErrUnknownExchange))

	_, err = r.PlaceOrder(ctx, models.OrderRequest{Exchange: "sim", Type: models.Limit, Quantity: 1})
	assert.Error(t, err, "limit orders are not routed")
}

func TestRouterQueryFunds(t *testing.T) {
	r := NewRouter(zap.NewNop(), newTestVenue(t, 0))
	funds, err := r.QueryFunds(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.Balance{{Currency: "EUR", Amount: 10000}, {Currency: "LINK", Amount: 100}}, funds["sim"])
	assert.Equal(t, []string{"sim"}, r.Names())
}
