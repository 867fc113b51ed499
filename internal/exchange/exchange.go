package exchange

import (
	"arbitrage-bot-go/internal/models"
	"context"
	"errors"
)

var (
	// ErrOrderNotFound is returned when a venue does not know an order id.
	ErrOrderNotFound = errors.New("exchange: order not found")
	// ErrUnknownExchange is returned when a request names an unregistered venue.
	ErrUnknownExchange = errors.New("exchange: unknown exchange")
	// ErrEmptyBook is returned when a venue reports a book without levels.
	ErrEmptyBook = errors.New("exchange: empty order book")
	// ErrTransient marks failures worth retrying on the next cycle.
	ErrTransient = errors.New("exchange: transient failure")
)

// Venue is a connector to a single exchange.
type Venue interface {
	Name() string
	OrderBook(ctx context.Context, pair models.PairConfig, depth int) (*models.OrderBook, error)
	PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.OrderHandle, error)
	CancelOrder(ctx context.Context, ref models.OrderRef) error
	OrderStatus(ctx context.Context, ref models.OrderRef) (*models.OrderReport, error)
	Balances(ctx context.Context) ([]models.Balance, error)
}

// OrderBookSource fetches books for several exchanges at once. A partial
// result is returned together with an error describing the missing venues.
type OrderBookSource interface {
	OrderBooks(ctx context.Context, exchanges []string, pair models.PairConfig, depth int) (map[string]*models.OrderBook, error)
}

// OrderExecutionSource places, cancels and inspects orders.
type OrderExecutionSource interface {
	PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderHandle, error)
	CancelOrder(ctx context.Context, ref models.OrderRef) error
	OrderStatus(ctx context.Context, ref models.OrderRef) (*models.OrderReport, error)
}

// FundSource reports balances per exchange.
type FundSource interface {
	QueryFunds(ctx context.Context) (map[string][]models.Balance, error)
}

// IsTransient reports whether err should only exclude a venue for one cycle.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
