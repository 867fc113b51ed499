package exchange

import (
	"arbitrage-bot-go/internal/models"
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// BookProvider supplies order books to a SimulatedVenue. Paper trading plugs
// a live venue in here so that fills follow real liquidity.
type BookProvider interface {
	OrderBook(ctx context.Context, pair models.PairConfig, depth int) (*models.OrderBook, error)
}

type simOrder struct {
	ref       models.OrderRef
	req       models.OrderRequest
	report    models.OrderReport // final report once the order settles
	polls     int
	cancelled bool
}

// SimulatedVenue executes market orders against an order book without
// touching a real exchange. Fills walk the book levels, pay the taker fee and
// slippage, and move the simulated balances.
type SimulatedVenue struct {
	name        string
	fees        models.FeeConfig
	slippageBps float64
	fillAfter   int
	source      BookProvider

	mu          sync.Mutex
	books       map[string]*models.OrderBook
	balances    map[string]float64
	orders      map[string]*simOrder
	nextOrderID int64
	now         func() time.Time

	// Injected failures for tests.
	PlaceErr  error
	CancelErr error
	StatusErr error
	BookErr   error
}

// NewSimulatedVenue creates a venue named name. A nil source means books are
// supplied through SetOrderBook.
func NewSimulatedVenue(name string, cfg models.ExchangeConfig, source BookProvider) *SimulatedVenue {
	balances := make(map[string]float64, len(cfg.Simulated.Balances))
	for c, a := range cfg.Simulated.Balances {
		balances[c] = a
	}
	return &SimulatedVenue{
		name:        name,
		fees:        cfg.Fees,
		slippageBps: cfg.Simulated.SlippageBps,
		fillAfter:   cfg.Simulated.FillAfter,
		source:      source,
		books:       make(map[string]*models.OrderBook),
		balances:    balances,
		orders:      make(map[string]*simOrder),
		nextOrderID: 1,
		now:         time.Now,
	}
}

// Name implements Venue.
func (e *SimulatedVenue) Name() string { return e.name }

// SetOrderBook installs the book used for the pair of b.
func (e *SimulatedVenue) SetOrderBook(b *models.OrderBook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.books[b.Base+"/"+b.Quote] = b
}

// SetBalance overrides the simulated balance of a currency.
func (e *SimulatedVenue) SetBalance(currency string, amount float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[currency] = amount
}

// Balance returns the simulated balance of a currency.
func (e *SimulatedVenue) Balance(currency string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances[currency]
}

// OrderBook implements Venue.
func (e *SimulatedVenue) OrderBook(ctx context.Context, pair models.PairConfig, depth int) (*models.OrderBook, error) {
	if e.source != nil {
		book, err := e.source.OrderBook(ctx, pair, depth)
		if err != nil {
			return nil, err
		}
		cp := *book
		cp.Exchange = e.name
		e.SetOrderBook(&cp)
		return &cp, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.BookErr != nil {
		return nil, e.BookErr
	}
	book, ok := e.books[pair.Symbol()]
	if !ok {
		return nil, ErrEmptyBook
	}
	cp := *book
	cp.Exchange = e.name
	cp.Bids = truncateLevels(book.Bids, depth)
	cp.Asks = truncateLevels(book.Asks, depth)
	return &cp, nil
}

func truncateLevels(levels []models.Level, depth int) []models.Level {
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	out := make([]models.Level, len(levels))
	copy(out, levels)
	return out
}

// PlaceMarketOrder implements Venue. The order is filled immediately against
// the current book but reports OPEN until it has been polled fillAfter times.
func (e *SimulatedVenue) PlaceMarketOrder(_ context.Context, req models.OrderRequest) (*models.OrderHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.PlaceErr != nil {
		return nil, e.PlaceErr
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%s: quantity must be positive", e.name)
	}
	book, ok := e.books[req.Base+"/"+req.Quote]
	if !ok || book.Empty() {
		return nil, fmt.Errorf("%s: %w", e.name, ErrEmptyBook)
	}

	levels := book.Asks
	if req.Side == models.Sell {
		levels = book.Bids
	}
	filled, notional := walkLevels(levels, req.Quantity)
	if filled == 0 {
		return nil, fmt.Errorf("%s: no liquidity for %s", e.name, req.Side)
	}

	slip := e.slippageBps / 1e4
	if req.Side == models.Buy {
		notional *= 1 + slip
	} else {
		notional *= 1 - slip
	}
	feeBps := e.fees.Sell
	if req.Side == models.Buy {
		feeBps = e.fees.Buy
	}
	fee := notional * feeBps / 1e4

	if req.Side == models.Buy {
		if e.balances[req.Quote] < notional+fee {
			return nil, fmt.Errorf("%s: insufficient %s balance", e.name, req.Quote)
		}
		e.balances[req.Quote] -= notional + fee
		e.balances[req.Base] += filled
	} else {
		if e.balances[req.Base] < filled {
			return nil, fmt.Errorf("%s: insufficient %s balance", e.name, req.Base)
		}
		e.balances[req.Base] -= filled
		e.balances[req.Quote] += notional - fee
	}

	id := strconv.FormatInt(e.nextOrderID, 10)
	e.nextOrderID++
	ref := models.OrderRef{Exchange: e.name, Base: req.Base, Quote: req.Quote, OrderID: id}
	e.orders[id] = &simOrder{
		ref: ref,
		req: req,
		report: models.OrderReport{
			Status: models.StatusClosed,
			Fills: []models.Fill{{
				Price:       notional / filled,
				Quantity:    filled,
				Fee:         fee,
				FeeCurrency: req.Quote,
			}},
		},
	}

	return &models.OrderHandle{
		OrderRef:      ref,
		ClientOrderID: req.ClientOrderID,
		Request:       req,
		PlacedAt:      e.now(),
	}, nil
}

// walkLevels consumes levels until qty is filled or the book runs out and
// returns the filled quantity and its notional.
func walkLevels(levels []models.Level, qty float64) (filled, notional float64) {
	for _, l := range levels {
		if filled >= qty {
			break
		}
		take := l.Volume
		if remaining := qty - filled; take > remaining {
			take = remaining
		}
		filled += take
		notional += take * l.Price
	}
	return filled, notional
}

// CancelOrder implements Venue. An order that already settled is unknown to
// the matching engine, so it reports ErrOrderNotFound like a real venue.
func (e *SimulatedVenue) CancelOrder(_ context.Context, ref models.OrderRef) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CancelErr != nil {
		return e.CancelErr
	}
	o, ok := e.orders[ref.OrderID]
	if !ok || o.cancelled || o.polls >= e.fillAfter {
		return fmt.Errorf("%s %s: %w", e.name, ref.OrderID, ErrOrderNotFound)
	}
	o.cancelled = true
	return nil
}

// OrderStatus implements Venue.
func (e *SimulatedVenue) OrderStatus(_ context.Context, ref models.OrderRef) (*models.OrderReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.StatusErr != nil {
		return nil, e.StatusErr
	}
	o, ok := e.orders[ref.OrderID]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", e.name, ref.OrderID, ErrOrderNotFound)
	}
	o.polls++
	if o.cancelled || o.polls > e.fillAfter {
		rep := o.report
		rep.Fills = append([]models.Fill(nil), o.report.Fills...)
		return &rep, nil
	}
	return &models.OrderReport{Status: models.StatusOpen}, nil
}

// Balances implements Venue.
func (e *SimulatedVenue) Balances(_ context.Context) ([]models.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Balance, 0, len(e.balances))
	for c, a := range e.balances {
		out = append(out, models.Balance{Currency: c, Amount: a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}
