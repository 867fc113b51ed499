package exchange

import (
	"arbitrage-bot-go/internal/models"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Router dispatches requests to the registered venues by exchange name and
// implements the collaborator interfaces on top of them.
type Router struct {
	mu     sync.RWMutex
	venues map[string]Venue
	logger *zap.Logger
}

// NewRouter creates a Router over the given venues.
func NewRouter(logger *zap.Logger, venues ...Venue) *Router {
	r := &Router{venues: make(map[string]Venue), logger: logger.Named("router")}
	for _, v := range venues {
		r.Register(v)
	}
	return r
}

// Register adds or replaces a venue.
func (r *Router) Register(v Venue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.venues[v.Name()] = v
}

// Names returns the registered exchange names, sorted.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.venues))
	for n := range r.venues {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Venue looks up a registered venue.
func (r *Router) Venue(name string) (Venue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.venues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, name)
	}
	return v, nil
}

// OrderBooks fetches the requested books concurrently. Venues that fail or
// report an empty book are left out of the result.
func (r *Router) OrderBooks(ctx context.Context, exchanges []string, pair models.PairConfig, depth int) (map[string]*models.OrderBook, error) {
	type result struct {
		name string
		book *models.OrderBook
		err  error
	}
	results := make(chan result, len(exchanges))
	var wg sync.WaitGroup
	for _, name := range exchanges {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			v, err := r.Venue(name)
			if err != nil {
				results <- result{name: name, err: err}
				return
			}
			book, err := v.OrderBook(ctx, pair, depth)
			if err == nil && book.Empty() {
				err = ErrEmptyBook
			}
			results <- result{name: name, book: book, err: err}
		}(name)
	}
	wg.Wait()
	close(results)

	books := make(map[string]*models.OrderBook, len(exchanges))
	var errs []error
	for res := range results {
		if res.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.name, res.err))
			continue
		}
		books[res.name] = res.book
	}
	return books, errors.Join(errs...)
}

// PlaceOrder routes the request to req.Exchange.
func (r *Router) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderHandle, error) {
	v, err := r.Venue(req.Exchange)
	if err != nil {
		return nil, err
	}
	if req.Type != "" && req.Type != models.Market {
		return nil, fmt.Errorf("%s: only market orders are supported, got %s", req.Exchange, req.Type)
	}
	return v.PlaceMarketOrder(ctx, req)
}

// CancelOrder routes the cancel to ref.Exchange.
func (r *Router) CancelOrder(ctx context.Context, ref models.OrderRef) error {
	v, err := r.Venue(ref.Exchange)
	if err != nil {
		return err
	}
	return v.CancelOrder(ctx, ref)
}

// OrderStatus routes the status query to ref.Exchange.
func (r *Router) OrderStatus(ctx context.Context, ref models.OrderRef) (*models.OrderReport, error) {
	v, err := r.Venue(ref.Exchange)
	if err != nil {
		return nil, err
	}
	return v.OrderStatus(ctx, ref)
}

// QueryFunds collects balances from every venue. Venues that fail are
// missing from the result and reported in the joined error.
func (r *Router) QueryFunds(ctx context.Context) (map[string][]models.Balance, error) {
	names := r.Names()
	out := make(map[string][]models.Balance, len(names))
	var errs []error
	for _, name := range names {
		v, _ := r.Venue(name)
		balances, err := v.Balances(ctx)
		if err != nil {
			r.logger.Warn("balance query failed", zap.String("exchange", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out[name] = balances
	}
	return out, errors.Join(errs...)
}
