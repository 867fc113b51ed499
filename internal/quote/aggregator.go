package quote

import (
	"arbitrage-bot-go/internal/config"
	"arbitrage-bot-go/internal/exchange"
	"arbitrage-bot-go/internal/models"
	"context"
	"sync"

	"go.uber.org/zap"
)

// Aggregator turns per-exchange order books into fee adjusted quotes.
type Aggregator struct {
	source exchange.OrderBookSource
	fees   config.FeeTable
	depth  int
	logger *zap.Logger
}

// NewAggregator creates an Aggregator reading books from source.
func NewAggregator(source exchange.OrderBookSource, fees config.FeeTable, depth int, logger *zap.Logger) *Aggregator {
	return &Aggregator{source: source, fees: fees, depth: depth, logger: logger.Named("quotes")}
}

// Snapshot is the outcome of one aggregation: the books that were fetched and
// the quotes derived from them.
type Snapshot struct {
	Books  map[string]*models.OrderBook
	Quotes map[string]models.MarketQuotes
}

// Collect fetches one book per exchange concurrently and derives the best
// bid and ask for volume. Exchanges that fail or return an empty book are
// absent from the snapshot.
func (a *Aggregator) Collect(ctx context.Context, exchanges []string, pair models.PairConfig, volume float64) Snapshot {
	type result struct {
		name string
		book *models.OrderBook
	}
	results := make(chan result, len(exchanges))
	var wg sync.WaitGroup
	for _, name := range exchanges {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			books, err := a.source.OrderBooks(ctx, []string{name}, pair, a.depth)
			if err != nil {
				a.logger.Warn("order book unavailable", zap.String("exchange", name), zap.Error(err))
			}
			if book, ok := books[name]; ok && !book.Empty() {
				results <- result{name: name, book: book}
			}
		}(name)
	}
	wg.Wait()
	close(results)

	snap := Snapshot{
		Books:  make(map[string]*models.OrderBook, len(exchanges)),
		Quotes: make(map[string]models.MarketQuotes, len(exchanges)),
	}
	for res := range results {
		snap.Books[res.name] = res.book
		snap.Quotes[res.name] = a.QuoteBook(res.book, volume)
	}
	return snap
}

// QuoteBook derives the fee adjusted quotes of a single book.
func (a *Aggregator) QuoteBook(book *models.OrderBook, volume float64) models.MarketQuotes {
	bidPrice, bidVol := BestPrice(book.Bids, volume)
	askPrice, askVol := BestPrice(book.Asks, volume)
	return models.MarketQuotes{
		Bid: models.Quote{
			Exchange:       book.Exchange,
			Side:           models.Sell,
			RawPrice:       bidPrice,
			EffectivePrice: bidPrice * (1 - a.fees.Taker(book.Exchange, models.Sell)/1e4),
			Volume:         bidVol,
		},
		Ask: models.Quote{
			Exchange:       book.Exchange,
			Side:           models.Buy,
			RawPrice:       askPrice,
			EffectivePrice: askPrice * (1 + a.fees.Taker(book.Exchange, models.Buy)/1e4),
			Volume:         askVol,
		},
	}
}
