package exchange

import (
	"arbitrage-bot-go/internal/models"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Binance error codes for unknown orders.
const (
	binanceCodeUnknownOrder  = -2011
	binanceCodeOrderNotExist = -2013
)

// BinanceVenue is a spot connector built on go-binance.
type BinanceVenue struct {
	name    string
	client  *binance.Client
	cfg     models.ExchangeConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewBinanceVenue creates a Binance spot venue. An empty key pair is enough
// for public market data.
func NewBinanceVenue(name, apiKey, secretKey string, cfg models.ExchangeConfig, logger *zap.Logger) *BinanceVenue {
	client := binance.NewClient(apiKey, secretKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	client.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	return &BinanceVenue{
		name:    name,
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger.Named(name),
	}
}

// Name implements Venue.
func (v *BinanceVenue) Name() string { return v.name }

func (v *BinanceVenue) symbol(base, quote string) string {
	if s, ok := v.cfg.Symbols[base+"/"+quote]; ok {
		return s
	}
	return base + quote
}

// classify maps go-binance failures onto the package sentinels.
func (v *BinanceVenue) classify(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == binanceCodeUnknownOrder || apiErr.Code == binanceCodeOrderNotExist {
			return fmt.Errorf("%s %s: %v: %w", v.name, op, err, ErrOrderNotFound)
		}
		return fmt.Errorf("%s %s: %w", v.name, op, err)
	}
	// anything that is not an API rejection is a transport problem
	return fmt.Errorf("%s %s: %v: %w", v.name, op, err, ErrTransient)
}

// OrderBook implements Venue.
func (v *BinanceVenue) OrderBook(ctx context.Context, pair models.PairConfig, depth int) (*models.OrderBook, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := v.client.NewDepthService().Symbol(v.symbol(pair.Base, pair.Quote)).Limit(depth).Do(ctx)
	if err != nil {
		return nil, v.classify("depth", err)
	}
	book := &models.OrderBook{
		Exchange:  v.name,
		Base:      pair.Base,
		Quote:     pair.Quote,
		Bids:      make([]models.Level, 0, len(res.Bids)),
		Asks:      make([]models.Level, 0, len(res.Asks)),
		Timestamp: time.Now(),
	}
	for _, b := range res.Bids {
		p, q, err := parseLevel(b.Price, b.Quantity)
		if err != nil {
			return nil, fmt.Errorf("%s depth: %w", v.name, err)
		}
		book.Bids = append(book.Bids, models.Level{Price: p, Volume: q})
	}
	for _, a := range res.Asks {
		p, q, err := parseLevel(a.Price, a.Quantity)
		if err != nil {
			return nil, fmt.Errorf("%s depth: %w", v.name, err)
		}
		book.Asks = append(book.Asks, models.Level{Price: p, Volume: q})
	}
	return book, nil
}

func parseLevel(price, qty string) (float64, float64, error) {
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse price %q: %w", price, err)
	}
	q, err := strconv.ParseFloat(qty, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse quantity %q: %w", qty, err)
	}
	return p, q, nil
}

// PlaceMarketOrder implements Venue.
func (v *BinanceVenue) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.OrderHandle, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	side := binance.SideTypeBuy
	if req.Side == models.Sell {
		side = binance.SideTypeSell
	}
	svc := v.client.NewCreateOrderService().
		Symbol(v.symbol(req.Base, req.Quote)).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(decimal.NewFromFloat(req.Quantity).String())
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		v.logger.Error("market order rejected", zap.String("side", string(req.Side)), zap.Float64("quantity", req.Quantity), zap.Error(err))
		return nil, v.classify("create order", err)
	}
	return &models.OrderHandle{
		OrderRef: models.OrderRef{
			Exchange: v.name,
			Base:     req.Base,
			Quote:    req.Quote,
			OrderID:  strconv.FormatInt(res.OrderID, 10),
		},
		ClientOrderID: res.ClientOrderID,
		Request:       req,
		PlacedAt:      time.Now(),
	}, nil
}

func parseOrderID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("order id %q: %w", id, ErrOrderNotFound)
	}
	return n, nil
}

// CancelOrder implements Venue.
func (v *BinanceVenue) CancelOrder(ctx context.Context, ref models.OrderRef) error {
	id, err := parseOrderID(ref.OrderID)
	if err != nil {
		return err
	}
	if err := v.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := v.client.NewCancelOrderService().Symbol(v.symbol(ref.Base, ref.Quote)).OrderID(id).Do(ctx); err != nil {
		return v.classify("cancel order", err)
	}
	return nil
}

// OrderStatus implements Venue. The order endpoint carries no commission, so
// the fee is estimated from the configured taker fee.
func (v *BinanceVenue) OrderStatus(ctx context.Context, ref models.OrderRef) (*models.OrderReport, error) {
	id, err := parseOrderID(ref.OrderID)
	if err != nil {
		return nil, err
	}
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	o, err := v.client.NewGetOrderService().Symbol(v.symbol(ref.Base, ref.Quote)).OrderID(id).Do(ctx)
	if err != nil {
		return nil, v.classify("get order", err)
	}
	executed, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
	quoteQty, _ := strconv.ParseFloat(o.CummulativeQuoteQuantity, 64)

	report := &models.OrderReport{}
	if executed > 0 {
		feeBps := v.cfg.Fees.Buy
		if o.Side == binance.SideTypeSell {
			feeBps = v.cfg.Fees.Sell
		}
		report.Fills = []models.Fill{{
			Price:       quoteQty / executed,
			Quantity:    executed,
			Fee:         quoteQty * feeBps / 1e4,
			FeeCurrency: ref.Quote,
		}}
	}
	report.Status = normaliseStatus(string(o.Status), executed)
	return report, nil
}

// Balances implements Venue. Locked amounts are not available for trading
// and are left out.
func (v *BinanceVenue) Balances(ctx context.Context) ([]models.Balance, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	acc, err := v.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, v.classify("account", err)
	}
	out := make([]models.Balance, 0, len(acc.Balances))
	for _, b := range acc.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		if free == 0 {
			continue
		}
		out = append(out, models.Balance{Currency: b.Asset, Amount: free})
	}
	return out, nil
}
