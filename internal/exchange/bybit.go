package exchange

import (
	"arbitrage-bot-go/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	bybitCategory          = "spot"
	bybitCodeOrderNotFound = 110001
	bybitDefaultBaseURL    = "https://api.bybit.com"
)

// BybitVenue is a spot connector built on the Bybit v5 unified API.
type BybitVenue struct {
	name    string
	client  *bybit.Client
	cfg     models.ExchangeConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewBybitVenue creates a Bybit spot venue.
func NewBybitVenue(name, apiKey, secretKey string, cfg models.ExchangeConfig, logger *zap.Logger) *BybitVenue {
	base := cfg.BaseURL
	if base == "" {
		base = bybitDefaultBaseURL
	}
	client := bybit.NewBybitHttpClient(apiKey, secretKey, bybit.WithBaseURL(base))
	client.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	return &BybitVenue{
		name:    name,
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger.Named(name),
	}
}

// Name implements Venue.
func (v *BybitVenue) Name() string { return v.name }

func (v *BybitVenue) symbol(base, quote string) string {
	if s, ok := v.cfg.Symbols[base+"/"+quote]; ok {
		return s
	}
	return base + quote
}

// request binds one SDK endpoint to params.
func (v *BybitVenue) request(params map[string]interface{}, endpoint string) func(context.Context) (*bybit.ServerResponse, error) {
	return func(ctx context.Context) (*bybit.ServerResponse, error) {
		svc := v.client.NewUtaBybitServiceWithParams(params)
		switch endpoint {
		case "GetOrderBookInfo":
			return svc.GetOrderBookInfo(ctx)
		case "PlaceOrder":
			return svc.PlaceOrder(ctx)
		case "CancelOrder":
			return svc.CancelOrder(ctx)
		case "GetOpenOrders":
			return svc.GetOpenOrders(ctx)
		case "GetOrderHistory":
			return svc.GetOrderHistory(ctx)
		case "GetAccountWallet":
			return svc.GetAccountWallet(ctx)
		}
		return nil, fmt.Errorf("unsupported endpoint %s", endpoint)
	}
}

// call runs one SDK request and decodes its result into out.
func (v *BybitVenue) call(ctx context.Context, op string, do func(context.Context) (*bybit.ServerResponse, error), out interface{}) error {
	if err := v.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := do(ctx)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", v.name, op, err, ErrTransient)
	}
	if resp.RetCode == bybitCodeOrderNotFound {
		return fmt.Errorf("%s %s: %s: %w", v.name, op, resp.RetMsg, ErrOrderNotFound)
	}
	if resp.RetCode != 0 {
		return fmt.Errorf("%s %s: code %d: %s", v.name, op, resp.RetCode, resp.RetMsg)
	}
	if out == nil {
		return nil
	}
	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("%s %s: marshal result: %w", v.name, op, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%s %s: decode result: %w", v.name, op, err)
	}
	return nil
}

// OrderBook implements Venue.
func (v *BybitVenue) OrderBook(ctx context.Context, pair models.PairConfig, depth int) (*models.OrderBook, error) {
	params := map[string]interface{}{
		"category": bybitCategory,
		"symbol":   v.symbol(pair.Base, pair.Quote),
		"limit":    depth,
	}
	var res struct {
		Bids [][]string `json:"b"`
		Asks [][]string `json:"a"`
	}
	err := v.call(ctx, "order book", v.request(params, "GetOrderBookInfo"), &res)
	if err != nil {
		return nil, err
	}
	book := &models.OrderBook{Exchange: v.name, Base: pair.Base, Quote: pair.Quote, Timestamp: time.Now()}
	if book.Bids, err = bybitLevels(res.Bids); err != nil {
		return nil, fmt.Errorf("%s bids: %w", v.name, err)
	}
	if book.Asks, err = bybitLevels(res.Asks); err != nil {
		return nil, fmt.Errorf("%s asks: %w", v.name, err)
	}
	return book, nil
}

func bybitLevels(raw [][]string) ([]models.Level, error) {
	out := make([]models.Level, 0, len(raw))
	for _, l := range raw {
		if len(l) < 2 {
			return nil, fmt.Errorf("malformed level %v", l)
		}
		p, q, err := parseLevel(l[0], l[1])
		if err != nil {
			return nil, err
		}
		out = append(out, models.Level{Price: p, Volume: q})
	}
	return out, nil
}

// PlaceMarketOrder implements Venue. Spot market buys are sized in the base
// currency through marketUnit.
func (v *BybitVenue) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.OrderHandle, error) {
	side := "Buy"
	if req.Side == models.Sell {
		side = "Sell"
	}
	params := map[string]interface{}{
		"category":   bybitCategory,
		"symbol":     v.symbol(req.Base, req.Quote),
		"side":       side,
		"orderType":  "Market",
		"qty":        decimal.NewFromFloat(req.Quantity).String(),
		"marketUnit": "baseCoin",
	}
	if req.ClientOrderID != "" {
		params["orderLinkId"] = req.ClientOrderID
	}
	var res struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := v.call(ctx, "place order", v.request(params, "PlaceOrder"), &res); err != nil {
		v.logger.Error("market order rejected", zap.String("side", side), zap.Float64("quantity", req.Quantity), zap.Error(err))
		return nil, err
	}
	return &models.OrderHandle{
		OrderRef:      models.OrderRef{Exchange: v.name, Base: req.Base, Quote: req.Quote, OrderID: res.OrderID},
		ClientOrderID: res.OrderLinkID,
		Request:       req,
		PlacedAt:      time.Now(),
	}, nil
}

// CancelOrder implements Venue.
func (v *BybitVenue) CancelOrder(ctx context.Context, ref models.OrderRef) error {
	params := map[string]interface{}{
		"category": bybitCategory,
		"symbol":   v.symbol(ref.Base, ref.Quote),
		"orderId":  ref.OrderID,
	}
	return v.call(ctx, "cancel order", v.request(params, "CancelOrder"), nil)
}

type bybitOrderList struct {
	List []struct {
		OrderID     string `json:"orderId"`
		OrderStatus string `json:"orderStatus"`
		AvgPrice    string `json:"avgPrice"`
		CumExecQty  string `json:"cumExecQty"`
		CumExecFee  string `json:"cumExecFee"`
	} `json:"list"`
}

// OrderStatus implements Venue. Recently closed orders are still served by
// the realtime endpoint; older ones fall back to the history endpoint.
func (v *BybitVenue) OrderStatus(ctx context.Context, ref models.OrderRef) (*models.OrderReport, error) {
	params := map[string]interface{}{
		"category": bybitCategory,
		"symbol":   v.symbol(ref.Base, ref.Quote),
		"orderId":  ref.OrderID,
	}
	var res bybitOrderList
	if err := v.call(ctx, "open orders", v.request(params, "GetOpenOrders"), &res); err != nil {
		return nil, err
	}
	if len(res.List) == 0 {
		if err := v.call(ctx, "order history", v.request(params, "GetOrderHistory"), &res); err != nil {
			return nil, err
		}
	}
	if len(res.List) == 0 {
		return nil, fmt.Errorf("%s %s: %w", v.name, ref.OrderID, ErrOrderNotFound)
	}
	o := res.List[0]
	executed, _ := strconv.ParseFloat(o.CumExecQty, 64)
	avg, _ := strconv.ParseFloat(o.AvgPrice, 64)
	fee, _ := strconv.ParseFloat(o.CumExecFee, 64)

	report := &models.OrderReport{}
	if executed > 0 {
		report.Fills = []models.Fill{{Price: avg, Quantity: executed, Fee: fee, FeeCurrency: ref.Quote}}
	}
	report.Status = normaliseStatus(o.OrderStatus, executed)
	return report, nil
}

// Balances implements Venue.
func (v *BybitVenue) Balances(ctx context.Context) ([]models.Balance, error) {
	params := map[string]interface{}{"accountType": "UNIFIED"}
	var res struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
				Locked        string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := v.call(ctx, "wallet", v.request(params, "GetAccountWallet"), &res); err != nil {
		return nil, err
	}
	var out []models.Balance
	for _, acc := range res.List {
		for _, c := range acc.Coin {
			bal, _ := strconv.ParseFloat(c.WalletBalance, 64)
			locked, _ := strconv.ParseFloat(c.Locked, 64)
			if free := bal - locked; free > 0 {
				out = append(out, models.Balance{Currency: c.Coin, Amount: free})
			}
		}
	}
	return out, nil
}
