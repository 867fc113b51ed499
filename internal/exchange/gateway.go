package exchange

import (
	"arbitrage-bot-go/internal/models"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// GatewayClient talks to a multi-exchange aggregation gateway: a single
// signed REST API that fronts many venues and normalises their order books,
// orders and balances.
type GatewayClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	timeOffset int64
}

// NewGatewayClient creates a client and synchronises with the gateway clock.
func NewGatewayClient(ctx context.Context, apiKey, secretKey, baseURL string, rps float64, logger *zap.Logger) (*GatewayClient, error) {
	if rps <= 0 {
		rps = 5
	}
	c := &GatewayClient{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger.Named("gateway"),
	}
	if err := c.syncTime(ctx); err != nil {
		return nil, fmt.Errorf("sync gateway time: %w", err)
	}
	return c, nil
}

func (c *GatewayClient) syncTime(ctx context.Context) error {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/time", nil, nil, false)
	if err != nil {
		return err
	}
	var res struct {
		ServerTime int64 `json:"server_time"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return err
	}
	c.timeOffset = res.ServerTime - time.Now().UnixMilli()
	c.logger.Info("gateway time synchronised", zap.Int64("timeOffset (ms)", c.timeOffset))
	return nil
}

// doRequest sends one request. Signed requests carry the key, a timestamp and
// an HMAC-SHA256 over timestamp, method, path with query, and body.
func (c *GatewayClient) doRequest(ctx context.Context, method, endpoint string, params url.Values, body interface{}, signed bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	path := endpoint
	if len(params) > 0 {
		path = endpoint + "?" + params.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		ts := strconv.FormatInt(time.Now().UnixMilli()+c.timeOffset, 10)
		req.Header.Set("X-API-KEY", c.apiKey)
		req.Header.Set("X-TIMESTAMP", ts)
		req.Header.Set("X-SIGNATURE", c.sign(ts+method+path+string(payload)))
	}

	c.logger.Debug("gateway request", zap.String("method", method), zap.String("path", path))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %v: %w", method, endpoint, err, ErrTransient)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %v: %w", err, ErrTransient)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return data, fmt.Errorf("%s %s: %w", method, endpoint, ErrOrderNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return data, fmt.Errorf("%s %s: status %d: %w", method, endpoint, resp.StatusCode, ErrTransient)
	case resp.StatusCode >= 300:
		return data, fmt.Errorf("%s %s: status %d: %s", method, endpoint, resp.StatusCode, string(data))
	}
	return data, nil
}

func (c *GatewayClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

type gatewayBook struct {
	Exchange string       `json:"exchange"`
	Bids     [][2]float64 `json:"bids"`
	Asks     [][2]float64 `json:"asks"`
}

func toLevels(raw [][2]float64) []models.Level {
	out := make([]models.Level, 0, len(raw))
	for _, l := range raw {
		out = append(out, models.Level{Price: l[0], Volume: l[1]})
	}
	return out
}

// OrderBooks implements OrderBookSource. Exchanges the gateway omits are
// simply absent from the result.
func (c *GatewayClient) OrderBooks(ctx context.Context, exchanges []string, pair models.PairConfig, depth int) (map[string]*models.OrderBook, error) {
	params := url.Values{}
	params.Set("exchanges", strings.Join(exchanges, ","))
	params.Set("base", pair.Base)
	params.Set("quote", pair.Quote)
	params.Set("depth", strconv.Itoa(depth))
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/order-book", params, nil, false)
	if err != nil {
		return nil, err
	}
	var raw []gatewayBook
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode order books: %w", err)
	}
	now := time.Now()
	books := make(map[string]*models.OrderBook, len(raw))
	for _, b := range raw {
		book := &models.OrderBook{
			Exchange:  b.Exchange,
			Base:      pair.Base,
			Quote:     pair.Quote,
			Bids:      toLevels(b.Bids),
			Asks:      toLevels(b.Asks),
			Timestamp: now,
		}
		if book.Empty() {
			continue
		}
		books[b.Exchange] = book
	}
	return books, nil
}

type gatewayOrder struct {
	Exchange      string  `json:"exchange"`
	Base          string  `json:"base"`
	Quote         string  `json:"quote"`
	Direction     string  `json:"direction"`
	Type          string  `json:"type"`
	Quantity      float64 `json:"quantity"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
}

// PlaceOrder implements OrderExecutionSource.
func (c *GatewayClient) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderHandle, error) {
	typ := req.Type
	if typ == "" {
		typ = models.Market
	}
	body := gatewayOrder{
		Exchange:      req.Exchange,
		Base:          req.Base,
		Quote:         req.Quote,
		Direction:     string(req.Side),
		Type:          string(typ),
		Quantity:      req.Quantity,
		ClientOrderID: req.ClientOrderID,
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/v1/orders", nil, body, true)
	if err != nil {
		c.logger.Error("place order rejected", zap.Error(err), zap.String("raw_response", string(data)))
		return nil, err
	}
	var res struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	if res.OrderID == "" {
		return nil, fmt.Errorf("gateway returned no order id for %s %s", req.Exchange, req.Side)
	}
	return &models.OrderHandle{
		OrderRef:      models.OrderRef{Exchange: req.Exchange, Base: req.Base, Quote: req.Quote, OrderID: res.OrderID},
		ClientOrderID: req.ClientOrderID,
		Request:       req,
		PlacedAt:      time.Now(),
	}, nil
}

// CancelOrder implements OrderExecutionSource.
func (c *GatewayClient) CancelOrder(ctx context.Context, ref models.OrderRef) error {
	params := url.Values{}
	params.Set("exchange", ref.Exchange)
	_, err := c.doRequest(ctx, http.MethodDelete, "/v1/orders/"+url.PathEscape(ref.OrderID), params, nil, true)
	return err
}

type gatewayStatus struct {
	Status string `json:"status"`
	Fills  []struct {
		Price       float64 `json:"price"`
		Quantity    float64 `json:"quantity"`
		Fee         float64 `json:"fee"`
		FeeCurrency string  `json:"fee_currency"`
	} `json:"fills"`
}

// OrderStatus implements OrderExecutionSource.
func (c *GatewayClient) OrderStatus(ctx context.Context, ref models.OrderRef) (*models.OrderReport, error) {
	params := url.Values{}
	params.Set("exchange", ref.Exchange)
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(ref.OrderID), params, nil, true)
	if err != nil {
		return nil, err
	}
	var res gatewayStatus
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode order status: %w", err)
	}
	report := &models.OrderReport{}
	for _, f := range res.Fills {
		report.Fills = append(report.Fills, models.Fill{Price: f.Price, Quantity: f.Quantity, Fee: f.Fee, FeeCurrency: f.FeeCurrency})
	}
	report.Status = normaliseStatus(res.Status, report.FilledQuantity())
	return report, nil
}

// normaliseStatus maps venue status strings onto the aggregated lifecycle.
// A cancelled or expired order is CLOSED if anything filled, FAILED otherwise.
func normaliseStatus(status string, filled float64) models.OrderStatus {
	switch strings.ToUpper(status) {
	case "NEW", "OPEN", "PENDING", "CREATED", "UNTRIGGERED", "PENDING_CANCEL":
		return models.StatusOpen
	case "PARTIALLY_FILLED", "PARTIALLYFILLED":
		return models.StatusPartiallyFilled
	case "CLOSED", "FILLED":
		return models.StatusClosed
	case "CANCELED", "CANCELLED", "EXPIRED", "PARTIALLYFILLEDCANCELED", "DEACTIVATED":
		if filled > 0 {
			return models.StatusClosed
		}
		return models.StatusFailed
	default:
		return models.StatusFailed
	}
}

// QueryFunds implements FundSource.
func (c *GatewayClient) QueryFunds(ctx context.Context) (map[string][]models.Balance, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/funds", nil, nil, true)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Exchange string `json:"exchange"`
		Funds    []struct {
			Currency string  `json:"currency"`
			Amount   float64 `json:"amount"`
		} `json:"funds"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode funds: %w", err)
	}
	out := make(map[string][]models.Balance, len(raw))
	for _, ex := range raw {
		for _, f := range ex.Funds {
			out[ex.Exchange] = append(out[ex.Exchange], models.Balance{Currency: f.Currency, Amount: f.Amount})
		}
	}
	return out, nil
}

// GatewayVenue exposes one exchange behind the gateway as a Venue.
type GatewayVenue struct {
	client   *GatewayClient
	exchange string
}

// Venue returns the gateway view of a single exchange.
func (c *GatewayClient) Venue(exchange string) *GatewayVenue {
	return &GatewayVenue{client: c, exchange: exchange}
}

// Name implements Venue.
func (v *GatewayVenue) Name() string { return v.exchange }

// OrderBook implements Venue.
func (v *GatewayVenue) OrderBook(ctx context.Context, pair models.PairConfig, depth int) (*models.OrderBook, error) {
	books, err := v.client.OrderBooks(ctx, []string{v.exchange}, pair, depth)
	if err != nil {
		return nil, err
	}
	book, ok := books[v.exchange]
	if !ok {
		return nil, ErrEmptyBook
	}
	return book, nil
}

// PlaceMarketOrder implements Venue.
func (v *GatewayVenue) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.OrderHandle, error) {
	req.Exchange = v.exchange
	req.Type = models.Market
	return v.client.PlaceOrder(ctx, req)
}

// CancelOrder implements Venue.
func (v *GatewayVenue) CancelOrder(ctx context.Context, ref models.OrderRef) error {
	ref.Exchange = v.exchange
	return v.client.CancelOrder(ctx, ref)
}

// OrderStatus implements Venue.
func (v *GatewayVenue) OrderStatus(ctx context.Context, ref models.OrderRef) (*models.OrderReport, error) {
	ref.Exchange = v.exchange
	return v.client.OrderStatus(ctx, ref)
}

// Balances implements Venue. The gateway reports every exchange at once.
func (v *GatewayVenue) Balances(ctx context.Context) ([]models.Balance, error) {
	funds, err := v.client.QueryFunds(ctx)
	if err != nil {
		return nil, err
	}
	return funds[v.exchange], nil
}
