package execution

import (
	"arbitrage-bot-go/internal/exchange"
	"arbitrage-bot-go/internal/metrics"
	"arbitrage-bot-go/internal/models"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// AuditSink receives one record per placed or failed leg. It must not block.
type AuditSink interface {
	Record(leg models.TradeLeg)
}

// Tracker takes ownership of acknowledged orders until they settle.
type Tracker interface {
	Enqueue(order models.PendingOrder)
}

// Releaser returns a reservation that will never be used.
type Releaser interface {
	Release(id string) error
}

// Publisher fans events out to live subscribers.
type Publisher interface {
	Publish(eventType string, payload any)
}

// LegResult is the outcome of placing one leg.
type LegResult struct {
	Request       models.OrderRequest `json:"request"`
	Handle        *models.OrderHandle `json:"handle,omitempty"`
	Error         string              `json:"error,omitempty"`
	ReservationID string              `json:"reservation_id,omitempty"`
	Latency       time.Duration       `json:"latency"`

	err error
}

// Err returns the placement error, nil for an acknowledged leg.
func (r LegResult) Err() error { return r.err }

// ComboResult groups the legs placed for one opportunity.
type ComboResult struct {
	ComboID string      `json:"combo_id"`
	Kind    string      `json:"kind"`
	Legs    []LegResult `json:"legs"`
}

// Placed counts the acknowledged legs.
func (c *ComboResult) Placed() int {
	n := 0
	for _, l := range c.Legs {
		if l.err == nil {
			n++
		}
	}
	return n
}

// Coordinator places the legs of an opportunity concurrently and hands the
// acknowledged orders to reconciliation.
type Coordinator struct {
	exec      exchange.OrderExecutionSource
	tracker   Tracker
	audit     AuditSink
	funds     Releaser
	publisher Publisher
	algoName  string
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewCoordinator creates a coordinator. publisher may be nil.
func NewCoordinator(exec exchange.OrderExecutionSource, tracker Tracker, audit AuditSink, funds Releaser, publisher Publisher, algoName string, orderTimeout time.Duration, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		exec:      exec,
		tracker:   tracker,
		audit:     audit,
		funds:     funds,
		publisher: publisher,
		algoName:  algoName,
		timeout:   orderTimeout,
		now:       time.Now,
		logger:    logger.Named("execution"),
	}
}

type legSpec struct {
	req           models.OrderRequest
	reservationID string
}

// Execute sells on the signal's sell exchange and buys on its buy exchange
// at the same time. Each leg carries the id of the reservation backing it.
func (c *Coordinator) Execute(ctx context.Context, sig models.Signal, pair models.PairConfig, sellReservation, buyReservation string) *ComboResult {
	legs := []legSpec{
		{req: marketOrder(sig.BuyExchange, pair, models.Buy, sig.Volume, sig.BuyPrice), reservationID: buyReservation},
		{req: marketOrder(sig.SellExchange, pair, models.Sell, sig.Volume, sig.SellPrice), reservationID: sellReservation},
	}
	return c.run(ctx, "pair", legs)
}

// ExecutePlan places one market order per planned venue order. reservations
// is indexed like orders.
func (c *Coordinator) ExecutePlan(ctx context.Context, orders []models.PlannedOrder, pair models.PairConfig, reservations []string) *ComboResult {
	legs := make([]legSpec, len(orders))
	for i, o := range orders {
		legs[i] = legSpec{req: marketOrder(o.Exchange, pair, o.Side, o.Volume, o.Price)}
		if i < len(reservations) {
			legs[i].reservationID = reservations[i]
		}
	}
	return c.run(ctx, "nway", legs)
}

func marketOrder(exchange string, pair models.PairConfig, side models.Side, qty, price float64) models.OrderRequest {
	return models.OrderRequest{
		Exchange: exchange,
		Base:     pair.Base,
		Quote:    pair.Quote,
		Side:     side,
		Type:     models.Market,
		Quantity: qty,
		Price:    price,
	}
}

// clientOrderID derives a short exchange-safe id from the combo id.
func clientOrderID(combo uuid.UUID, leg int) string {
	return fmt.Sprintf("arb%s%d", base62.EncodeToString(combo[:]), leg)
}

func (c *Coordinator) run(ctx context.Context, kind string, legs []legSpec) *ComboResult {
	combo := uuid.New()
	result := &ComboResult{ComboID: combo.String(), Kind: kind, Legs: make([]LegResult, len(legs))}

	var wg sync.WaitGroup
	for i := range legs {
		legs[i].req.ClientOrderID = clientOrderID(combo, i)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result.Legs[i] = c.place(ctx, legs[i])
		}(i)
	}
	wg.Wait()

	placedAt := c.now()
	for _, leg := range result.Legs {
		c.audit.Record(c.auditRecord(result.ComboID, leg, placedAt))
		if leg.err != nil {
			c.handleFailure(result, leg)
			continue
		}
		c.tracker.Enqueue(models.PendingOrder{
			Deadline:          placedAt.Add(c.timeout),
			Ref:               leg.Handle.OrderRef,
			ComboID:           result.ComboID,
			AlgoID:            c.algoName,
			Side:              leg.Request.Side,
			RequestedQuantity: leg.Request.Quantity,
			Status:            models.StatusOpen,
			ReservationID:     leg.ReservationID,
			CreatedAt:         placedAt,
		})
	}

	metrics.ExecutionsTotal.WithLabelValues(kind).Inc()
	c.logger.Info("Combo placed",
		zap.String("combo_id", result.ComboID), zap.String("kind", kind),
		zap.Int("legs", len(legs)), zap.Int("placed", result.Placed()))
	if c.publisher != nil {
		c.publisher.Publish("execution", result)
	}
	return result
}

func (c *Coordinator) place(ctx context.Context, spec legSpec) LegResult {
	start := c.now()
	handle, err := c.exec.PlaceOrder(ctx, spec.req)
	latency := c.now().Sub(start)
	metrics.PlacementLatency.WithLabelValues(spec.req.Exchange).Observe(latency.Seconds())

	res := LegResult{Request: spec.req, Handle: handle, ReservationID: spec.reservationID, Latency: latency, err: err}
	if err == nil && handle == nil {
		res.err = fmt.Errorf("%s: empty order acknowledgement", spec.req.Exchange)
	}
	if res.err != nil {
		res.Handle = nil
		res.Error = res.err.Error()
	}
	return res
}

// handleFailure releases the reservation of a leg that never reached the
// exchange. Its counterpart, if placed, stays open; there is no unwind.
func (c *Coordinator) handleFailure(result *ComboResult, leg LegResult) {
	metrics.LegFailures.WithLabelValues(leg.Request.Exchange, string(leg.Request.Side)).Inc()
	c.logger.Error("Order leg failed",
		zap.String("severity", "high"),
		zap.String("combo_id", result.ComboID),
		zap.String("exchange", leg.Request.Exchange),
		zap.String("side", string(leg.Request.Side)),
		zap.Float64("quantity", leg.Request.Quantity),
		zap.Int("legs_placed", result.Placed()),
		zap.Error(leg.err))
	if leg.ReservationID != "" {
		if err := c.funds.Release(leg.ReservationID); err != nil {
			c.logger.Warn("Failed to release reservation of failed leg", zap.String("reservation_id", leg.ReservationID), zap.Error(err))
		}
	}
	if c.publisher != nil {
		c.publisher.Publish("leg_failure", leg)
	}
}

func (c *Coordinator) auditRecord(comboID string, leg LegResult, ts time.Time) models.TradeLeg {
	rec := models.TradeLeg{
		ComboID:   comboID,
		Timestamp: ts,
		Base:      leg.Request.Base,
		Quote:     leg.Request.Quote,
		Quantity:  leg.Request.Quantity,
		Price:     leg.Request.Price,
		Direction: leg.Request.Side,
		Type:      leg.Request.Type,
		Status:    models.StatusOpen,
		Exchange:  leg.Request.Exchange,
		AlgoName:  c.algoName,
	}
	if leg.err != nil {
		rec.OrderID = leg.Request.ClientOrderID
		rec.Status = models.StatusFailed
		return rec
	}
	rec.OrderID = leg.Handle.OrderID
	return rec
}
