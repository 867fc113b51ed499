package reconcile

import (
	"arbitrage-bot-go/internal/exchange"
	"arbitrage-bot-go/internal/metrics"
	"arbitrage-bot-go/internal/models"
	"arbitrage-bot-go/internal/persistence"
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TerminalHandler is called once for every order that reaches CLOSED or
// FAILED, after it has been removed from the engine.
type TerminalHandler func(order models.PendingOrder, report *models.OrderReport)

// persistJob is a terminal leg to write, or a signal that the pending set
// changed. The set itself is read when the job is written.
type persistJob struct {
	leg     *models.TradeLeg
	pending bool
}

// Engine tracks in-flight orders until the exchanges report a terminal status.
// The collection is guarded by one mutex; sweeps never overlap and never hold
// that mutex while talking to an exchange.
type Engine struct {
	mu    sync.Mutex
	queue deadlineQueue
	byKey map[string]*item
	seq   uint64

	sweepMu sync.Mutex
	saveMu  sync.Mutex

	exec        exchange.OrderExecutionSource
	orderLog    persistence.OrderLogRepository
	pendingRepo persistence.PendingRepository
	handlers    []TerminalHandler

	interval        time.Duration
	pollWorkers     int
	persistenceChan chan persistJob
	stopChan        chan struct{}
	persistStop     chan struct{}
	sweepDone       chan struct{}
	persistDone     chan struct{}
	now             func() time.Time
	logger          *zap.Logger
}

// NewEngine creates an engine that sweeps every interval. Either repository
// may be nil.
func NewEngine(exec exchange.OrderExecutionSource, orderLog persistence.OrderLogRepository, pendingRepo persistence.PendingRepository, interval time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		byKey:           make(map[string]*item),
		exec:            exec,
		orderLog:        orderLog,
		pendingRepo:     pendingRepo,
		interval:        interval,
		pollWorkers:     8,
		persistenceChan: make(chan persistJob, 256),
		stopChan:        make(chan struct{}),
		persistStop:     make(chan struct{}),
		sweepDone:       make(chan struct{}),
		persistDone:     make(chan struct{}),
		now:             time.Now,
		logger:          logger.Named("reconcile"),
	}
}

// OnTerminal registers a handler. Handlers must be registered before Start.
func (e *Engine) OnTerminal(h TerminalHandler) {
	e.handlers = append(e.handlers, h)
}

// Restore re-enqueues the pending set saved by a previous run.
func (e *Engine) Restore() (int, error) {
	if e.pendingRepo == nil {
		return 0, nil
	}
	orders, err := e.pendingRepo.LoadPending()
	if err != nil {
		return 0, err
	}
	for _, o := range orders {
		e.Enqueue(o)
	}
	if len(orders) > 0 {
		e.logger.Info("Restored pending orders", zap.Int("count", len(orders)))
	}
	return len(orders), nil
}

// Start begins the sweep and persistence loops.
func (e *Engine) Start() {
	go e.sweepLoop()
	go e.persistenceLoop()
	e.logger.Info("Reconciliation engine started", zap.Duration("interval", e.interval))
}

// Stop waits for the running sweep to finish, then for queued writes to reach
// the repositories. It must be called once, after Start.
func (e *Engine) Stop() {
	close(e.stopChan)
	<-e.sweepDone
	close(e.persistStop)
	<-e.persistDone
	e.logger.Info("Reconciliation engine stopped", zap.Int("pending", e.Len()))
}

// Enqueue starts tracking an order. An order already tracked under the same
// key is replaced.
func (e *Engine) Enqueue(o models.PendingOrder) {
	if o.Status == "" {
		o.Status = models.StatusOpen
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = e.now()
	}
	e.mu.Lock()
	if it, ok := e.byKey[o.Key()]; ok {
		it.order = o
		heap.Fix(&e.queue, it.index)
	} else {
		e.seq++
		it := &item{order: o, seq: e.seq}
		heap.Push(&e.queue, it)
		e.byKey[o.Key()] = it
	}
	n := e.queue.Len()
	e.mu.Unlock()

	metrics.PendingOrders.Set(float64(n))
	e.persist(persistJob{pending: true})
}

// Expedite moves the deadline of a tracked order to now so the next sweep
// cancels it. It reports whether the order was found.
func (e *Engine) Expedite(key string) bool {
	e.mu.Lock()
	it, ok := e.byKey[key]
	if ok {
		it.order.Deadline = e.now()
		heap.Fix(&e.queue, it.index)
	}
	e.mu.Unlock()
	return ok
}

// Len returns the number of tracked orders.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}

// Snapshot returns the tracked orders, earliest deadline first.
func (e *Engine) Snapshot() []models.PendingOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.ordered()
}

func (e *Engine) sweepLoop() {
	defer close(e.sweepDone)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.Sweep(context.Background())
		case <-e.stopChan:
			return
		}
	}
}

// persistenceLoop handles the asynchronous writes of terminal legs and
// pending-set snapshots. On stop it drains what is already queued.
func (e *Engine) persistenceLoop() {
	defer close(e.persistDone)
	for {
		select {
		case job := <-e.persistenceChan:
			e.write(job)
		case <-e.persistStop:
			for {
				select {
				case job := <-e.persistenceChan:
					e.write(job)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) persist(job persistJob) {
	select {
	case e.persistenceChan <- job:
	default:
		// The loop is behind; write inline rather than lose a terminal update.
		e.write(job)
	}
}

func (e *Engine) write(job persistJob) {
	if job.leg != nil && e.orderLog != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.orderLog.UpdateLeg(ctx, *job.leg); err != nil {
			e.logger.Error("CRITICAL: Failed to persist terminal order",
				zap.String("exchange", job.leg.Exchange), zap.String("order_id", job.leg.OrderID), zap.Error(err))
		}
		cancel()
	}
	if job.pending && e.pendingRepo != nil {
		e.savePending()
	}
}

// savePending stores the current set. Reading and saving happen under one
// lock, so the last save always holds the latest set.
func (e *Engine) savePending() {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	if err := e.pendingRepo.SavePending(e.Snapshot()); err != nil {
		e.logger.Error("Failed to save pending orders", zap.Error(err))
	}
}

type outcome struct {
	key       string
	report    *models.OrderReport
	pollErr   error
	cancelled bool
	cancelErr error
}

// Sweep polls every tracked order once. Orders past their deadline get a
// cancel attempt first; the poll result decides whether they stay.
func (e *Engine) Sweep(ctx context.Context) {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()

	orders := e.Snapshot()
	if len(orders) == 0 {
		return
	}
	now := e.now()

	results := make(chan outcome, len(orders))
	sem := make(chan struct{}, e.pollWorkers)
	var wg sync.WaitGroup
	for _, o := range orders {
		wg.Add(1)
		sem <- struct{}{}
		go func(o models.PendingOrder) {
			defer wg.Done()
			defer func() { <-sem }()
			results <- e.check(ctx, o, now)
		}(o)
	}
	wg.Wait()
	close(results)

	var terminal []models.PendingOrder
	var reports []*models.OrderReport
	e.mu.Lock()
	for r := range results {
		it, ok := e.byKey[r.key]
		if !ok {
			continue
		}
		if r.cancelled {
			it.order.CancelAttempts++
		}
		if r.pollErr != nil {
			it.order.PollFailures++
			continue
		}
		it.order.Status = r.report.Status
		it.order.FilledQuantity = r.report.FilledQuantity()
		if r.report.Status.Terminal() {
			heap.Remove(&e.queue, it.index)
			delete(e.byKey, r.key)
			terminal = append(terminal, it.order)
			reports = append(reports, r.report)
		}
	}
	n := e.queue.Len()
	e.mu.Unlock()

	metrics.PendingOrders.Set(float64(n))
	for i, o := range terminal {
		e.finish(o, reports[i])
	}
	e.persist(persistJob{pending: true})
}

func (e *Engine) check(ctx context.Context, o models.PendingOrder, now time.Time) outcome {
	res := outcome{key: o.Key()}
	if !now.Before(o.Deadline) {
		res.cancelled = true
		err := e.exec.CancelOrder(ctx, o.Ref)
		switch {
		case err == nil:
			metrics.CancelAttempts.WithLabelValues(o.Ref.Exchange, "ok").Inc()
			e.logger.Info("Cancelled order past deadline",
				zap.String("exchange", o.Ref.Exchange), zap.String("order_id", o.Ref.OrderID))
		case errors.Is(err, exchange.ErrOrderNotFound):
			metrics.CancelAttempts.WithLabelValues(o.Ref.Exchange, "not_found").Inc()
		default:
			res.cancelErr = err
			metrics.CancelAttempts.WithLabelValues(o.Ref.Exchange, "error").Inc()
			e.logger.Warn("Cancel of expired order failed, will retry",
				zap.String("exchange", o.Ref.Exchange), zap.String("order_id", o.Ref.OrderID),
				zap.Int("attempts", o.CancelAttempts+1), zap.Error(err))
		}
	}

	report, err := e.exec.OrderStatus(ctx, o.Ref)
	if err == nil && report == nil {
		err = errors.New("empty status report")
	}
	if err != nil {
		res.pollErr = err
		metrics.PollFailures.WithLabelValues(o.Ref.Exchange).Inc()
		e.logger.Warn("Order status poll failed, retrying next sweep",
			zap.String("exchange", o.Ref.Exchange), zap.String("order_id", o.Ref.OrderID), zap.Error(err))
		return res
	}
	res.report = report
	return res
}

func (e *Engine) finish(o models.PendingOrder, report *models.OrderReport) {
	fee, feeCurrency := report.TotalFee()
	e.logger.Info("Order reached terminal status",
		zap.String("exchange", o.Ref.Exchange), zap.String("order_id", o.Ref.OrderID),
		zap.String("combo_id", o.ComboID), zap.String("status", string(report.Status)),
		zap.Float64("filled", report.FilledQuantity()))
	metrics.TerminalOrders.WithLabelValues(o.Ref.Exchange, string(report.Status)).Inc()

	// UpdateLeg inserts this leg if the placement record is not stored yet.
	e.persist(persistJob{leg: &models.TradeLeg{
		OrderID:        o.Ref.OrderID,
		ComboID:        o.ComboID,
		Timestamp:      o.CreatedAt,
		Base:           o.Ref.Base,
		Quote:          o.Ref.Quote,
		Quantity:       o.RequestedQuantity,
		Price:          report.AveragePrice(),
		Direction:      o.Side,
		Type:           models.Market,
		FilledQuantity: report.FilledQuantity(),
		Status:         report.Status,
		Fee:            fee,
		FeeCurrency:    feeCurrency,
		Exchange:       o.Ref.Exchange,
		AlgoName:       o.AlgoID,
	}})
	for _, h := range e.handlers {
		h(o, report)
	}
}
