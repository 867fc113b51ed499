package bot

import (
	"arbitrage-bot-go/internal/config"
	"arbitrage-bot-go/internal/detector"
	"arbitrage-bot-go/internal/exchange"
	"arbitrage-bot-go/internal/execution"
	"arbitrage-bot-go/internal/funds"
	"arbitrage-bot-go/internal/metrics"
	"arbitrage-bot-go/internal/models"
	"arbitrage-bot-go/internal/quote"
	"arbitrage-bot-go/internal/scheduler"
	"arbitrage-bot-go/internal/selector"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Cycle outcomes, used as the outcome label of arb_cycles_total.
const (
	OutcomeNoQuotes       = "no_quotes"
	OutcomeBelowThreshold = "below_threshold"
	OutcomeNoLiquidity    = "no_liquidity"
	OutcomeNoFunds        = "no_funds"
	OutcomeExecuted       = "executed"
	OutcomeError          = "error"
)

// Executor places the legs of an opportunity.
type Executor interface {
	Execute(ctx context.Context, sig models.Signal, pair models.PairConfig, sellReservation, buyReservation string) *execution.ComboResult
	ExecutePlan(ctx context.Context, orders []models.PlannedOrder, pair models.PairConfig, reservations []string) *execution.ComboResult
}

// SessionStats counts what happened since the bot was created.
type SessionStats struct {
	Cycles         int64 `json:"cycles"`
	CycleErrors    int64 `json:"cycle_errors"`
	Signals        int64 `json:"signals"`
	AboveThreshold int64 `json:"above_threshold"`
	NoFunds        int64 `json:"no_funds"`
	Executions     int64 `json:"executions"`
	LegFailures    int64 `json:"leg_failures"`
	Settled        int64 `json:"settled"`
	Released       int64 `json:"released"`
}

type counters struct {
	cycles, cycleErrors, signals, aboveThreshold, noFunds int64
	executions, legFailures, settled, released           int64
}

// ArbitrageBot runs the detection cycle of every configured pair and keeps
// the fund ledger in step with the exchanges.
type ArbitrageBot struct {
	cfg        *models.Config
	exchanges  []string
	aggregator *quote.Aggregator
	fees       config.FeeTable
	thresholds config.ThresholdTable
	ledger     *funds.Ledger
	fundSource exchange.FundSource
	executor   Executor
	publisher  execution.Publisher

	stats counters

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewArbitrageBot wires a bot. publisher may be nil.
func NewArbitrageBot(cfg *models.Config, aggregator *quote.Aggregator, ledger *funds.Ledger, fundSource exchange.FundSource, executor Executor, publisher execution.Publisher, logger *zap.Logger) *ArbitrageBot {
	return &ArbitrageBot{
		cfg:        cfg,
		exchanges:  config.ExchangeNames(cfg),
		aggregator: aggregator,
		fees:       config.NewFeeTable(cfg),
		thresholds: config.NewThresholdTable(cfg),
		ledger:     ledger,
		fundSource: fundSource,
		executor:   executor,
		publisher:  publisher,
		logger:     logger.Named("bot"),
	}
}

// Start launches one detection loop per pair and the fund refresh loop.
func (b *ArbitrageBot) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	loops := make([]*scheduler.Loop, 0, len(b.cfg.Pairs)+1)
	for _, pair := range b.cfg.Pairs {
		loops = append(loops, scheduler.NewLoop("detect_"+pair.Symbol(), b.cfg.Intervals.Detection,
			func(ctx context.Context) error { return b.RunCycle(ctx, pair) }, b.logger))
	}
	fundLoop := scheduler.NewLoop("funds", b.cfg.Intervals.FundRefresh, b.RefreshFunds, b.logger)
	fundLoop.ReanchorOnError = true
	loops = append(loops, fundLoop)

	for _, l := range loops {
		b.wg.Add(1)
		go func(l *scheduler.Loop) {
			defer b.wg.Done()
			runs := l.Run(ctx)
			b.logger.Info("Loop stopped", zap.String("loop", l.Name), zap.Int("runs", runs))
		}(l)
	}
	b.logger.Info("Bot started",
		zap.Strings("exchanges", b.exchanges), zap.Int("pairs", len(b.cfg.Pairs)),
		zap.Bool("nway", b.cfg.Trading.NWayEnabled))
}

// Stop cancels the loops and waits for the running cycles to finish.
func (b *ArbitrageBot) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	b.wg.Wait()
	b.logger.Info("Bot stopped")
}

// RunCycle performs one detection and execution cycle for pair. Only
// internal consistency errors are returned; missing data and missing funds
// are outcomes.
func (b *ArbitrageBot) RunCycle(ctx context.Context, pair models.PairConfig) error {
	atomic.AddInt64(&b.stats.cycles, 1)
	symbol := pair.Symbol()

	snap := b.aggregator.Collect(ctx, b.exchanges, pair, pair.LotSize)
	if len(snap.Quotes) < 2 {
		b.outcome(symbol, OutcomeNoQuotes)
		b.logger.Debug("Not enough quotes", zap.String("pair", symbol), zap.Int("quotes", len(snap.Quotes)))
		return nil
	}

	if b.cfg.Trading.NWayEnabled {
		return b.runNWay(ctx, pair, snap)
	}

	signals := detector.Detect(snap.Quotes, pair)
	passing := selector.Filter(signals, b.thresholds)
	b.countSignals(symbol, signals)

	passing = selector.FilterLiquidity(passing, pair.MinLotSize)
	if len(passing) == 0 {
		if countAbove(signals) > 0 {
			b.outcome(symbol, OutcomeNoLiquidity)
			b.logger.Info("Not enough liquidity", zap.String("pair", symbol))
		} else {
			b.outcome(symbol, OutcomeBelowThreshold)
		}
		return nil
	}

	sig, _ := selector.Select(passing, b.thresholds)
	sell, buy, ok := b.ledger.ReserveLegs(sig.SellExchange, sig.BuyExchange, pair, sig.Volume, sig.BuyPrice,
		b.cfg.Trading.SlippageBufferBps, b.cfg.Trading.FundBuffer)
	if !ok {
		atomic.AddInt64(&b.stats.noFunds, 1)
		b.outcome(symbol, OutcomeNoFunds)
		b.logger.Info("Not enough funds for opportunity",
			zap.String("pair", symbol), zap.String("sell", sig.SellExchange), zap.String("buy", sig.BuyExchange),
			zap.Float64("volume", sig.Volume), zap.Float64("spread_bps", sig.SpreadBps))
		return nil
	}

	b.logger.Info("Executing opportunity",
		zap.String("pair", symbol), zap.String("sell", sig.SellExchange), zap.String("buy", sig.BuyExchange),
		zap.Float64("volume", sig.Volume), zap.Float64("spread_bps", sig.SpreadBps))
	execCtx, cancel := b.executionContext(ctx)
	defer cancel()
	b.recordCombo(b.executor.Execute(execCtx, sig, pair, sell.ID, buy.ID))
	b.outcome(symbol, OutcomeExecuted)
	return nil
}

func (b *ArbitrageBot) runNWay(ctx context.Context, pair models.PairConfig, snap quote.Snapshot) error {
	symbol := pair.Symbol()
	plan, err := detector.PlanNWay(snap.Books, b.fees, pair)
	if err != nil {
		atomic.AddInt64(&b.stats.cycleErrors, 1)
		metrics.CycleErrors.WithLabelValues(symbol).Inc()
		b.outcome(symbol, OutcomeError)
		return fmt.Errorf("plan %s: %w", symbol, err)
	}
	if len(plan) == 0 {
		b.outcome(symbol, OutcomeBelowThreshold)
		return nil
	}

	orders := make([]models.PlannedOrder, 0, len(plan))
	reservations := make([]string, 0, len(plan))
	for _, o := range plan {
		o, id, ok := b.reservePlanned(o, pair)
		if !ok {
			continue
		}
		orders = append(orders, o)
		reservations = append(reservations, id)
	}
	if len(orders) == 0 {
		atomic.AddInt64(&b.stats.noFunds, 1)
		b.outcome(symbol, OutcomeNoFunds)
		b.logger.Info("Not enough funds for any planned order", zap.String("pair", symbol), zap.Int("planned", len(plan)))
		return nil
	}

	b.logger.Info("Executing N-way plan", zap.String("pair", symbol), zap.Int("orders", len(orders)))
	execCtx, cancel := b.executionContext(ctx)
	defer cancel()
	b.recordCombo(b.executor.ExecutePlan(execCtx, orders, pair, reservations))
	b.outcome(symbol, OutcomeExecuted)
	return nil
}

// executionContext detaches order placement from ctx. Once funds are
// reserved every leg is placed, even when ctx is cancelled by a shutdown;
// only the order timeout bounds it.
func (b *ArbitrageBot) executionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if b.cfg.Trading.OrderTimeout > 0 {
		return context.WithTimeout(detached, b.cfg.Trading.OrderTimeout)
	}
	return context.WithCancel(detached)
}

// reservePlanned reserves what o needs, shrinking it to the funds available.
// A buy needs quote for the notional plus the slippage buffer, a sell needs
// the base volume.
func (b *ArbitrageBot) reservePlanned(o models.PlannedOrder, pair models.PairConfig) (models.PlannedOrder, string, bool) {
	slip := 1 + b.cfg.Trading.SlippageBufferBps/1e4
	currency, amount := pair.Base, o.Volume
	if o.Side == models.Buy {
		currency, amount = pair.Quote, o.Volume*o.Price*slip
	}

	res := b.ledger.TryReserve(o.Exchange, currency, amount, b.cfg.Trading.FundBuffer)
	if res == nil {
		return o, "", false
	}
	reserved := res.Amount.InexactFloat64()
	volume := reserved
	if o.Side == models.Buy {
		volume = reserved / (o.Price * slip)
	}
	volume = detector.FloorToPrecision(volume, pair.Precision)
	if volume > o.Volume {
		volume = o.Volume
	}
	if volume <= 0 {
		_ = b.ledger.Release(res.ID)
		return o, "", false
	}
	if volume < o.Volume {
		b.logger.Info("Planned order downscaled to available funds",
			zap.String("exchange", o.Exchange), zap.String("side", string(o.Side)),
			zap.Float64("planned", o.Volume), zap.Float64("volume", volume))
		o.Fee *= volume / o.Volume
		o.Volume = volume
		o.Notional = volume * o.Price
	}
	return o, res.ID, true
}

// HandleTerminal settles the reservation behind an order that reached a
// terminal status. A closed order consumes its reservation and credits the
// proceeds; a failed one gives it back.
func (b *ArbitrageBot) HandleTerminal(order models.PendingOrder, report *models.OrderReport) {
	if b.publisher != nil {
		b.publisher.Publish("order_terminal", map[string]any{"order": order, "report": report})
	}
	if order.ReservationID == "" {
		return
	}
	log := b.logger.With(zap.String("exchange", order.Ref.Exchange), zap.String("order_id", order.Ref.OrderID),
		zap.String("reservation", order.ReservationID))

	if report.Status == models.StatusClosed && report.FilledQuantity() > 0 {
		pair := models.PairConfig{Base: order.Ref.Base, Quote: order.Ref.Quote}
		s := funds.SettlementFor(order.Side, pair, report)
		if err := b.ledger.Settle(order.ReservationID, s.Debit, s.CreditCurrency, s.Credit); err != nil {
			log.Warn("Settlement failed", zap.Error(err))
			return
		}
		atomic.AddInt64(&b.stats.settled, 1)
		log.Info("Reservation settled", zap.Float64("debit", s.Debit),
			zap.String("credit_currency", s.CreditCurrency), zap.Float64("credit", s.Credit))
		return
	}

	if err := b.ledger.Release(order.ReservationID); err != nil && !errors.Is(err, funds.ErrUnknownEntry) {
		log.Warn("Release failed", zap.Error(err))
		return
	}
	atomic.AddInt64(&b.stats.released, 1)
	log.Info("Reservation released", zap.String("status", string(report.Status)))
}

// RefreshFunds pulls balances into the ledger unless a recent reservation
// locked it.
func (b *ArbitrageBot) RefreshFunds(ctx context.Context) error {
	updated, err := b.ledger.Refresh(ctx, b.fundSource)
	switch {
	case !updated && err == nil:
		metrics.FundRefreshes.WithLabelValues("skipped").Inc()
		b.logger.Debug("Fund refresh skipped while locked", zap.Time("locked_until", b.ledger.LockedUntil()))
		return nil
	case !updated:
		metrics.FundRefreshes.WithLabelValues("error").Inc()
		return fmt.Errorf("refresh funds: %w", err)
	case err != nil:
		metrics.FundRefreshes.WithLabelValues("partial").Inc()
		b.logger.Warn("Fund refresh incomplete", zap.Error(err))
	default:
		metrics.FundRefreshes.WithLabelValues("ok").Inc()
	}
	for _, e := range b.ledger.Snapshot() {
		metrics.FundsAvailable.WithLabelValues(e.Exchange, e.Currency).Set(e.Available)
	}
	return nil
}

// Stats returns the session counters.
func (b *ArbitrageBot) Stats() SessionStats {
	return SessionStats{
		Cycles:         atomic.LoadInt64(&b.stats.cycles),
		CycleErrors:    atomic.LoadInt64(&b.stats.cycleErrors),
		Signals:        atomic.LoadInt64(&b.stats.signals),
		AboveThreshold: atomic.LoadInt64(&b.stats.aboveThreshold),
		NoFunds:        atomic.LoadInt64(&b.stats.noFunds),
		Executions:     atomic.LoadInt64(&b.stats.executions),
		LegFailures:    atomic.LoadInt64(&b.stats.legFailures),
		Settled:        atomic.LoadInt64(&b.stats.settled),
		Released:       atomic.LoadInt64(&b.stats.released),
	}
}

func (b *ArbitrageBot) outcome(symbol, outcome string) {
	metrics.CyclesTotal.WithLabelValues(symbol, outcome).Inc()
}

func (b *ArbitrageBot) countSignals(symbol string, signals []models.Signal) {
	above := countAbove(signals)
	atomic.AddInt64(&b.stats.signals, int64(len(signals)))
	atomic.AddInt64(&b.stats.aboveThreshold, int64(above))
	metrics.SignalsTotal.WithLabelValues(symbol, "true").Add(float64(above))
	metrics.SignalsTotal.WithLabelValues(symbol, "false").Add(float64(len(signals) - above))

	best := 0.0
	for i, s := range signals {
		if i == 0 || s.SpreadBps > best {
			best = s.SpreadBps
		}
	}
	metrics.BestSpread.WithLabelValues(symbol).Set(best)
}

func (b *ArbitrageBot) recordCombo(res *execution.ComboResult) {
	atomic.AddInt64(&b.stats.executions, 1)
	atomic.AddInt64(&b.stats.legFailures, int64(len(res.Legs)-res.Placed()))
}

func countAbove(signals []models.Signal) int {
	n := 0
	for _, s := range signals {
		if s.AboveThreshold {
			n++
		}
	}
	return n
}
