package bot

import (
	"arbitrage-bot-go/internal/config"
	"arbitrage-bot-go/internal/exchange"
	"arbitrage-bot-go/internal/execution"
	"arbitrage-bot-go/internal/funds"
	"arbitrage-bot-go/internal/models"
	"arbitrage-bot-go/internal/quote"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pairCall struct {
	sig                        models.Signal
	sellReservation, buyReserv string
}

type mockExecutor struct {
	sync.Mutex
	pairs []pairCall
	plans [][]models.PlannedOrder
	resv  [][]string

	// When gate is set, Execute signals entered, blocks until gate is closed
	// and then records the context error its legs would see.
	gate    chan struct{}
	entered chan struct{}
	ctxErrs []error
}

func (m *mockExecutor) Execute(ctx context.Context, sig models.Signal, pair models.PairConfig, sellReservation, buyReservation string) *execution.ComboResult {
	if m.gate != nil {
		select {
		case m.entered <- struct{}{}:
		default:
		}
		<-m.gate
		m.Lock()
		m.ctxErrs = append(m.ctxErrs, ctx.Err())
		m.Unlock()
	}
	m.Lock()
	defer m.Unlock()
	m.pairs = append(m.pairs, pairCall{sig: sig, sellReservation: sellReservation, buyReserv: buyReservation})
	return &execution.ComboResult{ComboID: "c1", Kind: "pair", Legs: []execution.LegResult{{}, {}}}
}

func (m *mockExecutor) ExecutePlan(ctx context.Context, orders []models.PlannedOrder, pair models.PairConfig, reservations []string) *execution.ComboResult {
	m.Lock()
	defer m.Unlock()
	m.plans = append(m.plans, orders)
	m.resv = append(m.resv, reservations)
	return &execution.ComboResult{ComboID: "c2", Kind: "nway", Legs: make([]execution.LegResult, len(orders))}
}

type mockPublisher struct {
	sync.Mutex
	events []string
}

func (m *mockPublisher) Publish(eventType string, payload any) {
	m.Lock()
	defer m.Unlock()
	m.events = append(m.events, eventType)
}

var linkEUR = models.PairConfig{Base: "LINK", Quote: "EUR", Precision: 2, LotSize: 5, MinLotSize: 1}

func simVenue(name string, bids, asks []models.Level) *exchange.SimulatedVenue {
	v := exchange.NewSimulatedVenue(name, models.ExchangeConfig{}, nil)
	v.SetOrderBook(&models.OrderBook{Exchange: name, Base: "LINK", Quote: "EUR", Bids: bids, Asks: asks})
	return v
}

func setBook(f *fixture, name string, bids, asks []models.Level) {
	v, _ := f.router.Venue(name)
	v.(*exchange.SimulatedVenue).SetOrderBook(&models.OrderBook{Exchange: name, Base: "LINK", Quote: "EUR", Bids: bids, Asks: asks})
}

type fixture struct {
	cfg      *models.Config
	router   *exchange.Router
	ledger   *funds.Ledger
	executor *mockExecutor
	bot      *ArbitrageBot
}

// newFixture builds two venues where selling on "sellex" at 100 and buying on
// "buyex" at 99 is a 101 bps opportunity.
func newFixture(t *testing.T, mutate func(cfg *models.Config)) *fixture {
	t.Helper()
	cfg := &models.Config{
		AlgoName:   "ARB-TEST",
		Pairs:      []models.PairConfig{linkEUR},
		Exchanges:  map[string]models.ExchangeConfig{"sellex": {}, "buyex": {}},
		Thresholds: models.ThresholdConfig{Default: 100},
		Trading:    models.TradingConfig{Depth: 10, FundUpdateLockPeriod: time.Minute},
		Intervals:  models.IntervalConfig{Detection: time.Hour, FundRefresh: time.Hour},
	}
	if mutate != nil {
		mutate(cfg)
	}
	router := exchange.NewRouter(zap.NewNop(),
		simVenue("sellex", []models.Level{{Price: 100, Volume: 10}}, []models.Level{{Price: 101, Volume: 10}}),
		simVenue("buyex", []models.Level{{Price: 98, Volume: 10}}, []models.Level{{Price: 99, Volume: 10}}),
	)
	ledger := funds.NewLedger(config.ExchangeNames(cfg), cfg.Trading.FundUpdateLockPeriod, zap.NewNop())
	ledger.SetBalance("sellex", "LINK", 10)
	ledger.SetBalance("buyex", "EUR", 1000)

	agg := quote.NewAggregator(router, config.NewFeeTable(cfg), cfg.Trading.Depth, zap.NewNop())
	ex := &mockExecutor{}
	return &fixture{
		cfg: cfg, router: router, ledger: ledger, executor: ex,
		bot: NewArbitrageBot(cfg, agg, ledger, router, ex, nil, zap.NewNop()),
	}
}

func TestRunCycleExecutesBestOpportunity(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.bot.RunCycle(context.Background(), linkEUR))

	require.Len(t, f.executor.pairs, 1)
	call := f.executor.pairs[0]
	assert.Equal(t, "sellex", call.sig.SellExchange)
	assert.Equal(t, "buyex", call.sig.BuyExchange)
	assert.Equal(t, 5.0, call.sig.Volume)
	assert.InDelta(t, 101.01, call.sig.SpreadBps, 0.01)
	assert.NotEmpty(t, call.sellReservation)
	assert.NotEmpty(t, call.buyReserv)

	assert.InDelta(t, 5.0, f.ledger.Available("sellex", "LINK"), 1e-9)
	assert.InDelta(t, 1000-5*99, f.ledger.Available("buyex", "EUR"), 1e-9)
	assert.True(t, f.ledger.Locked(), "a reservation locks fund refresh")

	stats := f.bot.Stats()
	assert.Equal(t, int64(1), stats.Cycles)
	assert.Equal(t, int64(2), stats.Signals)
	assert.Equal(t, int64(1), stats.AboveThreshold)
	assert.Equal(t, int64(1), stats.Executions)
}

func TestRunCycleBelowThreshold(t *testing.T) {
	f := newFixture(t, func(cfg *models.Config) { cfg.Thresholds.Default = 150 })
	require.NoError(t, f.bot.RunCycle(context.Background(), linkEUR))
	assert.Empty(t, f.executor.pairs)
	assert.Equal(t, int64(0), f.bot.Stats().AboveThreshold)
}

func TestRunCycleNotEnoughLiquidity(t *testing.T) {
	f := newFixture(t, nil)
	pair := linkEUR
	pair.MinLotSize = 6
	require.NoError(t, f.bot.RunCycle(context.Background(), pair))
	assert.Empty(t, f.executor.pairs)
	assert.Equal(t, 1000.0, f.ledger.Available("buyex", "EUR"))
}

func TestRunCycleNotEnoughFunds(t *testing.T) {
	f := newFixture(t, nil)
	f.ledger.SetBalance("buyex", "EUR", 100)
	require.NoError(t, f.bot.RunCycle(context.Background(), linkEUR))

	assert.Empty(t, f.executor.pairs)
	assert.Equal(t, int64(1), f.bot.Stats().NoFunds)
	// neither leg stays reserved
	assert.Equal(t, 10.0, f.ledger.Available("sellex", "LINK"))
	assert.Equal(t, 100.0, f.ledger.Available("buyex", "EUR"))
}

func TestRunCycleSkipsWhenQuotesMissing(t *testing.T) {
	f := newFixture(t, nil)
	v, err := f.router.Venue("buyex")
	require.NoError(t, err)
	v.(*exchange.SimulatedVenue).BookErr = errors.New("timeout")

	require.NoError(t, f.bot.RunCycle(context.Background(), linkEUR))
	assert.Empty(t, f.executor.pairs)
}

func TestRunCycleNWayReservesEveryOrder(t *testing.T) {
	f := newFixture(t, func(cfg *models.Config) { cfg.Trading.NWayEnabled = true })
	// buyex is ask heavy and sellex bid heavy inside the crossed range
	setBook(f, "buyex", []models.Level{{Price: 98, Volume: 1}}, []models.Level{{Price: 99, Volume: 10}})
	setBook(f, "sellex", []models.Level{{Price: 100, Volume: 10}}, []models.Level{{Price: 101, Volume: 1}})
	f.ledger.SetBalance("buyex", "EUR", 300)
	require.NoError(t, f.bot.RunCycle(context.Background(), linkEUR))

	require.Len(t, f.executor.plans, 1)
	byName := map[string]models.PlannedOrder{}
	for _, o := range f.executor.plans[0] {
		byName[o.Exchange] = o
	}
	require.Len(t, f.executor.resv[0], 2)
	assert.Equal(t, models.Buy, byName["buyex"].Side)
	// 300 EUR buys floor(300/99, 2) = 3.03 LINK
	assert.Equal(t, 3.03, byName["buyex"].Volume)
	assert.Equal(t, models.Sell, byName["sellex"].Side)
	assert.Equal(t, 5.0, byName["sellex"].Volume)
}

func TestRunCycleNWayInconsistentBookIsCycleError(t *testing.T) {
	f := newFixture(t, func(cfg *models.Config) { cfg.Trading.NWayEnabled = true })
	setBook(f, "buyex", []models.Level{{Price: 98, Volume: 1}}, []models.Level{{Price: 99, Volume: -1}})
	assert.Error(t, f.bot.RunCycle(context.Background(), linkEUR))
	assert.Equal(t, int64(1), f.bot.Stats().CycleErrors)
	assert.Empty(t, f.executor.plans)
}

func TestHandleTerminalSettlesClosedOrders(t *testing.T) {
	f := newFixture(t, nil)
	pub := &mockPublisher{}
	f.bot.publisher = pub

	res := f.ledger.TryReserve("buyex", "EUR", 500, 0)
	require.NotNil(t, res)
	order := models.PendingOrder{
		Ref:           models.OrderRef{Exchange: "buyex", Base: "LINK", Quote: "EUR", OrderID: "1"},
		Side:          models.Buy,
		ReservationID: res.ID,
	}
	report := &models.OrderReport{Status: models.StatusClosed, Fills: []models.Fill{{Price: 99, Quantity: 5, Fee: 0.5, FeeCurrency: "EUR"}}}
	f.bot.HandleTerminal(order, report)

	// 495 spent plus 0.5 fee; the unused part of the hold is free again
	assert.InDelta(t, 1000-495.5, f.ledger.Available("buyex", "EUR"), 1e-9)
	assert.InDelta(t, 5.0, f.ledger.Available("buyex", "LINK"), 1e-9)
	assert.Equal(t, int64(1), f.bot.Stats().Settled)
	assert.Equal(t, []string{"order_terminal"}, pub.events)
}

func TestHandleTerminalReleasesFailedOrders(t *testing.T) {
	f := newFixture(t, nil)
	res := f.ledger.TryReserve("sellex", "LINK", 4, 0)
	require.NotNil(t, res)
	order := models.PendingOrder{
		Ref:           models.OrderRef{Exchange: "sellex", Base: "LINK", Quote: "EUR", OrderID: "2"},
		Side:          models.Sell,
		ReservationID: res.ID,
	}
	f.bot.HandleTerminal(order, &models.OrderReport{Status: models.StatusFailed})

	assert.Equal(t, 10.0, f.ledger.Available("sellex", "LINK"))
	assert.Equal(t, int64(1), f.bot.Stats().Released)
}

type failingFunds struct{}

func (failingFunds) QueryFunds(ctx context.Context) (map[string][]models.Balance, error) {
	return nil, errors.New("exchanges unreachable")
}

func TestRefreshFunds(t *testing.T) {
	f := newFixture(t, nil)
	for _, name := range []string{"sellex", "buyex"} {
		v, _ := f.router.Venue(name)
		v.(*exchange.SimulatedVenue).SetBalance("EUR", 42)
	}
	require.NoError(t, f.bot.RefreshFunds(context.Background()))
	assert.Equal(t, 42.0, f.ledger.Available("sellex", "EUR"))

	f.bot.fundSource = failingFunds{}
	assert.Error(t, f.bot.RefreshFunds(context.Background()))

	f.ledger.LockUntil(time.Now().Add(time.Hour))
	assert.NoError(t, f.bot.RefreshFunds(context.Background()), "a locked ledger skips the refresh")
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, nil)
	f.bot.Start(context.Background())
	done := make(chan struct{})
	go func() {
		f.bot.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}
}

func TestShutdownDoesNotCancelExecution(t *testing.T) {
	f := newFixture(t, func(cfg *models.Config) { cfg.Trading.OrderTimeout = time.Minute })
	f.executor.gate = make(chan struct{})
	f.executor.entered = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.bot.RunCycle(ctx, linkEUR) }()

	select {
	case <-f.executor.entered:
	case <-time.After(time.Second):
		t.Fatal("execution never started")
	}
	cancel()
	close(f.executor.gate)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cycle did not finish")
	}
	f.executor.Lock()
	defer f.executor.Unlock()
	require.Len(t, f.executor.ctxErrs, 1)
	assert.NoError(t, f.executor.ctxErrs[0], "legs keep a live context after shutdown starts")
	assert.Len(t, f.executor.pairs, 1)
}

func TestStopWaitsForExecutionInFlight(t *testing.T) {
	f := newFixture(t, func(cfg *models.Config) { cfg.Intervals.Detection = 10 * time.Millisecond })
	f.executor.gate = make(chan struct{})
	f.executor.entered = make(chan struct{}, 1)

	f.bot.Start(context.Background())
	select {
	case <-f.executor.entered:
	case <-time.After(time.Second):
		t.Fatal("execution never started")
	}

	stopped := make(chan struct{})
	go func() {
		f.bot.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while legs were being placed")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.executor.gate)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}
	f.executor.Lock()
	defer f.executor.Unlock()
	require.NotEmpty(t, f.executor.ctxErrs)
	assert.NoError(t, f.executor.ctxErrs[0])
}
