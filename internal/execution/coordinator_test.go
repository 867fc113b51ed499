package execution

import (
	"arbitrage-bot-go/internal/exchange"
	"arbitrage-bot-go/internal/models"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockAuditSink struct {
	sync.Mutex
	legs []models.TradeLeg
}

func (m *mockAuditSink) Record(leg models.TradeLeg) {
	m.Lock()
	defer m.Unlock()
	m.legs = append(m.legs, leg)
}

func (m *mockAuditSink) recorded() []models.TradeLeg {
	m.Lock()
	defer m.Unlock()
	return append([]models.TradeLeg(nil), m.legs...)
}

type mockTracker struct {
	sync.Mutex
	orders []models.PendingOrder
}

func (m *mockTracker) Enqueue(o models.PendingOrder) {
	m.Lock()
	defer m.Unlock()
	m.orders = append(m.orders, o)
}

type mockReleaser struct {
	sync.Mutex
	released []string
}

func (m *mockReleaser) Release(id string) error {
	m.Lock()
	defer m.Unlock()
	m.released = append(m.released, id)
	return nil
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

var linkEUR = models.PairConfig{Base: "LINK", Quote: "EUR", Precision: 2, LotSize: 10}

func venue(name string) *exchange.SimulatedVenue {
	v := exchange.NewSimulatedVenue(name, models.ExchangeConfig{Fees: models.FeeConfig{Buy: 10, Sell: 10}}, nil)
	v.SetOrderBook(&models.OrderBook{
		Base: "LINK", Quote: "EUR",
		Bids: []models.Level{{Price: 100, Volume: 10}},
		Asks: []models.Level{{Price: 99, Volume: 10}},
	})
	v.SetBalance("LINK", 10)
	v.SetBalance("EUR", 10000)
	return v
}

type fixture struct {
	sell, buy *exchange.SimulatedVenue
	audit     *mockAuditSink
	tracker   *mockTracker
	funds     *mockReleaser
	events    *mockPublisher
	coord     *Coordinator
}

func newFixture() *fixture {
	f := &fixture{
		sell:    venue("sellex"),
		buy:     venue("buyex"),
		audit:   &mockAuditSink{},
		tracker: &mockTracker{},
		funds:   &mockReleaser{},
		events:  &mockPublisher{},
	}
	router := exchange.NewRouter(zap.NewNop(), f.sell, f.buy)
	f.coord = NewCoordinator(router, f.tracker, f.audit, f.funds, f.events, "ARB-TEST", time.Minute, zap.NewNop())
	return f
}

var signal = models.Signal{SellExchange: "sellex", BuyExchange: "buyex", SpreadBps: 101, Volume: 2, SellPrice: 100, BuyPrice: 99}

func TestExecutePlacesBothLegs(t *testing.T) {
	f := newFixture()
	before := time.Now()
	res := f.coord.Execute(context.Background(), signal, linkEUR, "res-sell", "res-buy")

	require.Len(t, res.Legs, 2)
	assert.Equal(t, 2, res.Placed())
	assert.NotEmpty(t, res.ComboID)

	legs := f.audit.recorded()
	require.Len(t, legs, 2, "one audit record per leg")
	for _, l := range legs {
		assert.Equal(t, res.ComboID, l.ComboID)
		assert.Equal(t, models.StatusOpen, l.Status)
		assert.Equal(t, "ARB-TEST", l.AlgoName)
	}

	require.Len(t, f.tracker.orders, 2)
	byExchange := map[string]models.PendingOrder{}
	for _, o := range f.tracker.orders {
		byExchange[o.Ref.Exchange] = o
		assert.WithinDuration(t, before.Add(time.Minute), o.Deadline, 5*time.Second)
	}
	assert.Equal(t, models.Buy, byExchange["buyex"].Side)
	assert.Equal(t, "res-buy", byExchange["buyex"].ReservationID)
	assert.Equal(t, models.Sell, byExchange["sellex"].Side)
	assert.Equal(t, 2.0, byExchange["sellex"].RequestedQuantity)

	assert.Equal(t, 8.0, f.sell.Balance("LINK"))
	assert.Equal(t, 12.0, f.buy.Balance("LINK"))
	assert.Empty(t, f.funds.released)
	assert.Equal(t, []string{"execution"}, f.events.events)
}

func TestSingleLegFailureDoesNotUnwind(t *testing.T) {
	f := newFixture()
	f.sell.PlaceErr = errors.New("rejected")

	res := f.coord.Execute(context.Background(), signal, linkEUR, "res-sell", "res-buy")
	assert.Equal(t, 1, res.Placed())

	require.Len(t, f.tracker.orders, 1)
	assert.Equal(t, "buyex", f.tracker.orders[0].Ref.Exchange, "the placed leg is still reconciled")
	assert.Equal(t, []string{"res-sell"}, f.funds.released)
	assert.Equal(t, 12.0, f.buy.Balance("LINK"), "no compensating order")

	legs := f.audit.recorded()
	require.Len(t, legs, 2)
	var failed models.TradeLeg
	for _, l := range legs {
		if l.Exchange == "sellex" {
			failed = l
		}
	}
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.True(t, strings.HasPrefix(failed.OrderID, "arb"))
	assert.Contains(t, f.events.events, "leg_failure")
}

func TestExecutePlanSharesComboID(t *testing.T) {
	f := newFixture()
	orders := []models.PlannedOrder{
		{Exchange: "buyex", Side: models.Buy, Volume: 1, Price: 99},
		{Exchange: "sellex", Side: models.Sell, Volume: 1, Price: 100},
	}
	res := f.coord.ExecutePlan(context.Background(), orders, linkEUR, []string{"r1", "r2"})
	assert.Equal(t, "nway", res.Kind)
	assert.Equal(t, 2, res.Placed())
	for _, o := range f.tracker.orders {
		assert.Equal(t, res.ComboID, o.ComboID)
	}
	assert.NotEqual(t, res.Legs[0].Request.ClientOrderID, res.Legs[1].Request.ClientOrderID)
}

func TestClientOrderIDIsShort(t *testing.T) {
	f := newFixture()
	res := f.coord.Execute(context.Background(), signal, linkEUR, "", "")
	for _, l := range res.Legs {
		assert.LessOrEqual(t, len(l.Request.ClientOrderID), 36)
	}
}
