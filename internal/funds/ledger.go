package funds

import (
	"arbitrage-bot-go/internal/exchange"
	"arbitrage-bot-go/internal/models"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrUnknownEntry is returned for reservation ids the ledger does not hold.
var ErrUnknownEntry = errors.New("funds: unknown reservation")

// Requirement is an amount of one currency needed on one exchange.
type Requirement struct {
	Exchange string
	Currency string
	Amount   float64
}

// Reservation is a hold on part of an exchange balance.
type Reservation struct {
	ID       string
	Exchange string
	Currency string
	Amount   decimal.Decimal
}

type entry struct {
	mu       sync.Mutex
	balance  decimal.Decimal
	reserved decimal.Decimal
}

// available must be called with e.mu held.
func (e *entry) available() decimal.Decimal {
	a := e.balance.Sub(e.reserved)
	if a.IsNegative() {
		return decimal.Zero
	}
	return a
}

func entryKey(exchange, currency string) string {
	return exchange + "/" + currency
}

// Ledger tracks balances per (exchange, currency) and the amounts held by
// outstanding reservations. Each key has its own mutex; multi-key operations
// take the keys in sorted order.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*entry

	resMu        sync.Mutex
	reservations map[string]Reservation

	lockMu      sync.Mutex
	lockedUntil time.Time
	lockPeriod  time.Duration

	exchanges []string
	now       func() time.Time
	logger    *zap.Logger
}

// NewLedger creates an empty ledger for the configured exchanges. A
// successful reservation suspends refreshes for lockPeriod.
func NewLedger(exchanges []string, lockPeriod time.Duration, logger *zap.Logger) *Ledger {
	names := append([]string(nil), exchanges...)
	sort.Strings(names)
	return &Ledger{
		entries:      make(map[string]*entry),
		reservations: make(map[string]Reservation),
		lockPeriod:   lockPeriod,
		exchanges:    names,
		now:          time.Now,
		logger:       logger.Named("funds"),
	}
}

func (l *Ledger) get(key string) *entry {
	l.mu.RLock()
	e := l.entries[key]
	l.mu.RUnlock()
	return e
}

func (l *Ledger) getOrCreate(key string) *entry {
	if e := l.get(key); e != nil {
		return e
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	return e
}

// lockKeys resolves and locks the entries for keys in sorted order. Missing
// keys are created empty. The returned func unlocks them.
func (l *Ledger) lockKeys(keys ...string) (map[string]*entry, func()) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	locked := make(map[string]*entry, len(sorted))
	order := make([]*entry, 0, len(sorted))
	for _, k := range sorted {
		if _, dup := locked[k]; dup {
			continue
		}
		e := l.getOrCreate(k)
		e.mu.Lock()
		locked[k] = e
		order = append(order, e)
	}
	return locked, func() {
		for i := len(order) - 1; i >= 0; i-- {
			order[i].mu.Unlock()
		}
	}
}

// SetBalance overwrites the balance of one key.
func (l *Ledger) SetBalance(exchange, currency string, amount float64) {
	e := l.getOrCreate(entryKey(exchange, currency))
	e.mu.Lock()
	e.balance = decimal.NewFromFloat(amount)
	e.mu.Unlock()
}

// Available returns balance minus reserved, never negative.
func (l *Ledger) Available(exchange, currency string) float64 {
	e := l.get(entryKey(exchange, currency))
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available().InexactFloat64()
}

// LockUntil suspends refreshes until ts. An earlier ts never shortens an
// active lock.
func (l *Ledger) LockUntil(ts time.Time) {
	l.lockMu.Lock()
	defer l.lockMu.Unlock()
	if ts.After(l.lockedUntil) {
		l.lockedUntil = ts
	}
}

// Locked reports whether refreshes are currently suspended.
func (l *Ledger) Locked() bool {
	l.lockMu.Lock()
	defer l.lockMu.Unlock()
	return l.now().Before(l.lockedUntil)
}

// LockedUntil returns the end of the current lock, zero if never locked.
func (l *Ledger) LockedUntil() time.Time {
	l.lockMu.Lock()
	defer l.lockMu.Unlock()
	return l.lockedUntil
}

func (l *Ledger) lockAfterReserve() {
	if l.lockPeriod > 0 {
		l.LockUntil(l.now().Add(l.lockPeriod))
	}
}

// Refresh replaces balances with the ones reported by src. It is a no-op
// returning false while the ledger is locked. Configured exchanges missing
// from the report keep their previous balances.
func (l *Ledger) Refresh(ctx context.Context, src exchange.FundSource) (bool, error) {
	if l.Locked() {
		l.logger.Debug("Fund refresh skipped, reservations locked", zap.Time("until", l.LockedUntil()))
		return false, nil
	}
	funds, err := src.QueryFunds(ctx)
	if len(funds) == 0 && err != nil {
		return false, fmt.Errorf("query funds: %w", err)
	}
	for ex, balances := range funds {
		for _, b := range balances {
			l.SetBalance(ex, b.Currency, b.Amount)
		}
	}
	for _, ex := range l.exchanges {
		if _, ok := funds[ex]; !ok {
			l.logger.Warn("No funds reported, keeping previous balances", zap.String("exchange", ex))
		}
	}
	return true, err
}

func (l *Ledger) record(exchange, currency string, amount decimal.Decimal) Reservation {
	r := Reservation{ID: uuid.NewString(), Exchange: exchange, Currency: currency, Amount: amount}
	l.resMu.Lock()
	l.reservations[r.ID] = r
	l.resMu.Unlock()
	return r
}

// TryReserve holds amount of currency on exchange if the buffered available
// balance covers it, otherwise it holds as much as the buffered balance
// allows. It returns nil when nothing can be held.
func (l *Ledger) TryReserve(exchange, currency string, amount, buffer float64) *Reservation {
	if amount <= 0 {
		return nil
	}
	key := entryKey(exchange, currency)
	e := l.get(key)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	usable := e.available().Mul(decimal.NewFromFloat(1 - buffer))
	want := decimal.NewFromFloat(amount)
	if usable.LessThan(want) {
		want = usable
	}
	if !want.IsPositive() {
		e.mu.Unlock()
		return nil
	}
	e.reserved = e.reserved.Add(want)
	e.mu.Unlock()

	r := l.record(exchange, currency, want)
	l.lockAfterReserve()
	return &r
}

// ReserveAll holds every requirement in full or none of them. The result is
// in the order of reqs; ok is false when any requirement is not covered by
// its buffered available balance.
func (l *Ledger) ReserveAll(reqs []Requirement, buffer float64) ([]Reservation, bool) {
	if len(reqs) == 0 {
		return nil, false
	}
	keys := make([]string, len(reqs))
	for i, r := range reqs {
		keys[i] = entryKey(r.Exchange, r.Currency)
	}
	entries, unlock := l.lockKeys(keys...)

	factor := decimal.NewFromFloat(1 - buffer)
	needed := make(map[string]decimal.Decimal, len(reqs))
	amounts := make([]decimal.Decimal, len(reqs))
	for i, r := range reqs {
		amounts[i] = decimal.NewFromFloat(r.Amount)
		if !amounts[i].IsPositive() {
			unlock()
			return nil, false
		}
		needed[keys[i]] = needed[keys[i]].Add(amounts[i])
	}
	for k, need := range needed {
		if entries[k].available().Mul(factor).LessThan(need) {
			unlock()
			return nil, false
		}
	}
	for i := range reqs {
		e := entries[keys[i]]
		e.reserved = e.reserved.Add(amounts[i])
	}
	unlock()

	out := make([]Reservation, len(reqs))
	for i, r := range reqs {
		out[i] = l.record(r.Exchange, r.Currency, amounts[i])
	}
	l.lockAfterReserve()
	return out, true
}

// ReserveLegs applies the two-leg check: volume of base on the sell exchange
// and volume*buyPrice plus the slippage buffer of quote on the buy exchange.
func (l *Ledger) ReserveLegs(sellExchange, buyExchange string, pair models.PairConfig, volume, buyPrice, slippageBps, buffer float64) (sell, buy Reservation, ok bool) {
	reqs := []Requirement{
		{Exchange: sellExchange, Currency: pair.Base, Amount: volume},
		{Exchange: buyExchange, Currency: pair.Quote, Amount: volume * buyPrice * (1 + slippageBps/1e4)},
	}
	res, ok := l.ReserveAll(reqs, buffer)
	if !ok {
		return Reservation{}, Reservation{}, false
	}
	return res[0], res[1], true
}

func (l *Ledger) take(id string) (Reservation, error) {
	l.resMu.Lock()
	defer l.resMu.Unlock()
	r, ok := l.reservations[id]
	if !ok {
		return Reservation{}, fmt.Errorf("%w: %s", ErrUnknownEntry, id)
	}
	delete(l.reservations, id)
	return r, nil
}

// Release returns a reservation to the available balance.
func (l *Ledger) Release(id string) error {
	r, err := l.take(id)
	if err != nil {
		return err
	}
	e := l.getOrCreate(entryKey(r.Exchange, r.Currency))
	e.mu.Lock()
	e.reserved = e.reserved.Sub(r.Amount)
	e.mu.Unlock()
	return nil
}

// Settle closes a reservation for a filled order: debit is removed from the
// reserved currency's balance, credit of creditCurrency is added on the same
// exchange and the hold is dropped.
func (l *Ledger) Settle(id string, debit float64, creditCurrency string, credit float64) error {
	r, err := l.take(id)
	if err != nil {
		return err
	}
	debitKey := entryKey(r.Exchange, r.Currency)
	creditKey := entryKey(r.Exchange, creditCurrency)
	entries, unlock := l.lockKeys(debitKey, creditKey)
	defer unlock()

	d := entries[debitKey]
	d.reserved = d.reserved.Sub(r.Amount)
	d.balance = d.balance.Sub(decimal.NewFromFloat(debit))
	c := entries[creditKey]
	c.balance = c.balance.Add(decimal.NewFromFloat(credit))
	return nil
}

// Reservation returns an outstanding reservation by id.
func (l *Ledger) Reservation(id string) (Reservation, bool) {
	l.resMu.Lock()
	defer l.resMu.Unlock()
	r, ok := l.reservations[id]
	return r, ok
}

// Snapshot returns every entry sorted by exchange then currency.
func (l *Ledger) Snapshot() []models.FundEntry {
	l.mu.RLock()
	keys := make([]string, 0, len(l.entries))
	for k := range l.entries {
		keys = append(keys, k)
	}
	l.mu.RUnlock()
	sort.Strings(keys)

	out := make([]models.FundEntry, 0, len(keys))
	for _, k := range keys {
		e := l.get(k)
		ex, cur := splitKey(k)
		e.mu.Lock()
		out = append(out, models.FundEntry{
			Exchange:  ex,
			Currency:  cur,
			Balance:   e.balance.InexactFloat64(),
			Reserved:  e.reserved.InexactFloat64(),
			Available: e.available().InexactFloat64(),
		})
		e.mu.Unlock()
	}
	return out
}

func splitKey(k string) (string, string) {
	for i := len(k) - 1; i >= 0; i-- {
		if k[i] == '/' {
			return k[:i], k[i+1:]
		}
	}
	return k, ""
}
