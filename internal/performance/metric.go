package performance

import (
	"arbitrage-bot-go/internal/models"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind enumerates the supported performance metrics.
type Kind int

const (
	PnL Kind = iota
	OrderVolumeBase
	OrderVolumeQuote
)

var kindNames = map[Kind]string{
	PnL:              "pnl",
	OrderVolumeBase:  "order_volume_base",
	OrderVolumeQuote: "order_volume_quote",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a configured name to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, n := range kindNames {
		if strings.EqualFold(n, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("performance: unknown metric kind %q", s)
}

// Point is the value of one metric bucket.
type Point struct {
	Bucket time.Time `json:"bucket"`
	Value  float64   `json:"value"`
	Unit   string    `json:"unit"`
}

// Metric is one registered (kind, interval, pair) combination.
type Metric struct {
	Kind         Kind
	Interval     time.Duration
	IntervalName string
	Pair         models.PairConfig
}

// NewMetric validates and builds a metric.
func NewMetric(kind, interval string, pair models.PairConfig) (Metric, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return Metric{}, err
	}
	d, err := ParseInterval(interval)
	if err != nil {
		return Metric{}, err
	}
	return Metric{Kind: k, Interval: d, IntervalName: interval, Pair: pair}, nil
}

// Name identifies the metric, e.g. pnl_1h_LINK/EUR.
func (m Metric) Name() string {
	return fmt.Sprintf("%s_%s_%s", m.Kind, m.IntervalName, m.Pair.Symbol())
}

// Unit is the currency the values are expressed in.
func (m Metric) Unit() string {
	if m.Kind == OrderVolumeBase {
		return m.Pair.Base
	}
	return m.Pair.Quote
}

// Compute aggregates the closed legs of the metric's pair into buckets,
// oldest first. Other legs are ignored.
func (m Metric) Compute(legs []models.TradeLeg) []Point {
	buckets := make(map[time.Time][]models.TradeLeg)
	for _, l := range legs {
		if l.Status != models.StatusClosed || l.Base != m.Pair.Base || l.Quote != m.Pair.Quote {
			continue
		}
		b := Bucket(l.Timestamp, m.Interval)
		buckets[b] = append(buckets[b], l)
	}

	keys := make([]time.Time, 0, len(buckets))
	for b := range buckets {
		keys = append(keys, b)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	points := make([]Point, 0, len(keys))
	for _, b := range keys {
		var v decimal.Decimal
		switch m.Kind {
		case PnL:
			v = pnl(buckets[b], m.Pair)
		case OrderVolumeBase:
			v = volume(buckets[b], false)
		case OrderVolumeQuote:
			v = volume(buckets[b], true)
		}
		points = append(points, Point{Bucket: b, Value: v.InexactFloat64(), Unit: m.Unit()})
	}
	return points
}

func filled(l models.TradeLeg) decimal.Decimal {
	if l.FilledQuantity > 0 {
		return decimal.NewFromFloat(l.FilledQuantity)
	}
	return decimal.NewFromFloat(l.Quantity)
}

func volume(legs []models.TradeLeg, quote bool) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range legs {
		q := filled(l)
		if quote {
			q = q.Mul(decimal.NewFromFloat(l.Price))
		}
		sum = sum.Add(q)
	}
	return sum
}

// pnl values the net base position at the bucket's last price and adds the
// net quote flow, less fees charged in either currency.
func pnl(legs []models.TradeLeg, pair models.PairConfig) decimal.Decimal {
	netBase, netQuote := decimal.Zero, decimal.Zero
	var last time.Time
	for _, l := range legs {
		q := filled(l)
		notional := q.Mul(decimal.NewFromFloat(l.Price))
		if l.Direction == models.Buy {
			netBase = netBase.Add(q)
			netQuote = netQuote.Sub(notional)
		} else {
			netBase = netBase.Sub(q)
			netQuote = netQuote.Add(notional)
		}
		fee := decimal.NewFromFloat(l.Fee)
		switch l.FeeCurrency {
		case pair.Base:
			netBase = netBase.Sub(fee)
		case pair.Quote:
			netQuote = netQuote.Sub(fee)
		}
		if l.Timestamp.After(last) {
			last = l.Timestamp
		}
	}

	var lastPrices []decimal.Decimal
	for _, l := range legs {
		if l.Timestamp.Equal(last) {
			lastPrices = append(lastPrices, decimal.NewFromFloat(l.Price))
		}
	}
	return netBase.Mul(median(lastPrices)).Add(netQuote)
}

func median(vals []decimal.Decimal) decimal.Decimal {
	if len(vals) == 0 {
		return decimal.Zero
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i].LessThan(vals[j]) })
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return vals[mid-1].Add(vals[mid]).Div(decimal.NewFromInt(2))
}
