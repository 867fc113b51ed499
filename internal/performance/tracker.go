package performance

import (
	"arbitrage-bot-go/internal/config"
	"arbitrage-bot-go/internal/metrics"
	"arbitrage-bot-go/internal/models"
	"arbitrage-bot-go/internal/persistence"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// dueEvent says that metric should be computed at time at.
type dueEvent struct {
	metric Metric
	at     time.Time
}

// Tracker computes registered metrics from the order log. All computation
// happens in one loop that consumes "next due" events; timers only deliver
// events to it.
type Tracker struct {
	repo persistence.OrderLogRepository
	due  chan dueEvent

	mu      sync.RWMutex
	latest  map[string][]Point
	metrics []Metric

	now    func() time.Time
	logger *zap.Logger
}

// NewTracker creates a tracker reading legs from repo.
func NewTracker(repo persistence.OrderLogRepository, logger *zap.Logger) *Tracker {
	return &Tracker{
		repo:   repo,
		due:    make(chan dueEvent, 64),
		latest: make(map[string][]Point),
		now:    time.Now,
		logger: logger.Named("performance"),
	}
}

// RegisterFromConfig registers every configured metric. An empty pair refers
// to the first configured pair.
func (t *Tracker) RegisterFromConfig(cfg *models.Config) error {
	for i, pc := range cfg.Performance {
		pair := cfg.Pairs[0]
		if pc.Pair != "" {
			p, ok := config.Pair(cfg, pc.Pair)
			if !ok {
				return fmt.Errorf("performance[%d]: unknown pair %q", i, pc.Pair)
			}
			pair = p
		}
		m, err := NewMetric(pc.Kind, pc.Interval, pair)
		if err != nil {
			return fmt.Errorf("performance[%d]: %w", i, err)
		}
		t.Register(m)
	}
	return nil
}

// Register schedules m for an immediate first computation. At most 64
// metrics can be registered before Run starts.
func (t *Tracker) Register(m Metric) {
	t.mu.Lock()
	t.metrics = append(t.metrics, m)
	t.mu.Unlock()
	t.due <- dueEvent{metric: m, at: t.now()}
}

// Metrics returns the registered metrics.
func (t *Tracker) Metrics() []Metric {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Metric(nil), t.metrics...)
}

// Latest returns the most recent computation of the named metric.
func (t *Tracker) Latest(name string) []Point {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Point(nil), t.latest[name]...)
}

// Run consumes due events until ctx is cancelled. A metric's next run is
// one interval after its previous due time, or one interval from now when
// the computation overran.
func (t *Tracker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-t.due:
			if wait := ev.at.Sub(t.now()); wait > 0 {
				t.deliver(ctx, ev, wait)
				continue
			}
			t.compute(ctx, ev.metric)
			next := dueEvent{metric: ev.metric, at: ev.at.Add(ev.metric.Interval)}
			if !next.at.After(t.now()) {
				next.at = t.now().Add(ev.metric.Interval)
			}
			t.deliver(ctx, next, next.at.Sub(t.now()))
		}
	}
}

func (t *Tracker) deliver(ctx context.Context, ev dueEvent, after time.Duration) {
	time.AfterFunc(after, func() {
		select {
		case t.due <- ev:
		case <-ctx.Done():
		}
	})
}

// Compute runs one metric over its window and publishes the latest bucket.
func (t *Tracker) Compute(ctx context.Context, m Metric) ([]Point, error) {
	now := t.now()
	legs, err := t.repo.ListLegs(ctx, WindowStart(now, m.Interval), now.Add(time.Nanosecond))
	if err != nil {
		return nil, err
	}
	points := m.Compute(legs)

	t.mu.Lock()
	t.latest[m.Name()] = points
	t.mu.Unlock()

	value := 0.0
	if n := len(points); n > 0 && points[n-1].Bucket.Equal(Bucket(now, m.Interval)) {
		value = points[n-1].Value
	}
	metrics.Performance.WithLabelValues(m.Kind.String(), m.IntervalName, m.Pair.Symbol()).Set(value)
	return points, nil
}

func (t *Tracker) compute(ctx context.Context, m Metric) {
	points, err := t.Compute(ctx, m)
	if err != nil {
		t.logger.Error("Performance computation failed", zap.String("metric", m.Name()), zap.Error(err))
		return
	}
	t.logger.Debug("Performance computed", zap.String("metric", m.Name()), zap.Int("buckets", len(points)))
}
