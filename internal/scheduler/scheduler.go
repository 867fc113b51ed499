package scheduler

import (
	"arbitrage-bot-go/internal/metrics"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Job is one run of a scheduled loop.
type Job func(ctx context.Context) error

// Loop runs a job at a fixed cadence. The first run is anchored at the next
// whole multiple of Interval; each following deadline is the previous one
// plus Interval. A run that starts after its deadline is late but still
// happens, and only one run is ever in flight.
type Loop struct {
	Name     string
	Interval time.Duration
	Job      Job

	// ReanchorOnError moves the schedule to now + Interval after a failed run.
	ReanchorOnError bool

	now    func() time.Time
	logger *zap.Logger
}

// NewLoop creates a loop.
func NewLoop(name string, interval time.Duration, job Job, logger *zap.Logger) *Loop {
	return &Loop{
		Name:     name,
		Interval: interval,
		Job:      job,
		now:      time.Now,
		logger:   logger.Named("scheduler").With(zap.String("loop", name)),
	}
}

// FirstDeadline returns the next whole multiple of interval after now.
func FirstDeadline(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}

// Run blocks until ctx is cancelled. It returns how many runs completed.
func (l *Loop) Run(ctx context.Context) int {
	deadline := FirstDeadline(l.now(), l.Interval)
	runs := 0
	timer := time.NewTimer(l.Interval)
	timer.Stop()
	defer timer.Stop()

	for {
		if wait := deadline.Sub(l.now()); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return runs
			case <-timer.C:
			}
		} else {
			select {
			case <-ctx.Done():
				return runs
			default:
			}
			if wait < -l.Interval/10 {
				metrics.LateTicks.WithLabelValues(l.Name).Inc()
				l.logger.Debug("Running late", zap.Duration("behind", -wait))
			}
		}

		err := l.runOnce(ctx)
		runs++
		if err != nil && l.ReanchorOnError {
			deadline = l.now().Add(l.Interval)
			continue
		}
		deadline = deadline.Add(l.Interval)
	}
}

func (l *Loop) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SchedulerPanics.WithLabelValues(l.Name).Inc()
			l.logger.Error("Recovered from panic in scheduled job", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	err = l.Job(ctx)
	if err != nil {
		l.logger.Warn("Scheduled job failed", zap.Error(err))
	}
	return err
}
