package persistence

import (
	"arbitrage-bot-go/internal/models"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AsyncAuditSink writes trade-leg records to an order log from a background
// goroutine. Record never blocks; when the buffer is full the record is
// dropped and logged.
type AsyncAuditSink struct {
	repo    OrderLogRepository
	records chan models.TradeLeg
	timeout time.Duration
	once    sync.Once
	done    chan struct{}
	logger  *zap.Logger
}

// NewAsyncAuditSink creates a sink with the given buffer size and starts its
// write loop.
func NewAsyncAuditSink(repo OrderLogRepository, buffer int, logger *zap.Logger) *AsyncAuditSink {
	s := &AsyncAuditSink{
		repo:    repo,
		records: make(chan models.TradeLeg, buffer),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
		logger:  logger.Named("audit"),
	}
	go s.loop()
	return s
}

// Record enqueues one leg for insertion.
func (s *AsyncAuditSink) Record(leg models.TradeLeg) {
	select {
	case s.records <- leg:
	default:
		s.logger.Error("Audit buffer full, dropping trade leg",
			zap.String("combo_id", leg.ComboID), zap.String("order_id", leg.OrderID), zap.String("exchange", leg.Exchange))
	}
}

func (s *AsyncAuditSink) loop() {
	defer close(s.done)
	for leg := range s.records {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.repo.InsertLeg(ctx, leg); err != nil {
			s.logger.Error("Failed to write trade leg",
				zap.String("combo_id", leg.ComboID), zap.String("order_id", leg.OrderID), zap.Error(err))
		}
		cancel()
	}
}

// Stop drains the queued records and waits for the loop to exit. Record must
// not be called after Stop.
func (s *AsyncAuditSink) Stop() {
	s.once.Do(func() { close(s.records) })
	<-s.done
}
