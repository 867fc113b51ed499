package recorder

import (
	"arbitrage-bot-go/internal/exchange"
	"arbitrage-bot-go/internal/metrics"
	"arbitrage-bot-go/internal/models"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BookRecorder snapshots the order books of every configured exchange and
// pair, and writes them out in parquet batches.
type BookRecorder struct {
	source    exchange.OrderBookSource
	exchanges []string
	pairs     []models.PairConfig
	depth     int
	batchSize int
	dir       string
	prefix    string
	uploader  Uploader

	mu     sync.Mutex
	rows   []LevelRecord
	files  []string
	now    func() time.Time
	logger *zap.Logger
}

// NewBookRecorder creates a recorder. uploader may be nil, in which case
// batches are only written under cfg.Dir.
func NewBookRecorder(source exchange.OrderBookSource, exchanges []string, pairs []models.PairConfig, cfg models.RecorderConfig, uploader Uploader, logger *zap.Logger) *BookRecorder {
	return &BookRecorder{
		source:    source,
		exchanges: exchanges,
		pairs:     pairs,
		depth:     cfg.Depth,
		batchSize: cfg.BatchSize,
		dir:       cfg.Dir,
		prefix:    cfg.S3.Prefix,
		uploader:  uploader,
		now:       time.Now,
		logger:    logger.Named("recorder"),
	}
}

// Snapshot records one book per exchange and pair and flushes when the batch
// is full. Venues that fail are skipped for this snapshot.
func (r *BookRecorder) Snapshot(ctx context.Context) error {
	now := r.now().UTC()
	var rows []LevelRecord
	for _, pair := range r.pairs {
		books, err := r.source.OrderBooks(ctx, r.exchanges, pair, r.depth)
		if err != nil {
			r.logger.Warn("Some books unavailable", zap.String("pair", pair.Symbol()), zap.Error(err))
		}
		for name, book := range books {
			b := *book
			if b.Timestamp.IsZero() {
				b.Timestamp = now
			}
			b.Exchange = name
			rows = append(rows, recordsOf(&b, pair.Symbol())...)
			metrics.RecorderSnapshots.WithLabelValues(name).Inc()
		}
	}

	r.mu.Lock()
	r.rows = append(r.rows, rows...)
	full := len(r.rows) >= r.batchSize
	r.mu.Unlock()

	if full {
		return r.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered rows as one file and uploads it if an uploader
// is configured. The buffer is cleared even when the upload fails; the local
// file remains.
func (r *BookRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	rows := r.rows
	r.rows = nil
	r.mu.Unlock()
	if len(rows) == 0 {
		return nil
	}

	data, err := encode(rows)
	if err != nil {
		return err
	}
	key := r.key(r.now().UTC())

	local := filepath.Join(r.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", local, err)
	}
	if err := os.WriteFile(local, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", local, err)
	}
	r.mu.Lock()
	r.files = append(r.files, local)
	r.mu.Unlock()
	r.logger.Info("Batch written", zap.String("file", local), zap.Int("rows", len(rows)), zap.Int("bytes", len(data)))

	if r.uploader == nil {
		return nil
	}
	remote := key
	if r.prefix != "" {
		remote = path.Join(strings.Trim(r.prefix, "/"), key)
	}
	if err := r.uploader.Upload(ctx, remote, data); err != nil {
		return err
	}
	r.logger.Info("Batch uploaded", zap.String("key", remote))
	return nil
}

// key partitions batches by day and hour.
func (r *BookRecorder) key(ts time.Time) string {
	name := fmt.Sprintf("books_%s_%s.parquet", ts.Format("20060102T150405Z"), uuid.NewString()[:8])
	return path.Join("date="+ts.Format("2006-01-02"), "hour="+ts.Format("15"), name)
}

// Files lists the local files written so far.
func (r *BookRecorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

// Buffered returns the number of rows waiting for the next flush.
func (r *BookRecorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}
