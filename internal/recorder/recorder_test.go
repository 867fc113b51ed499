package recorder

import (
	"arbitrage-bot-go/internal/exchange"
	"arbitrage-bot-go/internal/models"
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockUploader struct {
	sync.Mutex
	keys []string
	data [][]byte
	err  error
}

func (m *mockUploader) Upload(ctx context.Context, key string, data []byte) error {
	m.Lock()
	defer m.Unlock()
	if m.err != nil {
		return m.err
	}
	m.keys = append(m.keys, key)
	m.data = append(m.data, data)
	return nil
}

var linkEUR = models.PairConfig{Base: "LINK", Quote: "EUR"}

func newRouter() *exchange.Router {
	venues := make([]exchange.Venue, 0, 2)
	for _, name := range []string{"alpha", "beta"} {
		v := exchange.NewSimulatedVenue(name, models.ExchangeConfig{}, nil)
		v.SetOrderBook(&models.OrderBook{
			Base: "LINK", Quote: "EUR",
			Bids: []models.Level{{Price: 99, Volume: 1}, {Price: 98, Volume: 2}},
			Asks: []models.Level{{Price: 100, Volume: 1}},
		})
		venues = append(venues, v)
	}
	return exchange.NewRouter(zap.NewNop(), venues...)
}

func newRecorder(t *testing.T, batch int, up Uploader) *BookRecorder {
	cfg := models.RecorderConfig{Depth: 10, BatchSize: batch, Dir: t.TempDir(), S3: models.S3Config{Prefix: "/books/"}}
	r := NewBookRecorder(newRouter(), []string{"alpha", "beta"}, []models.PairConfig{linkEUR}, cfg, up, zap.NewNop())
	r.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }
	return r
}

func TestRecordsOfNumbersLevelsFromBest(t *testing.T) {
	book := &models.OrderBook{
		Exchange:  "alpha",
		Timestamp: time.UnixMilli(1700000000000),
		Bids:      []models.Level{{Price: 99, Volume: 1}, {Price: 98, Volume: 2}},
		Asks:      []models.Level{{Price: 100, Volume: 3}},
	}
	rows := recordsOf(book, "LINK/EUR")
	require.Len(t, rows, 3)
	assert.Equal(t, LevelRecord{Exchange: "alpha", Symbol: "LINK/EUR", Timestamp: 1700000000000, Side: "bid", Level: 2, Price: 98, Quantity: 2}, rows[1])
	assert.Equal(t, "ask", rows[2].Side)
	assert.Equal(t, int32(1), rows[2].Level)
}

func TestEncodeProducesParquet(t *testing.T) {
	data, err := encode([]LevelRecord{{Exchange: "alpha", Symbol: "LINK/EUR", Side: "bid", Level: 1, Price: 1, Quantity: 1}})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("PAR1")))
	assert.True(t, bytes.HasSuffix(data, []byte("PAR1")))
}

func TestSnapshotBuffersUntilBatchIsFull(t *testing.T) {
	r := newRecorder(t, 100, nil)
	require.NoError(t, r.Snapshot(context.Background()))
	// two venues with three levels each
	assert.Equal(t, 6, r.Buffered())
	assert.Empty(t, r.Files())
}

func TestSnapshotFlushesToDiskAndUploads(t *testing.T) {
	up := &mockUploader{}
	r := newRecorder(t, 5, up)
	require.NoError(t, r.Snapshot(context.Background()))

	assert.Equal(t, 0, r.Buffered())
	files := r.Files()
	require.Len(t, files, 1)
	info, err := os.Stat(files[0])
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	assert.Contains(t, files[0], "date=2024-03-01")

	require.Len(t, up.keys, 1)
	assert.True(t, strings.HasPrefix(up.keys[0], "books/date=2024-03-01/hour=12/books_20240301T123000Z_"), up.keys[0])
	assert.True(t, strings.HasSuffix(up.keys[0], ".parquet"))
}

func TestFlushKeepsLocalFileWhenUploadFails(t *testing.T) {
	up := &mockUploader{err: errors.New("bucket unavailable")}
	r := newRecorder(t, 1000, up)
	require.NoError(t, r.Snapshot(context.Background()))

	assert.Error(t, r.Flush(context.Background()))
	assert.Len(t, r.Files(), 1)
	assert.Equal(t, 0, r.Buffered())
}

func TestFlushWithoutRowsIsNoop(t *testing.T) {
	r := newRecorder(t, 10, nil)
	require.NoError(t, r.Flush(context.Background()))
	assert.Empty(t, r.Files())
}
