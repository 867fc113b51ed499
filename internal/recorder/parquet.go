package recorder

import (
	"arbitrage-bot-go/internal/models"
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// LevelRecord is one order-book level of one snapshot.
type LevelRecord struct {
	Exchange  string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Side      string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Level     int32   `parquet:"name=level, type=INT32"`
	Price     float64 `parquet:"name=price, type=DOUBLE"`
	Quantity  float64 `parquet:"name=quantity, type=DOUBLE"`
}

// recordsOf flattens a book into rows, level 1 being the best price.
func recordsOf(book *models.OrderBook, symbol string) []LevelRecord {
	ts := book.Timestamp.UnixMilli()
	rows := make([]LevelRecord, 0, len(book.Bids)+len(book.Asks))
	for i, l := range book.Bids {
		rows = append(rows, LevelRecord{Exchange: book.Exchange, Symbol: symbol, Timestamp: ts, Side: "bid", Level: int32(i + 1), Price: l.Price, Quantity: l.Volume})
	}
	for i, l := range book.Asks {
		rows = append(rows, LevelRecord{Exchange: book.Exchange, Symbol: symbol, Timestamp: ts, Side: "ask", Level: int32(i + 1), Price: l.Price, Quantity: l.Volume})
	}
	return rows
}

// memoryFile is a write-only source.ParquetFile backed by a buffer.
type memoryFile struct {
	buf *bytes.Buffer
}

func newMemoryFile() *memoryFile { return &memoryFile{buf: &bytes.Buffer{}} }

func (f *memoryFile) Create(string) (source.ParquetFile, error) { return f, nil }
func (f *memoryFile) Open(string) (source.ParquetFile, error)   { return f, nil }
func (f *memoryFile) Seek(int64, int) (int64, error)            { return int64(f.buf.Len()), nil }
func (f *memoryFile) Read(b []byte) (int, error)                { return f.buf.Read(b) }
func (f *memoryFile) Write(b []byte) (int, error)               { return f.buf.Write(b) }
func (f *memoryFile) Close() error                              { return nil }

// encode writes rows as one snappy-compressed parquet file.
func encode(rows []LevelRecord) ([]byte, error) {
	f := newMemoryFile()
	pw, err := writer.NewParquetWriter(f, new(LevelRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range rows {
		if err := pw.Write(r); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finish parquet file: %w", err)
	}
	return f.buf.Bytes(), nil
}
