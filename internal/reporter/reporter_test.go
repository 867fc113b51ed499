package reporter

import (
	"arbitrage-bot-go/internal/bot"
	"arbitrage-bot-go/internal/models"
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	legs := []models.TradeLeg{
		{Base: "LINK", Quote: "EUR", Status: models.StatusClosed, FilledQuantity: 2, Price: 10},
		{Base: "LINK", Quote: "EUR", Status: models.StatusClosed, FilledQuantity: 1, Price: 11},
		{Base: "LINK", Quote: "EUR", Status: models.StatusFailed},
		{Base: "BTC", Quote: "EUR", Status: models.StatusOpen},
	}
	got := Summarize(legs)
	require.Len(t, got, 2)
	assert.Equal(t, TradeSummary{Pair: "BTC/EUR", Legs: 1}, got[0])
	assert.Equal(t, TradeSummary{Pair: "LINK/EUR", Legs: 3, Closed: 2, Failed: 1, BaseVolume: 3, QuoteVolume: 31}, got[1])
}

func TestGenerateReportRendersAllTables(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	GenerateReport(&buf, Session{
		Start: start,
		End:   start.Add(90 * time.Minute),
		Stats: bot.SessionStats{Cycles: 42, Executions: 3},
		Funds: []models.FundEntry{{Exchange: "binance", Currency: "EUR", Balance: 100, Reserved: 10, Available: 90}},
		Pending: []models.PendingOrder{{
			Ref:    models.OrderRef{Exchange: "bybit", OrderID: "77"},
			Side:   models.Sell,
			Status: models.StatusOpen,
		}},
		Legs: []models.TradeLeg{{Base: "LINK", Quote: "EUR", Status: models.StatusClosed, FilledQuantity: 1, Price: 10}},
	})

	out := buf.String()
	for _, want := range []string{"1h30m0s", "Counters", "Trades", "Funds", "In-flight orders", "binance", "77", "LINK/EUR", "42"} {
		assert.Contains(t, out, want)
	}
}
