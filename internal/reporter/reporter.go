package reporter

import (
	"arbitrage-bot-go/internal/bot"
	"arbitrage-bot-go/internal/models"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Session is everything the shutdown report is built from.
type Session struct {
	Start   time.Time
	End     time.Time
	Stats   bot.SessionStats
	Funds   []models.FundEntry
	Pending []models.PendingOrder
	Legs    []models.TradeLeg // order log entries written during the session
}

// TradeSummary aggregates the order log of a session per pair.
type TradeSummary struct {
	Pair        string
	Legs        int
	Closed      int
	Failed      int
	BaseVolume  float64
	QuoteVolume float64
}

// Summarize groups legs by pair, sorted by pair name.
func Summarize(legs []models.TradeLeg) []TradeSummary {
	byPair := make(map[string]*TradeSummary)
	for _, l := range legs {
		pair := l.Base + "/" + l.Quote
		s, ok := byPair[pair]
		if !ok {
			s = &TradeSummary{Pair: pair}
			byPair[pair] = s
		}
		s.Legs++
		switch l.Status {
		case models.StatusClosed:
			s.Closed++
			s.BaseVolume += l.FilledQuantity
			s.QuoteVolume += l.FilledQuantity * l.Price
		case models.StatusFailed:
			s.Failed++
		}
	}
	out := make([]TradeSummary, 0, len(byPair))
	for _, s := range byPair {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair < out[j].Pair })
	return out
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleLight)
	return t
}

// GenerateReport prints the session tables to w.
func GenerateReport(w io.Writer, s Session) {
	fmt.Fprintf(w, "Session %s to %s (%s)\n",
		s.Start.Format("2006-01-02 15:04:05"), s.End.Format("2006-01-02 15:04:05"), s.End.Sub(s.Start).Round(time.Second))

	counters := newTable(w, "Counters")
	counters.AppendHeader(table.Row{"Counter", "Value"})
	counters.AppendRows([]table.Row{
		{"Cycles", s.Stats.Cycles},
		{"Cycle errors", s.Stats.CycleErrors},
		{"Signals", s.Stats.Signals},
		{"Above threshold", s.Stats.AboveThreshold},
		{"Skipped for funds", s.Stats.NoFunds},
		{"Executions", s.Stats.Executions},
		{"Failed legs", s.Stats.LegFailures},
		{"Settled", s.Stats.Settled},
		{"Released", s.Stats.Released},
	})
	counters.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	counters.Render()

	trades := newTable(w, "Trades")
	trades.AppendHeader(table.Row{"Pair", "Legs", "Closed", "Failed", "Base volume", "Quote volume"})
	for _, t := range Summarize(s.Legs) {
		trades.AppendRow(table.Row{t.Pair, t.Legs, t.Closed, t.Failed,
			fmt.Sprintf("%.8f", t.BaseVolume), fmt.Sprintf("%.2f", t.QuoteVolume)})
	}
	trades.Render()

	funds := newTable(w, "Funds")
	funds.AppendHeader(table.Row{"Exchange", "Currency", "Balance", "Reserved", "Available"})
	for _, e := range s.Funds {
		funds.AppendRow(table.Row{e.Exchange, e.Currency,
			fmt.Sprintf("%.8f", e.Balance), fmt.Sprintf("%.8f", e.Reserved), fmt.Sprintf("%.8f", e.Available)})
	}
	funds.Render()

	pending := newTable(w, "In-flight orders")
	pending.AppendHeader(table.Row{"Exchange", "Order", "Combo", "Side", "Requested", "Filled", "Status", "Deadline"})
	for _, o := range s.Pending {
		pending.AppendRow(table.Row{o.Ref.Exchange, o.Ref.OrderID, o.ComboID, o.Side,
			o.RequestedQuantity, o.FilledQuantity, o.Status, o.Deadline.Format(time.RFC3339)})
	}
	pending.Render()
}
