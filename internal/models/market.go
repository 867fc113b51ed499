package models

import "time"

// Side is the direction of an order or quote.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Level is one price level of an order book.
type Level struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// OrderBook is an immutable per-exchange snapshot. Bids are sorted by price
// descending, asks ascending.
type OrderBook struct {
	Exchange  string    `json:"exchange"`
	Base      string    `json:"base"`
	Quote     string    `json:"quote"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}

// Empty reports whether the book has no levels on either side. A one-sided
// book is not empty: it can still serve as the buy or the sell venue.
func (b *OrderBook) Empty() bool {
	return b == nil || (len(b.Bids) == 0 && len(b.Asks) == 0)
}

// Quote is the best executable price of one book side for a requested volume.
type Quote struct {
	Exchange       string  `json:"exchange"`
	Side           Side    `json:"side"` // Sell for the bid side, Buy for the ask side
	RawPrice       float64 `json:"raw_price"`
	EffectivePrice float64 `json:"effective_price"` // after the taker fee
	Volume         float64 `json:"volume"`
}

// MarketQuotes holds the bid and ask quote of one exchange in one cycle.
type MarketQuotes struct {
	Bid Quote `json:"bid"`
	Ask Quote `json:"ask"`
}

// Signal is a candidate opportunity: sell on SellExchange, buy on BuyExchange.
type Signal struct {
	SellExchange   string  `json:"sell_exchange"`
	BuyExchange    string  `json:"buy_exchange"`
	SpreadBps      float64 `json:"spread_bps"`
	Volume         float64 `json:"volume"`
	SellPrice      float64 `json:"sell_price"`
	BuyPrice       float64 `json:"buy_price"`
	AboveThreshold bool    `json:"above_threshold"`
}

// PlannedOrder is one leg of an N-way execution plan.
type PlannedOrder struct {
	Exchange string  `json:"exchange"`
	Side     Side    `json:"side"`
	Volume   float64 `json:"volume"`
	Price    float64 `json:"price"` // volume-weighted price of the consumed levels
	Notional float64 `json:"notional"`
	Fee      float64 `json:"fee"` // estimated fee in the quote currency
}

// Balance is one currency amount reported by a venue.
type Balance struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
}
