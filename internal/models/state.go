package models

import (
	"time"
)

// OrderStatus is the aggregated status of an exchange order.
type OrderStatus string

const (
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusClosed          OrderStatus = "CLOSED"
	StatusFailed          OrderStatus = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == StatusClosed || s == StatusFailed
}

// OrderType is the execution style of an order.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// OrderRequest is a request to place one order on one exchange.
type OrderRequest struct {
	Exchange      string    `json:"exchange"`
	Base          string    `json:"base"`
	Quote         string    `json:"quote"`
	Side          Side      `json:"side"`
	Type          OrderType `json:"type"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price,omitempty"`
	ClientOrderID string    `json:"client_order_id"`
}

// OrderRef identifies a placed order.
type OrderRef struct {
	Exchange string `json:"exchange"`
	Base     string `json:"base"`
	Quote    string `json:"quote"`
	OrderID  string `json:"order_id"`
}

// OrderHandle is the acknowledgement returned by a venue for a placed order.
type OrderHandle struct {
	OrderRef
	ClientOrderID string       `json:"client_order_id"`
	Request       OrderRequest `json:"request"`
	PlacedAt      time.Time    `json:"placed_at"`
}

// Fill is one execution against an order.
type Fill struct {
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	Fee         float64 `json:"fee"`
	FeeCurrency string  `json:"fee_currency"`
}

// OrderReport is the status of an order as reported by its venue.
type OrderReport struct {
	Status OrderStatus `json:"status"`
	Fills  []Fill      `json:"fills"`
}

// FilledQuantity sums the fill quantities.
func (r *OrderReport) FilledQuantity() float64 {
	var q float64
	for _, f := range r.Fills {
		q += f.Quantity
	}
	return q
}

// AveragePrice is the quantity-weighted fill price, zero without fills.
func (r *OrderReport) AveragePrice() float64 {
	var notional, q float64
	for _, f := range r.Fills {
		notional += f.Price * f.Quantity
		q += f.Quantity
	}
	if q == 0 {
		return 0
	}
	return notional / q
}

// TotalFee sums the fees; the currency of the first fill wins.
func (r *OrderReport) TotalFee() (float64, string) {
	var fee float64
	var currency string
	for _, f := range r.Fills {
		fee += f.Fee
		if currency == "" {
			currency = f.FeeCurrency
		}
	}
	return fee, currency
}

// PendingOrder is an in-flight order tracked until it reaches a terminal status.
type PendingOrder struct {
	Deadline          time.Time   `json:"deadline"`
	Ref               OrderRef    `json:"ref"`
	ComboID           string      `json:"combo_id"`
	AlgoID            string      `json:"algo_id"`
	Side              Side        `json:"side"`
	RequestedQuantity float64     `json:"requested_quantity"`
	Status            OrderStatus `json:"status"`
	FilledQuantity    float64     `json:"filled_quantity"`
	ReservationID     string      `json:"reservation_id,omitempty"`
	CancelAttempts    int         `json:"cancel_attempts"`
	PollFailures      int         `json:"poll_failures"`
	CreatedAt         time.Time   `json:"created_at"`
}

// Key uniquely identifies the order across exchanges.
func (p PendingOrder) Key() string {
	return p.Ref.Exchange + ":" + p.Ref.OrderID
}

// TradeLeg is the audit record of one leg of a combo.
type TradeLeg struct {
	OrderID        string      `json:"order_id"`
	ComboID        string      `json:"combo_id"`
	Timestamp      time.Time   `json:"timestamp"`
	Base           string      `json:"base"`
	Quote          string      `json:"quote"`
	Quantity       float64     `json:"quantity"`
	Price          float64     `json:"price"`
	Direction      Side        `json:"direction"`
	Type           OrderType   `json:"type"`
	FilledQuantity float64     `json:"filled_quantity"`
	Status         OrderStatus `json:"status"`
	Fee            float64     `json:"fee"`
	FeeCurrency    string      `json:"fee_currency"`
	Exchange       string      `json:"exchange"`
	AlgoName       string      `json:"algo_name"`
}

// FundEntry is a read-only view of one ledger position.
type FundEntry struct {
	Exchange  string  `json:"exchange"`
	Currency  string  `json:"currency"`
	Balance   float64 `json:"balance"`
	Reserved  float64 `json:"reserved"`
	Available float64 `json:"available"`
}
