package persistence

import (
	"arbitrage-bot-go/internal/models"
	"context"
	"time"
)

// OrderLogRepository stores one audit record per order leg. It abstracts the
// underlying storage (BadgerDB, PostgreSQL, in-memory) from the rest of the
// application.
type OrderLogRepository interface {
	// InsertLeg stores a new leg, replacing any leg with the same key. A
	// stored terminal status, fill and fee survive the replacement.
	InsertLeg(ctx context.Context, leg models.TradeLeg) error

	// UpdateLeg overwrites the status, fill and fee fields of a stored leg.
	// A leg that is not stored yet is inserted as given.
	UpdateLeg(ctx context.Context, leg models.TradeLeg) error

	// GetLeg loads one leg. If it is not found, it returns (nil, nil).
	GetLeg(ctx context.Context, exchange, orderID string) (*models.TradeLeg, error)

	// ListLegs returns the legs with from <= timestamp < to, oldest first.
	ListLegs(ctx context.Context, from, to time.Time) ([]models.TradeLeg, error)

	Close() error
}

// PendingRepository persists the set of in-flight orders so a restart can
// resume reconciling them.
type PendingRepository interface {
	// SavePending atomically replaces the stored set.
	SavePending(orders []models.PendingOrder) error

	// LoadPending returns the stored set, empty if nothing was saved.
	LoadPending() ([]models.PendingOrder, error)

	Close() error
}

func legKey(exchange, orderID string) string {
	return exchange + ":" + orderID
}

func applyUpdate(dst *models.TradeLeg, src models.TradeLeg) {
	dst.Status = src.Status
	dst.FilledQuantity = src.FilledQuantity
	dst.Fee = src.Fee
	dst.FeeCurrency = src.FeeCurrency
	if src.Price != 0 {
		dst.Price = src.Price
	}
}

// mergeInsert returns what InsertLeg stores when stored already exists. The
// audit record of a placement can arrive after the terminal update.
func mergeInsert(stored, leg models.TradeLeg) models.TradeLeg {
	if stored.Status.Terminal() && !leg.Status.Terminal() {
		applyUpdate(&leg, stored)
	}
	return leg
}

func inWindow(leg models.TradeLeg, from, to time.Time) bool {
	return !leg.Timestamp.Before(from) && leg.Timestamp.Before(to)
}
