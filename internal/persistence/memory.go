package persistence

import (
	"arbitrage-bot-go/internal/models"
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps the order log and pending set in process memory.
// Nothing survives a restart.
type MemoryRepository struct {
	mu      sync.RWMutex
	legs    map[string]models.TradeLeg
	pending []models.PendingOrder
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{legs: make(map[string]models.TradeLeg)}
}

func (r *MemoryRepository) InsertLeg(ctx context.Context, leg models.TradeLeg) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := legKey(leg.Exchange, leg.OrderID)
	if stored, ok := r.legs[key]; ok {
		leg = mergeInsert(stored, leg)
	}
	r.legs[key] = leg
	return nil
}

func (r *MemoryRepository) UpdateLeg(ctx context.Context, leg models.TradeLeg) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := legKey(leg.Exchange, leg.OrderID)
	stored, ok := r.legs[key]
	if !ok {
		r.legs[key] = leg
		return nil
	}
	applyUpdate(&stored, leg)
	r.legs[key] = stored
	return nil
}

func (r *MemoryRepository) GetLeg(ctx context.Context, exchange, orderID string) (*models.TradeLeg, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	leg, ok := r.legs[legKey(exchange, orderID)]
	if !ok {
		return nil, nil
	}
	return &leg, nil
}

func (r *MemoryRepository) ListLegs(ctx context.Context, from, to time.Time) ([]models.TradeLeg, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.TradeLeg
	for _, leg := range r.legs {
		if inWindow(leg, from, to) {
			out = append(out, leg)
		}
	}
	sortLegs(out)
	return out, nil
}

func (r *MemoryRepository) SavePending(orders []models.PendingOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append([]models.PendingOrder(nil), orders...)
	return nil
}

func (r *MemoryRepository) LoadPending() ([]models.PendingOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.PendingOrder(nil), r.pending...), nil
}

func (r *MemoryRepository) Close() error {
	return nil
}

func sortLegs(legs []models.TradeLeg) {
	sort.SliceStable(legs, func(i, j int) bool {
		if legs[i].Timestamp.Equal(legs[j].Timestamp) {
			return legKey(legs[i].Exchange, legs[i].OrderID) < legKey(legs[j].Exchange, legs[j].OrderID)
		}
		return legs[i].Timestamp.Before(legs[j].Timestamp)
	})
}
