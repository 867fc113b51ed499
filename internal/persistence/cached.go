package persistence

import (
	"arbitrage-bot-go/internal/models"
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedRepository wraps a primary order log with a Redis read-through cache
// for GetLeg. Writes go to the primary and invalidate the cached leg.
type CachedRepository struct {
	primary OrderLogRepository
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedRepository creates a cached wrapper around primary.
func NewCachedRepository(primary OrderLogRepository, rdb *redis.Client, ttl time.Duration) *CachedRepository {
	return &CachedRepository{primary: primary, rdb: rdb, ttl: ttl}
}

func cacheKey(exchange, orderID string) string {
	return "arb:leg:" + legKey(exchange, orderID)
}

func (r *CachedRepository) InsertLeg(ctx context.Context, leg models.TradeLeg) error {
	if err := r.primary.InsertLeg(ctx, leg); err != nil {
		return err
	}
	r.rdb.Del(ctx, cacheKey(leg.Exchange, leg.OrderID))
	return nil
}

func (r *CachedRepository) UpdateLeg(ctx context.Context, leg models.TradeLeg) error {
	if err := r.primary.UpdateLeg(ctx, leg); err != nil {
		return err
	}
	r.rdb.Del(ctx, cacheKey(leg.Exchange, leg.OrderID))
	return nil
}

func (r *CachedRepository) GetLeg(ctx context.Context, exchange, orderID string) (*models.TradeLeg, error) {
	key := cacheKey(exchange, orderID)
	if data, err := r.rdb.Get(ctx, key).Bytes(); err == nil {
		var leg models.TradeLeg
		if json.Unmarshal(data, &leg) == nil {
			return &leg, nil
		}
	}

	leg, err := r.primary.GetLeg(ctx, exchange, orderID)
	if err != nil || leg == nil {
		return leg, err
	}
	if data, err := json.Marshal(leg); err == nil {
		r.rdb.Set(ctx, key, data, r.ttl)
	}
	return leg, nil
}

// ListLegs is not cached; windows rarely repeat.
func (r *CachedRepository) ListLegs(ctx context.Context, from, to time.Time) ([]models.TradeLeg, error) {
	return r.primary.ListLegs(ctx, from, to)
}

// Close closes the cache client and the primary.
func (r *CachedRepository) Close() error {
	cerr := r.rdb.Close()
	if err := r.primary.Close(); err != nil {
		return err
	}
	return cerr
}
