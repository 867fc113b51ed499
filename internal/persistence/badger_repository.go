package persistence

import (
	"arbitrage-bot-go/internal/models"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
)

var (
	legPrefix  = []byte("leg/")
	pendingKey = []byte("pending_orders")
)

// BadgerRepository is the BadgerDB implementation of both the order log and
// the pending-order store. Legs are stored as JSON under "leg/<exchange>:<id>".
type BadgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository opens (or creates) a database under dbPath.
func NewBadgerRepository(dbPath string) (*BadgerRepository, error) {
	return openBadger(badger.DefaultOptions(dbPath))
}

// NewInMemoryBadgerRepository opens a database that lives only in memory.
func NewInMemoryBadgerRepository() (*BadgerRepository, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*BadgerRepository, error) {
	// Badger's own logging is disabled to keep the application logs clean.
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerRepository{db: db}, nil
}

func badgerLegKey(exchange, orderID string) []byte {
	return append(append([]byte(nil), legPrefix...), legKey(exchange, orderID)...)
}

func (r *BadgerRepository) InsertLeg(ctx context.Context, leg models.TradeLeg) error {
	key := badgerLegKey(leg.Exchange, leg.OrderID)
	return r.db.Update(func(txn *badger.Txn) error {
		stored, err := getLegTxn(txn, key)
		if err != nil {
			return err
		}
		if stored != nil {
			leg = mergeInsert(*stored, leg)
		}
		return setLegTxn(txn, key, leg)
	})
}

func (r *BadgerRepository) UpdateLeg(ctx context.Context, leg models.TradeLeg) error {
	key := badgerLegKey(leg.Exchange, leg.OrderID)
	return r.db.Update(func(txn *badger.Txn) error {
		stored, err := getLegTxn(txn, key)
		if err != nil {
			return fmt.Errorf("update leg %s: %w", key, err)
		}
		if stored == nil {
			return setLegTxn(txn, key, leg)
		}
		applyUpdate(stored, leg)
		return setLegTxn(txn, key, *stored)
	})
}

// getLegTxn returns (nil, nil) when key is not present.
func getLegTxn(txn *badger.Txn, key []byte) (*models.TradeLeg, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var leg models.TradeLeg
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &leg)
	}); err != nil {
		return nil, err
	}
	return &leg, nil
}

func setLegTxn(txn *badger.Txn, key []byte, leg models.TradeLeg) error {
	data, err := json.Marshal(leg)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// GetLeg returns (nil, nil) when the key is not present.
func (r *BadgerRepository) GetLeg(ctx context.Context, exchange, orderID string) (*models.TradeLeg, error) {
	var leg models.TradeLeg
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerLegKey(exchange, orderID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("leg value is empty in database")
			}
			return json.Unmarshal(val, &leg)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &leg, nil
}

func (r *BadgerRepository) ListLegs(ctx context.Context, from, to time.Time) ([]models.TradeLeg, error) {
	var out []models.TradeLeg
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = legPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var leg models.TradeLeg
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &leg)
			}); err != nil {
				return err
			}
			if inWindow(leg, from, to) {
				out = append(out, leg)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortLegs(out)
	return out, nil
}

// SavePending replaces the stored pending set under a single key.
func (r *BadgerRepository) SavePending(orders []models.PendingOrder) error {
	data, err := json.Marshal(orders)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pendingKey, data)
	})
}

func (r *BadgerRepository) LoadPending() ([]models.PendingOrder, error) {
	var orders []models.PendingOrder
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pendingKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &orders)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// Close gracefully closes the connection to the database.
func (r *BadgerRepository) Close() error {
	return r.db.Close()
}
