package persistence

import (
	"arbitrage-bot-go/internal/models"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresRepository implements OrderLogRepository on an order_legs table.
// Quantities, prices and fees are stored as NUMERIC.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository wraps an existing connection pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func numeric(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// InsertLeg keeps a stored terminal outcome when the audit record of the
// placement arrives after it.
func (r *PostgresRepository) InsertLeg(ctx context.Context, leg models.TradeLeg) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO order_legs (exchange, order_id, combo_id, ts, base, quote, quantity, price, direction,
		                         order_type, filled_quantity, status, fee, fee_currency, algo_name)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10, $11::NUMERIC, $12, $13::NUMERIC, $14, $15)
		 ON CONFLICT (exchange, order_id) DO UPDATE SET
		     combo_id = EXCLUDED.combo_id, ts = EXCLUDED.ts, base = EXCLUDED.base, quote = EXCLUDED.quote,
		     quantity = EXCLUDED.quantity, direction = EXCLUDED.direction, order_type = EXCLUDED.order_type,
		     algo_name = EXCLUDED.algo_name,
		     price = CASE WHEN order_legs.status IN ('CLOSED', 'FAILED') AND order_legs.price <> 0
		                  THEN order_legs.price ELSE EXCLUDED.price END,
		     status = CASE WHEN order_legs.status IN ('CLOSED', 'FAILED') THEN order_legs.status ELSE EXCLUDED.status END,
		     filled_quantity = CASE WHEN order_legs.status IN ('CLOSED', 'FAILED')
		                            THEN order_legs.filled_quantity ELSE EXCLUDED.filled_quantity END,
		     fee = CASE WHEN order_legs.status IN ('CLOSED', 'FAILED') THEN order_legs.fee ELSE EXCLUDED.fee END,
		     fee_currency = CASE WHEN order_legs.status IN ('CLOSED', 'FAILED')
		                         THEN order_legs.fee_currency ELSE EXCLUDED.fee_currency END`,
		legArgs(leg)...,
	)
	return err
}

// UpdateLeg inserts the full leg when the row does not exist yet.
func (r *PostgresRepository) UpdateLeg(ctx context.Context, leg models.TradeLeg) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO order_legs (exchange, order_id, combo_id, ts, base, quote, quantity, price, direction,
		                         order_type, filled_quantity, status, fee, fee_currency, algo_name)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10, $11::NUMERIC, $12, $13::NUMERIC, $14, $15)
		 ON CONFLICT (exchange, order_id) DO UPDATE SET
		     status = EXCLUDED.status, filled_quantity = EXCLUDED.filled_quantity,
		     fee = EXCLUDED.fee, fee_currency = EXCLUDED.fee_currency,
		     price = CASE WHEN EXCLUDED.price = 0 THEN order_legs.price ELSE EXCLUDED.price END`,
		legArgs(leg)...,
	)
	return err
}

func legArgs(leg models.TradeLeg) []any {
	return []any{
		leg.Exchange, leg.OrderID, leg.ComboID, leg.Timestamp, leg.Base, leg.Quote,
		numeric(leg.Quantity), numeric(leg.Price), string(leg.Direction), string(leg.Type),
		numeric(leg.FilledQuantity), string(leg.Status), numeric(leg.Fee), leg.FeeCurrency, leg.AlgoName,
	}
}

const legColumns = `exchange, order_id, combo_id, ts, base, quote, quantity::TEXT, price::TEXT, direction,
		        order_type, filled_quantity::TEXT, status, fee::TEXT, fee_currency, algo_name`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLeg(row rowScanner) (models.TradeLeg, error) {
	var leg models.TradeLeg
	var qty, price, filled, fee, direction, orderType, status string
	if err := row.Scan(&leg.Exchange, &leg.OrderID, &leg.ComboID, &leg.Timestamp, &leg.Base, &leg.Quote,
		&qty, &price, &direction, &orderType, &filled, &status, &fee, &leg.FeeCurrency, &leg.AlgoName); err != nil {
		return leg, err
	}
	leg.Quantity = parseNumeric(qty)
	leg.Price = parseNumeric(price)
	leg.FilledQuantity = parseNumeric(filled)
	leg.Fee = parseNumeric(fee)
	leg.Direction = models.Side(direction)
	leg.Type = models.OrderType(orderType)
	leg.Status = models.OrderStatus(status)
	return leg, nil
}

func parseNumeric(s string) float64 {
	d, _ := decimal.NewFromString(s)
	return d.InexactFloat64()
}

func (r *PostgresRepository) GetLeg(ctx context.Context, exchange, orderID string) (*models.TradeLeg, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+legColumns+` FROM order_legs WHERE exchange = $1 AND order_id = $2`, exchange, orderID)
	leg, err := scanLeg(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get leg %s: %w", legKey(exchange, orderID), err)
	}
	return &leg, nil
}

func (r *PostgresRepository) ListLegs(ctx context.Context, from, to time.Time) ([]models.TradeLeg, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+legColumns+` FROM order_legs WHERE ts >= $1 AND ts < $2 ORDER BY ts, exchange, order_id`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TradeLeg
	for rows.Next() {
		leg, err := scanLeg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, leg)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
