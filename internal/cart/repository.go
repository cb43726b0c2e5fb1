package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-assistant/internal/common/db"
	"order-assistant/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type PGRepository struct {
	db *db.Conn
}

func NewPGRepository(conn *db.Conn) *PGRepository { return &PGRepository{db: conn} }

const cartColumns = `
SELECT id, status, subtotal, delivery_price, total,
       COALESCE(delivery_type, ''), COALESCE(delivery_address, ''),
       location_lat, location_lon, location_name, location_address,
       scheduled_for, COALESCE(customer_name, ''), COALESCE(language, ''),
       COALESCE(notes, ''), order_id, created_at, updated_at
FROM carts
`

func (r *PGRepository) GetActive(ctx context.Context, key domain.CartKey) (*domain.Cart, error) {
	return r.queryCart(ctx, key, cartColumns+`
WHERE business_id = $1 AND branch_id = $2 AND customer_id = $3 AND status = 'active'
`, key.BusinessID, key.BranchID, key.CustomerID)
}

func (r *PGRepository) GetRecentCompleted(ctx context.Context, key domain.CartKey, updatedAfter time.Time) (*domain.Cart, error) {
	return r.queryCart(ctx, key, cartColumns+`
WHERE business_id = $1 AND branch_id = $2 AND customer_id = $3
  AND status = 'completed' AND updated_at > $4
ORDER BY updated_at DESC
LIMIT 1
`, key.BusinessID, key.BranchID, key.CustomerID, updatedAfter)
}

func (r *PGRepository) queryCart(ctx context.Context, key domain.CartKey, sql string, args ...any) (*domain.Cart, error) {
	c := domain.Cart{Key: key}
	var lat, lon *float64
	var locName, locAddress *string
	err := r.db.QueryRow(ctx, sql, args...).
		Scan(&c.ID, &c.Status, &c.Subtotal, &c.DeliveryPrice, &c.Total,
			&c.DeliveryType, &c.DeliveryAddress,
			&lat, &lon, &locName, &locAddress,
			&c.ScheduledFor, &c.CustomerName, &c.Language,
			&c.Notes, &c.OrderID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}
	if lat != nil && lon != nil {
		c.Location = &domain.Location{Lat: *lat, Lon: *lon}
		if locName != nil {
			c.Location.Name = *locName
		}
		if locAddress != nil {
			c.Location.Address = *locAddress
		}
	}

	rows, err := r.db.Query(ctx, `
SELECT item_id, name, unit_price, quantity, COALESCE(notes, '')
FROM cart_items
WHERE cart_id = $1
ORDER BY position
`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(&it.ItemID, &it.Name, &it.UnitPrice, &it.Quantity, &it.Notes); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		c.Items = append(c.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}
	return &c, nil
}

func (r *PGRepository) Insert(ctx context.Context, c *domain.Cart) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO carts (id, business_id, branch_id, customer_id, status,
                   subtotal, delivery_price, total, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`, c.ID, c.Key.BusinessID, c.Key.BranchID, c.Key.CustomerID, string(c.Status),
		c.Subtotal, c.DeliveryPrice, c.Total, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert cart: %w", err)
	}
	return nil
}

// Save writes the cart header and replaces its item lines in one
// transaction so readers never observe a half-updated cart.
func (r *PGRepository) Save(ctx context.Context, c *domain.Cart) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save cart: %w", err)
	}
	defer tx.Rollback(ctx)

	var lat, lon *float64
	var locName, locAddress *string
	if c.Location != nil {
		lat, lon = &c.Location.Lat, &c.Location.Lon
		locName, locAddress = &c.Location.Name, &c.Location.Address
	}
	_, err = tx.Exec(ctx, `
UPDATE carts SET
  status = $2, subtotal = $3, delivery_price = $4, total = $5,
  delivery_type = NULLIF($6, ''), delivery_address = NULLIF($7, ''),
  location_lat = $8, location_lon = $9, location_name = $10, location_address = $11,
  scheduled_for = $12, customer_name = NULLIF($13, ''), language = NULLIF($14, ''),
  notes = NULLIF($15, ''), order_id = $16, updated_at = $17
WHERE id = $1
`, c.ID, string(c.Status), c.Subtotal, c.DeliveryPrice, c.Total,
		string(c.DeliveryType), c.DeliveryAddress,
		lat, lon, locName, locAddress,
		c.ScheduledFor, c.CustomerName, c.Language, c.Notes, c.OrderID, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update cart: %w", err)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, c.ID); err != nil {
		return fmt.Errorf("clear cart items: %w", err)
	}
	for i, it := range c.Items {
		_, err = tx.Exec(ctx, `
INSERT INTO cart_items (cart_id, position, item_id, name, unit_price, quantity, notes)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
`, c.ID, i, it.ItemID, it.Name, it.UnitPrice, it.Quantity, it.Notes)
		if err != nil {
			return fmt.Errorf("insert cart item %s: %w", it.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save cart: %w", err)
	}
	return nil
}

func (r *PGRepository) Delete(ctx context.Context, cartID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete cart: %w", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM carts WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete cart: %w", err)
	}
	return nil
}
