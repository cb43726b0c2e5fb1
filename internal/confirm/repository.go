package confirm

import (
	"context"
	"fmt"
	"time"

	"order-assistant/internal/common/db"
	"order-assistant/internal/domain"
	"order-assistant/internal/timewindow"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PGCommitter performs the cart-to-order promotion in a single transaction.
// Capacity is re-checked under FOR UPDATE locks on the item rows, so two
// customers racing for the last unit of a capacity-limited item serialize
// here and exactly one wins.
type PGCommitter struct {
	db *db.Conn
}

func NewPGCommitter(conn *db.Conn) *PGCommitter { return &PGCommitter{db: conn} }

func (p *PGCommitter) Commit(ctx context.Context, cart *domain.Cart, order *domain.ConfirmedOrder, items map[uuid.UUID]*domain.Item) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin confirm: %w", err)
	}
	defer tx.Rollback(ctx)

	if cart.ScheduledFor != nil {
		for _, line := range cart.Items {
			item := items[line.ItemID]
			if item == nil || !item.IsSchedulable {
				continue
			}
			if err := p.recheckCapacity(ctx, tx, item, line.Quantity, *cart.ScheduledFor); err != nil {
				return err
			}
		}
	}

	var lat, lon *float64
	var locName, locAddress *string
	if order.Location != nil {
		lat, lon = &order.Location.Lat, &order.Location.Lon
		locName, locAddress = &order.Location.Name, &order.Location.Address
	}
	_, err = tx.Exec(ctx, `
INSERT INTO orders (id, order_number, business_id, branch_id, customer_id, status,
                    subtotal, delivery_price, total, delivery_type, delivery_address,
                    location_lat, location_lon, location_name, location_address,
                    scheduled_for, customer_name, notes, order_source, created_via,
                    created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''),
        $12, $13, $14, $15, $16, NULLIF($17, ''), NULLIF($18, ''), $19, $20, NOW(), NOW())
`, order.ID, order.Number, order.Key.BusinessID, order.Key.BranchID, order.Key.CustomerID,
		string(order.Status), order.Subtotal, order.DeliveryPrice, order.Total,
		string(order.DeliveryType), order.DeliveryAddress,
		lat, lon, locName, locAddress,
		order.ScheduledFor, order.CustomerName, order.Notes, order.OrderSource, order.CreatedVia)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, line := range order.Items {
		duration := 0
		if item := items[line.ItemID]; item != nil {
			duration = item.DurationMinutes
		}
		_, err = tx.Exec(ctx, `
INSERT INTO order_items (order_id, item_id, name, unit_price, quantity, notes, duration_minutes, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NOW())
`, order.ID, line.ItemID, line.Name, line.UnitPrice, line.Quantity, line.Notes, duration)
		if err != nil {
			return fmt.Errorf("insert order item %s: %w", line.Name, err)
		}
	}

	_, err = tx.Exec(ctx, `
INSERT INTO order_status_log (order_id, status, changed_by, changed_at)
VALUES ($1, $2, 'customer', NOW())
`, order.ID, string(order.Status))
	if err != nil {
		return fmt.Errorf("insert order status log: %w", err)
	}

	tag, err := tx.Exec(ctx, `
UPDATE carts SET status = 'completed', order_id = $2, updated_at = NOW()
WHERE id = $1 AND status = 'active'
`, cart.ID, order.ID)
	if err != nil {
		return fmt.Errorf("complete cart: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// The cart was consumed by a concurrent confirm; abort so no
		// duplicate order lands.
		return domain.NewError(domain.KindStorageFailure, "cart already consumed")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit confirm: %w", err)
	}

	cart.Status = domain.CartCompleted
	cart.OrderID = &order.ID
	return nil
}

// recheckCapacity locks the item row and re-runs the overlap arithmetic
// inside the transaction, closing the race window between the earlier
// read-only validation and this commit.
func (p *PGCommitter) recheckCapacity(ctx context.Context, tx pgx.Tx, item *domain.Item, qty int, scheduledFor time.Time) error {
	var locked uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM menu_items WHERE id = $1 FOR UPDATE`, item.ID).Scan(&locked); err != nil {
		return fmt.Errorf("lock item %s: %w", item.ID, err)
	}

	durationMins := item.DurationMinutes
	if durationMins <= 0 {
		durationMins = timewindow.SlotStepMinutes
	}
	from := scheduledFor
	to := scheduledFor.Add(time.Duration(durationMins) * time.Minute)

	var bookedQty, bookings int
	err := tx.QueryRow(ctx, `
SELECT COALESCE(SUM(oi.quantity), 0), COUNT(*)
FROM orders o
JOIN order_items oi ON oi.order_id = o.id
WHERE oi.item_id = $1
  AND o.status NOT IN ('rejected', 'cancelled')
  AND o.scheduled_for IS NOT NULL
  AND o.scheduled_for < $3
  AND o.scheduled_for + make_interval(mins => oi.duration_minutes) > $2
`, item.ID, from, to).Scan(&bookedQty, &bookings)
	if err != nil {
		return fmt.Errorf("recheck capacity for %s: %w", item.ID, err)
	}

	if item.Quantity != nil {
		if bookedQty+qty > *item.Quantity {
			return domain.NewError(domain.KindCapacityConflict,
				"%s was just booked out for %s", item.Name, scheduledFor.Format("15:04")).
				WithDetail("item", item.Name).
				WithDetail("capacity", *item.Quantity).
				WithDetail("already_booked", bookedQty)
		}
		return nil
	}
	if !item.AllowConcurrent && bookings > 0 {
		return domain.NewError(domain.KindCapacityConflict,
			"%s was just booked for %s", item.Name, scheduledFor.Format("15:04")).
			WithDetail("item", item.Name)
	}
	return nil
}
