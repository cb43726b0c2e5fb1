package scheduling

import (
	"context"
	"fmt"
	"time"

	"order-assistant/internal/common/db"
	"order-assistant/internal/domain"

	"github.com/google/uuid"
)

// Repository derives bookings from confirmed orders: any non-rejected,
// non-cancelled order line of the item whose occupied interval overlaps the
// requested window counts against capacity.
type Repository struct {
	db *db.Conn
}

func NewRepository(conn *db.Conn) *Repository { return &Repository{db: conn} }

func (r *Repository) OverlappingBookings(ctx context.Context, itemID uuid.UUID, from, to time.Time) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `
SELECT o.id, oi.item_id, oi.quantity, o.scheduled_for, oi.duration_minutes
FROM orders o
JOIN order_items oi ON oi.order_id = o.id
WHERE oi.item_id = $1
  AND o.status NOT IN ('rejected', 'cancelled')
  AND o.scheduled_for IS NOT NULL
  AND o.scheduled_for < $3
  AND o.scheduled_for + make_interval(mins => oi.duration_minutes) > $2
`, itemID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query overlapping bookings: %w", err)
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		var b domain.Booking
		var durationMins int
		if err := rows.Scan(&b.OrderID, &b.ItemID, &b.Quantity, &b.From, &durationMins); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		b.To = b.From.Add(time.Duration(durationMins) * time.Minute)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return out, nil
}
