package catalog

import (
	"context"
	"fmt"

	"order-assistant/internal/common/db"
	"order-assistant/internal/domain"
)

type PGRepository struct {
	db *db.Conn
}

func NewPGRepository(conn *db.Conn) *PGRepository { return &PGRepository{db: conn} }

func (r *PGRepository) ListItems(ctx context.Context, businessID string) ([]domain.Item, error) {
	rows, err := r.db.Query(ctx, `
SELECT id, name, price, available, is_schedulable,
       COALESCE(min_schedule_hours, 0), available_from, available_to,
       COALESCE(days_available, '{}'), COALESCE(duration_minutes, 0),
       quantity, COALESCE(allow_concurrent, false)
FROM menu_items
WHERE business_id = $1
ORDER BY name
`, businessID)
	if err != nil {
		return nil, fmt.Errorf("query menu items: %w", err)
	}
	defer rows.Close()

	var out []domain.Item
	for rows.Next() {
		it := domain.Item{BusinessID: businessID}
		if err := rows.Scan(&it.ID, &it.Name, &it.Price, &it.Available, &it.IsSchedulable,
			&it.MinScheduleHours, &it.AvailableFrom, &it.AvailableTo,
			&it.DaysAvailable, &it.DurationMinutes, &it.Quantity, &it.AllowConcurrent); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate menu items: %w", err)
	}
	return out, nil
}
