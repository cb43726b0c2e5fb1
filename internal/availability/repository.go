package availability

import (
	"context"
	"errors"
	"fmt"

	"order-assistant/internal/common/db"
	"order-assistant/internal/domain"

	"github.com/jackc/pgx/v5"
)

// Repository reads opening hours and business settings from postgres. It
// satisfies both HoursStore and BusinessStore.
type Repository struct {
	db *db.Conn
}

func NewRepository(conn *db.Conn) *Repository { return &Repository{db: conn} }

func (r *Repository) GetHoursForDay(ctx context.Context, ownerType domain.OwnerType, ownerID, dayOfWeek string) (*domain.OpeningHours, error) {
	h := domain.OpeningHours{OwnerType: ownerType, OwnerID: ownerID, DayOfWeek: dayOfWeek}
	err := r.db.QueryRow(ctx, `
SELECT is_closed, open_time, close_time, COALESCE(last_order_before_closing_minutes, 0)
FROM opening_hours
WHERE owner_type = $1 AND owner_id = $2 AND day_of_week = $3
`, string(ownerType), ownerID, dayOfWeek).
		Scan(&h.IsClosed, &h.OpenTime, &h.CloseTime, &h.LastOrderBeforeClosing)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query opening hours: %w", err)
	}
	return &h, nil
}

func (r *Repository) GetBusiness(ctx context.Context, businessID string) (*domain.Business, error) {
	b := domain.Business{ID: businessID}
	err := r.db.QueryRow(ctx, `
SELECT name, COALESCE(timezone, ''), allow_scheduled_orders,
       COALESCE(delivery_price, 0), home_lat, home_lon, delivery_radius_km
FROM businesses
WHERE id = $1
`, businessID).
		Scan(&b.Name, &b.Timezone, &b.AllowScheduledOrders, &b.DeliveryPrice, &b.HomeLat, &b.HomeLon, &b.DeliveryRadiusKm)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query business: %w", err)
	}
	return &b, nil
}
