// Package scheduling enforces the constraints on carts that carry
// schedulable items: minimum lead time, per-item availability windows and
// capacity conflicts against existing bookings.
package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"order-assistant/internal/domain"
	"order-assistant/internal/timewindow"

	"github.com/google/uuid"
)

// BookingStore lists existing claims on an item's capacity: confirmed,
// non-rejected, non-cancelled orders whose occupied interval overlaps
// [from, to).
type BookingStore interface {
	OverlappingBookings(ctx context.Context, itemID uuid.UUID, from, to time.Time) ([]domain.Booking, error)
}

type Validator struct {
	bookings BookingStore
	clock    timewindow.Clock
}

func NewValidator(bookings BookingStore, clock timewindow.Clock) *Validator {
	if clock == nil {
		clock = timewindow.SystemClock{}
	}
	return &Validator{bookings: bookings, clock: clock}
}

// ValidateSchedule checks proposed against every schedulable item in the
// cart. Rules apply in order and the first failure wins; each rejection
// names the offending item so the conversation can prompt precisely.
// items maps item id to its current catalog record.
func (v *Validator) ValidateSchedule(ctx context.Context, cart *domain.Cart, items map[uuid.UUID]*domain.Item, proposed time.Time) error {
	now := v.clock.Now()
	if !proposed.After(now) {
		return domain.NewError(domain.KindInvalidScheduleWindow, "The requested time is in the past")
	}

	for _, line := range cart.Items {
		item := items[line.ItemID]
		if item == nil || !item.IsSchedulable {
			continue
		}
		if err := v.validateItem(ctx, item, line.Quantity, now, proposed); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateItem(ctx context.Context, item *domain.Item, qty int, now, proposed time.Time) error {
	// 1. Minimum lead time.
	if item.MinScheduleHours > 0 {
		lead := time.Duration(item.MinScheduleHours) * time.Hour
		if proposed.Sub(now) < lead {
			return domain.NewError(domain.KindInvalidScheduleWindow,
				"%s must be ordered at least %d hours in advance", item.Name, item.MinScheduleHours).
				WithDetail("item", item.Name).
				WithDetail("min_schedule_hours", item.MinScheduleHours)
		}
	}

	// 2. Time-of-day window, inclusive on both ends.
	if item.AvailableFrom != nil && item.AvailableTo != nil {
		from, err := timewindow.ParseClock(*item.AvailableFrom)
		if err != nil {
			return fmt.Errorf("item %s availability window: %w", item.ID, err)
		}
		to, err := timewindow.ParseClock(*item.AvailableTo)
		if err != nil {
			return fmt.Errorf("item %s availability window: %w", item.ID, err)
		}
		mins := timewindow.MinutesOfDay(proposed)
		if mins < from || mins > to {
			return domain.NewError(domain.KindInvalidScheduleWindow,
				"%s is only available between %s and %s", item.Name, *item.AvailableFrom, *item.AvailableTo).
				WithDetail("item", item.Name).
				WithDetail("available_from", *item.AvailableFrom).
				WithDetail("available_to", *item.AvailableTo)
		}
	}

	// 3. Day-of-week window; empty set means every day.
	if len(item.DaysAvailable) > 0 {
		day := timewindow.DayName(proposed)
		ok := false
		for _, d := range item.DaysAvailable {
			if strings.EqualFold(d, day) {
				ok = true
				break
			}
		}
		if !ok {
			return domain.NewError(domain.KindInvalidScheduleWindow,
				"%s is only available on %s", item.Name, strings.Join(item.DaysAvailable, ", ")).
				WithDetail("item", item.Name).
				WithDetail("days_available", item.DaysAvailable)
		}
	}

	// 4. Capacity against existing bookings.
	return v.checkCapacity(ctx, item, qty, proposed)
}

func (v *Validator) checkCapacity(ctx context.Context, item *domain.Item, qty int, proposed time.Time) error {
	duration := time.Duration(item.DurationMinutes) * time.Minute
	if duration <= 0 {
		duration = time.Duration(timewindow.SlotStepMinutes) * time.Minute
	}
	from, to := proposed, proposed.Add(duration)

	existing, err := v.bookings.OverlappingBookings(ctx, item.ID, from, to)
	if err != nil {
		return fmt.Errorf("query bookings for %s: %w", item.ID, err)
	}

	if item.Quantity != nil {
		booked := qty
		for _, b := range existing {
			booked += b.Quantity
		}
		if booked > *item.Quantity {
			return domain.NewError(domain.KindCapacityConflict,
				"%s is fully booked around %s", item.Name, proposed.Format("15:04")).
				WithDetail("item", item.Name).
				WithDetail("requested", qty).
				WithDetail("already_booked", booked-qty).
				WithDetail("capacity", *item.Quantity).
				WithDetail("window_from", from).
				WithDetail("window_to", to)
		}
		return nil
	}

	// No configured ceiling: schedulable items default to single-instance
	// exclusivity unless the item explicitly allows concurrent bookings.
	if !item.AllowConcurrent && len(existing) > 0 {
		return domain.NewError(domain.KindCapacityConflict,
			"%s is already booked around %s", item.Name, proposed.Format("15:04")).
			WithDetail("item", item.Name).
			WithDetail("window_from", from).
			WithDetail("window_to", to)
	}
	return nil
}

// RequiresScheduling reports whether the cart cannot be confirmed as an
// immediate order: it holds a schedulable item, no schedule is set and the
// business is currently closed for immediate orders. While the business is
// open, schedulable items may still go out immediately.
func RequiresScheduling(cart *domain.Cart, items map[uuid.UUID]*domain.Item, openNow bool) bool {
	if cart.ScheduledFor != nil || openNow {
		return false
	}
	for _, line := range cart.Items {
		if item := items[line.ItemID]; item != nil && item.IsSchedulable {
			return true
		}
	}
	return false
}
