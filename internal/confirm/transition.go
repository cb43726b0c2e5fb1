// Package confirm promotes a valid cart into a durable accepted order.
// Validation is fail-fast and read-only; the commit is one transaction that
// re-checks capacity under row locks, writes the order with its status
// history and flips the cart, or does nothing at all.
package confirm

import (
	"context"
	"strings"
	"time"

	"order-assistant/internal/domain"
	"order-assistant/internal/scheduling"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CartSource interface {
	Active(ctx context.Context, key domain.CartKey) (*domain.Cart, error)
	RecentCompleted(ctx context.Context, key domain.CartKey) (*domain.Cart, error)
	ItemsFor(ctx context.Context, c *domain.Cart) (map[uuid.UUID]*domain.Item, error)
}

type Availability interface {
	IsOpenNow(ctx context.Context, businessID, branchID string) (domain.OpenStatus, error)
	WithinHoursAt(ctx context.Context, businessID, branchID string, t time.Time) (bool, error)
	NextOpeningTime(ctx context.Context, businessID, branchID string) (*time.Time, error)
}

type ScheduleValidator interface {
	ValidateSchedule(ctx context.Context, cart *domain.Cart, items map[uuid.UUID]*domain.Item, proposed time.Time) error
}

// Committer persists the order and flips the cart as one atomic unit.
// Implementations must re-check capacity inside the same transaction.
type Committer interface {
	Commit(ctx context.Context, cart *domain.Cart, order *domain.ConfirmedOrder, items map[uuid.UUID]*domain.Item) error
}

type Result struct {
	OrderID          uuid.UUID       `json:"order_id"`
	OrderNumber      string          `json:"order_number"`
	Total            decimal.Decimal `json:"total"`
	AlreadyConfirmed bool            `json:"already_confirmed,omitempty"`
}

type Transition struct {
	carts     CartSource
	avail     Availability
	validator ScheduleValidator
	committer Committer
}

func NewTransition(carts CartSource, avail Availability, validator ScheduleValidator, committer Committer) *Transition {
	return &Transition{carts: carts, avail: avail, validator: validator, committer: committer}
}

// OrderNumber derives the short human-facing number from an order id.
func OrderNumber(id uuid.UUID) string {
	return strings.ToUpper(id.String()[:8])
}

// Validate runs the full confirmation checklist without committing
// anything. The dispatcher uses it for the read-only confirm_order call.
func (t *Transition) Validate(ctx context.Context, key domain.CartKey) (*domain.Cart, error) {
	key = key.Normalize()
	c, err := t.carts.Active(ctx, key)
	if err != nil {
		return nil, err
	}
	if c == nil || len(c.Items) == 0 {
		return nil, domain.NewError(domain.KindEmptyCart, "The cart is empty")
	}
	if _, err := t.validate(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Confirm validates and commits. A cart that was already promoted within
// the idempotency window returns the original order as a success.
func (t *Transition) Confirm(ctx context.Context, key domain.CartKey, source, via string) (Result, error) {
	key = key.Normalize()
	c, err := t.carts.Active(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if c == nil || len(c.Items) == 0 {
		// Duplicate confirm: the cart was consumed by a previous success.
		prev, err := t.carts.RecentCompleted(ctx, key)
		if err != nil {
			return Result{}, err
		}
		if prev != nil && prev.OrderID != nil {
			return Result{
				OrderID:          *prev.OrderID,
				OrderNumber:      OrderNumber(*prev.OrderID),
				Total:            prev.Total,
				AlreadyConfirmed: true,
			}, nil
		}
		return Result{}, domain.NewError(domain.KindEmptyCart, "The cart is empty")
	}
	items, err := t.validate(ctx, c)
	if err != nil {
		return Result{}, err
	}
	order := buildOrder(c, source, via)
	if err := t.committer.Commit(ctx, c, order, items); err != nil {
		return Result{}, err
	}
	return Result{OrderID: order.ID, OrderNumber: order.Number, Total: order.Total}, nil
}

// validate runs the confirmation checklist and returns the resolved item
// map so Confirm does not resolve the catalog twice.
func (t *Transition) validate(ctx context.Context, c *domain.Cart) (map[uuid.UUID]*domain.Item, error) {
	// 1. Non-empty is checked by the callers, which need the distinction
	// between "no cart" and "empty cart" for idempotency.

	// 2. Delivery type.
	if !domain.ValidDeliveryType(c.DeliveryType) {
		return nil, domain.NewError(domain.KindDeliveryTypeRequired, "Choose takeaway, delivery or on-site first")
	}

	// 3. Address for courier delivery.
	if c.DeliveryType == domain.DeliveryCourier && !c.HasAddress() {
		return nil, domain.NewError(domain.KindAddressRequired, "A delivery address or location is required")
	}

	items, err := t.carts.ItemsFor(ctx, c)
	if err != nil {
		return nil, err
	}
	open, err := t.avail.IsOpenNow(ctx, c.Key.BusinessID, c.Key.BranchID)
	if err != nil {
		return nil, err
	}

	// 4. Schedulable items need a schedule while the business is closed.
	if scheduling.RequiresScheduling(c, items, open.IsOpen) {
		return nil, domain.NewError(domain.KindSchedulingRequired,
			"This order contains items that must be scheduled; please pick a time").
			WithDetail("requires_scheduling", true)
	}

	if c.ScheduledFor != nil {
		// 5. Scheduled order: the scheduled day's hours may differ from
		// today's, and capacity may have been taken since the time was set.
		within, err := t.avail.WithinHoursAt(ctx, c.Key.BusinessID, c.Key.BranchID, *c.ScheduledFor)
		if err != nil {
			return nil, err
		}
		if !within {
			return nil, domain.NewError(domain.KindInvalidScheduleWindow,
				"%s is outside opening hours", c.ScheduledFor.Format("Mon 15:04")).
				WithDetail("scheduled_for", *c.ScheduledFor)
		}
		if err := t.validator.ValidateSchedule(ctx, c, items, *c.ScheduledFor); err != nil {
			return nil, err
		}
		return items, nil
	}

	// 6. Immediate order: the business must be open and before last orders.
	if !open.IsOpen {
		if open.IsWithinOpeningHours && open.LastOrderTimePassed {
			return nil, domain.NewError(domain.KindPastLastOrderCutoff,
				"Last orders for today ended at %s; the order can still be scheduled", open.LastOrderTime).
				WithDetail("requires_scheduling", true).
				WithDetail("last_order_time", open.LastOrderTime)
		}
		e := domain.NewError(domain.KindClosed, "We are currently closed")
		if open.Reason != "" {
			e = domain.NewError(domain.KindClosed, "We are currently closed: %s", open.Reason)
		}
		if next, err := t.avail.NextOpeningTime(ctx, c.Key.BusinessID, c.Key.BranchID); err == nil && next != nil {
			e = e.WithDetail("next_opening", *next)
		}
		return nil, e
	}
	return items, nil
}

func buildOrder(c *domain.Cart, source, via string) *domain.ConfirmedOrder {
	id := uuid.New()
	return &domain.ConfirmedOrder{
		ID:              id,
		Number:          OrderNumber(id),
		Key:             c.Key,
		Status:          domain.OrderAccepted,
		Items:           append([]domain.CartItem(nil), c.Items...),
		Subtotal:        c.Subtotal,
		DeliveryPrice:   c.DeliveryPrice,
		Total:           c.Total,
		DeliveryType:    c.DeliveryType,
		DeliveryAddress: c.DeliveryAddress,
		Location:        c.Location,
		ScheduledFor:    c.ScheduledFor,
		CustomerName:    c.CustomerName,
		Notes:           c.Notes,
		OrderSource:     source,
		CreatedVia:      via,
	}
}
