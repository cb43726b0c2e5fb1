package confirm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"order-assistant/internal/confirm"
	"order-assistant/internal/domain"
	"order-assistant/internal/scheduling"
	"order-assistant/internal/timewindow"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCarts struct {
	active    *domain.Cart
	completed *domain.Cart
	items     map[uuid.UUID]*domain.Item
}

func (f *fakeCarts) Active(_ context.Context, _ domain.CartKey) (*domain.Cart, error) {
	return f.active, nil
}

func (f *fakeCarts) RecentCompleted(_ context.Context, _ domain.CartKey) (*domain.Cart, error) {
	return f.completed, nil
}

func (f *fakeCarts) ItemsFor(_ context.Context, _ *domain.Cart) (map[uuid.UUID]*domain.Item, error) {
	if f.items == nil {
		return map[uuid.UUID]*domain.Item{}, nil
	}
	return f.items, nil
}

type fakeAvail struct {
	status      domain.OpenStatus
	withinAt    bool
	nextOpening *time.Time
}

func (f *fakeAvail) IsOpenNow(_ context.Context, _, _ string) (domain.OpenStatus, error) {
	return f.status, nil
}

func (f *fakeAvail) WithinHoursAt(_ context.Context, _, _ string, _ time.Time) (bool, error) {
	return f.withinAt, nil
}

func (f *fakeAvail) NextOpeningTime(_ context.Context, _, _ string) (*time.Time, error) {
	return f.nextOpening, nil
}

type fakeValidator struct{ err error }

func (f fakeValidator) ValidateSchedule(_ context.Context, _ *domain.Cart, _ map[uuid.UUID]*domain.Item, _ time.Time) error {
	return f.err
}

type fakeCommitter struct {
	committed []*domain.ConfirmedOrder
	err       error
}

func (f *fakeCommitter) Commit(_ context.Context, cart *domain.Cart, order *domain.ConfirmedOrder, _ map[uuid.UUID]*domain.Item) error {
	if f.err != nil {
		return f.err
	}
	f.committed = append(f.committed, order)
	cart.Status = domain.CartCompleted
	cart.OrderID = &order.ID
	return nil
}

var key = domain.CartKey{BusinessID: "biz", BranchID: "biz", CustomerID: "961700000"}

func takeawayCart() *domain.Cart {
	c := &domain.Cart{
		ID:     uuid.New(),
		Key:    key,
		Status: domain.CartActive,
		Items: []domain.CartItem{{
			ItemID:    uuid.New(),
			Name:      "Shawarma Plate",
			UnitPrice: decimal.RequireFromString("10.00"),
			Quantity:  1,
		}},
		DeliveryType: domain.DeliveryTakeaway,
	}
	c.RecomputeTotals()
	return c
}

func openNow() *fakeAvail {
	return &fakeAvail{status: domain.OpenStatus{IsOpen: true, IsWithinOpeningHours: true}, withinAt: true}
}

func TestConfirmHappyPath(t *testing.T) {
	t.Parallel()
	carts := &fakeCarts{active: takeawayCart()}
	committer := &fakeCommitter{}
	tr := confirm.NewTransition(carts, openNow(), fakeValidator{}, committer)

	res, err := tr.Confirm(context.Background(), key, "whatsapp", "assistant")
	require.NoError(t, err)
	require.Len(t, committer.committed, 1)

	order := committer.committed[0]
	assert.Equal(t, domain.OrderAccepted, order.Status)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("10.00")))
	assert.Equal(t, "whatsapp", order.OrderSource)
	assert.Len(t, res.OrderNumber, 8)
	assert.Equal(t, confirm.OrderNumber(order.ID), res.OrderNumber)
	assert.Equal(t, domain.CartCompleted, carts.active.Status)
}

func TestConfirmGating(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	run := func(c *domain.Cart) error {
		tr := confirm.NewTransition(&fakeCarts{active: c}, openNow(), fakeValidator{}, &fakeCommitter{})
		_, err := tr.Confirm(ctx, key, "whatsapp", "assistant")
		return err
	}

	t.Run("empty cart", func(t *testing.T) {
		t.Parallel()
		c := takeawayCart()
		c.Items = nil
		err := run(c)
		require.Error(t, err)
		assert.Equal(t, domain.KindEmptyCart, domain.KindOf(err))
	})

	t.Run("missing delivery type", func(t *testing.T) {
		t.Parallel()
		c := takeawayCart()
		c.DeliveryType = ""
		err := run(c)
		require.Error(t, err)
		assert.Equal(t, domain.KindDeliveryTypeRequired, domain.KindOf(err))
	})

	t.Run("delivery without address", func(t *testing.T) {
		t.Parallel()
		c := takeawayCart()
		c.DeliveryType = domain.DeliveryCourier
		err := run(c)
		require.Error(t, err)
		assert.Equal(t, domain.KindAddressRequired, domain.KindOf(err))
	})

	t.Run("delivery with coordinate passes the address gate", func(t *testing.T) {
		t.Parallel()
		c := takeawayCart()
		c.DeliveryType = domain.DeliveryCourier
		c.Location = &domain.Location{Lat: 33.89, Lon: 35.50}
		assert.NoError(t, run(c))
	})
}

func TestConfirmWhileClosed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("outright closed", func(t *testing.T) {
		t.Parallel()
		next := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
		avail := &fakeAvail{status: domain.OpenStatus{Reason: "Closed today"}, nextOpening: &next}
		committer := &fakeCommitter{}
		tr := confirm.NewTransition(&fakeCarts{active: takeawayCart()}, avail, fakeValidator{}, committer)

		_, err := tr.Confirm(ctx, key, "whatsapp", "assistant")
		require.Error(t, err)
		assert.Equal(t, domain.KindClosed, domain.KindOf(err))
		assert.Empty(t, committer.committed, "no order may land while closed")

		var de *domain.Error
		require.ErrorAs(t, err, &de)
		assert.Equal(t, next, de.Detail["next_opening"])
	})

	t.Run("past last-order cutoff is distinct and schedulable", func(t *testing.T) {
		t.Parallel()
		avail := &fakeAvail{status: domain.OpenStatus{
			IsWithinOpeningHours: true,
			LastOrderTimePassed:  true,
			LastOrderTime:        "21:30",
		}}
		tr := confirm.NewTransition(&fakeCarts{active: takeawayCart()}, avail, fakeValidator{}, &fakeCommitter{})

		_, err := tr.Confirm(ctx, key, "whatsapp", "assistant")
		require.Error(t, err)
		assert.Equal(t, domain.KindPastLastOrderCutoff, domain.KindOf(err))

		var de *domain.Error
		require.ErrorAs(t, err, &de)
		assert.Equal(t, true, de.Detail["requires_scheduling"])
	})
}

func TestConfirmSchedulableGate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := takeawayCart()
	items := map[uuid.UUID]*domain.Item{
		c.Items[0].ItemID: {ID: c.Items[0].ItemID, Name: "Shawarma Plate", IsSchedulable: true},
	}

	t.Run("closed business demands a schedule", func(t *testing.T) {
		t.Parallel()
		avail := &fakeAvail{status: domain.OpenStatus{Reason: "Closed today"}}
		tr := confirm.NewTransition(&fakeCarts{active: c, items: items}, avail, fakeValidator{}, &fakeCommitter{})
		_, err := tr.Confirm(ctx, key, "whatsapp", "assistant")
		require.Error(t, err)
		assert.Equal(t, domain.KindSchedulingRequired, domain.KindOf(err))
	})

	t.Run("open business takes it immediately", func(t *testing.T) {
		t.Parallel()
		tr := confirm.NewTransition(&fakeCarts{active: takeawayCartWith(items)}, openNow(), fakeValidator{}, &fakeCommitter{})
		_, err := tr.Confirm(ctx, key, "whatsapp", "assistant")
		assert.NoError(t, err)
	})
}

func takeawayCartWith(items map[uuid.UUID]*domain.Item) *domain.Cart {
	c := takeawayCart()
	for id := range items {
		c.Items[0].ItemID = id
	}
	return c
}

func TestConfirmScheduledRevalidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	when := time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)

	t.Run("scheduled day outside hours", func(t *testing.T) {
		t.Parallel()
		c := takeawayCart()
		c.ScheduledFor = &when
		avail := openNow()
		avail.withinAt = false
		tr := confirm.NewTransition(&fakeCarts{active: c}, avail, fakeValidator{}, &fakeCommitter{})
		_, err := tr.Confirm(ctx, key, "whatsapp", "assistant")
		require.Error(t, err)
		assert.Equal(t, domain.KindInvalidScheduleWindow, domain.KindOf(err))
	})

	t.Run("capacity re-check failure propagates", func(t *testing.T) {
		t.Parallel()
		c := takeawayCart()
		c.ScheduledFor = &when
		conflict := fakeValidator{err: domain.NewError(domain.KindCapacityConflict, "booked out")}
		tr := confirm.NewTransition(&fakeCarts{active: c}, openNow(), conflict, &fakeCommitter{})
		_, err := tr.Confirm(ctx, key, "whatsapp", "assistant")
		require.Error(t, err)
		assert.Equal(t, domain.KindCapacityConflict, domain.KindOf(err))
	})
}

// memBookings backs the real schedule validator; the committer appends a
// booking on every successful commit, as the orders table would.
type memBookings struct {
	bookings []domain.Booking
}

func (m *memBookings) OverlappingBookings(_ context.Context, itemID uuid.UUID, from, to time.Time) ([]domain.Booking, error) {
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.ItemID == itemID && b.From.Before(to) && b.To.After(from) {
			out = append(out, b)
		}
	}
	return out, nil
}

type bookingCommitter struct {
	fakeCommitter
	store *memBookings
}

func (c *bookingCommitter) Commit(ctx context.Context, cart *domain.Cart, order *domain.ConfirmedOrder, items map[uuid.UUID]*domain.Item) error {
	if err := c.fakeCommitter.Commit(ctx, cart, order, items); err != nil {
		return err
	}
	for _, line := range order.Items {
		item := items[line.ItemID]
		if item == nil || !item.IsSchedulable || order.ScheduledFor == nil {
			continue
		}
		c.store.bookings = append(c.store.bookings, domain.Booking{
			OrderID:  order.ID,
			ItemID:   line.ItemID,
			Quantity: line.Quantity,
			From:     *order.ScheduledFor,
			To:       order.ScheduledFor.Add(time.Duration(item.DurationMinutes) * time.Minute),
		})
	}
	return nil
}

// Two customers race for the last unit of a capacity-one item at the same
// time: exactly one confirm lands, the other is a capacity conflict.
func TestConfirmCapacityExclusivity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	when := time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)
	one := 1
	itemID := uuid.New()
	items := map[uuid.UUID]*domain.Item{
		itemID: {ID: itemID, Name: "Private Dining Room", IsSchedulable: true,
			Quantity: &one, DurationMinutes: 60},
	}

	store := &memBookings{}
	validator := scheduling.NewValidator(store, timewindow.FixedClock{T: when.Add(-24 * time.Hour)})
	committer := &bookingCommitter{store: store}

	confirmFor := func(customer string) error {
		k := domain.CartKey{BusinessID: "biz", BranchID: "biz", CustomerID: customer}
		c := takeawayCartWith(items)
		c.Key = k
		c.ScheduledFor = &when
		tr := confirm.NewTransition(&fakeCarts{active: c, items: items}, openNow(), validator, committer)
		_, err := tr.Confirm(ctx, k, "whatsapp", "assistant")
		return err
	}

	require.NoError(t, confirmFor("961700001"))
	require.Len(t, committer.committed, 1)

	err := confirmFor("961700002")
	require.Error(t, err)
	assert.Equal(t, domain.KindCapacityConflict, domain.KindOf(err))
	assert.Len(t, committer.committed, 1, "only the first confirm may land")
}

func TestConfirmIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	orderID := uuid.New()
	completed := takeawayCart()
	completed.Status = domain.CartCompleted
	completed.OrderID = &orderID

	tr := confirm.NewTransition(&fakeCarts{completed: completed}, openNow(), fakeValidator{}, &fakeCommitter{})
	res, err := tr.Confirm(ctx, key, "whatsapp", "assistant")
	require.NoError(t, err)
	assert.True(t, res.AlreadyConfirmed)
	assert.Equal(t, orderID, res.OrderID)
	assert.Equal(t, confirm.OrderNumber(orderID), res.OrderNumber)
}

func TestConfirmCommitFailureLeavesCartActive(t *testing.T) {
	t.Parallel()

	c := takeawayCart()
	committer := &fakeCommitter{err: errors.New("connection reset")}
	tr := confirm.NewTransition(&fakeCarts{active: c}, openNow(), fakeValidator{}, committer)

	_, err := tr.Confirm(context.Background(), key, "whatsapp", "assistant")
	require.Error(t, err)
	assert.False(t, domain.IsRecoverable(err))
	assert.Equal(t, domain.CartActive, c.Status)
	assert.Nil(t, c.OrderID)
}

func TestValidateReadOnly(t *testing.T) {
	t.Parallel()

	committer := &fakeCommitter{}
	carts := &fakeCarts{active: takeawayCart()}
	tr := confirm.NewTransition(carts, openNow(), fakeValidator{}, committer)

	c, err := tr.Validate(context.Background(), key)
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Empty(t, committer.committed, "Validate must not commit")
	assert.Equal(t, domain.CartActive, carts.active.Status)
}
