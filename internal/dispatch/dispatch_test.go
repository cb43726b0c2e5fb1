package dispatch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"order-assistant/internal/confirm"
	"order-assistant/internal/dispatch"
	"order-assistant/internal/domain"
	"order-assistant/internal/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCartOps records which operation ran and returns canned carts/errors.
type fakeCartOps struct {
	cart    *domain.Cart
	err     error
	lastOp  string
	touched int
}

func newFakeCartOps() *fakeCartOps {
	return &fakeCartOps{cart: &domain.Cart{ID: uuid.New(), Status: domain.CartActive}}
}

func (f *fakeCartOps) op(name string) (*domain.Cart, error) {
	f.lastOp = name
	if f.err != nil {
		return nil, f.err
	}
	f.touched++
	return f.cart, nil
}

func (f *fakeCartOps) GetOrCreate(_ context.Context, _ domain.CartKey) (*domain.Cart, error) {
	f.lastOp = "get"
	return f.cart, f.err
}

func (f *fakeCartOps) AddItem(_ context.Context, _ domain.CartKey, _ string, _ int, _ string) (*domain.Cart, error) {
	return f.op("add")
}

func (f *fakeCartOps) RemoveItem(_ context.Context, _ domain.CartKey, _ string) (*domain.Cart, error) {
	return f.op("remove")
}

func (f *fakeCartOps) UpdateQuantity(_ context.Context, _ domain.CartKey, _ string, _ int) (*domain.Cart, error) {
	return f.op("update_quantity")
}

func (f *fakeCartOps) SetDeliveryType(_ context.Context, _ domain.CartKey, _ domain.DeliveryType) (*domain.Cart, bool, error) {
	c, err := f.op("set_delivery_type")
	return c, true, err
}

func (f *fakeCartOps) SetDeliveryAddress(_ context.Context, _ domain.CartKey, _ string) (*domain.Cart, error) {
	return f.op("set_address")
}

func (f *fakeCartOps) SetLocation(_ context.Context, _ domain.CartKey, _, _ float64, _, _ string) (*domain.Cart, error) {
	return f.op("set_location")
}

func (f *fakeCartOps) SetScheduledFor(_ context.Context, _ domain.CartKey, _ time.Time) (*domain.Cart, error) {
	return f.op("set_scheduled_for")
}

func (f *fakeCartOps) SetCustomerName(_ context.Context, _ domain.CartKey, _ string) (*domain.Cart, error) {
	return f.op("set_customer_name")
}

func (f *fakeCartOps) SetLanguage(_ context.Context, _ domain.CartKey, _ string) (*domain.Cart, error) {
	return f.op("set_language")
}

func (f *fakeCartOps) SetNotes(_ context.Context, _ domain.CartKey, _ string) (*domain.Cart, error) {
	return f.op("set_notes")
}

func (f *fakeCartOps) Clear(_ context.Context, _ domain.CartKey) (*domain.Cart, error) {
	return f.op("clear")
}

func (f *fakeCartOps) Reset(_ context.Context, _ domain.CartKey) error {
	f.lastOp = "reset"
	return f.err
}

type fakeConfirmer struct {
	validateErr error
	confirmErr  error
	result      confirm.Result
	confirms    int
}

func (f *fakeConfirmer) Validate(_ context.Context, _ domain.CartKey) (*domain.Cart, error) {
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return &domain.Cart{}, nil
}

func (f *fakeConfirmer) Confirm(_ context.Context, _ domain.CartKey, _, _ string) (confirm.Result, error) {
	if f.confirmErr != nil {
		return confirm.Result{}, f.confirmErr
	}
	f.confirms++
	return f.result, nil
}

type fakeMenu struct{ items []domain.Item }

func (f *fakeMenu) FindAvailableItems(_ context.Context, _ string) ([]domain.Item, error) {
	return f.items, nil
}

type fakeSlots struct {
	slots   []string
	gotDate time.Time
}

func (f *fakeSlots) AvailableTimeSlots(_ context.Context, _, _ string, date time.Time) ([]string, error) {
	f.gotDate = date
	return f.slots, nil
}

type memDedup struct {
	stored map[string]*dispatch.Result
}

func newMemDedup() *memDedup { return &memDedup{stored: map[string]*dispatch.Result{}} }

func (m *memDedup) Get(_ context.Context, _ domain.CartKey, id string) (*dispatch.Result, error) {
	return m.stored[id], nil
}

func (m *memDedup) Put(_ context.Context, _ domain.CartKey, id string, res *dispatch.Result) error {
	m.stored[id] = res
	return nil
}

type fakePublisher struct {
	published []string
	err       error
}

func (f *fakePublisher) PublishConfirmed(_ context.Context, correlationID string, _ []byte) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, correlationID)
	return nil
}

var dctx = dispatch.Context{BusinessID: "biz", CustomerID: "961700000", Channel: "whatsapp"}

type fixture struct {
	carts     *fakeCartOps
	confirmer *fakeConfirmer
	slots     *fakeSlots
	dedup     *memDedup
	publisher *fakePublisher
	d         *dispatch.Dispatcher
}

func newFixture() *fixture {
	f := &fixture{
		carts:     newFakeCartOps(),
		confirmer: &fakeConfirmer{result: confirm.Result{OrderID: uuid.New(), OrderNumber: "A1B2C3D4", Total: decimal.NewFromInt(10)}},
		slots:     &fakeSlots{slots: []string{"12:00"}},
		dedup:     newMemDedup(),
		publisher: &fakePublisher{},
	}
	f.d = dispatch.NewDispatcher(f.carts, f.confirmer, &fakeMenu{}, f.slots,
		f.dedup, f.publisher, metrics.NewRegistry(), nil, time.Second)
	return f
}

func TestDispatchSchemaValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unknown function", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		res := f.d.Dispatch(ctx, dctx, "fly_to_moon", nil)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "unknown function")
	})

	t.Run("missing required argument leaves state untouched", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		res := f.d.Dispatch(ctx, dctx, "add_item", map[string]any{})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, `"item"`)
		assert.Empty(t, f.carts.lastOp)
	})

	t.Run("wrong type", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		res := f.d.Dispatch(ctx, dctx, "add_item", map[string]any{"item": "wrap", "quantity": "two"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "integer")
	})

	t.Run("fractional integer rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		res := f.d.Dispatch(ctx, dctx, "update_quantity", map[string]any{"item": "wrap", "quantity": 1.5})
		assert.False(t, res.Success)
	})

	t.Run("missing identity", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		res := f.d.Dispatch(ctx, dispatch.Context{}, "get_cart", nil)
		assert.False(t, res.Success)
	})
}

func TestDispatchRoutesToCartOps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cases := []struct {
		fn     string
		args   map[string]any
		wantOp string
	}{
		{"add_item", map[string]any{"item": "wrap"}, "add"},
		{"remove_item", map[string]any{"item": "wrap"}, "remove"},
		{"update_quantity", map[string]any{"item": "wrap", "quantity": float64(3)}, "update_quantity"},
		{"set_delivery_type", map[string]any{"delivery_type": "delivery"}, "set_delivery_type"},
		{"set_delivery_address", map[string]any{"address": "Hamra"}, "set_address"},
		{"set_location", map[string]any{"lat": 33.89, "lon": 35.50}, "set_location"},
		{"set_scheduled_time", map[string]any{"time": "2026-03-12T15:00:00Z"}, "set_scheduled_for"},
		{"set_customer_name", map[string]any{"name": "Rami"}, "set_customer_name"},
		{"set_language", map[string]any{"language": "ar"}, "set_language"},
		{"add_note", map[string]any{"note": "ring the bell"}, "set_notes"},
		{"clear_cart", nil, "clear"},
		{"reset_conversation", nil, "reset"},
		{"cancel_order", nil, "reset"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.fn, func(t *testing.T) {
			t.Parallel()
			f := newFixture()
			res := f.d.Dispatch(ctx, dctx, tc.fn, tc.args)
			require.True(t, res.Success, "error: %s", res.Error)
			assert.Equal(t, tc.wantOp, f.carts.lastOp)
		})
	}
}

func TestGetAvailableSlotsDate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("no date arg passes zero, deferring to the business zone", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		res := f.d.Dispatch(ctx, dctx, "get_available_slots", nil)
		require.True(t, res.Success)
		assert.True(t, f.slots.gotDate.IsZero())
		assert.Equal(t, []string{"12:00"}, res.Slots)
	})

	t.Run("date arg is passed through unshifted", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		res := f.d.Dispatch(ctx, dctx, "get_available_slots", map[string]any{"date": "2026-03-11"})
		require.True(t, res.Success)
		assert.True(t, f.slots.gotDate.Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("malformed date rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		res := f.d.Dispatch(ctx, dctx, "get_available_slots", map[string]any{"date": "tomorrow"})
		assert.False(t, res.Success)
	})
}

func TestDispatchErrorMapping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("domain error keeps kind and detail", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		f.carts.err = domain.NewError(domain.KindItemNotFound, "No menu item matches %q", "sushi").
			WithDetail("query", "sushi")
		res := f.d.Dispatch(ctx, dctx, "add_item", map[string]any{"item": "sushi"})
		assert.False(t, res.Success)
		assert.Equal(t, "ItemNotFound", res.ErrorKind)
		assert.Equal(t, "sushi", res.Detail["query"])
		assert.False(t, res.Retryable)
	})

	t.Run("infrastructure error is generic and retryable", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		f.carts.err = errors.New("pq: connection refused")
		res := f.d.Dispatch(ctx, dctx, "add_item", map[string]any{"item": "wrap"})
		assert.False(t, res.Success)
		assert.True(t, res.Retryable)
		assert.NotContains(t, res.Error, "pq:", "no raw internal text reaches the customer")
	})

	t.Run("scheduling required sets the flag", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		f.confirmer.validateErr = domain.NewError(domain.KindSchedulingRequired, "pick a time")
		res := f.d.Dispatch(ctx, dctx, "confirm_order", nil)
		assert.False(t, res.Success)
		assert.True(t, res.RequiresScheduling)
	})
}

func TestDispatchDedup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture()

	withMsg := dctx
	withMsg.MessageID = "wamid.123"

	res1 := f.d.Dispatch(ctx, withMsg, "add_item", map[string]any{"item": "wrap"})
	require.True(t, res1.Success)
	assert.Equal(t, 1, f.carts.touched)

	res2 := f.d.Dispatch(ctx, withMsg, "add_item", map[string]any{"item": "wrap"})
	require.True(t, res2.Success)
	assert.Equal(t, 1, f.carts.touched, "redelivered message must replay, not re-execute")

	t.Run("read-only calls skip dedup", func(t *testing.T) {
		f.d.Dispatch(ctx, withMsg, "get_cart", nil)
		assert.Equal(t, "get", f.carts.lastOp)
	})
}

func TestConfirmOrderSplit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture()

	res := f.d.Dispatch(ctx, dctx, "confirm_order", nil)
	require.True(t, res.Success)
	assert.True(t, res.ReadyToConfirm)
	assert.Equal(t, 0, f.confirmer.confirms, "confirm_order must not commit")

	commit := f.d.CommitOrder(ctx, dctx)
	require.True(t, commit.Success)
	require.NotNil(t, commit.Order)
	assert.Equal(t, "A1B2C3D4", commit.Order.OrderNumber)
	assert.Equal(t, 1, f.confirmer.confirms)
	assert.Equal(t, []string{"A1B2C3D4"}, f.publisher.published)
}

func TestCommitOrderPublishFailureDoesNotFail(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.publisher.err = errors.New("amqp channel closed")

	res := f.d.CommitOrder(context.Background(), dctx)
	assert.True(t, res.Success, "a lost event must not unwind a committed order")
}

func TestCommitOrderIdempotentSkipsPublish(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.confirmer.result.AlreadyConfirmed = true

	res := f.d.CommitOrder(context.Background(), dctx)
	require.True(t, res.Success)
	assert.Empty(t, f.publisher.published, "replayed confirms must not emit a second event")
}

func TestFunctionsCatalog(t *testing.T) {
	t.Parallel()
	f := newFixture()
	specs := f.d.Functions()
	require.NotEmpty(t, specs)

	byName := map[string]dispatch.FunctionSpec{}
	for _, s := range specs {
		byName[s.Name] = s
	}
	for _, name := range []string{"get_menu_items", "get_cart", "add_item", "remove_item",
		"update_quantity", "set_delivery_type", "set_delivery_address", "set_location",
		"set_scheduled_time", "get_available_slots", "confirm_order", "cancel_order"} {
		_, ok := byName[name]
		assert.True(t, ok, "missing function %s", name)
	}
	assert.True(t, byName["add_item"].Params[0].Required)
}
