// Package dispatch is the catalog of named operations the conversational
// driver may invoke against the cart. Every call validates its arguments
// against the declared schema, runs under a bounded deadline and returns a
// tagged result; lower-layer failures surface as structured errors, never
// as faults, and no recoverable error ever leaves the cart changed.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"order-assistant/internal/common/logger"
	"order-assistant/internal/confirm"
	"order-assistant/internal/domain"
	"order-assistant/internal/metrics"
)

// Context is the per-message bundle the driver supplies with every call.
type Context struct {
	BusinessID string `json:"business_id"`
	BranchID   string `json:"branch_id"`
	CustomerID string `json:"customer_id"`
	Language   string `json:"language,omitempty"`
	Channel    string `json:"channel,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
}

func (c Context) cartKey() domain.CartKey {
	return domain.CartKey{BusinessID: c.BusinessID, BranchID: c.BranchID, CustomerID: c.CustomerID}.Normalize()
}

// Result is the uniform envelope every function returns.
type Result struct {
	Success            bool            `json:"success"`
	Message            string          `json:"message,omitempty"`
	Error              string          `json:"error,omitempty"`
	ErrorKind          string          `json:"error_kind,omitempty"`
	Retryable          bool            `json:"retryable,omitempty"`
	RequiresScheduling bool            `json:"requires_scheduling,omitempty"`
	ReadyToConfirm     bool            `json:"ready_to_confirm,omitempty"`
	Detail             map[string]any  `json:"detail,omitempty"`
	Cart               *domain.Cart    `json:"cart,omitempty"`
	Items              []domain.Item   `json:"items,omitempty"`
	Slots              []string        `json:"slots,omitempty"`
	Order              *confirm.Result `json:"order,omitempty"`
}

type CartOps interface {
	GetOrCreate(ctx context.Context, key domain.CartKey) (*domain.Cart, error)
	AddItem(ctx context.Context, key domain.CartKey, query string, quantity int, notes string) (*domain.Cart, error)
	RemoveItem(ctx context.Context, key domain.CartKey, query string) (*domain.Cart, error)
	UpdateQuantity(ctx context.Context, key domain.CartKey, query string, quantity int) (*domain.Cart, error)
	SetDeliveryType(ctx context.Context, key domain.CartKey, t domain.DeliveryType) (*domain.Cart, bool, error)
	SetDeliveryAddress(ctx context.Context, key domain.CartKey, address string) (*domain.Cart, error)
	SetLocation(ctx context.Context, key domain.CartKey, lat, lon float64, name, address string) (*domain.Cart, error)
	SetScheduledFor(ctx context.Context, key domain.CartKey, proposed time.Time) (*domain.Cart, error)
	SetCustomerName(ctx context.Context, key domain.CartKey, name string) (*domain.Cart, error)
	SetLanguage(ctx context.Context, key domain.CartKey, lang string) (*domain.Cart, error)
	SetNotes(ctx context.Context, key domain.CartKey, notes string) (*domain.Cart, error)
	Clear(ctx context.Context, key domain.CartKey) (*domain.Cart, error)
	Reset(ctx context.Context, key domain.CartKey) error
}

type Confirmer interface {
	Validate(ctx context.Context, key domain.CartKey) (*domain.Cart, error)
	Confirm(ctx context.Context, key domain.CartKey, source, via string) (confirm.Result, error)
}

type Menu interface {
	FindAvailableItems(ctx context.Context, businessID string) ([]domain.Item, error)
}

type SlotSource interface {
	AvailableTimeSlots(ctx context.Context, businessID, branchID string, date time.Time) ([]string, error)
}

// DedupStore remembers the result of each processed message id so redelivered
// messages replay instead of re-executing. Backed by shared storage, never a
// process-local map.
type DedupStore interface {
	Get(ctx context.Context, key domain.CartKey, messageID string) (*Result, error)
	Put(ctx context.Context, key domain.CartKey, messageID string, res *Result) error
}

// Publisher delivers the order.confirmed event after a successful commit.
type Publisher interface {
	PublishConfirmed(ctx context.Context, correlationID string, body []byte) error
}

type Dispatcher struct {
	carts     CartOps
	confirmer Confirmer
	menu      Menu
	slots     SlotSource
	dedup     DedupStore
	publisher Publisher
	metrics   *metrics.Registry
	lg        *logger.Logger
	timeout   time.Duration

	specs map[string]*FunctionSpec
	order []string
}

func NewDispatcher(carts CartOps, confirmer Confirmer, menu Menu, slots SlotSource, dedup DedupStore, publisher Publisher, reg *metrics.Registry, lg *logger.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if lg == nil {
		lg = logger.New("dispatch")
	}
	d := &Dispatcher{
		carts:     carts,
		confirmer: confirmer,
		menu:      menu,
		slots:     slots,
		dedup:     dedup,
		publisher: publisher,
		metrics:   reg,
		lg:        lg,
		timeout:   timeout,
		specs:     make(map[string]*FunctionSpec),
	}
	d.register()
	return d
}

// Functions lists the catalog in registration order, for handing the
// function declarations to the LLM driver.
func (d *Dispatcher) Functions() []FunctionSpec {
	out := make([]FunctionSpec, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, *d.specs[name])
	}
	return out
}

// Dispatch executes one named call. Unknown names and schema violations
// come back as error results without touching any state.
func (d *Dispatcher) Dispatch(ctx context.Context, dctx Context, name string, args map[string]any) Result {
	spec, ok := d.specs[name]
	if !ok {
		return d.done(name, Result{Success: false, Error: fmt.Sprintf("unknown function %q", name)})
	}
	if err := validateArgs(spec, args); err != nil {
		return d.done(name, Result{Success: false, Error: err.Error()})
	}
	if dctx.BusinessID == "" || dctx.CustomerID == "" {
		return d.done(name, Result{Success: false, Error: "business_id and customer_id are required"})
	}

	key := dctx.cartKey()
	if dctx.MessageID != "" && d.dedup != nil && !spec.ReadOnly {
		if prev, err := d.dedup.Get(ctx, key, dctx.MessageID); err == nil && prev != nil {
			return *prev
		}
	}

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	res := spec.handler(cctx, dctx, args)

	if dctx.MessageID != "" && d.dedup != nil && !spec.ReadOnly {
		if err := d.dedup.Put(ctx, key, dctx.MessageID, &res); err != nil {
			d.lg.Error("dedup_store_failed", err, map[string]any{"message_id": dctx.MessageID})
		}
	}
	return d.done(name, res)
}

// CommitOrder performs the actual cart-to-order commit after a successful
// confirm_order validation. The split lets the orchestrator send its
// channel-specific confirmation between validation and commit.
func (d *Dispatcher) CommitOrder(ctx context.Context, dctx Context) Result {
	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := d.confirmer.Confirm(cctx, dctx.cartKey(), dctx.Channel, "assistant")
	if err != nil {
		if d.metrics != nil {
			d.metrics.ConfirmationRejected.WithLabelValues(string(domain.KindOf(err))).Inc()
		}
		return d.done("commit_order", d.errorResult(err))
	}
	if d.metrics != nil && !res.AlreadyConfirmed {
		d.metrics.OrdersConfirmed.Inc()
	}
	if !res.AlreadyConfirmed {
		d.publishConfirmed(ctx, dctx, res)
	}
	return d.done("commit_order", Result{
		Success: true,
		Message: fmt.Sprintf("Order %s confirmed", res.OrderNumber),
		Order:   &res,
	})
}

func (d *Dispatcher) publishConfirmed(ctx context.Context, dctx Context, res confirm.Result) {
	if d.publisher == nil {
		return
	}
	body, err := json.Marshal(map[string]any{
		"order_id":     res.OrderID,
		"order_number": res.OrderNumber,
		"total":        res.Total,
		"business_id":  dctx.BusinessID,
		"branch_id":    dctx.BranchID,
		"customer_id":  dctx.CustomerID,
		"channel":      dctx.Channel,
		"language":     dctx.Language,
	})
	if err == nil {
		err = d.publisher.PublishConfirmed(ctx, res.OrderNumber, body)
	}
	if err != nil {
		// The order is committed; a lost event must not unwind it.
		d.lg.Error("order_confirmed_publish_failed", err, map[string]any{"order_number": res.OrderNumber})
	}
}

func (d *Dispatcher) done(function string, res Result) Result {
	if d.metrics != nil {
		outcome := "success"
		if !res.Success {
			outcome = "error"
		}
		d.metrics.DispatchCalls.WithLabelValues(function, outcome).Inc()
	}
	return res
}

// errorResult maps a failure into the uniform envelope. Recoverable domain
// errors keep their precise message and detail; anything else becomes a
// generic retryable error so no internal text reaches the customer.
func (d *Dispatcher) errorResult(err error) Result {
	var de *domain.Error
	if errors.As(err, &de) && de.Kind != domain.KindStorageFailure {
		res := Result{
			Success:   false,
			Error:     de.Message,
			ErrorKind: string(de.Kind),
			Detail:    de.Detail,
		}
		if rs, ok := de.Detail["requires_scheduling"].(bool); ok {
			res.RequiresScheduling = rs
		}
		if de.Kind == domain.KindSchedulingRequired {
			res.RequiresScheduling = true
		}
		return res
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Result{Success: false, Error: "The request timed out, please try again", Retryable: true}
	}
	d.lg.Error("dispatch_internal_error", err, nil)
	return Result{Success: false, Error: "Something went wrong, please try again", Retryable: true}
}
