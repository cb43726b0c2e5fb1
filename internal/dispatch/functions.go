package dispatch

import (
	"context"
	"fmt"
	"math"
	"time"

	"order-assistant/internal/domain"
)

type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
)

type ParamSpec struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
}

type FunctionSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []ParamSpec `json:"parameters"`
	// ReadOnly calls never mutate cart state and skip message dedup.
	ReadOnly bool `json:"-"`

	handler func(ctx context.Context, dctx Context, args map[string]any) Result
}

func (d *Dispatcher) add(spec FunctionSpec) {
	d.specs[spec.Name] = &spec
	d.order = append(d.order, spec.Name)
}

func (d *Dispatcher) register() {
	d.add(FunctionSpec{
		Name:        "get_menu_items",
		Description: "List the items the customer can currently order.",
		ReadOnly:    true,
		handler: func(ctx context.Context, dctx Context, _ map[string]any) Result {
			items, err := d.menu.FindAvailableItems(ctx, dctx.BusinessID)
			if err != nil {
				return d.errorResult(err)
			}
			return Result{Success: true, Items: items}
		},
	})
	d.add(FunctionSpec{
		Name:        "get_cart",
		Description: "Show the current cart with items and totals.",
		ReadOnly:    true,
		handler: func(ctx context.Context, dctx Context, _ map[string]any) Result {
			c, err := d.carts.GetOrCreate(ctx, dctx.cartKey())
			if err != nil {
				return d.errorResult(err)
			}
			return Result{Success: true, Cart: c}
		},
	})
	d.add(FunctionSpec{
		Name:        "add_item",
		Description: "Add a menu item to the cart by name or id.",
		Params: []ParamSpec{
			{Name: "item", Type: ParamString, Required: true, Description: "Item name or id as the customer said it"},
			{Name: "quantity", Type: ParamInteger, Description: "How many, defaults to 1"},
			{Name: "notes", Type: ParamString, Description: "Free-text preparation notes"},
		},
		handler: func(ctx context.Context, dctx Context, args map[string]any) Result {
			qty := argInt(args, "quantity", 1)
			c, err := d.carts.AddItem(ctx, dctx.cartKey(), argString(args, "item"), qty, argString(args, "notes"))
			if err != nil {
				return d.errorResult(err)
			}
			return Result{Success: true, Message: "Added to the cart", Cart: c}
		},
	})
	d.add(FunctionSpec{
		Name:        "remove_item",
		Description: "Remove an item from the cart.",
		Params: []ParamSpec{
			{Name: "item", Type: ParamString, Required: true},
		},
		handler: func(ctx context.Context, dctx Context, args map[string]any) Result {
			c, err := d.carts.RemoveItem(ctx, dctx.cartKey(), argString(args, "item"))
			if err != nil {
				return d.errorResult(err)
			}
			return Result{Success: true, Message: "Removed from the cart", Cart: c}
		},
	})
	d.add(FunctionSpec{
		Name:        "update_quantity",
		Description: "Change the quantity of a cart item. Zero removes it.",
		Params: []ParamSpec{
			{Name: "item", Type: ParamString, Required: true},
			{Name: "quantity", Type: ParamInteger, Required: true},
		},
		handler: func(ctx context.Context, dctx Context, args map[string]any) Result {
			c, err := d.carts.UpdateQuantity(ctx, dctx.cartKey(), argString(args, "item"), argInt(args, "quantity", 0))
			if err != nil {
				return d.errorResult(err)
			}
			return Result{Success: true, Message: "Quantity updated", Cart: c}
		},
	})
	d.add(FunctionSpec{
		Name:        "set_delivery_type",
		Description: "Choose takeaway, delivery or on_site.",
		Params: []ParamSpec{
			{Name: "delivery_type", Type: ParamString, Required: true},
		},
		handler: func(ctx context.Context, dctx Context, args map[string]any) Result {
			c, addressRequired, err := d.carts.SetDeliveryType(ctx, dctx.cartKey(), domain.DeliveryType(argString(args, "delivery_type")))
			if err != nil {
				return d.errorResult(err)
			}
			res := Result{Success: true, Message: "Delivery type set", Cart: c}
			if addressRequired {
				res.Message = "Delivery type set; a delivery address is still needed"
				res.Detail = map[string]any{"address_required": true}
			}
			return res
		},
	})
	d.add(FunctionSpec{
		Name:        "set_delivery_address",
		Description: "Record the customer's delivery address as free text.",
		Params: []ParamSpec{
			{Name: "address", Type: ParamString, Required: true},
		},
		handler: func(ctx context.Context, dctx Context, args map[string]any) Result {
			c, err := d.carts.SetDeliveryAddress(ctx, dctx.cartKey(), argString(args, "address"))
			if err != nil {
				return d.errorResult(err)
			}
			return Result{Success: true, Message: "Address saved", Cart: c}
		},
	})
	d.add(FunctionSpec{
		Name:        "set_location",
		Description: "Record a shared geographic location for delivery.",
		Params: []ParamSpec{
			{Name: "lat", Type: ParamNumber, Required: true},
			{Name: "lon", Type: ParamNumber, Required: true},
			{Name: "name", Type: ParamString},
			{Name: "address", Type: ParamString},
		},
		handler: func(ctx context.Context, dctx Context, args map[string]any) Result {
			c, err := d.carts.SetLocation(ctx, dctx.cartKey(),
				argFloat(args, "lat"), argFloat(args, "lon"),
				argString(args, "name"), argString(args, "address"))
			if err != nil {
				return d.errorResult(err)
			}
			return Result{Success: true, Message: "Location saved", Cart: c}
		},
	})
	d.add(FunctionSpec{
		Name:        "set_scheduled_time",
		Description: "Schedule the order for a future time, RFC 3339 format.",
		Params: []ParamSpec{
			{Name: "time", Type: ParamString, Required: true},
		},
		handler: func(ctx context.Context, dctx Context, args map[string]any) Result {
			when, err := time.Parse(time.RFC3339, argString(args, "time"))
			if err != nil {
				return Result{Success: false, Error: fmt.Sprintf("time must be RFC 3339, got %q", argString(args, "time"))}
			}
			c, err := d.carts.SetScheduledFor(ctx, dctx.cartKey(), when)
			if err != nil {
				return d.errorResult(err)
			}
			return Result{Success: true, Message: "Order scheduled", Cart: c}
		},
	})
	d.add(FunctionSpec{
		Name:        "get_available_slots",
		Description: "List open 30-minute slots for a date (YYYY-MM-DD), default today.",
		Params: []ParamSpec{
			{Name: "date", Type: ParamString},
		},
		ReadOnly: true,
		handler: func(ctx context.Context, dctx Context, args map[string]any) Result {
			// Zero means today in the business's own time zone; the slot
			// source resolves the calendar day there, not here.
			var date time.Time
			if s := argString(args, "date"); s != "" {
				parsed, err := time.Parse("2006-01-02", s)
				if err != nil {
					return Result{Success: false, Error: fmt.Sprintf("date must be YYYY-MM-DD, got %q", s)}
				}
				date = parsed
			}
			slots, err := d.slots.AvailableTimeSlots(ctx, dctx.BusinessID, dctx.cartKey().BranchID, date)
			if err != nil {
				return d.errorResult(err)
			}
			return Result{Success: true, Slots: slots}
		},
	})
	d.add(FunctionSpec{
		Name:        "set_customer_name",
		Description: "Record the customer's name for the order.",
		Params: []ParamSpec{
			{Name: "name", Type: ParamString, Required: true},
		},
		handler: func(ctx context.Context, dctx Context, args map[string]any) Result {
			c, err := d.carts.SetCustomerName(ctx, dctx.cartKey(), argString(args, "name"))
			if err != nil {
				return d.errorResult(err)
			}
			return Result{Success: true, Message: "Name saved", Cart: c}
		},
	})
	d.add(FunctionSpec{
		Name:        "set_language",
		Description: "Record the customer's preferred conversation language.",
		Params: []ParamSpec{
			{Name: "language", Type: ParamString, Required: true},
		},
		handler: func(ctx context.Context, dctx Context, args map[string]any) Result {
			c, err := d.carts.SetLanguage(ctx, dctx.cartKey(), argString(args, "language"))
			if err != nil {
				return d.errorResult(err)
			}
			return Result{Success: true, Cart: c}
		},
	})
	d.add(FunctionSpec{
		Name:        "add_note",
		Description: "Attach a free-text note to the whole order.",
		Params: []ParamSpec{
			{Name: "note", Type: ParamString, Required: true},
		},
		handler: func(ctx context.Context, dctx Context, args map[string]any) Result {
			c, err := d.carts.SetNotes(ctx, dctx.cartKey(), argString(args, "note"))
			if err != nil {
				return d.errorResult(err)
			}
			return Result{Success: true, Message: "Note saved", Cart: c}
		},
	})
	d.add(FunctionSpec{
		Name:        "clear_cart",
		Description: "Empty the cart but keep delivery setup and schedule.",
		handler: func(ctx context.Context, dctx Context, _ map[string]any) Result {
			c, err := d.carts.Clear(ctx, dctx.cartKey())
			if err != nil {
				return d.errorResult(err)
			}
			return Result{Success: true, Message: "Cart cleared", Cart: c}
		},
	})
	d.add(FunctionSpec{
		Name:        "reset_conversation",
		Description: "Abandon the current cart and start fresh.",
		handler: func(ctx context.Context, dctx Context, _ map[string]any) Result {
			if err := d.carts.Reset(ctx, dctx.cartKey()); err != nil {
				return d.errorResult(err)
			}
			return Result{Success: true, Message: "Starting fresh"}
		},
	})
	d.add(FunctionSpec{
		Name:        "cancel_order",
		Description: "Cancel the in-progress order before confirmation.",
		handler: func(ctx context.Context, dctx Context, _ map[string]any) Result {
			if err := d.carts.Reset(ctx, dctx.cartKey()); err != nil {
				return d.errorResult(err)
			}
			return Result{Success: true, Message: "Order cancelled"}
		},
	})
	d.add(FunctionSpec{
		Name:        "confirm_order",
		Description: "Validate the cart for confirmation. The commit happens separately.",
		handler: func(ctx context.Context, dctx Context, _ map[string]any) Result {
			c, err := d.confirmer.Validate(ctx, dctx.cartKey())
			if err != nil {
				return d.errorResult(err)
			}
			return Result{Success: true, ReadyToConfirm: true, Cart: c}
		},
	})
}

// validateArgs checks required fields and primitive types before any
// handler runs.
func validateArgs(spec *FunctionSpec, args map[string]any) error {
	for _, p := range spec.Params {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Required {
				return fmt.Errorf("%s: missing required argument %q", spec.Name, p.Name)
			}
			continue
		}
		switch p.Type {
		case ParamString:
			if _, ok := v.(string); !ok {
				return fmt.Errorf("%s: argument %q must be a string", spec.Name, p.Name)
			}
		case ParamNumber:
			if !isNumber(v) {
				return fmt.Errorf("%s: argument %q must be a number", spec.Name, p.Name)
			}
		case ParamInteger:
			f, ok := asFloat(v)
			if !ok || f != math.Trunc(f) {
				return fmt.Errorf("%s: argument %q must be an integer", spec.Name, p.Name)
			}
		case ParamBoolean:
			if _, ok := v.(bool); !ok {
				return fmt.Errorf("%s: argument %q must be a boolean", spec.Name, p.Name)
			}
		}
	}
	return nil
}

func isNumber(v any) bool { _, ok := asFloat(v); return ok }

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func argString(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

func argInt(args map[string]any, name string, def int) int {
	if f, ok := asFloat(args[name]); ok {
		return int(f)
	}
	return def
}

func argFloat(args map[string]any, name string) float64 {
	f, _ := asFloat(args[name])
	return f
}
