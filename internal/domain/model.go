package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CartStatus string

const (
	CartActive    CartStatus = "active"
	CartCompleted CartStatus = "completed"
)

type DeliveryType string

const (
	DeliveryTakeaway DeliveryType = "takeaway"
	DeliveryCourier  DeliveryType = "delivery"
	DeliveryOnSite   DeliveryType = "on_site"
)

// ValidDeliveryType reports whether t is one of the three accepted values.
func ValidDeliveryType(t DeliveryType) bool {
	return t == DeliveryTakeaway || t == DeliveryCourier || t == DeliveryOnSite
}

// CartKey identifies the single active cart for one customer at one branch.
// BranchID defaults to BusinessID when the business has no branches.
type CartKey struct {
	BusinessID string
	BranchID   string
	CustomerID string
}

// Normalize fills an empty branch with the business id so lower layers
// always see a concrete branch.
func (k CartKey) Normalize() CartKey {
	if k.BranchID == "" {
		k.BranchID = k.BusinessID
	}
	return k
}

type CartItem struct {
	ItemID    uuid.UUID       `json:"item_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Notes     string          `json:"notes,omitempty"`
}

func (ci CartItem) LineTotal() decimal.Decimal {
	return ci.UnitPrice.Mul(decimal.NewFromInt(int64(ci.Quantity)))
}

type Location struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Name    string  `json:"name,omitempty"`
	Address string  `json:"address,omitempty"`
}

type Cart struct {
	ID              uuid.UUID       `json:"id"`
	Key             CartKey         `json:"-"`
	Status          CartStatus      `json:"status"`
	Items           []CartItem      `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DeliveryPrice   decimal.Decimal `json:"delivery_price"`
	Total           decimal.Decimal `json:"total"`
	DeliveryType    DeliveryType    `json:"delivery_type,omitempty"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	Location        *Location       `json:"location,omitempty"`
	ScheduledFor    *time.Time      `json:"scheduled_for,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	Language        string          `json:"language,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	OrderID         *uuid.UUID      `json:"order_id,omitempty"` // set once promoted
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// RecomputeTotals derives subtotal and total from the current lines.
// Totals are never mutated independently of the item list.
func (c *Cart) RecomputeTotals() {
	sum := decimal.Zero
	for _, it := range c.Items {
		sum = sum.Add(it.LineTotal())
	}
	c.Subtotal = sum
	c.Total = sum.Add(c.DeliveryPrice)
}

// FindItem returns the index of the line holding itemID, or -1.
func (c *Cart) FindItem(itemID uuid.UUID) int {
	for i, it := range c.Items {
		if it.ItemID == itemID {
			return i
		}
	}
	return -1
}

// HasAddress reports whether either a free-text address or a coordinate is set.
func (c *Cart) HasAddress() bool {
	return c.DeliveryAddress != "" || c.Location != nil
}

// Item is a catalog entry. Read-only to this core; owned by menu management.
type Item struct {
	ID               uuid.UUID
	BusinessID       string
	Name             string
	Price            decimal.Decimal
	Available        bool
	IsSchedulable    bool
	MinScheduleHours int
	AvailableFrom    *string // "HH:MM", nil = no window
	AvailableTo      *string
	DaysAvailable    []string // lower-case weekday names; empty = every day
	DurationMinutes  int      // how long one unit occupies capacity
	Quantity         *int     // nil = no configured ceiling
	AllowConcurrent  bool     // with nil Quantity: permit overlapping bookings
}

type OwnerType string

const (
	OwnerBusiness OwnerType = "business"
	OwnerBranch   OwnerType = "branch"
)

type OpeningHours struct {
	OwnerType              OwnerType
	OwnerID                string
	DayOfWeek              string // lower-case weekday name
	IsClosed               bool
	OpenTime               *string // "HH:MM", nil with !IsClosed = open all day
	CloseTime              *string
	LastOrderBeforeClosing int // minutes before close after which immediate orders stop
}

type Business struct {
	ID                   string
	Name                 string
	Timezone             string // IANA name; empty = UTC
	AllowScheduledOrders bool
	DeliveryPrice        decimal.Decimal
	HomeLat              *float64
	HomeLon              *float64
	DeliveryRadiusKm     *float64
}

// OpenStatus is the result of the immediate-order availability check.
type OpenStatus struct {
	IsOpen                bool   `json:"is_open"`
	IsWithinOpeningHours  bool   `json:"is_within_opening_hours"`
	LastOrderTimePassed   bool   `json:"last_order_time_passed"`
	MinutesUntilLastOrder int    `json:"minutes_until_last_order"`
	LastOrderTime         string `json:"last_order_time,omitempty"`
	Reason                string `json:"reason,omitempty"`
}

type OrderStatus string

const (
	OrderAccepted   OrderStatus = "accepted"
	OrderDelivering OrderStatus = "delivering"
	OrderCompleted  OrderStatus = "completed"
	OrderRejected   OrderStatus = "rejected"
	OrderCancelled  OrderStatus = "cancelled"
)

// ConfirmedOrder is the durable entity a cart promotes into. This core only
// produces the initial accepted state; later transitions belong to
// fulfillment.
type ConfirmedOrder struct {
	ID              uuid.UUID
	Number          string
	Key             CartKey
	Status          OrderStatus
	Items           []CartItem
	Subtotal        decimal.Decimal
	DeliveryPrice   decimal.Decimal
	Total           decimal.Decimal
	DeliveryType    DeliveryType
	DeliveryAddress string
	Location        *Location
	ScheduledFor    *time.Time
	CustomerName    string
	Notes           string
	OrderSource     string
	CreatedVia      string
	CreatedAt       time.Time
}

// Booking is an existing claim on a schedulable item's capacity, derived
// from confirmed orders that carry a schedule.
type Booking struct {
	OrderID  uuid.UUID
	ItemID   uuid.UUID
	Quantity int
	From     time.Time
	To       time.Time
}
