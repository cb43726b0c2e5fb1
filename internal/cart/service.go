// Package cart holds the authoritative mutable state of an in-progress
// order: one active cart per business+branch+customer. Every mutation
// recomputes totals; the cart only ever leaves this package through the
// confirmation transition or an explicit reset.
package cart

import (
	"context"
	"fmt"
	"math"
	"time"

	"order-assistant/internal/domain"
	"order-assistant/internal/timewindow"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Repository interface {
	// GetActive returns the customer's active cart, or nil when none exists.
	GetActive(ctx context.Context, key domain.CartKey) (*domain.Cart, error)
	// GetRecentCompleted returns the most recently completed cart updated
	// after the cutoff, or nil.
	GetRecentCompleted(ctx context.Context, key domain.CartKey, updatedAfter time.Time) (*domain.Cart, error)
	Insert(ctx context.Context, c *domain.Cart) error
	Save(ctx context.Context, c *domain.Cart) error
	Delete(ctx context.Context, cartID uuid.UUID) error
}

type Catalog interface {
	FindItemByNameOrID(ctx context.Context, businessID, query string) (*domain.Item, error)
	FindAvailableItems(ctx context.Context, businessID string) ([]domain.Item, error)
}

type BusinessStore interface {
	GetBusiness(ctx context.Context, businessID string) (*domain.Business, error)
}

type ScheduleValidator interface {
	ValidateSchedule(ctx context.Context, cart *domain.Cart, items map[uuid.UUID]*domain.Item, proposed time.Time) error
}

type Service struct {
	repo      Repository
	catalog   Catalog
	biz       BusinessStore
	validator ScheduleValidator
	clock     timewindow.Clock
	cartTTL   time.Duration
}

func NewService(repo Repository, cat Catalog, biz BusinessStore, validator ScheduleValidator, clock timewindow.Clock, cartTTL time.Duration) *Service {
	if clock == nil {
		clock = timewindow.SystemClock{}
	}
	if cartTTL <= 0 {
		cartTTL = 2 * time.Hour
	}
	return &Service{repo: repo, catalog: cat, biz: biz, validator: validator, clock: clock, cartTTL: cartTTL}
}

// GetOrCreate returns the customer's active cart, creating an empty one on
// first contact. A cart untouched for longer than the configured TTL is
// abandoned and replaced; this is the single staleness policy, shared with
// the explicit Reset.
func (s *Service) GetOrCreate(ctx context.Context, key domain.CartKey) (*domain.Cart, error) {
	key = key.Normalize()
	c, err := s.repo.GetActive(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	now := s.clock.Now()
	if c != nil && now.Sub(c.UpdatedAt) > s.cartTTL {
		if err := s.repo.Delete(ctx, c.ID); err != nil {
			return nil, fmt.Errorf("abandon stale cart: %w", err)
		}
		c = nil
	}
	if c != nil {
		return c, nil
	}

	c = &domain.Cart{
		ID:        uuid.New(),
		Key:       key,
		Status:    domain.CartActive,
		Subtotal:  decimal.Zero,
		Total:     decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, c); err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	return c, nil
}

// Active returns the current active cart without creating one.
func (s *Service) Active(ctx context.Context, key domain.CartKey) (*domain.Cart, error) {
	c, err := s.repo.GetActive(ctx, key.Normalize())
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return c, nil
}

// RecentCompleted returns the customer's most recently promoted cart, if it
// was completed within the cart TTL. Used to make a duplicate confirm a
// no-op success instead of a second order.
func (s *Service) RecentCompleted(ctx context.Context, key domain.CartKey) (*domain.Cart, error) {
	c, err := s.repo.GetRecentCompleted(ctx, key.Normalize(), s.clock.Now().Add(-s.cartTTL))
	if err != nil {
		return nil, fmt.Errorf("load completed cart: %w", err)
	}
	return c, nil
}

// MarkCompleted is the terminal transition after a successful confirmation.
func (s *Service) MarkCompleted(ctx context.Context, c *domain.Cart, orderID uuid.UUID) error {
	c.Status = domain.CartCompleted
	c.OrderID = &orderID
	return s.save(ctx, c)
}

// AddItem resolves the query against the live catalog and merges the
// quantity into an existing line, or appends a new one.
func (s *Service) AddItem(ctx context.Context, key domain.CartKey, query string, quantity int, notes string) (*domain.Cart, error) {
	if quantity <= 0 {
		quantity = 1
	}
	c, err := s.GetOrCreate(ctx, key)
	if err != nil {
		return nil, err
	}
	item, err := s.catalog.FindItemByNameOrID(ctx, c.Key.BusinessID, query)
	if err != nil {
		return nil, err
	}
	if !item.Available {
		return nil, domain.NewError(domain.KindItemUnavailable, "%s is currently unavailable", item.Name).
			WithDetail("item", item.Name)
	}

	if i := c.FindItem(item.ID); i >= 0 {
		c.Items[i].Quantity += quantity
		if notes != "" {
			c.Items[i].Notes = notes
		}
	} else {
		c.Items = append(c.Items, domain.CartItem{
			ItemID:    item.ID,
			Name:      item.Name,
			UnitPrice: item.Price,
			Quantity:  quantity,
			Notes:     notes,
		})
	}
	return c, s.save(ctx, c)
}

// RemoveItem drops the line matching the query.
func (s *Service) RemoveItem(ctx context.Context, key domain.CartKey, query string) (*domain.Cart, error) {
	c, err := s.GetOrCreate(ctx, key)
	if err != nil {
		return nil, err
	}
	i, err := s.lineIndex(ctx, c, query)
	if err != nil {
		return nil, err
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return c, s.save(ctx, c)
}

// UpdateQuantity overwrites a line's quantity. Zero or below means removal.
func (s *Service) UpdateQuantity(ctx context.Context, key domain.CartKey, query string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return s.RemoveItem(ctx, key, query)
	}
	c, err := s.GetOrCreate(ctx, key)
	if err != nil {
		return nil, err
	}
	i, err := s.lineIndex(ctx, c, query)
	if err != nil {
		return nil, err
	}
	c.Items[i].Quantity = quantity
	return c, s.save(ctx, c)
}

// lineIndex finds the cart line for a free-form item reference: first by
// catalog resolution, then by direct name match against snapshots (the
// catalog item may have been renamed or removed since it was added).
func (s *Service) lineIndex(ctx context.Context, c *domain.Cart, query string) (int, error) {
	if item, err := s.catalog.FindItemByNameOrID(ctx, c.Key.BusinessID, query); err == nil {
		if i := c.FindItem(item.ID); i >= 0 {
			return i, nil
		}
	}
	if id, err := uuid.Parse(query); err == nil {
		if i := c.FindItem(id); i >= 0 {
			return i, nil
		}
	}
	return 0, domain.NewError(domain.KindItemNotInCart, "%q is not in the cart", query).
		WithDetail("query", query)
}

// SetDeliveryType switches between takeaway, delivery and on_site.
// The returned flag tells the caller an address is still needed before
// confirmation. Non-delivery types clear the delivery price.
func (s *Service) SetDeliveryType(ctx context.Context, key domain.CartKey, t domain.DeliveryType) (*domain.Cart, bool, error) {
	if !domain.ValidDeliveryType(t) {
		return nil, false, domain.NewError(domain.KindDeliveryTypeRequired,
			"Delivery type must be takeaway, delivery or on_site, got %q", t)
	}
	c, err := s.GetOrCreate(ctx, key)
	if err != nil {
		return nil, false, err
	}
	c.DeliveryType = t
	if t == domain.DeliveryCourier {
		b, err := s.biz.GetBusiness(ctx, c.Key.BusinessID)
		if err != nil {
			return nil, false, fmt.Errorf("load business: %w", err)
		}
		if b != nil {
			c.DeliveryPrice = b.DeliveryPrice
		}
	} else {
		c.DeliveryPrice = decimal.Zero
	}
	if err := s.save(ctx, c); err != nil {
		return nil, false, err
	}
	addressRequired := t == domain.DeliveryCourier && !c.HasAddress()
	return c, addressRequired, nil
}

// SetDeliveryAddress captures a free-text address.
func (s *Service) SetDeliveryAddress(ctx context.Context, key domain.CartKey, address string) (*domain.Cart, error) {
	c, err := s.GetOrCreate(ctx, key)
	if err != nil {
		return nil, err
	}
	c.DeliveryAddress = address
	return c, s.save(ctx, c)
}

// SetLocation captures a shared coordinate. When the business configures a
// home coordinate and delivery radius, points outside the radius are
// rejected with the computed distance so the conversation can explain.
func (s *Service) SetLocation(ctx context.Context, key domain.CartKey, lat, lon float64, name, address string) (*domain.Cart, error) {
	c, err := s.GetOrCreate(ctx, key)
	if err != nil {
		return nil, err
	}
	b, err := s.biz.GetBusiness(ctx, c.Key.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("load business: %w", err)
	}
	if b != nil && b.HomeLat != nil && b.HomeLon != nil && b.DeliveryRadiusKm != nil {
		dist := haversineKm(*b.HomeLat, *b.HomeLon, lat, lon)
		if dist > *b.DeliveryRadiusKm {
			return nil, domain.NewError(domain.KindOutOfDeliveryRadius,
				"That location is %.1f km away; we deliver up to %.1f km", dist, *b.DeliveryRadiusKm).
				WithDetail("distance_km", round1(dist)).
				WithDetail("radius_km", *b.DeliveryRadiusKm)
		}
	}
	c.Location = &domain.Location{Lat: lat, Lon: lon, Name: name, Address: address}
	return c, s.save(ctx, c)
}

// SetScheduledFor validates the proposed time first and only persists on
// success.
func (s *Service) SetScheduledFor(ctx context.Context, key domain.CartKey, proposed time.Time) (*domain.Cart, error) {
	c, err := s.GetOrCreate(ctx, key)
	if err != nil {
		return nil, err
	}
	items, err := s.ItemsFor(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := s.validator.ValidateSchedule(ctx, c, items, proposed); err != nil {
		return nil, err
	}
	c.ScheduledFor = &proposed
	return c, s.save(ctx, c)
}

func (s *Service) SetCustomerName(ctx context.Context, key domain.CartKey, name string) (*domain.Cart, error) {
	c, err := s.GetOrCreate(ctx, key)
	if err != nil {
		return nil, err
	}
	c.CustomerName = name
	return c, s.save(ctx, c)
}

func (s *Service) SetLanguage(ctx context.Context, key domain.CartKey, lang string) (*domain.Cart, error) {
	c, err := s.GetOrCreate(ctx, key)
	if err != nil {
		return nil, err
	}
	c.Language = lang
	return c, s.save(ctx, c)
}

func (s *Service) SetNotes(ctx context.Context, key domain.CartKey, notes string) (*domain.Cart, error) {
	c, err := s.GetOrCreate(ctx, key)
	if err != nil {
		return nil, err
	}
	c.Notes = notes
	return c, s.save(ctx, c)
}

// Clear empties the item list and zeroes totals but keeps delivery type and
// schedule, so "start the order over" does not lose the delivery setup.
func (s *Service) Clear(ctx context.Context, key domain.CartKey) (*domain.Cart, error) {
	c, err := s.GetOrCreate(ctx, key)
	if err != nil {
		return nil, err
	}
	c.Items = nil
	return c, s.save(ctx, c)
}

// Reset abandons the active cart entirely: the next interaction starts
// fresh. Used by the explicit "fresh start" function.
func (s *Service) Reset(ctx context.Context, key domain.CartKey) error {
	key = key.Normalize()
	c, err := s.repo.GetActive(ctx, key)
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}
	if c == nil {
		return nil
	}
	if err := s.repo.Delete(ctx, c.ID); err != nil {
		return fmt.Errorf("reset cart: %w", err)
	}
	return nil
}

// ItemsFor resolves the live catalog record for every cart line. Lines whose
// item vanished from the catalog map to nil and are treated as ordinary
// items by downstream validation.
func (s *Service) ItemsFor(ctx context.Context, c *domain.Cart) (map[uuid.UUID]*domain.Item, error) {
	out := make(map[uuid.UUID]*domain.Item, len(c.Items))
	for _, line := range c.Items {
		item, err := s.catalog.FindItemByNameOrID(ctx, c.Key.BusinessID, line.ItemID.String())
		if err != nil {
			if domain.KindOf(err) == domain.KindItemNotFound {
				continue
			}
			return nil, err
		}
		out[line.ItemID] = item
	}
	return out, nil
}

func (s *Service) save(ctx context.Context, c *domain.Cart) error {
	c.RecomputeTotals()
	c.UpdatedAt = s.clock.Now()
	if err := s.repo.Save(ctx, c); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
