// Package catalog gives the conversation engine read-only access to a
// business's menu. Lookups go through a short-TTL cache so repeated function
// calls inside one conversation do not hammer the menu tables, while edits
// made in the admin panel still show up within the TTL.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"order-assistant/internal/domain"
	"order-assistant/internal/timewindow"

	"github.com/google/uuid"
)

type Repository interface {
	ListItems(ctx context.Context, businessID string) ([]domain.Item, error)
}

type Service struct {
	repo  Repository
	ttl   time.Duration
	clock timewindow.Clock

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	items   []domain.Item
	fetched time.Time
}

func NewService(repo Repository, ttl time.Duration, clock timewindow.Clock) *Service {
	if clock == nil {
		clock = timewindow.SystemClock{}
	}
	return &Service{repo: repo, ttl: ttl, clock: clock, cache: make(map[string]cacheEntry)}
}

func (s *Service) items(ctx context.Context, businessID string) ([]domain.Item, error) {
	now := s.clock.Now()

	s.mu.Lock()
	e, ok := s.cache[businessID]
	s.mu.Unlock()
	if ok && now.Sub(e.fetched) < s.ttl {
		return e.items, nil
	}

	items, err := s.repo.ListItems(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("list items for %s: %w", businessID, err)
	}
	s.mu.Lock()
	s.cache[businessID] = cacheEntry{items: items, fetched: now}
	s.mu.Unlock()
	return items, nil
}

// FindItemByNameOrID resolves a customer's free-form reference to one
// catalog item: uuid first, then case-insensitive exact name, then the
// shortest name containing the query as a substring. Returns ItemNotFound
// when nothing matches.
func (s *Service) FindItemByNameOrID(ctx context.Context, businessID, query string) (*domain.Item, error) {
	items, err := s.items(ctx, businessID)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		// An empty substring would match every name.
		return nil, domain.NewError(domain.KindItemNotFound, "No menu item matches an empty name").
			WithDetail("query", query)
	}

	if id, err := uuid.Parse(query); err == nil {
		for i := range items {
			if items[i].ID == id {
				return &items[i], nil
			}
		}
	}

	lowered := strings.ToLower(query)
	for i := range items {
		if strings.ToLower(items[i].Name) == lowered {
			return &items[i], nil
		}
	}

	var subs []*domain.Item
	for i := range items {
		if strings.Contains(strings.ToLower(items[i].Name), lowered) {
			subs = append(subs, &items[i])
		}
	}
	if len(subs) > 0 {
		sort.Slice(subs, func(i, j int) bool { return len(subs[i].Name) < len(subs[j].Name) })
		return subs[0], nil
	}

	return nil, domain.NewError(domain.KindItemNotFound, "No menu item matches %q", query).
		WithDetail("query", query)
}

// FindAvailableItems lists the items the customer can currently order.
func (s *Service) FindAvailableItems(ctx context.Context, businessID string) ([]domain.Item, error) {
	items, err := s.items(ctx, businessID)
	if err != nil {
		return nil, err
	}
	var out []domain.Item
	for _, it := range items {
		if it.Available {
			out = append(out, it)
		}
	}
	return out, nil
}
