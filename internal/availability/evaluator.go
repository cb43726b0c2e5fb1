// Package availability answers whether a business can take an immediate
// order right now, when it next opens, and which pickup slots a given day
// offers. Branch-level opening hours override business-level hours.
package availability

import (
	"context"
	"fmt"
	"time"

	"order-assistant/internal/domain"
	"order-assistant/internal/timewindow"
)

type HoursStore interface {
	GetHoursForDay(ctx context.Context, ownerType domain.OwnerType, ownerID, dayOfWeek string) (*domain.OpeningHours, error)
}

type BusinessStore interface {
	GetBusiness(ctx context.Context, businessID string) (*domain.Business, error)
}

type Evaluator struct {
	hours HoursStore
	biz   BusinessStore
	clock timewindow.Clock
}

func NewEvaluator(hours HoursStore, biz BusinessStore, clock timewindow.Clock) *Evaluator {
	if clock == nil {
		clock = timewindow.SystemClock{}
	}
	return &Evaluator{hours: hours, biz: biz, clock: clock}
}

// LocalNow resolves the current instant in the business's configured time
// zone. An empty or unknown time zone falls back to UTC.
func (e *Evaluator) LocalNow(ctx context.Context, businessID string) (time.Time, error) {
	b, err := e.biz.GetBusiness(ctx, businessID)
	if err != nil {
		return time.Time{}, fmt.Errorf("load business %s: %w", businessID, err)
	}
	loc := time.UTC
	if b != nil && b.Timezone != "" {
		if l, err := time.LoadLocation(b.Timezone); err == nil {
			loc = l
		}
	}
	return e.clock.Now().In(loc), nil
}

// hoursFor resolves the effective hours record for one day: branch record
// first, business record as fallback.
func (e *Evaluator) hoursFor(ctx context.Context, businessID, branchID, day string) (*domain.OpeningHours, error) {
	if branchID != "" && branchID != businessID {
		h, err := e.hours.GetHoursForDay(ctx, domain.OwnerBranch, branchID, day)
		if err != nil {
			return nil, err
		}
		if h != nil {
			return h, nil
		}
	}
	return e.hours.GetHoursForDay(ctx, domain.OwnerBusiness, businessID, day)
}

// IsOpenNow reports eligibility for immediate orders. IsOpen is the narrow
// [open, lastOrder] check; IsWithinOpeningHours is the broader [open, close]
// check, which distinguishes "closed" from "open but past last orders".
// A missing hours record reads as closed, never as open.
func (e *Evaluator) IsOpenNow(ctx context.Context, businessID, branchID string) (domain.OpenStatus, error) {
	now, err := e.LocalNow(ctx, businessID)
	if err != nil {
		return domain.OpenStatus{}, err
	}
	h, err := e.hoursFor(ctx, businessID, branchID, timewindow.DayName(now))
	if err != nil {
		return domain.OpenStatus{}, fmt.Errorf("load opening hours: %w", err)
	}
	if h == nil {
		return domain.OpenStatus{Reason: "No opening hours configured"}, nil
	}
	if h.IsClosed {
		return domain.OpenStatus{Reason: "Closed today"}, nil
	}
	if h.OpenTime == nil || h.CloseTime == nil {
		// Open all day, no last-order cutoff.
		return domain.OpenStatus{IsOpen: true, IsWithinOpeningHours: true, MinutesUntilLastOrder: -1}, nil
	}

	openMins, err := timewindow.ParseClock(*h.OpenTime)
	if err != nil {
		return domain.OpenStatus{}, fmt.Errorf("opening hours for %s: %w", h.OwnerID, err)
	}
	closeMins, err := timewindow.ParseClock(*h.CloseTime)
	if err != nil {
		return domain.OpenStatus{}, fmt.Errorf("opening hours for %s: %w", h.OwnerID, err)
	}
	lastOrderMins := closeMins
	if h.LastOrderBeforeClosing > 0 {
		lastOrderMins = closeMins - h.LastOrderBeforeClosing
	}

	cur := timewindow.MinutesOfDay(now)
	st := domain.OpenStatus{
		IsWithinOpeningHours: cur >= openMins && cur <= closeMins,
		LastOrderTime:        timewindow.FormatClock(lastOrderMins),
	}
	switch {
	case cur < openMins:
		st.Reason = fmt.Sprintf("Opens at %s", timewindow.FormatClock(openMins))
	case cur > closeMins:
		st.Reason = fmt.Sprintf("Closed at %s", timewindow.FormatClock(closeMins))
	case cur > lastOrderMins:
		st.LastOrderTimePassed = true
		st.Reason = fmt.Sprintf("Last orders ended at %s", st.LastOrderTime)
	default:
		st.IsOpen = true
		st.MinutesUntilLastOrder = lastOrderMins - cur
	}
	return st, nil
}

// NextOpeningTime scans up to seven days ahead for the next moment the
// business opens. Returns nil when every day is closed or unconfigured.
func (e *Evaluator) NextOpeningTime(ctx context.Context, businessID, branchID string) (*time.Time, error) {
	now, err := e.LocalNow(ctx, businessID)
	if err != nil {
		return nil, err
	}
	for d := 0; d <= 7; d++ {
		date := now.AddDate(0, 0, d)
		h, err := e.hoursFor(ctx, businessID, branchID, timewindow.DayName(date))
		if err != nil {
			return nil, fmt.Errorf("load opening hours: %w", err)
		}
		if h == nil || h.IsClosed || h.OpenTime == nil {
			continue
		}
		openMins, err := timewindow.ParseClock(*h.OpenTime)
		if err != nil {
			continue
		}
		cand := timewindow.AtMinutes(date, openMins)
		if cand.After(now) {
			return &cand, nil
		}
	}
	return nil, nil
}

// WithinHoursAt reports whether t falls inside opening hours on t's own
// day, up to the last-order cutoff. Used to re-validate a scheduled order
// against the hours of the scheduled day, which may differ from today's.
func (e *Evaluator) WithinHoursAt(ctx context.Context, businessID, branchID string, t time.Time) (bool, error) {
	h, err := e.hoursFor(ctx, businessID, branchID, timewindow.DayName(t))
	if err != nil {
		return false, fmt.Errorf("load opening hours: %w", err)
	}
	if h == nil || h.IsClosed {
		return false, nil
	}
	if h.OpenTime == nil || h.CloseTime == nil {
		return true, nil
	}
	openMins, err := timewindow.ParseClock(*h.OpenTime)
	if err != nil {
		return false, fmt.Errorf("opening hours for %s: %w", h.OwnerID, err)
	}
	closeMins, err := timewindow.ParseClock(*h.CloseTime)
	if err != nil {
		return false, fmt.Errorf("opening hours for %s: %w", h.OwnerID, err)
	}
	lastOrderMins := closeMins
	if h.LastOrderBeforeClosing > 0 {
		lastOrderMins = closeMins - h.LastOrderBeforeClosing
	}
	mins := timewindow.MinutesOfDay(t)
	return mins >= openMins && mins <= lastOrderMins, nil
}

// AvailableTimeSlots lists 30-minute pickup slots for date, bounded by the
// day's opening hours and the last-order cutoff. Empty when the business
// does not take scheduled orders or the day is closed. For today, slots that
// have already passed are omitted. A zero date means today.
func (e *Evaluator) AvailableTimeSlots(ctx context.Context, businessID, branchID string, date time.Time) ([]string, error) {
	b, err := e.biz.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("load business %s: %w", businessID, err)
	}
	if b == nil || !b.AllowScheduledOrders {
		return nil, nil
	}
	now, err := e.LocalNow(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if date.IsZero() {
		date = now
	} else {
		// The caller names a calendar day; rebuild it in the business zone
		// so a UTC-midnight date does not shift to the previous day.
		y, m, d := date.Date()
		date = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	}

	h, err := e.hoursFor(ctx, businessID, branchID, timewindow.DayName(date))
	if err != nil {
		return nil, fmt.Errorf("load opening hours: %w", err)
	}
	if h == nil || h.IsClosed || h.OpenTime == nil || h.CloseTime == nil {
		return nil, nil
	}
	openMins, err := timewindow.ParseClock(*h.OpenTime)
	if err != nil {
		return nil, fmt.Errorf("opening hours for %s: %w", h.OwnerID, err)
	}
	closeMins, err := timewindow.ParseClock(*h.CloseTime)
	if err != nil {
		return nil, fmt.Errorf("opening hours for %s: %w", h.OwnerID, err)
	}
	lastOrderMins := closeMins
	if h.LastOrderBeforeClosing > 0 {
		lastOrderMins = closeMins - h.LastOrderBeforeClosing
	}

	notBefore := -1
	if sameDay(date, now) {
		notBefore = timewindow.MinutesOfDay(now) + 1
	}
	return timewindow.Slots(openMins, lastOrderMins, notBefore), nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
