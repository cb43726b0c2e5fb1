package domain

import (
	"errors"
	"fmt"
)

// Kind tags an error with its recoverable category so the conversation
// driver can prompt the customer precisely instead of showing raw failures.
type Kind string

const (
	KindItemNotFound          Kind = "ItemNotFound"
	KindItemUnavailable       Kind = "ItemUnavailable"
	KindItemNotInCart         Kind = "ItemNotInCart"
	KindEmptyCart             Kind = "EmptyCart"
	KindDeliveryTypeRequired  Kind = "DeliveryTypeRequired"
	KindAddressRequired       Kind = "AddressRequired"
	KindSchedulingRequired    Kind = "SchedulingRequired"
	KindPastLastOrderCutoff   Kind = "PastLastOrderCutoff"
	KindInvalidScheduleWindow Kind = "InvalidScheduleWindow"
	KindOutOfDeliveryRadius   Kind = "OutOfDeliveryRadius"
	KindCapacityConflict      Kind = "CapacityConflict"
	KindClosed                Kind = "Closed"
	KindStorageFailure        Kind = "StorageFailure"
)

// Error is a tagged, recoverable domain failure. Detail carries structured
// context (item name, limits, distances) for building a precise prompt.
type Error struct {
	Kind    Kind
	Message string
	Detail  map[string]any
}

func (e *Error) Error() string { return e.Message }

// Is lets errors.Is match two domain errors by kind.
func (e *Error) Is(target error) bool {
	var de *Error
	if errors.As(target, &de) {
		return de.Kind == e.Kind
	}
	return false
}

func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
	return e
}

// KindOf extracts the kind from err, or KindStorageFailure when err is not a
// tagged domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindStorageFailure
}

// IsRecoverable reports whether err is a tagged domain error the
// conversation can recover from, as opposed to an infrastructure fault.
func IsRecoverable(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind != KindStorageFailure
}
