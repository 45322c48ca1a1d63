package domain

import "errors"

var (
	// ErrNotFound is returned when no order matches the lookup.
	// Adapters map it to 404/NOT_FOUND.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidInput covers missing or malformed fields on incoming requests.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidStatus is returned for statuses outside the order lifecycle.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrTotalsMismatch signals that client-side totals disagree with the items.
	ErrTotalsMismatch = errors.New("order totals do not match items")
	// ErrInvalidSignature is returned when a payment notification fails signature checks.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrPaymentRejected covers notifications that are signed correctly but fail
	// merchant, amount or server-side validation.
	ErrPaymentRejected = errors.New("payment notification rejected")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrConflict        = errors.New("conflict")
	// ErrDuplicate aborts an update whose payment outcome is already recorded.
	ErrDuplicate = errors.New("duplicate")
)
