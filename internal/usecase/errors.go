package usecase

import (
	"errors"
	"fmt"
)

// Checkout outcome kinds. Match with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInternal          = errors.New("internal error")
)

// Store error classes. Adapters wrap driver errors in one of these.
var (
	ErrConstraintViolation = errors.New("constraint violation")
	ErrUnavailable         = errors.New("store unavailable")
	ErrNotFound            = errors.New("not found")

	// ErrDuplicateKey is the unique-index subset of ErrConstraintViolation.
	// Only this one may be retried with a fresh tracking code.
	ErrDuplicateKey = fmt.Errorf("duplicate key: %w", ErrConstraintViolation)
)

var (
	ErrDuplicate         = errors.New("duplicate idempotency key")
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrStatusConflict    = errors.New("order status changed concurrently")
	ErrMalformedTracking = errors.New("malformed tracking code")
	errTrackingCollision = errors.New("tracking code already in use")
	errTrackingExhausted = errors.New("tracking code generation exhausted retries")
)

// CheckoutError describes a failed checkout. Kind is one of ErrValidation,
// ErrInsufficientStock or ErrInternal. RollbackErr is set when undoing the
// partial checkout did not fully succeed; it never replaces Err.
type CheckoutError struct {
	Kind        error
	Op          string
	ProductID   string
	Err         error
	RollbackErr error
}

func (e *CheckoutError) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.ProductID != "" {
		msg += " (product " + e.ProductID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.RollbackErr != nil {
		msg += fmt.Sprintf(" [rollback incomplete: %v]", e.RollbackErr)
	}
	return msg
}

func (e *CheckoutError) Is(target error) bool { return target == e.Kind }

func (e *CheckoutError) Unwrap() error { return e.Err }

func validationErr(err error) *CheckoutError {
	return &CheckoutError{Kind: ErrValidation, Err: err}
}

func internalErr(op string, err error) *CheckoutError {
	return &CheckoutError{Kind: ErrInternal, Op: op, Err: err}
}

func stockErr(productID string) *CheckoutError {
	return &CheckoutError{Kind: ErrInsufficientStock, Op: "decrement stock", ProductID: productID}
}
