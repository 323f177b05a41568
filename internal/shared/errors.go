package shared

import "errors"

// Error taxonomy shared by the ledger, the order workflow and the HTTP layer.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a malformed request.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized indicates a missing or invalid identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the identity may not perform the action.
	ErrForbidden = errors.New("forbidden")
	// ErrDuplicate indicates a replayed idempotency key.
	ErrDuplicate = errors.New("duplicate request")

	// ErrInvalidOrder covers empty item lists, inactive or unknown products and non-positive quantities.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrInsufficientStock indicates requested quantity exceeds stock at check time.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrNotPending indicates the order left PENDING already.
	ErrNotPending = errors.New("order is not pending")
	// ErrNotApproved indicates the order is not APPROVED.
	ErrNotApproved = errors.New("order is not approved")
	// ErrProductNotFound indicates the product row does not exist.
	ErrProductNotFound = errors.New("product not found")
	// ErrInvalidQuantity indicates a non-positive movement quantity.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")

	// ErrStorageUnavailable is the only retryable class: timeouts, lost connections, exhausted conflicts.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrBusy indicates another replica holds the operation lock.
	ErrBusy = errors.Join(errors.New("operation already in progress"), ErrStorageUnavailable)
)

// Retryable reports whether err may be retried unmodified by the caller.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
