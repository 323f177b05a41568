package orders

import "github.com/odyssey-erp/supplyledger/internal/shared"

// Domain errors for orders.
var (
	ErrNotFound          = shared.ErrNotFound
	ErrInvalidOrder      = shared.ErrInvalidOrder
	ErrInsufficientStock = shared.ErrInsufficientStock
	ErrNotPending        = shared.ErrNotPending
	ErrNotApproved       = shared.ErrNotApproved
	ErrBusy              = shared.ErrBusy
)
