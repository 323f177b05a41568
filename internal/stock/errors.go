package stock

import (
	"fmt"

	"github.com/odyssey-erp/supplyledger/internal/shared"
)

var (
	// ErrProductNotFound indicates missing or inactive product.
	ErrProductNotFound = shared.ErrProductNotFound
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = shared.ErrInvalidQuantity
	// ErrInsufficientStock indicates the movement would drive stock negative.
	ErrInsufficientStock = shared.ErrInsufficientStock
	// ErrInvalidMovement indicates a malformed movement request.
	ErrInvalidMovement = fmt.Errorf("%w: invalid movement", shared.ErrValidation)
)
