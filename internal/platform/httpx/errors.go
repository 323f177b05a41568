// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/supplyledger/internal/shared"
)

// Stable machine-readable codes carried in problem responses.
const (
	CodeInsufficientStock  = "insufficient_stock"
	CodeNotPending         = "not_pending"
	CodeNotApproved        = "not_approved"
	CodeDuplicate          = "duplicate_request"
	CodeInvalidOrder       = "invalid_order"
	CodeInvalidQuantity    = "invalid_quantity"
	CodeValidation         = "validation_failed"
	CodeProductNotFound    = "product_not_found"
	CodeNotFound           = "not_found"
	CodeUnauthorized       = "unauthorized"
	CodeForbidden          = "forbidden"
	CodeStorageUnavailable = "storage_unavailable"
	CodeInternal           = "internal"
)

// RetryAfterSeconds is advertised on storage_unavailable responses.
const RetryAfterSeconds = "1"

type mapping struct {
	target error
	status int
	title  string
	code   string
}

// Order matters: InsufficientStock is checked before InvalidOrder because create
// failures carry both.
var mappings = []mapping{
	{shared.ErrStorageUnavailable, http.StatusServiceUnavailable, "Storage Unavailable", CodeStorageUnavailable},
	{shared.ErrInsufficientStock, http.StatusConflict, "Insufficient Stock", CodeInsufficientStock},
	{shared.ErrNotPending, http.StatusConflict, "Order Not Pending", CodeNotPending},
	{shared.ErrNotApproved, http.StatusConflict, "Order Not Approved", CodeNotApproved},
	{shared.ErrDuplicate, http.StatusConflict, "Duplicate", CodeDuplicate},
	{shared.ErrInvalidOrder, http.StatusUnprocessableEntity, "Invalid Order", CodeInvalidOrder},
	{shared.ErrInvalidQuantity, http.StatusUnprocessableEntity, "Invalid Quantity", CodeInvalidQuantity},
	{shared.ErrValidation, http.StatusBadRequest, "Validation Failed", CodeValidation},
	{shared.ErrProductNotFound, http.StatusNotFound, "Product Not Found", CodeProductNotFound},
	{shared.ErrNotFound, http.StatusNotFound, "Not Found", CodeNotFound},
	{shared.ErrUnauthorized, http.StatusUnauthorized, "Unauthorized", CodeUnauthorized},
	{shared.ErrForbidden, http.StatusForbidden, "Forbidden", CodeForbidden},
}

// Classify returns the HTTP status, title and code for err.
func Classify(err error) (int, string, string) {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.status, m.title, m.code
		}
	}
	return http.StatusInternalServerError, "Internal Error", CodeInternal
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status, title, code := Classify(err)
	detail := ""
	if status != http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		detail = err.Error()
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", RetryAfterSeconds)
	}
	Problem(w, status, title, code, detail)
}
