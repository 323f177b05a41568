// Package orders implements the supply request workflow: creation against available stock,
// approval that posts the ledger, delivery and signature.
package orders

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/supplyledger/internal/shared"
)

// Status represents the lifecycle of an order.
type Status string

const (
	StatusPending   Status = "PENDING"   // Editable, no stock effect
	StatusApproved  Status = "APPROVED"  // Stock deducted through the ledger
	StatusDelivered Status = "DELIVERED" // Handed over to the church
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDelivered:
		return true
	default:
		return false
	}
}

// CanEdit checks if the item list may be replaced.
func (s Status) CanEdit() bool {
	return s == StatusPending
}

// CanApprove checks if the order may be approved.
func (s Status) CanApprove() bool {
	return s == StatusPending
}

// CanDeliver checks if the order may be delivered.
func (s Status) CanDeliver() bool {
	return s == StatusApproved
}

// Order is a supply request placed by a user on behalf of a church.
type Order struct {
	ID          int64           `json:"id"`
	RequesterID int64           `json:"requester_id"`
	ChurchID    int64           `json:"church_id"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
	SignedBy    *int64          `json:"signed_by,omitempty"`
	SignedAt    *time.Time      `json:"signed_at,omitempty"`
	Items       []Item          `json:"items"`
	Total       decimal.Decimal `json:"total"`
}

// Item is an order line with a price snapshot taken when the line was written.
type Item struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// SetItems replaces the items and recomputes Total.
func (o *Order) SetItems(items []Item) {
	o.Items = items
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal)
	}
	o.Total = total
}

// Approve moves a pending order to APPROVED.
func (o *Order) Approve(at time.Time) error {
	if !o.Status.CanApprove() {
		return fmt.Errorf("%w: order %d is %s", ErrNotPending, o.ID, o.Status)
	}
	o.Status = StatusApproved
	o.ApprovedAt = &at
	return nil
}

// Deliver moves an approved order to DELIVERED.
func (o *Order) Deliver(at time.Time) error {
	if !o.Status.CanDeliver() {
		return fmt.Errorf("%w: order %d is %s", ErrNotApproved, o.ID, o.Status)
	}
	o.Status = StatusDelivered
	o.DeliveredAt = &at
	return nil
}

// Sign records the signer in any state; a later signature replaces an earlier one.
func (o *Order) Sign(signer int64, at time.Time) error {
	if signer <= 0 {
		return fmt.Errorf("%w: signer required", shared.ErrValidation)
	}
	o.SignedBy = &signer
	o.SignedAt = &at
	return nil
}

// LineInput is a requested product quantity.
type LineInput struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Qty       int   `json:"qty" validate:"lte=2147483647"`
}

// ListFilter narrows order listings. Zero values mean no filter.
type ListFilter struct {
	RequesterID int64
	ChurchID    int64
	Status      Status
	Page        int
	PerPage     int
}

// OrderPage is one page of orders, newest first.
type OrderPage struct {
	Items      []Order           `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}
