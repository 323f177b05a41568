package orders

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	ChurchID int64       `json:"church_id" validate:"required,gt=0"`
	Items    []LineInput `json:"items" validate:"dive"`
}

// UpdateOrderRequest is the body of PUT /orders/{id}. A missing items field leaves the order unchanged.
type UpdateOrderRequest struct {
	Items []LineInput `json:"items" validate:"omitempty,dive"`
}

// SignOrderRequest is the optional body of PUT /orders/{id}/sign.
type SignOrderRequest struct {
	SignerID int64 `json:"signer_id" validate:"omitempty,gt=0"`
}
