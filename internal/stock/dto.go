package stock

import "github.com/shopspring/decimal"

// RecordMovementRequest is the body of POST /stock/movements.
type RecordMovementRequest struct {
	ProductID      int64  `json:"product_id" validate:"required,gt=0"`
	Kind           string `json:"kind" validate:"required,oneof=INBOUND OUTBOUND_ORDER OUTBOUND_MANUAL LOSS"`
	Qty            int    `json:"qty" validate:"lte=2147483647"`
	Note           string `json:"note" validate:"max=255"`
	RelatedOrderID *int64 `json:"related_order_id,omitempty" validate:"omitempty,gt=0"`
}

// LowStockResponse lists products at or below threshold.
type LowStockResponse struct {
	Items []Product `json:"items"`
}

// CreateProductRequest is the body of POST /stock/products.
type CreateProductRequest struct {
	Name              string          `json:"name" validate:"required,max=200"`
	Unit              string          `json:"unit" validate:"required,max=20"`
	Price             decimal.Decimal `json:"price"`
	InitialStock      int             `json:"initial_stock" validate:"gte=0,lte=2147483647"`
	LowStockThreshold int             `json:"low_stock_threshold" validate:"gte=0,lte=2147483647"`
	IsActive          *bool           `json:"is_active,omitempty"`
}

// UpdateProductRequest is the body of PUT /stock/products/{id}. Absent fields are kept.
type UpdateProductRequest struct {
	Name              *string          `json:"name,omitempty" validate:"omitempty,max=200"`
	Unit              *string          `json:"unit,omitempty" validate:"omitempty,max=20"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	LowStockThreshold *int             `json:"low_stock_threshold,omitempty" validate:"omitempty,gte=0,lte=2147483647"`
	IsActive          *bool            `json:"is_active,omitempty"`
}
