package stock

import (
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/supplyledger/internal/shared"
)

// MovementKind enumerates ledger entry kinds.
type MovementKind string

const (
	// KindInbound adds stock (purchases, donations, returns).
	KindInbound MovementKind = "INBOUND"
	// KindOutboundOrder removes stock for an approved order.
	KindOutboundOrder MovementKind = "OUTBOUND_ORDER"
	// KindOutboundManual removes stock outside the order workflow.
	KindOutboundManual MovementKind = "OUTBOUND_MANUAL"
	// KindLoss records breakage, expiry or theft.
	KindLoss MovementKind = "LOSS"
)

// Kinds lists every supported movement kind.
var Kinds = []MovementKind{KindInbound, KindOutboundOrder, KindOutboundManual, KindLoss}

// IsValid reports whether k is a known kind.
func (k MovementKind) IsValid() bool {
	return slices.Contains(Kinds, k)
}

// Sign is +1 for INBOUND and -1 for every other kind.
func (k MovementKind) Sign() int {
	if k == KindInbound {
		return 1
	}
	return -1
}

// Delta returns the signed stock change for qty units.
func (k MovementKind) Delta(qty int) int {
	return k.Sign() * qty
}

// MaxNoteLength bounds movement notes.
const MaxNoteLength = 255

// MaxQty bounds quantities, balances and thresholds, which are stored as INTEGER.
const MaxQty = math.MaxInt32

// MaxPrice is the first price a NUMERIC(12,2) column cannot hold.
var MaxPrice = decimal.New(1, 10)

// Product is the stockable catalog item. StockQty is the ledger projection.
type Product struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Unit              string          `json:"unit"`
	Price             decimal.Decimal `json:"price"`
	InitialStock      int             `json:"initial_stock"`
	StockQty          int             `json:"stock_qty"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	IsActive          bool            `json:"is_active"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Available reports whether qty units can currently be taken.
func (p Product) Available(qty int) bool {
	return p.IsActive && p.StockQty >= qty
}

// IsLowStock reports whether stock sits at or below the alert threshold.
func (p Product) IsLowStock() bool {
	return p.StockQty <= p.LowStockThreshold
}

// Movement is an immutable ledger entry.
type Movement struct {
	ID             int64        `json:"id"`
	ProductID      int64        `json:"product_id"`
	Kind           MovementKind `json:"kind"`
	Qty            int          `json:"qty"`
	Note           string       `json:"note,omitempty"`
	RelatedOrderID *int64       `json:"related_order_id,omitempty"`
	BalanceAfter   int          `json:"balance_after"`
	ActorID        *int64       `json:"actor_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Delta returns the signed quantity this movement applied.
func (m Movement) Delta() int {
	return m.Kind.Delta(m.Qty)
}

// MovementInput describes a request to append a ledger entry.
type MovementInput struct {
	ProductID      int64
	Kind           MovementKind
	Qty            int
	Note           string
	RelatedOrderID *int64
	ActorID        int64
	IdempotencyKey string
}

// Posting pairs a recorded movement with the product state it produced.
type Posting struct {
	Movement Movement
	Product  Product
}

// MovementFilter narrows movement listings. Zero values mean no filter.
type MovementFilter struct {
	ProductID int64
	Kind      MovementKind
	From      time.Time
	To        time.Time
	Page      int
	PerPage   int
}

// MovementPage is one page of movements, newest first.
type MovementPage struct {
	Items      []Movement        `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

// ProductInput registers a product with its opening stock.
type ProductInput struct {
	Name              string
	Unit              string
	Price             decimal.Decimal
	InitialStock      int
	LowStockThreshold int
	Inactive          bool
}

// ProductUpdate is a partial catalog change; nil fields stay as they are.
// Stock is not editable here, it only moves through the ledger.
type ProductUpdate struct {
	Name              *string
	Unit              *string
	Price             *decimal.Decimal
	LowStockThreshold *int
	IsActive          *bool
}

// IsEmpty reports whether the update changes nothing.
func (u ProductUpdate) IsEmpty() bool {
	return u.Name == nil && u.Unit == nil && u.Price == nil && u.LowStockThreshold == nil && u.IsActive == nil
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	Search          string
	IncludeInactive bool
	Page            int
	PerPage         int
}

// ProductPage is one page of products ordered by name.
type ProductPage struct {
	Items      []Product         `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

// Discrepancy reports a product whose projection drifted from its ledger.
type Discrepancy struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	StockQty  int    `json:"stock_qty"`
	Expected  int    `json:"expected"`
}
