package orders

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/supplyledger/internal/stock"
)

// ValidateLines checks the shape of a candidate item list.
func ValidateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidOrder)
	}
	for i, line := range lines {
		if line.ProductID <= 0 {
			return fmt.Errorf("%w: item %d has no product", ErrInvalidOrder, i+1)
		}
		if line.Qty <= 0 {
			return fmt.Errorf("%w: item %d quantity must be greater than zero", ErrInvalidOrder, i+1)
		}
		if line.Qty > stock.MaxQty {
			return fmt.Errorf("%w: item %d quantity exceeds %d", ErrInvalidOrder, i+1, stock.MaxQty)
		}
	}
	return nil
}

// Demand sums requested quantity per product. Sums are int64 so that many lines bounded by
// stock.MaxQty cannot wrap.
func Demand(lines []LineInput) map[int64]int64 {
	demand := make(map[int64]int64, len(lines))
	for _, line := range lines {
		demand[line.ProductID] += int64(line.Qty)
	}
	return demand
}

// ProductIDs returns the distinct product ids of lines in ascending order.
func ProductIDs(lines []LineInput) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// checkDemand verifies every product is active and covers the aggregated demand.
// Shortfalls match both ErrInvalidOrder and ErrInsufficientStock.
func checkDemand(demand map[int64]int64, products map[int64]stock.Product) error {
	ids := sortedKeys(demand)
	for _, id := range ids {
		p, ok := products[id]
		if !ok || !p.IsActive {
			return fmt.Errorf("%w: product %d not found or inactive", ErrInvalidOrder, id)
		}
	}
	if err := checkStock(demand, products); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}
	return nil
}

// maxSubtotal is the first value a NUMERIC(12,2) column cannot hold.
var maxSubtotal = decimal.New(1, 10)

// checkSubtotals rejects lines whose snapshot subtotal would not fit the order_items columns.
func checkSubtotals(lines []LineInput, products map[int64]stock.Product) error {
	for i, line := range lines {
		subtotal := products[line.ProductID].Price.Mul(decimal.NewFromInt(int64(line.Qty)))
		if subtotal.GreaterThanOrEqual(maxSubtotal) {
			return fmt.Errorf("%w: item %d subtotal %s is too large", ErrInvalidOrder, i+1, subtotal.StringFixed(2))
		}
	}
	return nil
}

// checkStock verifies locked product rows cover the aggregated demand.
func checkStock(demand map[int64]int64, products map[int64]stock.Product) error {
	for _, id := range sortedKeys(demand) {
		p, ok := products[id]
		if !ok {
			return fmt.Errorf("%w: product %d", stock.ErrProductNotFound, id)
		}
		if need := demand[id]; int64(p.StockQty) < need {
			return fmt.Errorf("%w: %s has %d %s, requested %d", ErrInsufficientStock, p.Name, p.StockQty, p.Unit, need)
		}
	}
	return nil
}

func sortedKeys(demand map[int64]int64) []int64 {
	ids := make([]int64, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// buildItems snapshots product prices into order items.
func buildItems(orderID int64, lines []LineInput, products map[int64]stock.Product) []Item {
	items := make([]Item, 0, len(lines))
	for _, line := range lines {
		price := products[line.ProductID].Price
		items = append(items, Item{
			OrderID:   orderID,
			ProductID: line.ProductID,
			Qty:       line.Qty,
			UnitPrice: price,
			Subtotal:  price.Mul(decimal.NewFromInt(int64(line.Qty))),
		})
	}
	return items
}
