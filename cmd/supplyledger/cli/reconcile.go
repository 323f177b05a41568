package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/odyssey-erp/supplyledger/internal/stock"
)

// Reconciler reports ledger discrepancies; satisfied by *stock.Service.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]stock.Discrepancy, error)
}

// ReconcileOptions controls the reconcile command output.
type ReconcileOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileCommand checks every product against its ledger and returns the process exit code:
// 0 when consistent, 1 on drift, 2 when the check could not run.
func ReconcileCommand(ctx context.Context, ledger Reconciler, opts ReconcileOptions) int {
	found, err := ledger.Reconcile(ctx)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return 2
	}
	if found == nil {
		found = []stock.Discrepancy{}
	}
	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"ok": len(found) == 0, "discrepancies": found}); err != nil {
			fmt.Fprintf(opts.Stderr, "reconcile: encode: %v\n", err)
			return 2
		}
	} else if len(found) == 0 {
		fmt.Fprintln(opts.Stdout, "ledger consistent")
	} else {
		tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PRODUCT\tNAME\tSTOCK\tEXPECTED")
		for _, d := range found {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%d\n", d.ProductID, d.Name, d.StockQty, d.Expected)
		}
		_ = tw.Flush()
	}
	if len(found) > 0 {
		return 1
	}
	return 0
}
