package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tolerance is the maximum absolute difference, in MYR, allowed between a
// stored total and the total recomputed from line items. 1 sen.
var Tolerance = decimal.NewFromFloat(0.01)

// TaxType is the Malaysian tax treatment code carried on each line item.
type TaxType string

const (
	TaxTypeSST           TaxType = "01" // Sales and Service Tax
	TaxTypeTourism       TaxType = "02" // Tourism Tax
	TaxTypeExempt        TaxType = "E"
	TaxTypeZeroRated     TaxType = "AE"
	TaxTypeNotApplicable TaxType = "NA"
)

var taxTypes = map[TaxType]bool{
	TaxTypeSST:           true,
	TaxTypeTourism:       true,
	TaxTypeExempt:        true,
	TaxTypeZeroRated:     true,
	TaxTypeNotApplicable: true,
}

func (t TaxType) Valid() bool {
	return taxTypes[t]
}

// Exempt reports whether the tax amount is forced to zero regardless of rate.
func (t TaxType) Exempt() bool {
	return t == TaxTypeExempt || t == TaxTypeNotApplicable
}

// LineInput is a single line item as received from callers.
type LineInput struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	TaxRate   decimal.Decimal // percentage, e.g. 6 for 6%
	TaxType   TaxType
}

// LineTotals is the derived money for one line item.
type LineTotals struct {
	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
}

// Totals is the invoice-level money derived from its line items.
type Totals struct {
	Subtotal   decimal.Decimal
	TaxTotal   decimal.Decimal
	GrandTotal decimal.Decimal
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ComputeLineTotals derives subtotal and tax for one line. The subtotal is
// rounded to 2dp before the tax rate is applied, and the tax amount is
// rounded again, so per-line amounts are always exact sen.
func ComputeLineTotals(in LineInput) LineTotals {
	subtotal := round2(in.Quantity.Mul(in.UnitPrice))
	tax := decimal.Zero
	if !in.TaxType.Exempt() {
		tax = round2(subtotal.Mul(in.TaxRate).Div(decimal.NewFromInt(100)))
	}
	return LineTotals{Subtotal: subtotal, TaxAmount: tax}
}

// ComputeTotals derives invoice totals from raw line inputs.
func ComputeTotals(lines []LineInput) Totals {
	items := make([]LineTotals, 0, len(lines))
	for _, line := range lines {
		items = append(items, ComputeLineTotals(line))
	}
	return SumItemTotals(items)
}

// SumItemTotals aggregates already-derived per-line amounts.
func SumItemTotals(items []LineTotals) Totals {
	subtotal := decimal.Zero
	taxTotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Subtotal)
		taxTotal = taxTotal.Add(item.TaxAmount)
	}
	return Totals{
		Subtotal:   round2(subtotal),
		TaxTotal:   round2(taxTotal),
		GrandTotal: round2(subtotal.Add(taxTotal)),
	}
}

// ReconcileResult reports whether stored totals match recomputed totals.
type ReconcileResult struct {
	Valid    bool
	Computed Totals
	Errors   []string
}

// Reconcile recomputes totals from per-line amounts and compares them to the
// stored invoice totals within Tolerance. Each mismatching total produces
// exactly one error.
func Reconcile(items []LineTotals, storedSubtotal, storedTaxTotal, storedGrandTotal decimal.Decimal) ReconcileResult {
	computed := SumItemTotals(items)

	var errs []string
	if computed.Subtotal.Sub(storedSubtotal).Abs().GreaterThan(Tolerance) {
		errs = append(errs, fmt.Sprintf("Subtotal mismatch: expected %s, got %s",
			Format(computed.Subtotal), Format(storedSubtotal)))
	}
	if computed.TaxTotal.Sub(storedTaxTotal).Abs().GreaterThan(Tolerance) {
		errs = append(errs, fmt.Sprintf("Tax total mismatch: expected %s, got %s",
			Format(computed.TaxTotal), Format(storedTaxTotal)))
	}
	if computed.GrandTotal.Sub(storedGrandTotal).Abs().GreaterThan(Tolerance) {
		errs = append(errs, fmt.Sprintf("Grand total mismatch: expected %s, got %s",
			Format(computed.GrandTotal), Format(storedGrandTotal)))
	}

	return ReconcileResult{
		Valid:    len(errs) == 0,
		Computed: computed,
		Errors:   errs,
	}
}

// Format renders an amount with exactly two decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Parse reads a decimal amount from its string form.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}
