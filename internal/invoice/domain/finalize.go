package domain

import "strings"

// FinalizeError carries every guard failure found during finalization so
// the caller can fix all of them in one pass.
type FinalizeError struct {
	Reasons []string
}

func (e *FinalizeError) Error() string {
	return "invoice cannot be finalized: " + strings.Join(e.Reasons, "; ")
}

// FinalizeRequiredFields lists the guard failures for missing header
// fields. Totals reconciliation is checked separately by the service.
func FinalizeRequiredFields(inv Invoice) []string {
	var reasons []string
	missing := func(v *string) bool { return v == nil || strings.TrimSpace(*v) == "" }

	if missing(inv.InvoiceNumber) {
		reasons = append(reasons, "invoiceNumber is required")
	}
	if missing(inv.IssueDate) {
		reasons = append(reasons, "issueDate is required")
	}
	if missing(inv.SupplierName) {
		reasons = append(reasons, "supplierName is required")
	}
	if missing(inv.SupplierTIN) {
		reasons = append(reasons, "supplierTin is required")
	}
	if missing(inv.BuyerName) {
		reasons = append(reasons, "buyerName is required")
	}
	if missing(inv.BuyerTIN) {
		reasons = append(reasons, "buyerTin is required")
	}
	return reasons
}
