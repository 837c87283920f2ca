package extraction

import "fmt"

// Confidence thresholds for routing extracted invoices.
const (
	criticalFieldMin = 0.60
	overallMin       = 0.75

	// autoApproveMin is the bar for skipping review entirely when every
	// other check passes. Kept separate from overallMin so it can be raised
	// independently.
	autoApproveMin = 0.80
)

// TriageResult decides whether an extracted invoice can go straight to
// READY_FOR_SUBMISSION or needs a human in REVIEW_REQUIRED.
type TriageResult struct {
	NeedsReview bool
	Reasons     []string
}

// Triage checks the critical fields an e-invoice cannot be submitted
// without: supplier name and TIN, invoice number and date, and the grand
// total. A missing field, a low-confidence field, low overall confidence or
// an empty line item list all force review.
func Triage(data *ExtractedInvoice) TriageResult {
	var reasons []string

	critical := []struct {
		label      string
		present    bool
		confidence float64
	}{
		{"supplier.name", data.Supplier.Name != nil, data.Supplier.Confidence.Name},
		{"supplier.tin", data.Supplier.Tin != nil, data.Supplier.Confidence.Tin},
		{"invoice.number", data.Invoice.Number != nil, data.Invoice.Confidence.Number},
		{"invoice.date", data.Invoice.Date != nil, data.Invoice.Confidence.Date},
		{"totals.grand_total", data.Totals.GrandTotal != nil, data.Totals.Confidence.GrandTotal},
	}

	for _, c := range critical {
		if !c.present {
			reasons = append(reasons, fmt.Sprintf("Missing critical field: %s", c.label))
		} else if c.confidence < criticalFieldMin {
			reasons = append(reasons, fmt.Sprintf("Low confidence on %s: %.0f%%", c.label, c.confidence*100))
		}
	}

	if data.OverallConfidence < overallMin {
		reasons = append(reasons, fmt.Sprintf("Overall confidence too low: %.0f%% (min %.0f%%)", data.OverallConfidence*100, overallMin*100))
	}

	if len(data.LineItems) == 0 {
		reasons = append(reasons, "No line items extracted")
	}

	return TriageResult{
		NeedsReview: len(reasons) > 0,
		Reasons:     reasons,
	}
}
