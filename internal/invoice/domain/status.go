package domain

import "fmt"

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	StatusDraft              InvoiceStatus = "DRAFT"
	StatusOCRProcessing      InvoiceStatus = "OCR_PROCESSING"
	StatusReviewRequired     InvoiceStatus = "REVIEW_REQUIRED"
	StatusReadyForSubmission InvoiceStatus = "READY_FOR_SUBMISSION"
	StatusSubmitted          InvoiceStatus = "SUBMITTED"
	StatusValidated          InvoiceStatus = "VALIDATED"
	StatusRejected           InvoiceStatus = "REJECTED"
	StatusCancelled          InvoiceStatus = "CANCELLED"
)

// allowedTransitions is the full lifecycle table. Guards beyond "the edge
// exists" (required fields, reconcile, credentials) live with the callers
// that own them.
var allowedTransitions = map[InvoiceStatus]map[InvoiceStatus]bool{
	StatusDraft: {
		StatusReadyForSubmission: true, // finalize
	},
	StatusOCRProcessing: {
		StatusReviewRequired:     true, // pipeline triage or failure
		StatusReadyForSubmission: true, // pipeline triage pass
	},
	StatusReviewRequired: {
		StatusReadyForSubmission: true, // finalize
	},
	StatusReadyForSubmission: {
		StatusSubmitted: true, // authority accepted
		StatusRejected:  true, // authority rejected the document
	},
	StatusSubmitted: {
		StatusValidated: true, // poll result Valid
		StatusRejected:  true, // poll result Invalid
	},
	StatusValidated: {
		StatusCancelled: true, // cancel via authority
	},
}

// InvalidTransitionError names the current and attempted status.
type InvalidTransitionError struct {
	From InvoiceStatus
	To   InvoiceStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

// Transition checks the lifecycle table for the requested edge.
func Transition(from, to InvoiceStatus) error {
	if allowedTransitions[from][to] {
		return nil
	}
	return &InvalidTransitionError{From: from, To: to}
}

// Editable reports whether invoice fields and items may still be mutated.
func (s InvoiceStatus) Editable() bool {
	return s == StatusDraft || s == StatusReviewRequired
}

// Deletable mirrors Editable: once an invoice has been queued for or seen
// by the authority it is never hard-deleted.
func (s InvoiceStatus) Deletable() bool {
	return s.Editable()
}
