package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/einvois/internal/lhdn/myinvois"
)

type SubmitResult struct {
	SubmissionUid string           `json:"submission_uid"`
	Status        SubmissionStatus `json:"status"`
}

type StatusResult struct {
	Status  string                             `json:"status"`
	Details *myinvois.SubmissionStatusResponse `json:"details,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type Service interface {
	// Submit sends a READY_FOR_SUBMISSION invoice to MyInvois. The invoice
	// moves to SUBMITTED on acceptance and REJECTED when MyInvois refuses
	// the document; a transport failure leaves it untouched for retry.
	Submit(ctx context.Context, businessID, invoiceID snowflake.ID) (SubmitResult, error)

	// PollStatus fetches the validation outcome of a submitted invoice and
	// settles it to VALIDATED or REJECTED when MyInvois has decided.
	PollStatus(ctx context.Context, businessID, invoiceID snowflake.ID) (StatusResult, error)

	// Cancel voids a VALIDATED invoice with MyInvois and marks it CANCELLED.
	Cancel(ctx context.Context, businessID, invoiceID snowflake.ID, reason string) error
}

var (
	ErrNotReady     = errors.New("invoice_not_ready_for_submission")
	ErrNotSubmitted = errors.New("invoice_not_submitted")
	ErrNotValidated = errors.New("invoice_not_validated")
	ErrMissingUuid  = errors.New("invoice_missing_lhdn_uuid")
)

// RejectionError is a document MyInvois refused, as opposed to a transport
// failure. It settles the invoice rather than leaving it retryable.
type RejectionError struct {
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("document rejected: %s", e.Message)
}
