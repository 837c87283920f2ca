package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	documentdomain "github.com/smallbiznis/einvois/internal/document/domain"
	invoicedomain "github.com/smallbiznis/einvois/internal/invoice/domain"
	"github.com/smallbiznis/einvois/pkg/db/pagination"
)

// SessionStats is derived from current invoice statuses on every read, so
// it tracks pipeline progress without a cache to invalidate.
type SessionStats struct {
	Total      int `json:"total"`
	Ready      int `json:"ready"`
	Reviewing  int `json:"reviewing"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
}

type SessionInvoice struct {
	Invoice  invoicedomain.Invoice       `json:"invoice"`
	Document *documentdomain.OcrDocument `json:"ocr_document,omitempty"`
}

type SessionWithInvoices struct {
	Session  BulkImport       `json:"session"`
	Invoices []SessionInvoice `json:"invoices"`
	Stats    SessionStats     `json:"stats"`
}

type SubmitItemResult struct {
	InvoiceID     snowflake.ID `json:"invoice_id"`
	Success       bool         `json:"success"`
	SubmissionUid string       `json:"submission_uid,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// SubmitReadyResult reports the settled batch: every ready invoice gets
// exactly one outcome and Submitted+Failed always equals Total.
type SubmitReadyResult struct {
	Total     int                `json:"total"`
	Submitted int                `json:"submitted"`
	Failed    int                `json:"failed"`
	Results   []SubmitItemResult `json:"results"`
}

type ListImportsRequest struct {
	pagination.Pagination
}

type ListImportsResponse struct {
	Data     []BulkImport         `json:"data"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

type Service interface {
	// InitiateCSVUpload stores the CSV, records a QUEUED session and
	// enqueues the processing job.
	InitiateCSVUpload(ctx context.Context, businessID snowflake.ID, filename string, data []byte) (BulkImport, error)

	// CreateDocumentSession opens a PROCESSING session that OCR uploads
	// attach to as they are confirmed.
	CreateDocumentSession(ctx context.Context, businessID snowflake.ID) (BulkImport, error)

	// AttachInvoice links an invoice to a session. Attaching the same
	// invoice twice is a no-op.
	AttachInvoice(ctx context.Context, businessID, sessionID, invoiceID snowflake.ID) error

	GetSession(ctx context.Context, businessID, sessionID snowflake.ID) (BulkImport, error)
	GetSessionWithInvoices(ctx context.Context, businessID, sessionID snowflake.ID) (SessionWithInvoices, error)
	List(ctx context.Context, businessID snowflake.ID, req ListImportsRequest) (ListImportsResponse, error)

	// SubmitReady submits every READY_FOR_SUBMISSION invoice in the session
	// independently. One invoice failing never aborts the rest.
	SubmitReady(ctx context.Context, businessID, sessionID snowflake.ID) (SubmitReadyResult, error)

	// ProcessCSV runs the queued CSV job: parse rows, create one invoice
	// per row, record per-row errors and settle the session.
	ProcessCSV(ctx context.Context, bulkImportID snowflake.ID) error
}

var (
	ErrSessionNotFound  = errors.New("bulk_import_not_found")
	ErrCSVRequired      = errors.New("csv_file_required")
	ErrFileTooLarge     = errors.New("file_too_large")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
