package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/einvois/pkg/db/pagination"
)

// ItemInput is a line item as submitted by callers. Quantity, unit price
// and tax rate are decimal strings; derived amounts are always recomputed
// server-side.
type ItemInput struct {
	Description        string  `json:"description" validate:"required"`
	ClassificationCode *string `json:"classification_code"`
	Quantity           string  `json:"quantity" validate:"required"`
	UnitCode           *string `json:"unit_code"`
	UnitPrice          string  `json:"unit_price" validate:"required"`
	TaxType            string  `json:"tax_type"`
	TaxRate            string  `json:"tax_rate"`
}

type CreateInvoiceRequest struct {
	InvoiceNumber           *string     `json:"invoice_number"`
	InvoiceType             *string     `json:"invoice_type" validate:"omitempty,oneof=01 02 03 04"`
	SupplierName            *string     `json:"supplier_name"`
	SupplierTIN             *string     `json:"supplier_tin"`
	BuyerName               *string     `json:"buyer_name"`
	BuyerTIN                *string     `json:"buyer_tin"`
	BuyerRegistrationNumber *string     `json:"buyer_registration_number"`
	BuyerEmail              *string     `json:"buyer_email" validate:"omitempty,email"`
	BuyerPhone              *string     `json:"buyer_phone"`
	CurrencyCode            *string     `json:"currency_code"`
	IssueDate               *string     `json:"issue_date"`
	DueDate                 *string     `json:"due_date"`
	Notes                   *string     `json:"notes"`
	Items                   []ItemInput `json:"items" validate:"dive"`
}

// UpdateInvoiceRequest replaces scalar fields when present and, when Items
// is non-nil, replaces the full item set.
type UpdateInvoiceRequest struct {
	InvoiceNumber           *string      `json:"invoice_number"`
	InvoiceType             *string      `json:"invoice_type" validate:"omitempty,oneof=01 02 03 04"`
	SupplierName            *string      `json:"supplier_name"`
	SupplierTIN             *string      `json:"supplier_tin"`
	SupplierRegistration    *string      `json:"supplier_registration"`
	BuyerName               *string      `json:"buyer_name"`
	BuyerTIN                *string      `json:"buyer_tin"`
	BuyerRegistrationNumber *string      `json:"buyer_registration_number"`
	BuyerSSTNumber          *string      `json:"buyer_sst_number"`
	BuyerEmail              *string      `json:"buyer_email" validate:"omitempty,email"`
	BuyerPhone              *string      `json:"buyer_phone"`
	BuyerAddressLine0       *string      `json:"buyer_address_line0"`
	BuyerAddressLine1       *string      `json:"buyer_address_line1"`
	BuyerCityName           *string      `json:"buyer_city_name"`
	BuyerStateCode          *string      `json:"buyer_state_code"`
	BuyerCountryCode        *string      `json:"buyer_country_code"`
	CurrencyCode            *string      `json:"currency_code"`
	IssueDate               *string      `json:"issue_date"`
	DueDate                 *string      `json:"due_date"`
	Notes                   *string      `json:"notes"`
	Items                   *[]ItemInput `json:"items" validate:"omitempty,dive"`
}

type ListInvoiceRequest struct {
	pagination.Pagination
	Status *InvoiceStatus `form:"status"`
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

// InvoiceWithItems is the full aggregate returned by reads.
type InvoiceWithItems struct {
	Invoice Invoice       `json:"invoice"`
	Items   []InvoiceItem `json:"items"`
}

// ExtractionApply is the field set the OCR pipeline materializes onto an
// invoice once structured extraction succeeds. TargetStatus is the triage
// outcome, REVIEW_REQUIRED or READY_FOR_SUBMISSION.
type ExtractionApply struct {
	InvoiceNumber        *string
	IssueDate            *string
	CurrencyCode         *string
	SupplierName         *string
	SupplierTIN          *string
	SupplierRegistration *string
	BuyerName            *string
	BuyerTIN             *string
	BuyerRegistration    *string
	BuyerEmail           *string
	BuyerPhone           *string
	BuyerAddressLine0    *string
	BuyerAddressLine1    *string
	BuyerCityName        *string
	BuyerStateCode       *string
	Items                []ItemInput
	TargetStatus         InvoiceStatus
}

type Service interface {
	Create(ctx context.Context, businessID snowflake.ID, req CreateInvoiceRequest) (InvoiceWithItems, error)
	List(ctx context.Context, businessID snowflake.ID, req ListInvoiceRequest) (ListInvoiceResponse, error)
	GetByID(ctx context.Context, businessID, id snowflake.ID) (InvoiceWithItems, error)
	Update(ctx context.Context, businessID, id snowflake.ID, req UpdateInvoiceRequest) (InvoiceWithItems, error)
	Finalize(ctx context.Context, businessID, id snowflake.ID) (InvoiceWithItems, error)
	Delete(ctx context.Context, businessID, id snowflake.ID) error

	// CreateForUpload opens an OCR_PROCESSING invoice shell bound to an
	// uploaded document, before any extraction has run.
	CreateForUpload(ctx context.Context, businessID, ocrDocumentID snowflake.ID) (Invoice, error)

	// ApplyExtraction replaces the full item set, updates header fields
	// and moves the invoice to the triage target, all in one transaction.
	ApplyExtraction(ctx context.Context, invoiceID snowflake.ID, apply ExtractionApply) (InvoiceWithItems, error)

	// ForceReviewRequired routes an invoice out of OCR_PROCESSING when the
	// pipeline fails, so it is never left stuck there.
	ForceReviewRequired(ctx context.Context, invoiceID snowflake.ID) error
}

var (
	ErrInvoiceNotFound  = errors.New("invoice_not_found")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrNotEditable      = errors.New("invoice_not_editable")
	ErrNotDeletable     = errors.New("invoice_not_deletable")
	ErrNoItems          = errors.New("invoice_has_no_items")
	ErrInvalidTaxType   = errors.New("invalid_tax_type")
	ErrInvalidAmount    = errors.New("invalid_amount")
)
