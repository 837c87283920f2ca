// Package domain contains persistence models and contracts for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/einvois/internal/money"
)

// Invoice is the central aggregate. Money columns are fixed two-decimal
// strings, never floats.
type Invoice struct {
	ID            snowflake.ID  `gorm:"primaryKey"`
	BusinessID    snowflake.ID  `gorm:"not null;index"`
	OcrDocumentID *snowflake.ID `gorm:"index"`
	InvoiceNumber *string       `gorm:"type:text"`
	InvoiceType   string        `gorm:"type:text;not null;default:'01'"`
	Status        InvoiceStatus `gorm:"type:text;not null;default:'DRAFT'"`

	SupplierName         *string `gorm:"type:text"`
	SupplierTIN          *string `gorm:"type:text"`
	SupplierRegistration *string `gorm:"type:text"`

	BuyerName               *string `gorm:"type:text"`
	BuyerTIN                *string `gorm:"type:text"`
	BuyerRegistrationNumber *string `gorm:"type:text"`
	BuyerSSTNumber          *string `gorm:"type:text"`
	BuyerEmail              *string `gorm:"type:text"`
	BuyerPhone              *string `gorm:"type:text"`
	BuyerAddressLine0       *string `gorm:"type:text"`
	BuyerAddressLine1       *string `gorm:"type:text"`
	BuyerCityName           *string `gorm:"type:text"`
	BuyerStateCode          *string `gorm:"type:text"`
	BuyerCountryCode        string  `gorm:"type:text;not null;default:'MYS'"`

	CurrencyCode string `gorm:"type:text;not null;default:'MYR'"`
	Subtotal     string `gorm:"type:text;not null;default:'0.00'"`
	TaxTotal     string `gorm:"type:text;not null;default:'0.00'"`
	GrandTotal   string `gorm:"type:text;not null;default:'0.00'"`

	IssueDate *string `gorm:"type:text"` // ISO date, YYYY-MM-DD
	DueDate   *string `gorm:"type:text"`
	Notes     *string `gorm:"type:text"`

	// Explicit column names: gorm's naming strategy splits the LHDN
	// prefix on its initialism table (lh_dn...), which would diverge
	// from the raw update keys the submission service writes.
	LHDNUuid             *string    `gorm:"column:lhdn_uuid;type:text"`
	LHDNSubmissionUid    *string    `gorm:"column:lhdn_submission_uid;type:text"`
	LHDNValidationStatus *string    `gorm:"column:lhdn_validation_status;type:text"`
	LHDNSubmittedAt      *time.Time `gorm:"column:lhdn_submitted_at"`
	LHDNValidatedAt      *time.Time `gorm:"column:lhdn_validated_at"`

	PDFStorageKey *string   `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem is a line on an invoice. Items are replaced wholesale on
// every edit, there is no partial item update.
type InvoiceItem struct {
	ID                 snowflake.ID  `gorm:"primaryKey"`
	InvoiceID          snowflake.ID  `gorm:"not null;index"`
	Description        string        `gorm:"type:text;not null"`
	ClassificationCode string        `gorm:"type:text;not null;default:'001'"`
	Quantity           string        `gorm:"type:text;not null"`
	UnitCode           string        `gorm:"type:text;not null;default:'UNT'"`
	UnitPrice          string        `gorm:"type:text;not null"`
	Subtotal           string        `gorm:"type:text;not null"`
	TaxType            money.TaxType `gorm:"type:text;not null"`
	TaxRate            string        `gorm:"type:text;not null;default:'0'"`
	TaxAmount          string        `gorm:"type:text;not null;default:'0.00'"`
	Total              string        `gorm:"type:text;not null"`
	SortOrder          int           `gorm:"not null;default:0"`
	CreatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }
