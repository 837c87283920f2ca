// Package domain contains persistence models and contracts for bulk
// invoice import sessions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type ImportSource string

const (
	SourceCSV       ImportSource = "CSV"
	SourceDocuments ImportSource = "DOCUMENTS"
)

type ImportStatus string

const (
	ImportQueued     ImportStatus = "QUEUED"
	ImportProcessing ImportStatus = "PROCESSING"
	ImportCompleted  ImportStatus = "COMPLETED"
	ImportFailed     ImportStatus = "FAILED"
)

// BulkImport is one import session: either a queued CSV file or a document
// session that collects OCR uploads as they are confirmed.
type BulkImport struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	BusinessID       snowflake.ID `gorm:"not null;index"`
	StorageKey       string       `gorm:"type:text;not null"`
	OriginalFilename string       `gorm:"type:text;not null"`
	Source           ImportSource `gorm:"type:text;not null"`
	Status           ImportStatus `gorm:"type:text;not null"`
	TotalRows        *int         `gorm:""`
	SuccessCount     int          `gorm:"not null;default:0"`
	ErrorCount       int          `gorm:"not null;default:0"`
	ErrorSummary     *string      `gorm:"type:text"`
	ProcessingError  *string      `gorm:"type:text"`
	CompletedAt      *time.Time   `gorm:""`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BulkImport) TableName() string { return "bulk_imports" }

// BulkImportInvoice links an invoice to its session. The unique index makes
// attaching idempotent under concurrent upload confirmations.
type BulkImportInvoice struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	BulkImportID snowflake.ID `gorm:"not null;index;uniqueIndex:idx_bulk_import_invoice"`
	InvoiceID    snowflake.ID `gorm:"not null;uniqueIndex:idx_bulk_import_invoice"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BulkImportInvoice) TableName() string { return "bulk_import_invoices" }
