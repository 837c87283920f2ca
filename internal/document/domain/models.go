// Package domain contains the uploaded-document model and contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// OcrStatus tracks one extraction attempt over an uploaded file.
type OcrStatus string

const (
	OcrStatusPending    OcrStatus = "PENDING"
	OcrStatusProcessing OcrStatus = "PROCESSING"
	OcrStatusCompleted  OcrStatus = "COMPLETED"
	OcrStatusFailed     OcrStatus = "FAILED"
)

// FileType is the detected upload format. The extractor is chosen purely
// by this tag, never by content sniffing.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeJPG  FileType = "jpg"
	FileTypeJPEG FileType = "jpeg"
	FileTypePNG  FileType = "png"
)

var fileTypes = map[FileType]bool{
	FileTypePDF:  true,
	FileTypeJPG:  true,
	FileTypeJPEG: true,
	FileTypePNG:  true,
}

func (f FileType) Valid() bool { return fileTypes[f] }

// Image reports whether the vision extractor handles this format.
func (f FileType) Image() bool { return f.Valid() && f != FileTypePDF }

// OcrDocument represents one uploaded file and its extraction attempt.
// Created at upload confirmation, mutated only by the pipeline, never
// deleted.
type OcrDocument struct {
	ID               snowflake.ID  `gorm:"primaryKey"`
	InvoiceID        *snowflake.ID `gorm:"index"`
	BusinessID       snowflake.ID  `gorm:"not null;index"`
	StorageKey       string        `gorm:"type:text;not null"`
	OriginalFilename string        `gorm:"type:text;not null"`
	FileType         FileType      `gorm:"type:text;not null"`
	FileSize         int64         `gorm:"not null"`
	OcrStatus        OcrStatus     `gorm:"type:text;not null;default:'PENDING'"`
	RawText          *string       `gorm:"type:text"`
	ExtractedJSON    *string       `gorm:"type:text"`
	ConfidenceScore  *string       `gorm:"type:text"` // e.g. "0.87"
	ProcessingError  *string       `gorm:"type:text"`
	ProcessedAt      *time.Time    `gorm:""`
	CreatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OcrDocument) TableName() string { return "ocr_documents" }
