package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type RequestUploadRequest struct {
	Filename    string `json:"filename" validate:"required"`
	ContentType string `json:"content_type"`
	FileSize    int64  `json:"file_size" validate:"gt=0"`
}

type RequestUploadResponse struct {
	StorageKey string `json:"storage_key"`
	UploadURL  string `json:"upload_url"`
	FileType   string `json:"file_type"`
}

type ConfirmUploadRequest struct {
	StorageKey       string  `json:"storage_key" validate:"required"`
	OriginalFilename string  `json:"original_filename" validate:"required"`
	BulkImportID     *string `json:"bulk_import_id"`
}

type ConfirmUploadResponse struct {
	Document  OcrDocument  `json:"document"`
	InvoiceID snowflake.ID `json:"invoice_id"`
}

type Service interface {
	RequestUpload(ctx context.Context, businessID snowflake.ID, req RequestUploadRequest) (RequestUploadResponse, error)
	ConfirmUpload(ctx context.Context, businessID snowflake.ID, req ConfirmUploadRequest) (ConfirmUploadResponse, error)
	GetByID(ctx context.Context, businessID, id snowflake.ID) (OcrDocument, error)
}

var (
	ErrDocumentNotFound    = errors.New("document_not_found")
	ErrUnsupportedFileType = errors.New("unsupported_file_type")
	ErrFileTooLarge        = errors.New("file_too_large")
	ErrUploadMissing       = errors.New("upload_missing")
)
