package service

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	bulkimportdomain "github.com/smallbiznis/einvois/internal/bulkimport/domain"
	"github.com/smallbiznis/einvois/internal/clock"
	"github.com/smallbiznis/einvois/internal/config"
	documentdomain "github.com/smallbiznis/einvois/internal/document/domain"
	invoicedomain "github.com/smallbiznis/einvois/internal/invoice/domain"
	"github.com/smallbiznis/einvois/internal/pipeline/tasks"
	"github.com/smallbiznis/einvois/internal/storage"
	"github.com/smallbiznis/einvois/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const uploadURLExpiry = 15 * time.Minute

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Blobs      storage.BlobStore
	InvoiceSvc invoicedomain.Service
	BulkSvc    bulkimportdomain.Service
	Enqueuer   tasks.Enqueuer
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	cfg   config.Config

	blobs      storage.BlobStore
	invoiceSvc invoicedomain.Service
	bulkSvc    bulkimportdomain.Service
	enqueuer   tasks.Enqueuer
	repo       repository.Repository[documentdomain.OcrDocument]
}

func NewService(p Params) documentdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("document.service"),
		genID: p.GenID,
		clock: p.Clock,
		cfg:   p.Config,

		blobs:      p.Blobs,
		invoiceSvc: p.InvoiceSvc,
		bulkSvc:    p.BulkSvc,
		enqueuer:   p.Enqueuer,
		repo:       repository.ProvideStore[documentdomain.OcrDocument](p.DB),
	}
}

func (s *Service) RequestUpload(ctx context.Context, businessID snowflake.ID, req documentdomain.RequestUploadRequest) (documentdomain.RequestUploadResponse, error) {
	fileType, err := fileTypeFromFilename(req.Filename)
	if err != nil {
		return documentdomain.RequestUploadResponse{}, err
	}

	maxBytes := int64(s.cfg.MaxUploadSizeMB) * 1024 * 1024
	if req.FileSize > maxBytes {
		return documentdomain.RequestUploadResponse{}, documentdomain.ErrFileTooLarge
	}

	key := fmt.Sprintf("uploads/%s/%s.%s", businessID.String(), uuid.NewString(), fileType)
	uploadURL, err := s.blobs.SignedUploadURL(ctx, key, req.ContentType, uploadURLExpiry)
	if err != nil {
		return documentdomain.RequestUploadResponse{}, err
	}

	return documentdomain.RequestUploadResponse{
		StorageKey: key,
		UploadURL:  uploadURL,
		FileType:   string(fileType),
	}, nil
}

func (s *Service) ConfirmUpload(ctx context.Context, businessID snowflake.ID, req documentdomain.ConfirmUploadRequest) (documentdomain.ConfirmUploadResponse, error) {
	fileType, err := fileTypeFromFilename(req.OriginalFilename)
	if err != nil {
		return documentdomain.ConfirmUploadResponse{}, err
	}

	info, err := s.blobs.Head(ctx, req.StorageKey)
	if err != nil {
		if err == storage.ErrObjectNotFound {
			return documentdomain.ConfirmUploadResponse{}, documentdomain.ErrUploadMissing
		}
		return documentdomain.ConfirmUploadResponse{}, err
	}

	now := s.clock.Now()
	doc := documentdomain.OcrDocument{
		ID:               s.genID.Generate(),
		BusinessID:       businessID,
		StorageKey:       req.StorageKey,
		OriginalFilename: req.OriginalFilename,
		FileType:         fileType,
		FileSize:         info.Size,
		OcrStatus:        documentdomain.OcrStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Create(ctx, &doc); err != nil {
		return documentdomain.ConfirmUploadResponse{}, err
	}

	invoice, err := s.invoiceSvc.CreateForUpload(ctx, businessID, doc.ID)
	if err != nil {
		return documentdomain.ConfirmUploadResponse{}, err
	}

	doc.InvoiceID = &invoice.ID
	doc.UpdatedAt = s.clock.Now()
	if err := s.db.WithContext(ctx).Save(&doc).Error; err != nil {
		return documentdomain.ConfirmUploadResponse{}, err
	}

	if req.BulkImportID != nil && strings.TrimSpace(*req.BulkImportID) != "" {
		sessionID, err := snowflake.ParseString(strings.TrimSpace(*req.BulkImportID))
		if err != nil {
			return documentdomain.ConfirmUploadResponse{}, bulkimportdomain.ErrSessionNotFound
		}
		if err := s.bulkSvc.AttachInvoice(ctx, businessID, sessionID, invoice.ID); err != nil {
			return documentdomain.ConfirmUploadResponse{}, err
		}
	}

	if err := s.enqueuer.EnqueueOCRProcess(ctx, tasks.OCRProcessPayload{
		OcrDocumentID: doc.ID.String(),
		InvoiceID:     invoice.ID.String(),
	}); err != nil {
		return documentdomain.ConfirmUploadResponse{}, err
	}

	s.log.Info("upload confirmed",
		zap.String("document_id", doc.ID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("file_type", string(fileType)),
	)

	return documentdomain.ConfirmUploadResponse{Document: doc, InvoiceID: invoice.ID}, nil
}

func (s *Service) GetByID(ctx context.Context, businessID, id snowflake.ID) (documentdomain.OcrDocument, error) {
	doc, err := s.repo.FindOne(ctx, &documentdomain.OcrDocument{ID: id, BusinessID: businessID})
	if err != nil {
		return documentdomain.OcrDocument{}, err
	}
	if doc == nil {
		return documentdomain.OcrDocument{}, documentdomain.ErrDocumentNotFound
	}
	return *doc, nil
}

func fileTypeFromFilename(filename string) (documentdomain.FileType, error) {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	fileType := documentdomain.FileType(ext)
	if !fileType.Valid() {
		return "", documentdomain.ErrUnsupportedFileType
	}
	return fileType, nil
}
