package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/einvois/internal/audit/domain"
	bulkdomain "github.com/smallbiznis/einvois/internal/bulkimport/domain"
	"github.com/smallbiznis/einvois/internal/clock"
	documentdomain "github.com/smallbiznis/einvois/internal/document/domain"
	invoicedomain "github.com/smallbiznis/einvois/internal/invoice/domain"
	lhdndomain "github.com/smallbiznis/einvois/internal/lhdn/domain"
	"github.com/smallbiznis/einvois/internal/observability/metrics"
	"github.com/smallbiznis/einvois/internal/pipeline/tasks"
	"github.com/smallbiznis/einvois/internal/storage"
	"github.com/smallbiznis/einvois/pkg/db"
	"github.com/smallbiznis/einvois/pkg/db/option"
	"github.com/smallbiznis/einvois/pkg/db/pagination"
	"github.com/smallbiznis/einvois/pkg/repository"
)

const (
	maxFileSizeBytes = 5 << 20
	maxRows          = 500
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Blob       storage.BlobStore
	Enqueuer   tasks.Enqueuer
	InvoiceSvc invoicedomain.Service
	LhdnSvc    lhdndomain.Service
	AuditSvc   auditdomain.Service
	Metrics    *metrics.Metrics
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	blob       storage.BlobStore
	enqueuer   tasks.Enqueuer
	invoiceSvc invoicedomain.Service
	lhdnSvc    lhdndomain.Service
	auditSvc   auditdomain.Service
	metrics    *metrics.Metrics

	sessionrepo repository.Repository[bulkdomain.BulkImport]
	linkrepo    repository.Repository[bulkdomain.BulkImportInvoice]
}

func NewService(p Params) bulkdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("bulkimport.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		blob:       p.Blob,
		enqueuer:   p.Enqueuer,
		invoiceSvc: p.InvoiceSvc,
		lhdnSvc:    p.LhdnSvc,
		auditSvc:   p.AuditSvc,
		metrics:    p.Metrics,

		sessionrepo: repository.ProvideStore[bulkdomain.BulkImport](p.DB),
		linkrepo:    repository.ProvideStore[bulkdomain.BulkImportInvoice](p.DB),
	}
}

func (s *Service) InitiateCSVUpload(ctx context.Context, businessID snowflake.ID, filename string, data []byte) (bulkdomain.BulkImport, error) {
	if !strings.HasSuffix(strings.ToLower(filename), ".csv") {
		return bulkdomain.BulkImport{}, bulkdomain.ErrCSVRequired
	}
	if len(data) > maxFileSizeBytes {
		return bulkdomain.BulkImport{}, bulkdomain.ErrFileTooLarge
	}

	key := fmt.Sprintf("bulk-imports/%s/%s.csv", businessID, uuid.NewString())
	if err := s.blob.Put(ctx, key, data, "text/csv"); err != nil {
		return bulkdomain.BulkImport{}, err
	}

	now := s.clock.Now()
	session := bulkdomain.BulkImport{
		ID:               s.genID.Generate(),
		BusinessID:       businessID,
		StorageKey:       key,
		OriginalFilename: filename,
		Source:           bulkdomain.SourceCSV,
		Status:           bulkdomain.ImportQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.sessionrepo.Create(ctx, &session); err != nil {
		return bulkdomain.BulkImport{}, err
	}

	if err := s.enqueuer.EnqueueBulkImportProcess(ctx, tasks.BulkImportProcessPayload{
		BulkImportID: session.ID.String(),
	}); err != nil {
		return bulkdomain.BulkImport{}, err
	}

	s.audit(ctx, businessID, "bulkimport.csv_queued", session.ID, map[string]any{
		"filename": filename,
	})
	return session, nil
}

func (s *Service) CreateDocumentSession(ctx context.Context, businessID snowflake.ID) (bulkdomain.BulkImport, error) {
	now := s.clock.Now()
	id := s.genID.Generate()
	zero := 0
	session := bulkdomain.BulkImport{
		ID:               id,
		BusinessID:       businessID,
		StorageKey:       fmt.Sprintf("sessions/%s/%s", businessID, id),
		OriginalFilename: "Document Session",
		Source:           bulkdomain.SourceDocuments,
		Status:           bulkdomain.ImportProcessing,
		TotalRows:        &zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.sessionrepo.Create(ctx, &session); err != nil {
		return bulkdomain.BulkImport{}, err
	}

	s.audit(ctx, businessID, "bulkimport.session_created", id, nil)
	return session, nil
}

func (s *Service) AttachInvoice(ctx context.Context, businessID, sessionID, invoiceID snowflake.ID) error {
	session, err := s.loadSession(ctx, businessID, sessionID)
	if err != nil {
		return err
	}

	link := bulkdomain.BulkImportInvoice{
		ID:           s.genID.Generate(),
		BulkImportID: session.ID,
		InvoiceID:    invoiceID,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.linkrepo.Create(ctx, &link); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil
		}
		return err
	}

	count, err := s.linkrepo.Count(ctx, &bulkdomain.BulkImportInvoice{BulkImportID: session.ID})
	if err != nil {
		return err
	}
	total := int(count)
	return s.sessionrepo.Update(ctx, session.ID.String(), map[string]any{
		"total_rows": total,
		"updated_at": s.clock.Now(),
	})
}

func (s *Service) GetSession(ctx context.Context, businessID, sessionID snowflake.ID) (bulkdomain.BulkImport, error) {
	session, err := s.loadSession(ctx, businessID, sessionID)
	if err != nil {
		return bulkdomain.BulkImport{}, err
	}
	return *session, nil
}

func (s *Service) GetSessionWithInvoices(ctx context.Context, businessID, sessionID snowflake.ID) (bulkdomain.SessionWithInvoices, error) {
	session, err := s.loadSession(ctx, businessID, sessionID)
	if err != nil {
		return bulkdomain.SessionWithInvoices{}, err
	}

	var invoices []invoicedomain.Invoice
	err = s.db.WithContext(ctx).
		Where("id IN (?)", s.db.Model(&bulkdomain.BulkImportInvoice{}).
			Select("invoice_id").
			Where("bulk_import_id = ?", sessionID)).
		Order("created_at asc").
		Find(&invoices).Error
	if err != nil {
		return bulkdomain.SessionWithInvoices{}, err
	}

	result := bulkdomain.SessionWithInvoices{
		Session:  *session,
		Invoices: make([]bulkdomain.SessionInvoice, 0, len(invoices)),
	}
	result.Stats.Total = len(invoices)

	for _, invoice := range invoices {
		entry := bulkdomain.SessionInvoice{Invoice: invoice}
		if invoice.OcrDocumentID != nil {
			var doc documentdomain.OcrDocument
			if err := s.db.WithContext(ctx).First(&doc, "id = ?", *invoice.OcrDocumentID).Error; err == nil {
				entry.Document = &doc
			}
		}
		result.Invoices = append(result.Invoices, entry)

		switch invoice.Status {
		case invoicedomain.StatusReadyForSubmission:
			result.Stats.Ready++
		case invoicedomain.StatusReviewRequired:
			result.Stats.Reviewing++
		case invoicedomain.StatusOCRProcessing:
			result.Stats.Processing++
		case invoicedomain.StatusRejected:
			result.Stats.Failed++
		}
	}
	return result, nil
}

func (s *Service) List(ctx context.Context, businessID snowflake.ID, req bulkdomain.ListImportsRequest) (bulkdomain.ListImportsResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
		option.WithLimit(pageSize + 1),
	}
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return bulkdomain.ListImportsResponse{}, bulkdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339, decoded.CreatedAt)
		if err != nil {
			return bulkdomain.ListImportsResponse{}, bulkdomain.ErrInvalidPageToken
		}
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.LT,
			Value:    createdAt,
		}))
	}

	rows, err := s.sessionrepo.Find(ctx, &bulkdomain.BulkImport{BusinessID: businessID}, opts...)
	if err != nil {
		return bulkdomain.ListImportsResponse{}, err
	}

	pageInfo, rows := pagination.BuildCursorPageInfo(rows, pageSize, func(row *bulkdomain.BulkImport) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        row.ID.String(),
			CreatedAt: row.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})

	data := make([]bulkdomain.BulkImport, 0, len(rows))
	for _, row := range rows {
		data = append(data, *row)
	}
	return bulkdomain.ListImportsResponse{Data: data, PageInfo: pageInfo}, nil
}

func (s *Service) SubmitReady(ctx context.Context, businessID, sessionID snowflake.ID) (bulkdomain.SubmitReadyResult, error) {
	session, err := s.GetSessionWithInvoices(ctx, businessID, sessionID)
	if err != nil {
		return bulkdomain.SubmitReadyResult{}, err
	}

	result := bulkdomain.SubmitReadyResult{Results: []bulkdomain.SubmitItemResult{}}
	for _, entry := range session.Invoices {
		if entry.Invoice.Status != invoicedomain.StatusReadyForSubmission {
			continue
		}

		item := bulkdomain.SubmitItemResult{InvoiceID: entry.Invoice.ID}
		submitted, err := s.lhdnSvc.Submit(ctx, businessID, entry.Invoice.ID)
		if err != nil {
			item.Error = err.Error()
			result.Failed++
		} else {
			item.Success = true
			item.SubmissionUid = submitted.SubmissionUid
			result.Submitted++
		}
		result.Total++
		result.Results = append(result.Results, item)
	}

	s.audit(ctx, businessID, "bulkimport.submit_ready", sessionID, map[string]any{
		"total":     result.Total,
		"submitted": result.Submitted,
		"failed":    result.Failed,
	})
	return result, nil
}

func (s *Service) ProcessCSV(ctx context.Context, bulkImportID snowflake.ID) error {
	session, err := s.sessionrepo.FindOne(ctx, &bulkdomain.BulkImport{ID: bulkImportID})
	if err != nil {
		return err
	}
	if session == nil {
		return bulkdomain.ErrSessionNotFound
	}

	if err := s.run(ctx, session); err != nil {
		s.markFailed(ctx, session.ID, err.Error())
		return err
	}
	return nil
}

type rowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

func (s *Service) run(ctx context.Context, session *bulkdomain.BulkImport) error {
	if err := s.sessionrepo.Update(ctx, session.ID.String(), map[string]any{
		"status":     bulkdomain.ImportProcessing,
		"updated_at": s.clock.Now(),
	}); err != nil {
		return err
	}

	data, err := s.blob.Get(ctx, session.StorageKey)
	if err != nil {
		return fmt.Errorf("fetch csv %s: %w", session.StorageKey, err)
	}

	rows := ParseCSVRows(string(data))
	if len(rows) > maxRows {
		return fmt.Errorf("csv has %d rows, maximum is %d", len(rows), maxRows)
	}

	total := len(rows)
	if err := s.sessionrepo.Update(ctx, session.ID.String(), map[string]any{
		"total_rows": total,
		"updated_at": s.clock.Now(),
	}); err != nil {
		return err
	}

	var (
		created   int
		rowErrors []rowError
	)
	for _, row := range rows {
		if row.Error != "" || row.Request == nil {
			s.metrics.BulkImportRowsTotal.WithLabelValues("error").Inc()
			rowErrors = append(rowErrors, rowError{Row: row.Row, Error: row.Error})
			continue
		}

		invoice, err := s.invoiceSvc.Create(ctx, session.BusinessID, *row.Request)
		if err != nil {
			s.metrics.BulkImportRowsTotal.WithLabelValues("error").Inc()
			rowErrors = append(rowErrors, rowError{Row: row.Row, Error: err.Error()})
			continue
		}

		link := bulkdomain.BulkImportInvoice{
			ID:           s.genID.Generate(),
			BulkImportID: session.ID,
			InvoiceID:    invoice.Invoice.ID,
			CreatedAt:    s.clock.Now(),
		}
		if err := s.linkrepo.Create(ctx, &link); err != nil {
			s.metrics.BulkImportRowsTotal.WithLabelValues("error").Inc()
			rowErrors = append(rowErrors, rowError{Row: row.Row, Error: err.Error()})
			continue
		}
		s.metrics.BulkImportRowsTotal.WithLabelValues("created").Inc()
		created++
	}

	now := s.clock.Now()
	values := map[string]any{
		"status":        bulkdomain.ImportCompleted,
		"success_count": created,
		"error_count":   len(rowErrors),
		"completed_at":  now,
		"updated_at":    now,
	}
	if len(rowErrors) > 0 {
		summary, err := json.Marshal(rowErrors)
		if err != nil {
			return err
		}
		values["error_summary"] = string(summary)
	}
	if err := s.sessionrepo.Update(ctx, session.ID.String(), values); err != nil {
		return err
	}

	s.log.Info("bulk import completed",
		zap.Stringer("bulk_import_id", session.ID),
		zap.Int("created", created),
		zap.Int("errors", len(rowErrors)),
	)
	return nil
}

func (s *Service) markFailed(ctx context.Context, sessionID snowflake.ID, message string) {
	if err := s.sessionrepo.Update(ctx, sessionID.String(), map[string]any{
		"status":           bulkdomain.ImportFailed,
		"processing_error": message,
		"updated_at":       s.clock.Now(),
	}); err != nil {
		s.log.Warn("failed to mark bulk import failed", zap.Error(err), zap.Stringer("bulk_import_id", sessionID))
	}
}

func (s *Service) loadSession(ctx context.Context, businessID, sessionID snowflake.ID) (*bulkdomain.BulkImport, error) {
	session, err := s.sessionrepo.FindOne(ctx, &bulkdomain.BulkImport{ID: sessionID, BusinessID: businessID})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, bulkdomain.ErrSessionNotFound
	}
	return session, nil
}

func (s *Service) audit(ctx context.Context, businessID snowflake.ID, action string, targetID snowflake.ID, metadata map[string]any) {
	target := targetID.String()
	if err := s.auditSvc.Record(ctx, businessID, action, "bulk_import", &target, metadata); err != nil {
		s.log.Warn("audit record failed", zap.Error(err), zap.String("action", action))
	}
}
