package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/einvois/internal/clock"
	documentdomain "github.com/smallbiznis/einvois/internal/document/domain"
	"github.com/smallbiznis/einvois/internal/extraction"
	invoicedomain "github.com/smallbiznis/einvois/internal/invoice/domain"
	"github.com/smallbiznis/einvois/internal/observability/metrics"
	"github.com/smallbiznis/einvois/internal/pipeline/tasks"
	"github.com/smallbiznis/einvois/internal/storage"
	"github.com/smallbiznis/einvois/pkg/repository"
)

type OCRHandlerParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Blob       storage.BlobStore
	Extractor  extraction.Service
	InvoiceSvc invoicedomain.Service
	Metrics    *metrics.Metrics
}

// OCRHandler runs one extraction attempt per uploaded document: fetch the
// file, extract text, run structured extraction, triage and materialize the
// result onto the invoice shell.
type OCRHandler struct {
	log        *zap.Logger
	clock      clock.Clock
	blob       storage.BlobStore
	extractor  extraction.Service
	invoiceSvc invoicedomain.Service
	metrics    *metrics.Metrics

	docrepo repository.Repository[documentdomain.OcrDocument]
}

func NewOCRHandler(p OCRHandlerParams) *OCRHandler {
	return &OCRHandler{
		log:        p.Log.Named("pipeline.ocr"),
		clock:      p.Clock,
		blob:       p.Blob,
		extractor:  p.Extractor,
		invoiceSvc: p.InvoiceSvc,
		metrics:    p.Metrics,
		docrepo:    repository.ProvideStore[documentdomain.OcrDocument](p.DB),
	}
}

func (h *OCRHandler) Handle(ctx context.Context, task *asynq.Task) error {
	var payload tasks.OCRProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	docID, err := snowflake.ParseString(payload.OcrDocumentID)
	if err != nil {
		return fmt.Errorf("bad document id %q: %w", payload.OcrDocumentID, asynq.SkipRetry)
	}
	invoiceID, err := snowflake.ParseString(payload.InvoiceID)
	if err != nil {
		return fmt.Errorf("bad invoice id %q: %w", payload.InvoiceID, asynq.SkipRetry)
	}

	doc, err := h.docrepo.FindOne(ctx, &documentdomain.OcrDocument{ID: docID})
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("document %s not found: %w", docID, asynq.SkipRetry)
	}

	if err := h.run(ctx, doc, invoiceID); err != nil {
		h.metrics.ExtractionJobsTotal.WithLabelValues("failed").Inc()
		h.fail(ctx, doc.ID, invoiceID, err)
		return err
	}
	return nil
}

func (h *OCRHandler) run(ctx context.Context, doc *documentdomain.OcrDocument, invoiceID snowflake.ID) error {
	if err := h.docrepo.Update(ctx, doc.ID.String(), map[string]any{
		"ocr_status": documentdomain.OcrStatusProcessing,
		"updated_at": h.clock.Now(),
	}); err != nil {
		return err
	}

	data, err := h.blob.Get(ctx, doc.StorageKey)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", doc.StorageKey, err)
	}

	rawText, err := h.extractor.ExtractText(ctx, data, string(doc.FileType))
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}

	result, err := h.extractor.Extract(ctx, rawText)
	if err != nil {
		return fmt.Errorf("extract fields: %w", err)
	}

	triage := extraction.Triage(result)
	target := invoicedomain.StatusReadyForSubmission
	outcome := "ready"
	if triage.NeedsReview {
		target = invoicedomain.StatusReviewRequired
		outcome = "review"
	}

	if _, err := h.invoiceSvc.ApplyExtraction(ctx, invoiceID, buildApply(result, target)); err != nil {
		return fmt.Errorf("apply extraction: %w", err)
	}

	extracted, err := json.Marshal(result)
	if err != nil {
		return err
	}
	now := h.clock.Now()
	if err := h.docrepo.Update(ctx, doc.ID.String(), map[string]any{
		"ocr_status":       documentdomain.OcrStatusCompleted,
		"raw_text":         rawText,
		"extracted_json":   string(extracted),
		"confidence_score": fmt.Sprintf("%.2f", result.OverallConfidence),
		"processed_at":     now,
		"updated_at":       now,
	}); err != nil {
		return err
	}

	h.metrics.ExtractionJobsTotal.WithLabelValues(outcome).Inc()
	h.log.Info("extraction completed",
		zap.Stringer("ocr_document_id", doc.ID),
		zap.Stringer("invoice_id", invoiceID),
		zap.String("target_status", string(target)),
		zap.Float64("overall_confidence", result.OverallConfidence),
		zap.Strings("triage_reasons", triage.Reasons),
	)
	return nil
}

// fail records the error on the document and routes the invoice to review
// so it never stays stuck in OCR_PROCESSING.
func (h *OCRHandler) fail(ctx context.Context, docID, invoiceID snowflake.ID, cause error) {
	if err := h.docrepo.Update(ctx, docID.String(), map[string]any{
		"ocr_status":       documentdomain.OcrStatusFailed,
		"processing_error": cause.Error(),
		"updated_at":       h.clock.Now(),
	}); err != nil {
		h.log.Warn("failed to mark document failed", zap.Error(err), zap.Stringer("ocr_document_id", docID))
	}
	if err := h.invoiceSvc.ForceReviewRequired(ctx, invoiceID); err != nil {
		h.log.Warn("failed to route invoice to review", zap.Error(err), zap.Stringer("invoice_id", invoiceID))
	}
}

func buildApply(result *extraction.ExtractedInvoice, target invoicedomain.InvoiceStatus) invoicedomain.ExtractionApply {
	apply := invoicedomain.ExtractionApply{
		InvoiceNumber:        result.Invoice.Number,
		IssueDate:            result.Invoice.Date,
		SupplierName:         result.Supplier.Name,
		SupplierTIN:          result.Supplier.Tin,
		SupplierRegistration: result.Supplier.RegistrationNumber,
		BuyerName:            result.Buyer.Name,
		BuyerTIN:             result.Buyer.Tin,
		BuyerRegistration:    result.Buyer.RegistrationNumber,
		BuyerEmail:           result.Buyer.Email,
		BuyerPhone:           result.Buyer.Phone,
		BuyerAddressLine0:    result.Buyer.Address,
		TargetStatus:         target,
	}
	if result.Invoice.Currency != "" {
		currency := result.Invoice.Currency
		apply.CurrencyCode = &currency
	}

	apply.Items = make([]invoicedomain.ItemInput, 0, len(result.LineItems))
	for _, item := range result.LineItems {
		apply.Items = append(apply.Items, invoicedomain.ItemInput{
			Description: item.Description,
			Quantity:    formatFloat(item.Quantity),
			UnitPrice:   formatFloat(item.UnitPrice),
			TaxType:     item.TaxType,
			TaxRate:     formatFloat(item.TaxRate),
		})
	}
	return apply
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
