package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/einvois/internal/audit/domain"
	"github.com/smallbiznis/einvois/internal/clock"
	documentdomain "github.com/smallbiznis/einvois/internal/document/domain"
	"github.com/smallbiznis/einvois/internal/extraction"
	invoicedomain "github.com/smallbiznis/einvois/internal/invoice/domain"
	invoiceservice "github.com/smallbiznis/einvois/internal/invoice/service"
	"github.com/smallbiznis/einvois/internal/observability/metrics"
	"github.com/smallbiznis/einvois/internal/pipeline/tasks"
	"github.com/smallbiznis/einvois/internal/storage"
)

type mockAuditSvc struct {
	mock.Mock
}

func (m *mockAuditSvc) Record(ctx context.Context, businessID snowflake.ID, action, targetType string, targetID *string, metadata map[string]any) error {
	args := m.Called(ctx, businessID, action, targetType, targetID, metadata)
	return args.Error(0)
}

func (m *mockAuditSvc) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(auditdomain.ListAuditLogResponse), args.Error(1)
}

// stubExtractor scripts the two extraction stages independently.
type stubExtractor struct {
	text    string
	textErr error
	result  *extraction.ExtractedInvoice
	err     error
}

func (s *stubExtractor) ExtractText(ctx context.Context, data []byte, fileType string) (string, error) {
	return s.text, s.textErr
}

func (s *stubExtractor) Extract(ctx context.Context, rawText string) (*extraction.ExtractedInvoice, error) {
	return s.result, s.err
}

type ocrHarness struct {
	handler   *OCRHandler
	db        *gorm.DB
	clk       *clock.FakeClock
	node      *snowflake.Node
	blob      *storage.MemoryStore
	extractor *stubExtractor
}

func newOCRHarness(t *testing.T) *ocrHarness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&documentdomain.OcrDocument{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))

	auditSvc := &mockAuditSvc{}
	auditSvc.On("Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		AuditSvc: auditSvc,
		Metrics:  metrics.New(),
	})

	blob := storage.NewMemoryStore()
	extractor := &stubExtractor{}

	handler := NewOCRHandler(OCRHandlerParams{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      clk,
		Blob:       blob,
		Extractor:  extractor,
		InvoiceSvc: invoiceSvc,
		Metrics:    metrics.New(),
	})

	return &ocrHarness{
		handler:   handler,
		db:        db,
		clk:       clk,
		node:      node,
		blob:      blob,
		extractor: extractor,
	}
}

// seed creates the upload pair the pipeline operates on, an OCR_PROCESSING
// invoice shell bound to a stored document.
func (h *ocrHarness) seed(t *testing.T) (documentdomain.OcrDocument, invoicedomain.Invoice) {
	t.Helper()
	ctx := context.Background()

	businessID := h.node.Generate()
	key := fmt.Sprintf("uploads/%s/receipt.pdf", businessID)
	require.NoError(t, h.blob.Put(ctx, key, []byte("%PDF-1.4 fake"), "application/pdf"))

	doc := documentdomain.OcrDocument{
		ID:               h.node.Generate(),
		BusinessID:       businessID,
		StorageKey:       key,
		OriginalFilename: "receipt.pdf",
		FileType:         documentdomain.FileTypePDF,
		FileSize:         13,
		OcrStatus:        documentdomain.OcrStatusPending,
		CreatedAt:        h.clk.Now(),
		UpdatedAt:        h.clk.Now(),
	}
	require.NoError(t, h.db.Create(&doc).Error)

	invoice := invoicedomain.Invoice{
		ID:            h.node.Generate(),
		BusinessID:    businessID,
		OcrDocumentID: &doc.ID,
		Status:        invoicedomain.StatusOCRProcessing,
		CurrencyCode:  "MYR",
		CreatedAt:     h.clk.Now(),
		UpdatedAt:     h.clk.Now(),
	}
	require.NoError(t, h.db.Create(&invoice).Error)
	doc.InvoiceID = &invoice.ID
	require.NoError(t, h.db.Save(&doc).Error)

	return doc, invoice
}

func (h *ocrHarness) task(t *testing.T, docID, invoiceID snowflake.ID) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(tasks.OCRProcessPayload{
		OcrDocumentID: docID.String(),
		InvoiceID:     invoiceID.String(),
	})
	require.NoError(t, err)
	return asynq.NewTask(tasks.TypeOCRProcess, payload)
}

func confidentResult() *extraction.ExtractedInvoice {
	name := "Acme Sdn Bhd"
	tin := "C1234567890"
	number := "INV-001"
	date := "2025-05-28"
	grand := 106.0
	return &extraction.ExtractedInvoice{
		Supplier: extraction.ExtractedSupplier{
			Name: &name,
			Tin:  &tin,
			Confidence: extraction.SupplierConfidence{
				Name: 0.95, Tin: 0.92, RegistrationNumber: 0.9, Address: 0.9,
			},
		},
		Buyer: extraction.ExtractedBuyer{
			Confidence: extraction.BuyerConfidence{Name: 0.9, Tin: 0.9},
		},
		Invoice: extraction.ExtractedHeader{
			Number:     &number,
			Date:       &date,
			Currency:   "MYR",
			Confidence: extraction.HeaderConfidence{Number: 0.94, Date: 0.91},
		},
		LineItems: []extraction.ExtractedItem{
			{
				Description: "Consulting services",
				Quantity:    2,
				UnitPrice:   50,
				TaxType:     "01",
				TaxRate:     6,
				Confidence:  0.9,
			},
		},
		Totals: extraction.ExtractedTotals{
			GrandTotal: &grand,
			Confidence: extraction.TotalsConfidence{Subtotal: 0.9, TaxTotal: 0.9, GrandTotal: 0.93},
		},
		OverallConfidence: 0.92,
	}
}

func TestOCRHandlerAppliesExtraction(t *testing.T) {
	h := newOCRHarness(t)
	doc, invoice := h.seed(t)

	h.extractor.text = "ACME SDN BHD Invoice INV-001"
	h.extractor.result = confidentResult()

	require.NoError(t, h.handler.Handle(context.Background(), h.task(t, doc.ID, invoice.ID)))

	var updated invoicedomain.Invoice
	require.NoError(t, h.db.First(&updated, "id = ?", invoice.ID).Error)
	assert.Equal(t, invoicedomain.StatusReadyForSubmission, updated.Status)
	assert.Equal(t, "INV-001", *updated.InvoiceNumber)
	assert.Equal(t, "2025-05-28", *updated.IssueDate)
	assert.Equal(t, "Acme Sdn Bhd", *updated.SupplierName)
	assert.Equal(t, "100.00", updated.Subtotal)
	assert.Equal(t, "6.00", updated.TaxTotal)
	assert.Equal(t, "106.00", updated.GrandTotal)

	var items []invoicedomain.InvoiceItem
	require.NoError(t, h.db.Find(&items, "invoice_id = ?", invoice.ID).Error)
	require.Len(t, items, 1)
	assert.Equal(t, "Consulting services", items[0].Description)

	var settled documentdomain.OcrDocument
	require.NoError(t, h.db.First(&settled, "id = ?", doc.ID).Error)
	assert.Equal(t, documentdomain.OcrStatusCompleted, settled.OcrStatus)
	assert.Equal(t, "ACME SDN BHD Invoice INV-001", *settled.RawText)
	assert.Equal(t, "0.92", *settled.ConfidenceScore)
	require.NotNil(t, settled.ProcessedAt)
	require.NotNil(t, settled.ExtractedJSON)

	var roundTrip extraction.ExtractedInvoice
	require.NoError(t, json.Unmarshal([]byte(*settled.ExtractedJSON), &roundTrip))
	assert.Equal(t, 0.92, roundTrip.OverallConfidence)
}

func TestOCRHandlerRoutesLowConfidenceToReview(t *testing.T) {
	h := newOCRHarness(t)
	doc, invoice := h.seed(t)

	result := confidentResult()
	result.Supplier.Confidence.Tin = 0.4
	h.extractor.text = "blurry scan"
	h.extractor.result = result

	require.NoError(t, h.handler.Handle(context.Background(), h.task(t, doc.ID, invoice.ID)))

	var updated invoicedomain.Invoice
	require.NoError(t, h.db.First(&updated, "id = ?", invoice.ID).Error)
	assert.Equal(t, invoicedomain.StatusReviewRequired, updated.Status)

	var settled documentdomain.OcrDocument
	require.NoError(t, h.db.First(&settled, "id = ?", doc.ID).Error)
	assert.Equal(t, documentdomain.OcrStatusCompleted, settled.OcrStatus)
}

func TestOCRHandlerFailureMarksDocumentAndInvoice(t *testing.T) {
	h := newOCRHarness(t)
	doc, invoice := h.seed(t)

	h.extractor.text = "short"
	h.extractor.err = extraction.ErrTextTooShort

	err := h.handler.Handle(context.Background(), h.task(t, doc.ID, invoice.ID))
	require.ErrorIs(t, err, extraction.ErrTextTooShort)

	var settled documentdomain.OcrDocument
	require.NoError(t, h.db.First(&settled, "id = ?", doc.ID).Error)
	assert.Equal(t, documentdomain.OcrStatusFailed, settled.OcrStatus)
	require.NotNil(t, settled.ProcessingError)
	assert.Contains(t, *settled.ProcessingError, "too short")

	var updated invoicedomain.Invoice
	require.NoError(t, h.db.First(&updated, "id = ?", invoice.ID).Error)
	assert.Equal(t, invoicedomain.StatusReviewRequired, updated.Status)
}

func TestOCRHandlerMissingBlobFails(t *testing.T) {
	h := newOCRHarness(t)
	doc, invoice := h.seed(t)
	require.NoError(t, h.db.Model(&doc).Update("storage_key", "uploads/gone.pdf").Error)
	doc.StorageKey = "uploads/gone.pdf"

	err := h.handler.Handle(context.Background(), h.task(t, doc.ID, invoice.ID))
	require.ErrorIs(t, err, storage.ErrObjectNotFound)

	var settled documentdomain.OcrDocument
	require.NoError(t, h.db.First(&settled, "id = ?", doc.ID).Error)
	assert.Equal(t, documentdomain.OcrStatusFailed, settled.OcrStatus)
}

func TestOCRHandlerUnknownDocumentSkipsRetry(t *testing.T) {
	h := newOCRHarness(t)

	err := h.handler.Handle(context.Background(), h.task(t, h.node.Generate(), h.node.Generate()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
