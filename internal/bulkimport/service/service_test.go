package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/einvois/internal/audit/domain"
	bulkdomain "github.com/smallbiznis/einvois/internal/bulkimport/domain"
	"github.com/smallbiznis/einvois/internal/clock"
	documentdomain "github.com/smallbiznis/einvois/internal/document/domain"
	invoicedomain "github.com/smallbiznis/einvois/internal/invoice/domain"
	invoiceservice "github.com/smallbiznis/einvois/internal/invoice/service"
	lhdndomain "github.com/smallbiznis/einvois/internal/lhdn/domain"
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

type fakeEnqueuer struct {
	bulkImports []tasks.BulkImportProcessPayload
	ocrJobs     []tasks.OCRProcessPayload
}

func (f *fakeEnqueuer) EnqueueOCRProcess(ctx context.Context, payload tasks.OCRProcessPayload) error {
	f.ocrJobs = append(f.ocrJobs, payload)
	return nil
}

func (f *fakeEnqueuer) EnqueueBulkImportProcess(ctx context.Context, payload tasks.BulkImportProcessPayload) error {
	f.bulkImports = append(f.bulkImports, payload)
	return nil
}

// stubLhdnSvc scripts Submit outcomes per invoice so batch submission can be
// tested without a MyInvois endpoint.
type stubLhdnSvc struct {
	failures  map[snowflake.ID]error
	submitted []snowflake.ID
}

func (s *stubLhdnSvc) Submit(ctx context.Context, businessID, invoiceID snowflake.ID) (lhdndomain.SubmitResult, error) {
	if err, ok := s.failures[invoiceID]; ok {
		return lhdndomain.SubmitResult{}, err
	}
	s.submitted = append(s.submitted, invoiceID)
	return lhdndomain.SubmitResult{
		SubmissionUid: fmt.Sprintf("SUB-%s", invoiceID),
		Status:        "SUBMITTED",
	}, nil
}

func (s *stubLhdnSvc) PollStatus(ctx context.Context, businessID, invoiceID snowflake.ID) (lhdndomain.StatusResult, error) {
	return lhdndomain.StatusResult{}, nil
}

func (s *stubLhdnSvc) Cancel(ctx context.Context, businessID, invoiceID snowflake.ID, reason string) error {
	return nil
}

type harness struct {
	svc        bulkdomain.Service
	db         *gorm.DB
	clk        *clock.FakeClock
	node       *snowflake.Node
	blob       *storage.MemoryStore
	enqueuer   *fakeEnqueuer
	lhdn       *stubLhdnSvc
	businessID snowflake.ID
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&documentdomain.OcrDocument{},
		&bulkdomain.BulkImport{},
		&bulkdomain.BulkImportInvoice{},
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
	enqueuer := &fakeEnqueuer{}
	lhdnSvc := &stubLhdnSvc{failures: map[snowflake.ID]error{}}

	svc := NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		Blob:       blob,
		Enqueuer:   enqueuer,
		InvoiceSvc: invoiceSvc,
		LhdnSvc:    lhdnSvc,
		AuditSvc:   auditSvc,
		Metrics:    metrics.New(),
	})

	return &harness{
		svc:        svc,
		db:         db,
		clk:        clk,
		node:       node,
		blob:       blob,
		enqueuer:   enqueuer,
		lhdn:       lhdnSvc,
		businessID: node.Generate(),
	}
}

func (h *harness) session(t *testing.T, id snowflake.ID) bulkdomain.BulkImport {
	t.Helper()
	var session bulkdomain.BulkImport
	require.NoError(t, h.db.First(&session, "id = ?", id).Error)
	return session
}

func (h *harness) createInvoice(t *testing.T, status invoicedomain.InvoiceStatus) invoicedomain.Invoice {
	t.Helper()
	number := fmt.Sprintf("INV-%d", h.node.Generate())
	invoice := invoicedomain.Invoice{
		ID:            h.node.Generate(),
		BusinessID:    h.businessID,
		InvoiceNumber: &number,
		Status:        status,
		CurrencyCode:  "MYR",
		CreatedAt:     h.clk.Now(),
		UpdatedAt:     h.clk.Now(),
	}
	require.NoError(t, h.db.Create(&invoice).Error)
	return invoice
}

const validCSV = "invoiceNumber,invoiceType,issueDate,dueDate,buyerName,buyerTin,buyerEmail,buyerPhone,buyerRegistrationNumber,currencyCode,notes,item_description,item_quantity,item_unitPrice,item_taxType,item_taxRate\n" +
	"INV-001,01,2025-06-01,,Acme Sdn Bhd,C1234567890,,,,MYR,,Consulting,2,150.00,01,6\n" +
	"INV-002,01,2025-06-02,,,,,,,,,Hosting,1,99.00,NA,0\n"

func TestInitiateCSVUploadQueuesJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.svc.InitiateCSVUpload(ctx, h.businessID, "invoices.csv", []byte(validCSV))
	require.NoError(t, err)
	assert.Equal(t, bulkdomain.ImportQueued, session.Status)
	assert.Equal(t, bulkdomain.SourceCSV, session.Source)
	assert.Equal(t, "invoices.csv", session.OriginalFilename)

	stored, err := h.blob.Get(ctx, session.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, []byte(validCSV), stored)

	require.Len(t, h.enqueuer.bulkImports, 1)
	assert.Equal(t, session.ID.String(), h.enqueuer.bulkImports[0].BulkImportID)
}

func TestInitiateCSVUploadRejectsNonCSV(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.InitiateCSVUpload(context.Background(), h.businessID, "invoices.xlsx", []byte("data"))
	require.ErrorIs(t, err, bulkdomain.ErrCSVRequired)
	assert.Empty(t, h.enqueuer.bulkImports)
}

func TestInitiateCSVUploadRejectsOversizedFile(t *testing.T) {
	h := newHarness(t)

	data := bytes.Repeat([]byte("a"), maxFileSizeBytes+1)
	_, err := h.svc.InitiateCSVUpload(context.Background(), h.businessID, "invoices.csv", data)
	require.ErrorIs(t, err, bulkdomain.ErrFileTooLarge)
}

func TestProcessCSVCreatesInvoices(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	csvText := validCSV + "short,row\n"
	session, err := h.svc.InitiateCSVUpload(ctx, h.businessID, "invoices.csv", []byte(csvText))
	require.NoError(t, err)

	require.NoError(t, h.svc.ProcessCSV(ctx, session.ID))

	settled := h.session(t, session.ID)
	assert.Equal(t, bulkdomain.ImportCompleted, settled.Status)
	require.NotNil(t, settled.TotalRows)
	assert.Equal(t, 3, *settled.TotalRows)
	assert.Equal(t, 2, settled.SuccessCount)
	assert.Equal(t, 1, settled.ErrorCount)
	require.NotNil(t, settled.CompletedAt)

	require.NotNil(t, settled.ErrorSummary)
	var summary []struct {
		Row   int    `json:"row"`
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(*settled.ErrorSummary), &summary))
	require.Len(t, summary, 1)
	assert.Equal(t, 4, summary[0].Row)
	assert.Contains(t, summary[0].Error, "Expected 16 columns")

	var links []bulkdomain.BulkImportInvoice
	require.NoError(t, h.db.Find(&links, "bulk_import_id = ?", session.ID).Error)
	assert.Len(t, links, 2)

	var invoices []invoicedomain.Invoice
	require.NoError(t, h.db.Find(&invoices, "business_id = ?", h.businessID).Error)
	assert.Len(t, invoices, 2)
}

func TestProcessCSVRowCapFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var buf bytes.Buffer
	for i := 0; i < maxRows+1; i++ {
		fmt.Fprintf(&buf, "INV-%d,,,,,,,,,,,Widget,,,,\n", i)
	}
	session, err := h.svc.InitiateCSVUpload(ctx, h.businessID, "invoices.csv", buf.Bytes())
	require.NoError(t, err)

	err = h.svc.ProcessCSV(ctx, session.ID)
	require.Error(t, err)

	settled := h.session(t, session.ID)
	assert.Equal(t, bulkdomain.ImportFailed, settled.Status)
	require.NotNil(t, settled.ProcessingError)
	assert.Contains(t, *settled.ProcessingError, "501 rows")
}

func TestProcessCSVMissingFileFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session := bulkdomain.BulkImport{
		ID:               h.node.Generate(),
		BusinessID:       h.businessID,
		StorageKey:       "bulk-imports/missing.csv",
		OriginalFilename: "invoices.csv",
		Source:           bulkdomain.SourceCSV,
		Status:           bulkdomain.ImportQueued,
		CreatedAt:        h.clk.Now(),
		UpdatedAt:        h.clk.Now(),
	}
	require.NoError(t, h.db.Create(&session).Error)

	err := h.svc.ProcessCSV(ctx, session.ID)
	require.ErrorIs(t, err, storage.ErrObjectNotFound)

	settled := h.session(t, session.ID)
	assert.Equal(t, bulkdomain.ImportFailed, settled.Status)
	require.NotNil(t, settled.ProcessingError)
}

func TestProcessCSVUnknownSession(t *testing.T) {
	h := newHarness(t)
	err := h.svc.ProcessCSV(context.Background(), h.node.Generate())
	require.ErrorIs(t, err, bulkdomain.ErrSessionNotFound)
}

func TestAttachInvoiceIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.svc.CreateDocumentSession(ctx, h.businessID)
	require.NoError(t, err)
	assert.Equal(t, bulkdomain.ImportProcessing, session.Status)
	assert.Equal(t, bulkdomain.SourceDocuments, session.Source)

	invoice := h.createInvoice(t, invoicedomain.StatusOCRProcessing)
	require.NoError(t, h.svc.AttachInvoice(ctx, h.businessID, session.ID, invoice.ID))
	require.NoError(t, h.svc.AttachInvoice(ctx, h.businessID, session.ID, invoice.ID))

	var links []bulkdomain.BulkImportInvoice
	require.NoError(t, h.db.Find(&links, "bulk_import_id = ?", session.ID).Error)
	assert.Len(t, links, 1)

	settled := h.session(t, session.ID)
	require.NotNil(t, settled.TotalRows)
	assert.Equal(t, 1, *settled.TotalRows)
}

func TestAttachInvoiceUnknownSession(t *testing.T) {
	h := newHarness(t)
	invoice := h.createInvoice(t, invoicedomain.StatusDraft)

	err := h.svc.AttachInvoice(context.Background(), h.businessID, h.node.Generate(), invoice.ID)
	require.ErrorIs(t, err, bulkdomain.ErrSessionNotFound)
}

func TestAttachInvoiceWrongBusiness(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.svc.CreateDocumentSession(ctx, h.businessID)
	require.NoError(t, err)

	invoice := h.createInvoice(t, invoicedomain.StatusDraft)
	err = h.svc.AttachInvoice(ctx, h.node.Generate(), session.ID, invoice.ID)
	require.ErrorIs(t, err, bulkdomain.ErrSessionNotFound)
}

func TestGetSessionWithInvoicesStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.svc.CreateDocumentSession(ctx, h.businessID)
	require.NoError(t, err)

	statuses := []invoicedomain.InvoiceStatus{
		invoicedomain.StatusReadyForSubmission,
		invoicedomain.StatusReadyForSubmission,
		invoicedomain.StatusReviewRequired,
		invoicedomain.StatusOCRProcessing,
		invoicedomain.StatusRejected,
	}
	for _, status := range statuses {
		invoice := h.createInvoice(t, status)
		require.NoError(t, h.svc.AttachInvoice(ctx, h.businessID, session.ID, invoice.ID))
	}

	result, err := h.svc.GetSessionWithInvoices(ctx, h.businessID, session.ID)
	require.NoError(t, err)
	assert.Len(t, result.Invoices, 5)
	assert.Equal(t, 5, result.Stats.Total)
	assert.Equal(t, 2, result.Stats.Ready)
	assert.Equal(t, 1, result.Stats.Reviewing)
	assert.Equal(t, 1, result.Stats.Processing)
	assert.Equal(t, 1, result.Stats.Failed)
}

func TestSubmitReadySettlesAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.svc.CreateDocumentSession(ctx, h.businessID)
	require.NoError(t, err)

	okInvoice := h.createInvoice(t, invoicedomain.StatusReadyForSubmission)
	badInvoice := h.createInvoice(t, invoicedomain.StatusReadyForSubmission)
	reviewing := h.createInvoice(t, invoicedomain.StatusReviewRequired)
	for _, id := range []snowflake.ID{okInvoice.ID, badInvoice.ID, reviewing.ID} {
		require.NoError(t, h.svc.AttachInvoice(ctx, h.businessID, session.ID, id))
	}
	h.lhdn.failures[badInvoice.ID] = errors.New("lhdn_credentials_missing")

	result, err := h.svc.SubmitReady(ctx, h.businessID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Submitted)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Results, 2)

	byID := map[snowflake.ID]bulkdomain.SubmitItemResult{}
	for _, item := range result.Results {
		byID[item.InvoiceID] = item
	}
	assert.True(t, byID[okInvoice.ID].Success)
	assert.Equal(t, fmt.Sprintf("SUB-%s", okInvoice.ID), byID[okInvoice.ID].SubmissionUid)
	assert.False(t, byID[badInvoice.ID].Success)
	assert.Equal(t, "lhdn_credentials_missing", byID[badInvoice.ID].Error)

	assert.Equal(t, []snowflake.ID{okInvoice.ID}, h.lhdn.submitted)
}

func TestListReturnsNewestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.CreateDocumentSession(ctx, h.businessID)
	require.NoError(t, err)
	h.clk.Advance(time.Minute)
	second, err := h.svc.CreateDocumentSession(ctx, h.businessID)
	require.NoError(t, err)

	resp, err := h.svc.List(ctx, h.businessID, bulkdomain.ListImportsRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, second.ID, resp.Data[0].ID)
	assert.Equal(t, first.ID, resp.Data[1].ID)
	assert.False(t, resp.PageInfo.HasMore)
}
