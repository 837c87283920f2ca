package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
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
	businessdomain "github.com/smallbiznis/einvois/internal/business/domain"
	businessservice "github.com/smallbiznis/einvois/internal/business/service"
	"github.com/smallbiznis/einvois/internal/clock"
	"github.com/smallbiznis/einvois/internal/config"
	"github.com/smallbiznis/einvois/internal/crypto"
	"github.com/smallbiznis/einvois/internal/events"
	invoicedomain "github.com/smallbiznis/einvois/internal/invoice/domain"
	lhdndomain "github.com/smallbiznis/einvois/internal/lhdn/domain"
	"github.com/smallbiznis/einvois/internal/lhdn/myinvois"
	"github.com/smallbiznis/einvois/internal/observability/metrics"
)

const testEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

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

// apiStub is a scriptable MyInvois endpoint. Handlers may be nil, in which
// case the route responds 500.
type apiStub struct {
	tokenRequests  int
	submitHandler  func(w http.ResponseWriter, r *http.Request)
	statusHandler  func(w http.ResponseWriter, r *http.Request)
	cancelHandler  func(w http.ResponseWriter, r *http.Request)
	lastSubmitBody myinvois.SubmissionPayload
}

func (a *apiStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/connect/token", func(w http.ResponseWriter, r *http.Request) {
		a.tokenRequests++
		json.NewEncoder(w).Encode(myinvois.TokenResponse{
			AccessToken: "token-123",
			TokenType:   "Bearer",
			ExpiresIn:   3600,
		})
	})
	mux.HandleFunc("/api/v1.0/documentsubmissions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewDecoder(r.Body).Decode(&a.lastSubmitBody)
			if a.submitHandler == nil {
				http.Error(w, "no handler", http.StatusInternalServerError)
				return
			}
			a.submitHandler(w, r)
			return
		}
		if a.statusHandler == nil {
			http.Error(w, "no handler", http.StatusInternalServerError)
			return
		}
		a.statusHandler(w, r)
	})
	mux.HandleFunc("/api/v1.0/documents/state/", func(w http.ResponseWriter, r *http.Request) {
		if a.cancelHandler == nil {
			http.Error(w, "no handler", http.StatusInternalServerError)
			return
		}
		a.cancelHandler(w, r)
	})
	return mux
}

type harness struct {
	svc      *Service
	db       *gorm.DB
	clk      *clock.FakeClock
	node     *snowflake.Node
	business businessdomain.Business
	stub     *apiStub
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&businessdomain.Business{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&lhdndomain.LhdnSubmission{},
		&lhdndomain.LhdnToken{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))

	cipher, err := crypto.NewCipherFromHexKey(testEncryptionKey)
	require.NoError(t, err)

	stub := &apiStub{}
	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)

	businessSvc := businessservice.NewService(businessservice.Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clk,
		Cipher: cipher,
	})

	ctx := context.Background()
	business, err := businessSvc.Create(ctx, businessdomain.CreateBusinessRequest{
		Name:               "Acme Sdn Bhd",
		TIN:                "C1234567890",
		RegistrationNumber: "201901000001",
		MSICCode:           "62010",
		CountryCode:        "MYS",
		Email:              "billing@acme.example",
	})
	require.NoError(t, err)
	require.NoError(t, businessSvc.SetLHDNCredentials(ctx, business.ID, businessdomain.SetLHDNCredentialsRequest{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	}))
	business, err = businessSvc.GetByID(ctx, business.ID)
	require.NoError(t, err)

	mockAudit := new(mockAuditSvc)
	mockAudit.On("Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	svc := NewService(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Cipher:      cipher,
		Client:      myinvois.NewClient(config.Config{LHDNBaseURL: server.URL}),
		BusinessSvc: businessSvc,
		AuditSvc:    mockAudit,
		Publisher:   events.NewChannelPublisher(zap.NewNop()),
		Metrics:     metrics.New(),
	}).(*Service)

	return &harness{svc: svc, db: db, clk: clk, node: node, business: business, stub: stub}
}

func (h *harness) createInvoice(t *testing.T, status invoicedomain.InvoiceStatus) invoicedomain.Invoice {
	t.Helper()
	now := h.clk.Now()
	number := "INV-001"
	issueDate := "2025-06-01"
	supplier := "Acme Sdn Bhd"
	supplierTIN := "C1234567890"
	buyer := "Beta Trading"
	buyerTIN := "C0987654321"

	invoice := invoicedomain.Invoice{
		ID:               h.node.Generate(),
		BusinessID:       h.business.ID,
		InvoiceNumber:    &number,
		InvoiceType:      "01",
		Status:           status,
		SupplierName:     &supplier,
		SupplierTIN:      &supplierTIN,
		BuyerName:        &buyer,
		BuyerTIN:         &buyerTIN,
		BuyerCountryCode: "MYS",
		CurrencyCode:     "MYR",
		Subtotal:         "100.00",
		TaxTotal:         "6.00",
		GrandTotal:       "106.00",
		IssueDate:        &issueDate,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, h.db.Create(&invoice).Error)

	item := invoicedomain.InvoiceItem{
		ID:                 h.node.Generate(),
		InvoiceID:          invoice.ID,
		Description:        "Widget",
		ClassificationCode: "001",
		Quantity:           "2",
		UnitCode:           "UNT",
		UnitPrice:          "50.00",
		Subtotal:           "100.00",
		TaxType:            "01",
		TaxRate:            "6",
		TaxAmount:          "6.00",
		Total:              "106.00",
		CreatedAt:          now,
	}
	require.NoError(t, h.db.Create(&item).Error)
	return invoice
}

func acceptSubmission(w http.ResponseWriter, _ *http.Request) {
	json.NewEncoder(w).Encode(myinvois.SubmitResponse{
		SubmissionUid: "SUB-001",
		AcceptedDocuments: []myinvois.AcceptedDocument{
			{UUID: "DOC-UUID-001", InvoiceCodeNumber: "INV-001"},
		},
	})
}

func TestSubmitAccepted(t *testing.T) {
	h := newHarness(t)
	h.stub.submitHandler = acceptSubmission
	invoice := h.createInvoice(t, invoicedomain.StatusReadyForSubmission)

	result, err := h.svc.Submit(context.Background(), h.business.ID, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, "SUB-001", result.SubmissionUid)
	assert.Equal(t, lhdndomain.SubmissionSubmitted, result.Status)

	var stored invoicedomain.Invoice
	require.NoError(t, h.db.First(&stored, "id = ?", invoice.ID).Error)
	assert.Equal(t, invoicedomain.StatusSubmitted, stored.Status)
	require.NotNil(t, stored.LHDNSubmissionUid)
	assert.Equal(t, "SUB-001", *stored.LHDNSubmissionUid)
	require.NotNil(t, stored.LHDNUuid)
	assert.Equal(t, "DOC-UUID-001", *stored.LHDNUuid)
	require.NotNil(t, stored.LHDNSubmittedAt)

	var submission lhdndomain.LhdnSubmission
	require.NoError(t, h.db.First(&submission, "invoice_id = ?", invoice.ID).Error)
	assert.Equal(t, lhdndomain.SubmissionSubmitted, submission.Status)
	require.NotNil(t, submission.SubmissionUid)
	assert.Equal(t, "SUB-001", *submission.SubmissionUid)
	assert.NotEmpty(t, submission.SubmissionPayload)

	// The submitted document carries the base64 UBL JSON with its hash.
	require.Len(t, h.stub.lastSubmitBody.Documents, 1)
	doc := h.stub.lastSubmitBody.Documents[0]
	assert.Equal(t, "JSON", doc.Format)
	assert.Equal(t, "INV-001", doc.CodeNumber)
	assert.NotEmpty(t, doc.Document)
	assert.NotEmpty(t, doc.DocumentHash)
}

func TestSubmitRejectedByLHDN(t *testing.T) {
	h := newHarness(t)
	h.stub.submitHandler = func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(myinvois.SubmitResponse{
			SubmissionUid: "SUB-002",
			RejectedDocuments: []myinvois.RejectedDocument{
				{InvoiceCodeNumber: "INV-001", Error: myinvois.DocumentError{Code: "CF001", Message: "Invalid TIN"}},
			},
		})
	}
	invoice := h.createInvoice(t, invoicedomain.StatusReadyForSubmission)

	_, err := h.svc.Submit(context.Background(), h.business.ID, invoice.ID)
	var rejection *lhdndomain.RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, "Invalid TIN", rejection.Message)

	var stored invoicedomain.Invoice
	require.NoError(t, h.db.First(&stored, "id = ?", invoice.ID).Error)
	assert.Equal(t, invoicedomain.StatusRejected, stored.Status)

	var submission lhdndomain.LhdnSubmission
	require.NoError(t, h.db.First(&submission, "invoice_id = ?", invoice.ID).Error)
	assert.Equal(t, lhdndomain.SubmissionRejected, submission.Status)
	require.NotNil(t, submission.ErrorMessage)
	assert.Equal(t, "Invalid TIN", *submission.ErrorMessage)
}

func TestSubmitTransportFailureLeavesInvoiceReady(t *testing.T) {
	h := newHarness(t)
	h.stub.submitHandler = func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}
	invoice := h.createInvoice(t, invoicedomain.StatusReadyForSubmission)

	_, err := h.svc.Submit(context.Background(), h.business.ID, invoice.ID)
	var apiErr *myinvois.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)

	// Invoice is untouched so the submission can be retried.
	var stored invoicedomain.Invoice
	require.NoError(t, h.db.First(&stored, "id = ?", invoice.ID).Error)
	assert.Equal(t, invoicedomain.StatusReadyForSubmission, stored.Status)

	// The attempt itself is still on record.
	var submission lhdndomain.LhdnSubmission
	require.NoError(t, h.db.First(&submission, "invoice_id = ?", invoice.ID).Error)
	assert.Equal(t, lhdndomain.SubmissionRejected, submission.Status)
	require.NotNil(t, submission.ErrorMessage)
	assert.Contains(t, *submission.ErrorMessage, "502")
}

func TestSubmitRequiresReadyStatus(t *testing.T) {
	h := newHarness(t)
	invoice := h.createInvoice(t, invoicedomain.StatusDraft)

	_, err := h.svc.Submit(context.Background(), h.business.ID, invoice.ID)
	assert.ErrorIs(t, err, lhdndomain.ErrNotReady)
}

func TestSubmitUnknownInvoice(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Submit(context.Background(), h.business.ID, h.node.Generate())
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
}

func TestTokenCachedAcrossCalls(t *testing.T) {
	h := newHarness(t)
	h.stub.submitHandler = acceptSubmission

	first := h.createInvoice(t, invoicedomain.StatusReadyForSubmission)
	_, err := h.svc.Submit(context.Background(), h.business.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.stub.tokenRequests)

	second := h.createInvoice(t, invoicedomain.StatusReadyForSubmission)
	_, err = h.svc.Submit(context.Background(), h.business.ID, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.stub.tokenRequests)

	// Past the buffered expiry the token must be refreshed.
	h.clk.Advance(time.Hour)
	third := h.createInvoice(t, invoicedomain.StatusReadyForSubmission)
	_, err = h.svc.Submit(context.Background(), h.business.ID, third.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, h.stub.tokenRequests)
}

func TestTokenRefreshBoundary(t *testing.T) {
	h := newHarness(t)
	h.stub.submitHandler = acceptSubmission

	first := h.createInvoice(t, invoicedomain.StatusReadyForSubmission)
	_, err := h.svc.Submit(context.Background(), h.business.ID, first.ID)
	require.NoError(t, err)
	require.Equal(t, 1, h.stub.tokenRequests)

	// A 3600s token minus the 60s buffer is valid until t+3540s.
	h.clk.Advance(3539 * time.Second)
	second := h.createInvoice(t, invoicedomain.StatusReadyForSubmission)
	_, err = h.svc.Submit(context.Background(), h.business.ID, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.stub.tokenRequests)

	h.clk.Advance(2 * time.Second)
	third := h.createInvoice(t, invoicedomain.StatusReadyForSubmission)
	_, err = h.svc.Submit(context.Background(), h.business.ID, third.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, h.stub.tokenRequests)
}

func TestInvoiceLhdnColumns(t *testing.T) {
	h := newHarness(t)

	// Submit and poll update these columns through raw keys, so the
	// migrated schema has to carry these exact names.
	for _, column := range []string{
		"lhdn_uuid",
		"lhdn_submission_uid",
		"lhdn_validation_status",
		"lhdn_submitted_at",
		"lhdn_validated_at",
	} {
		assert.True(t, h.db.Migrator().HasColumn(&invoicedomain.Invoice{}, column), column)
	}
}

func TestSubmitWithoutCredentials(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.Model(&businessdomain.Business{}).
		Where("id = ?", h.business.ID).
		Updates(map[string]any{
			"lhdn_client_id_encrypted":     nil,
			"lhdn_client_secret_encrypted": nil,
		}).Error)
	invoice := h.createInvoice(t, invoicedomain.StatusReadyForSubmission)

	_, err := h.svc.Submit(context.Background(), h.business.ID, invoice.ID)
	assert.ErrorIs(t, err, businessdomain.ErrCredentialsMissing)
}

func (h *harness) submitted(t *testing.T) invoicedomain.Invoice {
	t.Helper()
	h.stub.submitHandler = acceptSubmission
	invoice := h.createInvoice(t, invoicedomain.StatusReadyForSubmission)
	_, err := h.svc.Submit(context.Background(), h.business.ID, invoice.ID)
	require.NoError(t, err)
	return invoice
}

func TestPollStatusValid(t *testing.T) {
	h := newHarness(t)
	invoice := h.submitted(t)
	h.stub.statusHandler = func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(myinvois.SubmissionStatusResponse{
			SubmissionUid: "SUB-001",
			DocumentCount: 1,
			OverallStatus: "Valid",
			DocumentSummary: []myinvois.DocumentSummary{
				{UUID: "DOC-UUID-001", Status: "Valid", DateTimeValidated: "2025-06-01T12:00:00Z"},
			},
		})
	}

	result, err := h.svc.PollStatus(context.Background(), h.business.ID, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Valid", result.Status)

	var stored invoicedomain.Invoice
	require.NoError(t, h.db.First(&stored, "id = ?", invoice.ID).Error)
	assert.Equal(t, invoicedomain.StatusValidated, stored.Status)
	require.NotNil(t, stored.LHDNValidationStatus)
	assert.Equal(t, "Valid", *stored.LHDNValidationStatus)
	require.NotNil(t, stored.LHDNValidatedAt)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), stored.LHDNValidatedAt.UTC())

	var submission lhdndomain.LhdnSubmission
	require.NoError(t, h.db.First(&submission, "invoice_id = ?", invoice.ID).Error)
	assert.Equal(t, lhdndomain.SubmissionValidated, submission.Status)
}

func TestPollStatusInvalid(t *testing.T) {
	h := newHarness(t)
	invoice := h.submitted(t)
	h.stub.statusHandler = func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(myinvois.SubmissionStatusResponse{
			SubmissionUid: "SUB-001",
			DocumentCount: 1,
			OverallStatus: "Invalid",
			DocumentSummary: []myinvois.DocumentSummary{
				{UUID: "DOC-UUID-001", Status: "Invalid", Error: &myinvois.DocumentError{Code: "DS302", Message: "Duplicated invoice number"}},
			},
		})
	}

	result, err := h.svc.PollStatus(context.Background(), h.business.ID, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Invalid", result.Status)

	var stored invoicedomain.Invoice
	require.NoError(t, h.db.First(&stored, "id = ?", invoice.ID).Error)
	assert.Equal(t, invoicedomain.StatusRejected, stored.Status)

	var submission lhdndomain.LhdnSubmission
	require.NoError(t, h.db.First(&submission, "invoice_id = ?", invoice.ID).Error)
	assert.Equal(t, lhdndomain.SubmissionRejected, submission.Status)
	require.NotNil(t, submission.ErrorMessage)
	assert.Equal(t, "Duplicated invoice number", *submission.ErrorMessage)
}

func TestPollStatusPendingLeavesInvoiceAlone(t *testing.T) {
	h := newHarness(t)
	invoice := h.submitted(t)
	h.stub.statusHandler = func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(myinvois.SubmissionStatusResponse{
			SubmissionUid: "SUB-001",
			DocumentCount: 1,
			OverallStatus: "InProgress",
			DocumentSummary: []myinvois.DocumentSummary{
				{UUID: "DOC-UUID-001", Status: "Submitted"},
			},
		})
	}

	result, err := h.svc.PollStatus(context.Background(), h.business.ID, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Submitted", result.Status)

	var stored invoicedomain.Invoice
	require.NoError(t, h.db.First(&stored, "id = ?", invoice.ID).Error)
	assert.Equal(t, invoicedomain.StatusSubmitted, stored.Status)
}

func TestPollStatusRequiresSubmission(t *testing.T) {
	h := newHarness(t)
	invoice := h.createInvoice(t, invoicedomain.StatusDraft)
	_, err := h.svc.PollStatus(context.Background(), h.business.ID, invoice.ID)
	assert.ErrorIs(t, err, lhdndomain.ErrNotSubmitted)
}

func TestCancelValidatedInvoice(t *testing.T) {
	h := newHarness(t)
	invoice := h.submitted(t)
	require.NoError(t, h.db.Model(&invoicedomain.Invoice{}).
		Where("id = ?", invoice.ID).
		Update("status", invoicedomain.StatusValidated).Error)

	var cancelledUUID string
	h.stub.cancelHandler = func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		parts := strings.Split(r.URL.Path, "/")
		cancelledUUID = parts[len(parts)-2]
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "cancelled", body["status"])
		assert.Equal(t, "duplicate entry", body["reason"])
		json.NewEncoder(w).Encode(myinvois.CancelResponse{UUID: cancelledUUID, Status: "Cancelled"})
	}

	require.NoError(t, h.svc.Cancel(context.Background(), h.business.ID, invoice.ID, "duplicate entry"))
	assert.Equal(t, "DOC-UUID-001", cancelledUUID)

	var stored invoicedomain.Invoice
	require.NoError(t, h.db.First(&stored, "id = ?", invoice.ID).Error)
	assert.Equal(t, invoicedomain.StatusCancelled, stored.Status)
}

func TestCancelRequiresValidatedStatus(t *testing.T) {
	h := newHarness(t)
	invoice := h.createInvoice(t, invoicedomain.StatusSubmitted)
	err := h.svc.Cancel(context.Background(), h.business.ID, invoice.ID, "mistake")
	assert.ErrorIs(t, err, lhdndomain.ErrNotValidated)
}
