package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/einvois/internal/audit/domain"
	businessdomain "github.com/smallbiznis/einvois/internal/business/domain"
	"github.com/smallbiznis/einvois/internal/clock"
	"github.com/smallbiznis/einvois/internal/crypto"
	"github.com/smallbiznis/einvois/internal/events"
	invoicedomain "github.com/smallbiznis/einvois/internal/invoice/domain"
	lhdndomain "github.com/smallbiznis/einvois/internal/lhdn/domain"
	"github.com/smallbiznis/einvois/internal/lhdn/myinvois"
	"github.com/smallbiznis/einvois/internal/observability/metrics"
	"github.com/smallbiznis/einvois/pkg/db/option"
	"github.com/smallbiznis/einvois/pkg/repository"
)

// tokenBufferSeconds is subtracted from the reported token lifetime when
// caching, so a token is refreshed shortly before MyInvois expires it.
const tokenBufferSeconds = 60

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Cipher      *crypto.Cipher
	Client      *myinvois.Client
	BusinessSvc businessdomain.Service
	AuditSvc    auditdomain.Service
	Publisher   events.Publisher
	Metrics     *metrics.Metrics
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cipher      *crypto.Cipher
	client      *myinvois.Client
	businessSvc businessdomain.Service
	auditSvc    auditdomain.Service
	publisher   events.Publisher
	metrics     *metrics.Metrics

	invoicerepo    repository.Repository[invoicedomain.Invoice]
	submissionrepo repository.Repository[lhdndomain.LhdnSubmission]
	tokenrepo      repository.Repository[lhdndomain.LhdnToken]
}

func NewService(p Params) lhdndomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("lhdn.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cipher:      p.Cipher,
		client:      p.Client,
		businessSvc: p.BusinessSvc,
		auditSvc:    p.AuditSvc,
		publisher:   p.Publisher,
		metrics:     p.Metrics,

		invoicerepo:    repository.ProvideStore[invoicedomain.Invoice](p.DB),
		submissionrepo: repository.ProvideStore[lhdndomain.LhdnSubmission](p.DB),
		tokenrepo:      repository.ProvideStore[lhdndomain.LhdnToken](p.DB),
	}
}

func (s *Service) Submit(ctx context.Context, businessID, invoiceID snowflake.ID) (lhdndomain.SubmitResult, error) {
	invoice, err := s.loadInvoice(ctx, businessID, invoiceID)
	if err != nil {
		return lhdndomain.SubmitResult{}, err
	}
	if invoice.Status != invoicedomain.StatusReadyForSubmission {
		return lhdndomain.SubmitResult{}, lhdndomain.ErrNotReady
	}

	business, err := s.businessSvc.GetByID(ctx, businessID)
	if err != nil {
		return lhdndomain.SubmitResult{}, err
	}

	accessToken, err := s.getOrRefreshToken(ctx, business)
	if err != nil {
		return lhdndomain.SubmitResult{}, err
	}

	var items []invoicedomain.InvoiceItem
	if err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("sort_order asc").
		Find(&items).Error; err != nil {
		return lhdndomain.SubmitResult{}, err
	}

	ublDoc := myinvois.BuildDocument(*invoice, items, business)
	codeNumber := invoice.ID.String()
	if invoice.InvoiceNumber != nil {
		codeNumber = *invoice.InvoiceNumber
	}
	doc, err := myinvois.PrepareDocument(ublDoc, codeNumber)
	if err != nil {
		return lhdndomain.SubmitResult{}, err
	}
	payload := myinvois.SubmissionPayload{Documents: []myinvois.SubmissionDocument{doc}}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return lhdndomain.SubmitResult{}, err
	}

	// The submission row is written before the network call so a crash or
	// timeout mid-submit still leaves an audit trail.
	submission := lhdndomain.LhdnSubmission{
		ID:                s.genID.Generate(),
		InvoiceID:         invoiceID,
		BusinessID:        businessID,
		SubmissionPayload: string(payloadJSON),
		Status:            lhdndomain.SubmissionPending,
		CreatedAt:         s.clock.Now(),
	}
	if err := s.submissionrepo.Create(ctx, &submission); err != nil {
		return lhdndomain.SubmitResult{}, err
	}

	response, err := s.client.SubmitDocuments(ctx, accessToken, payload)
	if err != nil {
		// Transport or server failure: record it and leave the invoice in
		// READY_FOR_SUBMISSION so the caller can retry.
		s.metrics.SubmissionsTotal.WithLabelValues("error").Inc()
		s.markSubmissionFailed(ctx, submission.ID, err.Error(), nil)
		return lhdndomain.SubmitResult{}, err
	}

	responseJSON, _ := json.Marshal(response)
	responseStr := string(responseJSON)

	if len(response.AcceptedDocuments) == 0 && len(response.RejectedDocuments) > 0 {
		rejection := response.RejectedDocuments[0].Error.Message
		s.metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		s.markSubmissionFailed(ctx, submission.ID, rejection, &responseStr)
		if err := s.updateInvoice(ctx, invoiceID, map[string]any{
			"status":     invoicedomain.StatusRejected,
			"updated_at": s.clock.Now(),
		}); err != nil {
			return lhdndomain.SubmitResult{}, err
		}
		s.recordTransition(invoice.Status, invoicedomain.StatusRejected)
		s.publish(ctx, events.InvoiceRejected, businessID, invoiceID, map[string]any{"reason": rejection})
		s.audit(ctx, businessID, "lhdn.submission_rejected", invoiceID, map[string]any{"reason": rejection})
		return lhdndomain.SubmitResult{}, &lhdndomain.RejectionError{Message: rejection}
	}

	now := s.clock.Now()
	var documentUuid *string
	if len(response.AcceptedDocuments) > 0 {
		documentUuid = &response.AcceptedDocuments[0].UUID
	}

	if err := s.submissionrepo.Update(ctx, submission.ID.String(), map[string]any{
		"submission_uid":   response.SubmissionUid,
		"document_uuid":    documentUuid,
		"status":           lhdndomain.SubmissionSubmitted,
		"response_payload": responseStr,
		"submitted_at":     now,
	}); err != nil {
		return lhdndomain.SubmitResult{}, err
	}

	update := map[string]any{
		"status":              invoicedomain.StatusSubmitted,
		"lhdn_submission_uid": response.SubmissionUid,
		"lhdn_submitted_at":   now,
		"updated_at":          now,
	}
	if documentUuid != nil {
		update["lhdn_uuid"] = *documentUuid
	}
	if err := s.updateInvoice(ctx, invoiceID, update); err != nil {
		return lhdndomain.SubmitResult{}, err
	}

	s.metrics.SubmissionsTotal.WithLabelValues("submitted").Inc()
	s.recordTransition(invoice.Status, invoicedomain.StatusSubmitted)
	s.publish(ctx, events.InvoiceSubmitted, businessID, invoiceID, map[string]any{
		"submission_uid": response.SubmissionUid,
	})
	s.audit(ctx, businessID, "lhdn.submitted", invoiceID, map[string]any{
		"submission_uid": response.SubmissionUid,
	})

	return lhdndomain.SubmitResult{
		SubmissionUid: response.SubmissionUid,
		Status:        lhdndomain.SubmissionSubmitted,
	}, nil
}

func (s *Service) PollStatus(ctx context.Context, businessID, invoiceID snowflake.ID) (lhdndomain.StatusResult, error) {
	invoice, err := s.loadInvoice(ctx, businessID, invoiceID)
	if err != nil {
		return lhdndomain.StatusResult{}, err
	}
	if invoice.LHDNSubmissionUid == nil {
		return lhdndomain.StatusResult{}, lhdndomain.ErrNotSubmitted
	}

	business, err := s.businessSvc.GetByID(ctx, businessID)
	if err != nil {
		return lhdndomain.StatusResult{}, err
	}

	accessToken, err := s.getOrRefreshToken(ctx, business)
	if err != nil {
		return lhdndomain.StatusResult{}, err
	}

	statusResp, err := s.client.GetSubmissionStatus(ctx, accessToken, *invoice.LHDNSubmissionUid)
	if err != nil {
		return lhdndomain.StatusResult{}, err
	}
	if len(statusResp.DocumentSummary) == 0 {
		return lhdndomain.StatusResult{Status: statusResp.OverallStatus}, nil
	}

	doc := statusResp.DocumentSummary[0]
	responseJSON, _ := json.Marshal(statusResp)
	responseStr := string(responseJSON)
	now := s.clock.Now()

	switch doc.Status {
	case "Valid":
		validatedAt := now
		if t, err := time.Parse(time.RFC3339, doc.DateTimeValidated); err == nil {
			validatedAt = t
		}
		if err := s.settleSubmission(ctx, invoiceID, map[string]any{
			"status":           lhdndomain.SubmissionValidated,
			"validated_at":     validatedAt,
			"response_payload": responseStr,
		}); err != nil {
			return lhdndomain.StatusResult{}, err
		}
		if err := s.updateInvoice(ctx, invoiceID, map[string]any{
			"status":                 invoicedomain.StatusValidated,
			"lhdn_validation_status": "Valid",
			"lhdn_validated_at":      validatedAt,
			"updated_at":             now,
		}); err != nil {
			return lhdndomain.StatusResult{}, err
		}
		s.metrics.SubmissionsTotal.WithLabelValues("validated").Inc()
		s.recordTransition(invoice.Status, invoicedomain.StatusValidated)
		s.publish(ctx, events.InvoiceValidated, businessID, invoiceID, nil)
		s.audit(ctx, businessID, "lhdn.validated", invoiceID, nil)

	case "Invalid":
		reason := "Rejected by LHDN"
		if doc.Error != nil {
			reason = doc.Error.Message
		}
		if err := s.settleSubmission(ctx, invoiceID, map[string]any{
			"status":           lhdndomain.SubmissionRejected,
			"error_message":    reason,
			"response_payload": responseStr,
		}); err != nil {
			return lhdndomain.StatusResult{}, err
		}
		if err := s.updateInvoice(ctx, invoiceID, map[string]any{
			"status":                 invoicedomain.StatusRejected,
			"lhdn_validation_status": "Invalid",
			"updated_at":             now,
		}); err != nil {
			return lhdndomain.StatusResult{}, err
		}
		s.metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		s.recordTransition(invoice.Status, invoicedomain.StatusRejected)
		s.publish(ctx, events.InvoiceRejected, businessID, invoiceID, map[string]any{"reason": reason})
		s.audit(ctx, businessID, "lhdn.rejected", invoiceID, map[string]any{"reason": reason})
	}

	return lhdndomain.StatusResult{Status: doc.Status, Details: statusResp}, nil
}

func (s *Service) Cancel(ctx context.Context, businessID, invoiceID snowflake.ID, reason string) error {
	invoice, err := s.loadInvoice(ctx, businessID, invoiceID)
	if err != nil {
		return err
	}
	if invoice.Status != invoicedomain.StatusValidated {
		return lhdndomain.ErrNotValidated
	}
	if invoice.LHDNUuid == nil {
		return lhdndomain.ErrMissingUuid
	}

	business, err := s.businessSvc.GetByID(ctx, businessID)
	if err != nil {
		return err
	}

	accessToken, err := s.getOrRefreshToken(ctx, business)
	if err != nil {
		return err
	}

	if _, err := s.client.CancelDocument(ctx, accessToken, *invoice.LHDNUuid, reason); err != nil {
		return err
	}

	if err := s.updateInvoice(ctx, invoiceID, map[string]any{
		"status":     invoicedomain.StatusCancelled,
		"updated_at": s.clock.Now(),
	}); err != nil {
		return err
	}

	s.recordTransition(invoice.Status, invoicedomain.StatusCancelled)
	s.publish(ctx, events.InvoiceCancelled, businessID, invoiceID, map[string]any{"reason": reason})
	s.audit(ctx, businessID, "lhdn.cancelled", invoiceID, map[string]any{"reason": reason})
	return nil
}

// getOrRefreshToken returns a usable access token for the business, hitting
// the token endpoint only when the cached one has expired.
func (s *Service) getOrRefreshToken(ctx context.Context, business businessdomain.Business) (string, error) {
	if !business.HasLHDNCredentials() {
		return "", businessdomain.ErrCredentialsMissing
	}

	cached, err := s.tokenrepo.FindOne(ctx, &lhdndomain.LhdnToken{BusinessID: business.ID})
	if err != nil {
		return "", err
	}
	if cached != nil && s.clock.Now().Before(cached.ExpiresAt) {
		return s.cipher.Decrypt(cached.AccessTokenEncrypted)
	}

	creds, err := s.businessSvc.DecryptLHDNCredentials(ctx, business)
	if err != nil {
		return "", err
	}

	tokenResp, err := s.client.GetToken(ctx, creds.ClientID, creds.ClientSecret)
	if err != nil {
		return "", err
	}

	encrypted, err := s.cipher.Encrypt(tokenResp.AccessToken)
	if err != nil {
		return "", err
	}

	now := s.clock.Now()
	expiresAt := now.Add(time.Duration(tokenResp.ExpiresIn-tokenBufferSeconds) * time.Second)
	if cached != nil {
		err = s.tokenrepo.Update(ctx, cached.ID.String(), map[string]any{
			"access_token_encrypted": encrypted,
			"expires_at":             expiresAt,
			"updated_at":             now,
		})
	} else {
		err = s.tokenrepo.Create(ctx, &lhdndomain.LhdnToken{
			ID:                   s.genID.Generate(),
			BusinessID:           business.ID,
			AccessTokenEncrypted: encrypted,
			ExpiresAt:            expiresAt,
			CreatedAt:            now,
			UpdatedAt:            now,
		})
	}
	if err != nil {
		return "", err
	}

	return tokenResp.AccessToken, nil
}

func (s *Service) loadInvoice(ctx context.Context, businessID, invoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.invoicerepo.FindOne(ctx, &invoicedomain.Invoice{ID: invoiceID, BusinessID: businessID})
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) updateInvoice(ctx context.Context, invoiceID snowflake.ID, values map[string]any) error {
	return s.db.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("id = ?", invoiceID).Updates(values).Error
}

// settleSubmission updates the latest submission row for an invoice.
func (s *Service) settleSubmission(ctx context.Context, invoiceID snowflake.ID, values map[string]any) error {
	latest, err := s.submissionrepo.Find(ctx, &lhdndomain.LhdnSubmission{InvoiceID: invoiceID},
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
		option.WithLimit(1))
	if err != nil || len(latest) == 0 {
		return err
	}
	return s.submissionrepo.Update(ctx, latest[0].ID.String(), values)
}

func (s *Service) markSubmissionFailed(ctx context.Context, submissionID snowflake.ID, message string, responsePayload *string) {
	values := map[string]any{
		"status":        lhdndomain.SubmissionRejected,
		"error_message": message,
	}
	if responsePayload != nil {
		values["response_payload"] = *responsePayload
	}
	if err := s.submissionrepo.Update(ctx, submissionID.String(), values); err != nil {
		s.log.Warn("failed to record submission failure", zap.Error(err), zap.Stringer("submission_id", submissionID))
	}
}

func (s *Service) publish(ctx context.Context, eventType events.EventType, businessID, invoiceID snowflake.ID, metadata map[string]any) {
	s.publisher.Publish(ctx, events.Event{
		Type:       eventType,
		BusinessID: businessID,
		InvoiceID:  invoiceID,
		OccurredAt: s.clock.Now(),
		Metadata:   metadata,
	})
}

func (s *Service) recordTransition(from, to invoicedomain.InvoiceStatus) {
	s.metrics.InvoiceTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func (s *Service) audit(ctx context.Context, businessID snowflake.ID, action string, invoiceID snowflake.ID, metadata map[string]any) {
	targetID := invoiceID.String()
	if err := s.auditSvc.Record(ctx, businessID, action, "invoice", &targetID, metadata); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("audit record failed", zap.Error(err), zap.String("action", action))
	}
}
