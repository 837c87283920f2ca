package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/einvois/internal/audit/domain"
	"github.com/smallbiznis/einvois/internal/clock"
	invoicedomain "github.com/smallbiznis/einvois/internal/invoice/domain"
	"github.com/smallbiznis/einvois/internal/money"
	"github.com/smallbiznis/einvois/internal/observability/metrics"
	"github.com/smallbiznis/einvois/pkg/db"
	"github.com/smallbiznis/einvois/pkg/db/option"
	"github.com/smallbiznis/einvois/pkg/db/pagination"
	"github.com/smallbiznis/einvois/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	AuditSvc auditdomain.Service
	Metrics  *metrics.Metrics
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	invoicerepo repository.Repository[invoicedomain.Invoice]
	itemrepo    repository.Repository[invoicedomain.InvoiceItem]
	auditSvc    auditdomain.Service
	metrics     *metrics.Metrics
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: p.Clock,

		invoicerepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
		itemrepo:    repository.ProvideStore[invoicedomain.InvoiceItem](p.DB),
		auditSvc:    p.AuditSvc,
		metrics:     p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, businessID snowflake.ID, req invoicedomain.CreateInvoiceRequest) (invoicedomain.InvoiceWithItems, error) {
	now := s.clock.Now()

	invoice := invoicedomain.Invoice{
		ID:                      s.genID.Generate(),
		BusinessID:              businessID,
		InvoiceNumber:           trimPtr(req.InvoiceNumber),
		InvoiceType:             "01",
		Status:                  invoicedomain.StatusDraft,
		SupplierName:            trimPtr(req.SupplierName),
		SupplierTIN:             trimPtr(req.SupplierTIN),
		BuyerName:               trimPtr(req.BuyerName),
		BuyerTIN:                trimPtr(req.BuyerTIN),
		BuyerRegistrationNumber: trimPtr(req.BuyerRegistrationNumber),
		BuyerEmail:              trimPtr(req.BuyerEmail),
		BuyerPhone:              trimPtr(req.BuyerPhone),
		BuyerCountryCode:        "MYS",
		CurrencyCode:            "MYR",
		IssueDate:               trimPtr(req.IssueDate),
		DueDate:                 trimPtr(req.DueDate),
		Notes:                   req.Notes,
		Subtotal:                "0.00",
		TaxTotal:                "0.00",
		GrandTotal:              "0.00",
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if req.InvoiceType != nil {
		invoice.InvoiceType = *req.InvoiceType
	}
	if req.CurrencyCode != nil && strings.TrimSpace(*req.CurrencyCode) != "" {
		invoice.CurrencyCode = strings.TrimSpace(*req.CurrencyCode)
	}

	items, totals, err := s.buildItems(invoice.ID, req.Items, now)
	if err != nil {
		return invoicedomain.InvoiceWithItems{}, err
	}
	invoice.Subtotal = money.Format(totals.Subtotal)
	invoice.TaxTotal = money.Format(totals.TaxTotal)
	invoice.GrandTotal = money.Format(totals.GrandTotal)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.invoicerepo.WithTrx(tx).Create(ctx, &invoice); err != nil {
			return err
		}
		return s.itemrepo.WithTrx(tx).BatchCreate(ctx, items)
	})
	if err != nil {
		return invoicedomain.InvoiceWithItems{}, err
	}

	s.audit(ctx, businessID, "invoice.created", invoice.ID, map[string]any{
		"status": string(invoice.Status),
	})

	return invoicedomain.InvoiceWithItems{Invoice: invoice, Items: deref(items)}, nil
}

func (s *Service) List(ctx context.Context, businessID snowflake.ID, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	filter := &invoicedomain.Invoice{BusinessID: businessID}
	if req.Status != nil {
		filter.Status = *req.Status
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	options := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
		option.WithLimit(pageSize + 1),
	}
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339, decoded.CreatedAt)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.LT,
			Value:    createdAt,
		}))
	}

	rows, err := s.invoicerepo.Find(ctx, filter, options...)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	pageInfo, rows := pagination.BuildCursorPageInfo(rows, pageSize, func(row *invoicedomain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        row.ID.String(),
			CreatedAt: row.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})

	resp := invoicedomain.ListInvoiceResponse{Invoices: deref(rows)}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, businessID, id snowflake.ID) (invoicedomain.InvoiceWithItems, error) {
	invoice, err := s.invoicerepo.FindOne(ctx, &invoicedomain.Invoice{ID: id, BusinessID: businessID})
	if err != nil {
		return invoicedomain.InvoiceWithItems{}, err
	}
	if invoice == nil {
		return invoicedomain.InvoiceWithItems{}, invoicedomain.ErrInvoiceNotFound
	}

	items, err := s.loadItems(ctx, s.db, id)
	if err != nil {
		return invoicedomain.InvoiceWithItems{}, err
	}
	return invoicedomain.InvoiceWithItems{Invoice: *invoice, Items: items}, nil
}

func (s *Service) Update(ctx context.Context, businessID, id snowflake.ID, req invoicedomain.UpdateInvoiceRequest) (invoicedomain.InvoiceWithItems, error) {
	var result invoicedomain.InvoiceWithItems

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadForUpdate(ctx, tx, businessID, id)
		if err != nil {
			return err
		}
		if !invoice.Status.Editable() {
			return invoicedomain.ErrNotEditable
		}

		s.applyHeaderUpdate(invoice, req)
		invoice.UpdatedAt = s.clock.Now()

		var items []*invoicedomain.InvoiceItem
		if req.Items != nil {
			built, totals, err := s.buildItems(invoice.ID, *req.Items, invoice.UpdatedAt)
			if err != nil {
				return err
			}
			items = built
			invoice.Subtotal = money.Format(totals.Subtotal)
			invoice.TaxTotal = money.Format(totals.TaxTotal)
			invoice.GrandTotal = money.Format(totals.GrandTotal)

			if err := tx.Where("invoice_id = ?", invoice.ID).Delete(&invoicedomain.InvoiceItem{}).Error; err != nil {
				return err
			}
			if err := s.itemrepo.WithTrx(tx).BatchCreate(ctx, items); err != nil {
				return err
			}
		}

		if err := tx.Save(invoice).Error; err != nil {
			return err
		}

		loaded, err := s.loadItems(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		result = invoicedomain.InvoiceWithItems{Invoice: *invoice, Items: loaded}
		return nil
	})
	if err != nil {
		return invoicedomain.InvoiceWithItems{}, err
	}
	return result, nil
}

func (s *Service) Finalize(ctx context.Context, businessID, id snowflake.ID) (invoicedomain.InvoiceWithItems, error) {
	var result invoicedomain.InvoiceWithItems
	var from invoicedomain.InvoiceStatus

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadForUpdate(ctx, tx, businessID, id)
		if err != nil {
			return err
		}
		from = invoice.Status
		if err := invoicedomain.Transition(invoice.Status, invoicedomain.StatusReadyForSubmission); err != nil {
			return err
		}
		// OCR_PROCESSING also has this edge in the table, but finalize is
		// a user action and only acts on editable invoices.
		if !invoice.Status.Editable() {
			return &invoicedomain.InvalidTransitionError{
				From: invoice.Status,
				To:   invoicedomain.StatusReadyForSubmission,
			}
		}

		reasons := invoicedomain.FinalizeRequiredFields(*invoice)

		items, err := s.loadItems(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			reasons = append(reasons, "at least one line item is required")
		} else {
			recon, err := s.reconcile(items, invoice)
			if err != nil {
				return err
			}
			if !recon.Valid {
				reasons = append(reasons, recon.Errors...)
			}
		}
		if len(reasons) > 0 {
			return &invoicedomain.FinalizeError{Reasons: reasons}
		}

		invoice.Status = invoicedomain.StatusReadyForSubmission
		invoice.UpdatedAt = s.clock.Now()
		if err := tx.Save(invoice).Error; err != nil {
			return err
		}
		result = invoicedomain.InvoiceWithItems{Invoice: *invoice, Items: items}
		return nil
	})
	if err != nil {
		return invoicedomain.InvoiceWithItems{}, err
	}

	s.recordTransition(from, invoicedomain.StatusReadyForSubmission)
	s.audit(ctx, businessID, "invoice.finalized", id, nil)
	return result, nil
}

func (s *Service) Delete(ctx context.Context, businessID, id snowflake.ID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadForUpdate(ctx, tx, businessID, id)
		if err != nil {
			return err
		}
		if !invoice.Status.Deletable() {
			return invoicedomain.ErrNotDeletable
		}

		if err := tx.Where("invoice_id = ?", invoice.ID).Delete(&invoicedomain.InvoiceItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&invoicedomain.Invoice{}, "id = ?", invoice.ID).Error
	})
	if err != nil {
		return err
	}

	s.audit(ctx, businessID, "invoice.deleted", id, nil)
	return nil
}

func (s *Service) CreateForUpload(ctx context.Context, businessID, ocrDocumentID snowflake.ID) (invoicedomain.Invoice, error) {
	now := s.clock.Now()
	invoice := invoicedomain.Invoice{
		ID:               s.genID.Generate(),
		BusinessID:       businessID,
		OcrDocumentID:    &ocrDocumentID,
		InvoiceType:      "01",
		Status:           invoicedomain.StatusOCRProcessing,
		BuyerCountryCode: "MYS",
		CurrencyCode:     "MYR",
		Subtotal:         "0.00",
		TaxTotal:         "0.00",
		GrandTotal:       "0.00",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.invoicerepo.Create(ctx, &invoice); err != nil {
		return invoicedomain.Invoice{}, err
	}
	return invoice, nil
}

func (s *Service) ApplyExtraction(ctx context.Context, invoiceID snowflake.ID, apply invoicedomain.ExtractionApply) (invoicedomain.InvoiceWithItems, error) {
	var result invoicedomain.InvoiceWithItems
	var from invoicedomain.InvoiceStatus

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invoice invoicedomain.Invoice
		if err := db.LockForUpdate(tx).First(&invoice, "id = ?", invoiceID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return invoicedomain.ErrInvoiceNotFound
			}
			return err
		}
		if err := invoicedomain.Transition(invoice.Status, apply.TargetStatus); err != nil {
			return err
		}
		from = invoice.Status

		now := s.clock.Now()
		setIfPresent(&invoice.InvoiceNumber, apply.InvoiceNumber)
		setIfPresent(&invoice.IssueDate, apply.IssueDate)
		setIfPresent(&invoice.SupplierName, apply.SupplierName)
		setIfPresent(&invoice.SupplierTIN, apply.SupplierTIN)
		setIfPresent(&invoice.SupplierRegistration, apply.SupplierRegistration)
		setIfPresent(&invoice.BuyerName, apply.BuyerName)
		setIfPresent(&invoice.BuyerTIN, apply.BuyerTIN)
		setIfPresent(&invoice.BuyerRegistrationNumber, apply.BuyerRegistration)
		setIfPresent(&invoice.BuyerEmail, apply.BuyerEmail)
		setIfPresent(&invoice.BuyerPhone, apply.BuyerPhone)
		setIfPresent(&invoice.BuyerAddressLine0, apply.BuyerAddressLine0)
		setIfPresent(&invoice.BuyerAddressLine1, apply.BuyerAddressLine1)
		setIfPresent(&invoice.BuyerCityName, apply.BuyerCityName)
		setIfPresent(&invoice.BuyerStateCode, apply.BuyerStateCode)
		if apply.CurrencyCode != nil && strings.TrimSpace(*apply.CurrencyCode) != "" {
			invoice.CurrencyCode = strings.TrimSpace(*apply.CurrencyCode)
		}

		items, totals, err := s.buildItems(invoice.ID, apply.Items, now)
		if err != nil {
			return err
		}
		invoice.Subtotal = money.Format(totals.Subtotal)
		invoice.TaxTotal = money.Format(totals.TaxTotal)
		invoice.GrandTotal = money.Format(totals.GrandTotal)
		invoice.Status = apply.TargetStatus
		invoice.UpdatedAt = now

		if err := tx.Where("invoice_id = ?", invoice.ID).Delete(&invoicedomain.InvoiceItem{}).Error; err != nil {
			return err
		}
		if err := s.itemrepo.WithTrx(tx).BatchCreate(ctx, items); err != nil {
			return err
		}
		if err := tx.Save(&invoice).Error; err != nil {
			return err
		}

		result = invoicedomain.InvoiceWithItems{Invoice: invoice, Items: deref(items)}
		return nil
	})
	if err != nil {
		return invoicedomain.InvoiceWithItems{}, err
	}

	s.recordTransition(from, apply.TargetStatus)
	return result, nil
}

func (s *Service) ForceReviewRequired(ctx context.Context, invoiceID snowflake.ID) error {
	moved := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invoice invoicedomain.Invoice
		if err := db.LockForUpdate(tx).First(&invoice, "id = ?", invoiceID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return invoicedomain.ErrInvoiceNotFound
			}
			return err
		}
		if invoice.Status != invoicedomain.StatusOCRProcessing {
			return nil
		}
		invoice.Status = invoicedomain.StatusReviewRequired
		invoice.UpdatedAt = s.clock.Now()
		moved = true
		return tx.Save(&invoice).Error
	})
	if err != nil {
		return err
	}
	if moved {
		s.recordTransition(invoicedomain.StatusOCRProcessing, invoicedomain.StatusReviewRequired)
	}
	return nil
}

func (s *Service) loadForUpdate(ctx context.Context, tx *gorm.DB, businessID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	_ = ctx
	var invoice invoicedomain.Invoice
	err := db.LockForUpdate(tx).First(&invoice, "id = ? AND business_id = ?", id, businessID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, invoicedomain.ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

func (s *Service) loadItems(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) ([]invoicedomain.InvoiceItem, error) {
	var items []invoicedomain.InvoiceItem
	err := tx.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("sort_order asc").
		Find(&items).Error
	return items, err
}

// buildItems validates raw inputs and derives all money amounts. The
// stored per-line subtotal/tax/total are always recomputed here, caller
// supplied amounts are never trusted.
func (s *Service) buildItems(invoiceID snowflake.ID, inputs []invoicedomain.ItemInput, now time.Time) ([]*invoicedomain.InvoiceItem, money.Totals, error) {
	items := make([]*invoicedomain.InvoiceItem, 0, len(inputs))
	lines := make([]money.LineTotals, 0, len(inputs))

	for i, input := range inputs {
		taxType := money.TaxType(strings.TrimSpace(input.TaxType))
		if taxType == "" {
			taxType = money.TaxTypeNotApplicable
		}
		if !taxType.Valid() {
			return nil, money.Totals{}, invoicedomain.ErrInvalidTaxType
		}

		qty, err := money.Parse(strings.TrimSpace(input.Quantity))
		if err != nil {
			return nil, money.Totals{}, invoicedomain.ErrInvalidAmount
		}
		unitPrice, err := money.Parse(strings.TrimSpace(input.UnitPrice))
		if err != nil {
			return nil, money.Totals{}, invoicedomain.ErrInvalidAmount
		}
		taxRateStr := strings.TrimSpace(input.TaxRate)
		if taxRateStr == "" {
			taxRateStr = "0"
		}
		taxRate, err := money.Parse(taxRateStr)
		if err != nil {
			return nil, money.Totals{}, invoicedomain.ErrInvalidAmount
		}

		line := money.ComputeLineTotals(money.LineInput{
			Quantity:  qty,
			UnitPrice: unitPrice,
			TaxRate:   taxRate,
			TaxType:   taxType,
		})
		lines = append(lines, line)

		item := &invoicedomain.InvoiceItem{
			ID:                 s.genID.Generate(),
			InvoiceID:          invoiceID,
			Description:        strings.TrimSpace(input.Description),
			ClassificationCode: "001",
			Quantity:           input.Quantity,
			UnitCode:           "UNT",
			UnitPrice:          input.UnitPrice,
			Subtotal:           money.Format(line.Subtotal),
			TaxType:            taxType,
			TaxRate:            taxRateStr,
			TaxAmount:          money.Format(line.TaxAmount),
			Total:              money.Format(line.Subtotal.Add(line.TaxAmount)),
			SortOrder:          i,
			CreatedAt:          now,
		}
		if input.ClassificationCode != nil && strings.TrimSpace(*input.ClassificationCode) != "" {
			item.ClassificationCode = strings.TrimSpace(*input.ClassificationCode)
		}
		if input.UnitCode != nil && strings.TrimSpace(*input.UnitCode) != "" {
			item.UnitCode = strings.TrimSpace(*input.UnitCode)
		}
		items = append(items, item)
	}

	return items, money.SumItemTotals(lines), nil
}

// reconcile recomputes totals from the stored per-line amounts and checks
// them against the invoice's stored totals. Always run fresh, never cached.
func (s *Service) reconcile(items []invoicedomain.InvoiceItem, invoice *invoicedomain.Invoice) (money.ReconcileResult, error) {
	lines := make([]money.LineTotals, 0, len(items))
	for _, item := range items {
		subtotal, err := money.Parse(item.Subtotal)
		if err != nil {
			return money.ReconcileResult{}, invoicedomain.ErrInvalidAmount
		}
		taxAmount, err := money.Parse(item.TaxAmount)
		if err != nil {
			return money.ReconcileResult{}, invoicedomain.ErrInvalidAmount
		}
		lines = append(lines, money.LineTotals{Subtotal: subtotal, TaxAmount: taxAmount})
	}

	storedSubtotal, err := money.Parse(invoice.Subtotal)
	if err != nil {
		return money.ReconcileResult{}, invoicedomain.ErrInvalidAmount
	}
	storedTaxTotal, err := money.Parse(invoice.TaxTotal)
	if err != nil {
		return money.ReconcileResult{}, invoicedomain.ErrInvalidAmount
	}
	storedGrandTotal, err := money.Parse(invoice.GrandTotal)
	if err != nil {
		return money.ReconcileResult{}, invoicedomain.ErrInvalidAmount
	}

	return money.Reconcile(lines, storedSubtotal, storedTaxTotal, storedGrandTotal), nil
}

func (s *Service) applyHeaderUpdate(invoice *invoicedomain.Invoice, req invoicedomain.UpdateInvoiceRequest) {
	setIfPresent(&invoice.InvoiceNumber, trimPtr(req.InvoiceNumber))
	if req.InvoiceType != nil {
		invoice.InvoiceType = *req.InvoiceType
	}
	setIfPresent(&invoice.SupplierName, trimPtr(req.SupplierName))
	setIfPresent(&invoice.SupplierTIN, trimPtr(req.SupplierTIN))
	setIfPresent(&invoice.SupplierRegistration, trimPtr(req.SupplierRegistration))
	setIfPresent(&invoice.BuyerName, trimPtr(req.BuyerName))
	setIfPresent(&invoice.BuyerTIN, trimPtr(req.BuyerTIN))
	setIfPresent(&invoice.BuyerRegistrationNumber, trimPtr(req.BuyerRegistrationNumber))
	setIfPresent(&invoice.BuyerSSTNumber, trimPtr(req.BuyerSSTNumber))
	setIfPresent(&invoice.BuyerEmail, trimPtr(req.BuyerEmail))
	setIfPresent(&invoice.BuyerPhone, trimPtr(req.BuyerPhone))
	setIfPresent(&invoice.BuyerAddressLine0, req.BuyerAddressLine0)
	setIfPresent(&invoice.BuyerAddressLine1, req.BuyerAddressLine1)
	setIfPresent(&invoice.BuyerCityName, req.BuyerCityName)
	setIfPresent(&invoice.BuyerStateCode, req.BuyerStateCode)
	if req.BuyerCountryCode != nil && strings.TrimSpace(*req.BuyerCountryCode) != "" {
		invoice.BuyerCountryCode = strings.TrimSpace(*req.BuyerCountryCode)
	}
	if req.CurrencyCode != nil && strings.TrimSpace(*req.CurrencyCode) != "" {
		invoice.CurrencyCode = strings.TrimSpace(*req.CurrencyCode)
	}
	setIfPresent(&invoice.IssueDate, trimPtr(req.IssueDate))
	setIfPresent(&invoice.DueDate, trimPtr(req.DueDate))
	setIfPresent(&invoice.Notes, req.Notes)
}

func (s *Service) audit(ctx context.Context, businessID snowflake.ID, action string, invoiceID snowflake.ID, metadata map[string]any) {
	targetID := invoiceID.String()
	if err := s.auditSvc.Record(ctx, businessID, action, "invoice", &targetID, metadata); err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) recordTransition(from, to invoicedomain.InvoiceStatus) {
	s.metrics.InvoiceTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	return &trimmed
}

func setIfPresent(dst **string, v *string) {
	if v != nil {
		*dst = v
	}
}

func deref[T any](in []*T) []T {
	out := make([]T, 0, len(in))
	for _, v := range in {
		if v == nil {
			continue
		}
		out = append(out, *v)
	}
	return out
}
