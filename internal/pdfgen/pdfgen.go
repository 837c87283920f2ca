// Package pdfgen renders invoices to PDF and stores them alongside the
// invoice record.
package pdfgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	marotocfg "github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	businessdomain "github.com/smallbiznis/einvois/internal/business/domain"
	"github.com/smallbiznis/einvois/internal/clock"
	invoicedomain "github.com/smallbiznis/einvois/internal/invoice/domain"
	"github.com/smallbiznis/einvois/internal/storage"
)

// Service renders an invoice PDF and returns the storage key it was
// written under. The key is also persisted on the invoice row.
type Service interface {
	Render(ctx context.Context, invoice invoicedomain.Invoice, items []invoicedomain.InvoiceItem, business businessdomain.Business) (string, error)
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Blob  storage.BlobStore
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	blob  storage.BlobStore
}

func NewService(p Params) Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("pdfgen.service"),
		clock: p.Clock,
		blob:  p.Blob,
	}
}

var Module = fx.Module("pdfgen.service",
	fx.Provide(NewService),
)

func (s *service) Render(ctx context.Context, invoice invoicedomain.Invoice, items []invoicedomain.InvoiceItem, business businessdomain.Business) (string, error) {
	doc, err := build(invoice, items, business).Generate()
	if err != nil {
		return "", fmt.Errorf("generate pdf: %w", err)
	}

	key := fmt.Sprintf("invoices/%s.pdf", invoice.ID)
	if err := s.blob.Put(ctx, key, doc.GetBytes(), "application/pdf"); err != nil {
		return "", err
	}

	err = s.db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("id = ?", invoice.ID).
		Updates(map[string]any{
			"pdf_storage_key": key,
			"updated_at":      s.clock.Now(),
		}).Error
	if err != nil {
		return "", err
	}

	s.log.Info("invoice pdf rendered",
		zap.Stringer("invoice_id", invoice.ID),
		zap.String("storage_key", key),
	)
	return key, nil
}

func build(invoice invoicedomain.Invoice, items []invoicedomain.InvoiceItem, business businessdomain.Business) core.Maroto {
	cfg := marotocfg.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(10,
		text.NewCol(12, "e-Invoice", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Invoice number: "+deref(invoice.InvoiceNumber), props.Text{Top: 0}),
			text.New("Issue date: "+deref(invoice.IssueDate), props.Text{Top: 4}),
			text.New("Due date: "+deref(invoice.DueDate), props.Text{Top: 8}),
			text.New("Currency: "+invoice.CurrencyCode, props.Text{Top: 12}),
		),
		col.New(6).Add(
			text.New("Status: "+string(invoice.Status), props.Text{Top: 0}),
			text.New("LHDN UUID: "+deref(invoice.LHDNUuid), props.Text{Top: 4}),
		),
	)

	m.AddRow(40,
		col.New(6).Add(
			text.New("Supplier", props.Text{Style: fontstyle.Bold}),
			text.New(fallback(invoice.SupplierName, business.Name), props.Text{Top: 5}),
			text.New("TIN: "+fallback(invoice.SupplierTIN, business.TIN), props.Text{Top: 9}),
			text.New(businessAddress(business), props.Text{Top: 13}),
		),
		col.New(6).Add(
			text.New("Buyer", props.Text{Style: fontstyle.Bold}),
			text.New(deref(invoice.BuyerName), props.Text{Top: 5}),
			text.New("TIN: "+deref(invoice.BuyerTIN), props.Text{Top: 9}),
			text.New(deref(invoice.BuyerEmail), props.Text{Top: 13}),
		),
	)

	m.AddRow(10,
		text.NewCol(5, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(1, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Tax", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, item := range items {
		m.AddRow(12,
			text.NewCol(5, item.Description, props.Text{Size: 9}),
			text.NewCol(1, item.Quantity, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.TaxAmount, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Total, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Subtotal", props.Text{Size: 9}),
		text.NewCol(2, invoice.Subtotal, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Tax total", props.Text{Size: 9}),
		text.NewCol(2, invoice.TaxTotal, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Grand total", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, invoice.GrandTotal, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	return m
}

func businessAddress(business businessdomain.Business) string {
	parts := []*string{business.AddressLine0, business.AddressLine1, business.CityName, business.PostalZone}
	var out []string
	for _, p := range parts {
		if p != nil && *p != "" {
			out = append(out, *p)
		}
	}
	return strings.Join(out, ", ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func fallback(s *string, def string) string {
	if s != nil && *s != "" {
		return *s
	}
	return def
}
