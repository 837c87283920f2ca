package pdfgen

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	businessdomain "github.com/smallbiznis/einvois/internal/business/domain"
	"github.com/smallbiznis/einvois/internal/clock"
	invoicedomain "github.com/smallbiznis/einvois/internal/invoice/domain"
	"github.com/smallbiznis/einvois/internal/storage"
)

func TestRenderStoresPDFAndUpdatesInvoice(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&invoicedomain.Invoice{}, &invoicedomain.InvoiceItem{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	blob := storage.NewMemoryStore()

	svc := NewService(Params{DB: db, Log: zap.NewNop(), Clock: clk, Blob: blob})

	number := "INV-001"
	invoice := invoicedomain.Invoice{
		ID:            node.Generate(),
		BusinessID:    node.Generate(),
		InvoiceNumber: &number,
		Status:        invoicedomain.StatusValidated,
		CurrencyCode:  "MYR",
		Subtotal:      "100.00",
		TaxTotal:      "6.00",
		GrandTotal:    "106.00",
		CreatedAt:     clk.Now(),
		UpdatedAt:     clk.Now(),
	}
	require.NoError(t, db.Create(&invoice).Error)

	items := []invoicedomain.InvoiceItem{
		{
			ID:          node.Generate(),
			InvoiceID:   invoice.ID,
			Description: "Consulting services",
			Quantity:    "2",
			UnitPrice:   "50.00",
			Subtotal:    "100.00",
			TaxType:     "01",
			TaxRate:     "6",
			TaxAmount:   "6.00",
			Total:       "106.00",
		},
	}
	business := businessdomain.Business{
		ID:   node.Generate(),
		Name: "Acme Sdn Bhd",
		TIN:  "C1234567890",
	}

	key, err := svc.Render(context.Background(), invoice, items, business)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("invoices/%s.pdf", invoice.ID), key)

	data, err := blob.Get(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, len(data) > 0)
	assert.Equal(t, "%PDF", string(data[:4]))

	var updated invoicedomain.Invoice
	require.NoError(t, db.First(&updated, "id = ?", invoice.ID).Error)
	require.NotNil(t, updated.PDFStorageKey)
	assert.Equal(t, key, *updated.PDFStorageKey)
}
