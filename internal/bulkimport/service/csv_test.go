package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const csvHeader = "invoiceNumber,invoiceType,issueDate,dueDate,buyerName,buyerTin,buyerEmail,buyerPhone,buyerRegistrationNumber,currencyCode,notes,item_description,item_quantity,item_unitPrice,item_taxType,item_taxRate"

func TestParseCSVRowsFullRow(t *testing.T) {
	csvText := csvHeader + "\n" +
		"INV-001,01,2025-06-01,2025-06-30,Acme Sdn Bhd,C1234567890,billing@acme.my,+60123456789,202001012345,MYR,June retainer,Consulting services,2,150.00,01,6"

	rows := ParseCSVRows(csvText)
	require.Len(t, rows, 1)
	require.Empty(t, rows[0].Error)
	require.NotNil(t, rows[0].Request)
	assert.Equal(t, 2, rows[0].Row)

	req := rows[0].Request
	assert.Equal(t, "INV-001", *req.InvoiceNumber)
	assert.Equal(t, "01", *req.InvoiceType)
	assert.Equal(t, "2025-06-01", *req.IssueDate)
	assert.Equal(t, "2025-06-30", *req.DueDate)
	assert.Equal(t, "Acme Sdn Bhd", *req.BuyerName)
	assert.Equal(t, "C1234567890", *req.BuyerTIN)
	assert.Equal(t, "billing@acme.my", *req.BuyerEmail)
	assert.Equal(t, "202001012345", *req.BuyerRegistrationNumber)
	assert.Equal(t, "MYR", *req.CurrencyCode)
	assert.Equal(t, "June retainer", *req.Notes)

	require.Len(t, req.Items, 1)
	assert.Equal(t, "Consulting services", req.Items[0].Description)
	assert.Equal(t, "2", req.Items[0].Quantity)
	assert.Equal(t, "150.00", req.Items[0].UnitPrice)
	assert.Equal(t, "01", req.Items[0].TaxType)
	assert.Equal(t, "6", req.Items[0].TaxRate)
}

func TestParseCSVRowsDefaults(t *testing.T) {
	csvText := ",,,,,,,,,,,Widget,,,,"
	rows := ParseCSVRows(csvText)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Request)

	req := rows[0].Request
	assert.Nil(t, req.InvoiceNumber)
	assert.Equal(t, "01", *req.InvoiceType)
	assert.Equal(t, "MYR", *req.CurrencyCode)
	assert.Equal(t, "1", req.Items[0].Quantity)
	assert.Equal(t, "0", req.Items[0].UnitPrice)
	assert.Equal(t, "NA", req.Items[0].TaxType)
	assert.Equal(t, "0", req.Items[0].TaxRate)
}

func TestParseCSVRowsCurrencyTruncated(t *testing.T) {
	csvText := ",,,,,,,,,MYRINGGIT,,Widget,,,,"
	rows := ParseCSVRows(csvText)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Request)
	assert.Equal(t, "MYR", *rows[0].Request.CurrencyCode)
}

func TestParseCSVRowsShortRow(t *testing.T) {
	rows := ParseCSVRows("INV-001,01,2025-06-01")
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Request)
	assert.Equal(t, "Expected 16 columns, got 3", rows[0].Error)
}

func TestParseCSVRowsMissingDescription(t *testing.T) {
	csvText := csvHeader + "\n" +
		"INV-001,01,2025-06-01,,,,,,,,,,2,100,01,6"
	rows := ParseCSVRows(csvText)
	require.Len(t, rows, 1)
	assert.Equal(t, "item_description is required", rows[0].Error)
	assert.Equal(t, 2, rows[0].Row)
}

func TestParseCSVRowsQuotedFields(t *testing.T) {
	csvText := `"INV-002",01,2025-06-01,,,"C1234567890",,,,MYR,"Net 30, no discount","Parts, assorted",1,10.50,NA,0`
	rows := ParseCSVRows(csvText)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Request)
	assert.Equal(t, "Net 30, no discount", *rows[0].Request.Notes)
	assert.Equal(t, "Parts, assorted", rows[0].Request.Items[0].Description)
}

func TestParseCSVRowsSkipsBlankRecords(t *testing.T) {
	csvText := csvHeader + "\n" +
		"INV-003,,,,,,,,,,,Widget,,,,\n" +
		",,,,,,,,,,,,,,,\n"
	rows := ParseCSVRows(csvText)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Row)
	assert.Equal(t, "INV-003", *rows[0].Request.InvoiceNumber)
}

func TestParseCSVRowsNumbersContinuePastErrors(t *testing.T) {
	csvText := csvHeader + "\n" +
		"INV-010,,,,,,,,,,,First,,,,\n" +
		"short,row\n" +
		"INV-012,,,,,,,,,,,Third,,,,"
	rows := ParseCSVRows(csvText)
	require.Len(t, rows, 3)
	assert.Equal(t, 2, rows[0].Row)
	assert.Equal(t, 3, rows[1].Row)
	assert.True(t, strings.HasPrefix(rows[1].Error, "Expected 16 columns"))
	assert.Equal(t, 4, rows[2].Row)
}
