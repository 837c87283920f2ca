package service

import (
	"encoding/csv"
	"fmt"
	"strings"

	invoicedomain "github.com/smallbiznis/einvois/internal/invoice/domain"
)

// CSV column layout, one invoice with a single line item per row:
//
//	invoiceNumber, invoiceType, issueDate, dueDate,
//	buyerName, buyerTin, buyerEmail, buyerPhone, buyerRegistrationNumber,
//	currencyCode, notes,
//	item_description, item_quantity, item_unitPrice, item_taxType, item_taxRate
const expectedColumns = 16

// ParsedRow is one CSV line mapped to a create request, or the reason it
// could not be.
type ParsedRow struct {
	Row     int
	Request *invoicedomain.CreateInvoiceRequest
	Error   string
}

// ParseCSVRows maps CSV text onto invoice create requests. An optional
// header row is skipped. Rows are numbered from 2 so numbers line up with
// the file as seen in a spreadsheet.
func ParseCSVRows(csvText string) []ParsedRow {
	reader := csv.NewReader(strings.NewReader(csvText))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return []ParsedRow{{Row: 1, Error: fmt.Sprintf("invalid CSV: %v", err)}}
	}
	if len(records) == 0 {
		return nil
	}

	if strings.Contains(strings.ToLower(strings.Join(records[0], ",")), "invoicenumber") {
		records = records[1:]
	}

	rows := make([]ParsedRow, 0, len(records))
	for idx, record := range records {
		row := idx + 2
		if blankRecord(record) {
			continue
		}

		cols := make([]string, len(record))
		for i, c := range record {
			cols[i] = strings.TrimSpace(c)
		}
		if len(cols) < expectedColumns {
			rows = append(rows, ParsedRow{
				Row:   row,
				Error: fmt.Sprintf("Expected %d columns, got %d", expectedColumns, len(cols)),
			})
			continue
		}

		if cols[11] == "" {
			rows = append(rows, ParsedRow{Row: row, Error: "item_description is required"})
			continue
		}

		req := &invoicedomain.CreateInvoiceRequest{
			InvoiceNumber:           optional(cols[0]),
			InvoiceType:             optional(orDefault(cols[1], "01")),
			IssueDate:               optional(cols[2]),
			DueDate:                 optional(cols[3]),
			BuyerName:               optional(cols[4]),
			BuyerTIN:                optional(cols[5]),
			BuyerEmail:              optional(cols[6]),
			BuyerPhone:              optional(cols[7]),
			BuyerRegistrationNumber: optional(cols[8]),
			CurrencyCode:            optional(truncate(orDefault(cols[9], "MYR"), 3)),
			Notes:                   optional(cols[10]),
			Items: []invoicedomain.ItemInput{
				{
					Description: cols[11],
					Quantity:    orDefault(cols[12], "1"),
					UnitPrice:   orDefault(cols[13], "0"),
					TaxType:     orDefault(cols[14], "NA"),
					TaxRate:     orDefault(cols[15], "0"),
				},
			},
		}
		rows = append(rows, ParsedRow{Row: row, Request: req})
	}
	return rows
}

func blankRecord(record []string) bool {
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
