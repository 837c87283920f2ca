package myinvois

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strconv"

	businessdomain "github.com/smallbiznis/einvois/internal/business/domain"
	invoicedomain "github.com/smallbiznis/einvois/internal/invoice/domain"
)

// UBL 2.1 JSON structure per the MyInvois v1.1 document format. Every
// element is wrapped in a single-element array with the value under "_",
// attributes alongside it.
type Document struct {
	D       string       `json:"_D"`
	A       string       `json:"_A"`
	B       string       `json:"_B"`
	Invoice []UblInvoice `json:"Invoice"`
}

type UblInvoice struct {
	ID                      []textNode         `json:"ID"`
	IssueDate               []textNode         `json:"IssueDate"`
	IssueTime               []textNode         `json:"IssueTime"`
	InvoiceTypeCode         []typeCodeNode     `json:"InvoiceTypeCode"`
	DocumentCurrencyCode    []textNode         `json:"DocumentCurrencyCode"`
	AccountingSupplierParty []UblParty         `json:"AccountingSupplierParty"`
	AccountingCustomerParty []UblParty         `json:"AccountingCustomerParty"`
	InvoiceLine             []UblInvoiceLine   `json:"InvoiceLine"`
	TaxTotal                []UblTaxTotal      `json:"TaxTotal"`
	LegalMonetaryTotal      []UblMonetaryTotal `json:"LegalMonetaryTotal"`
}

type textNode struct {
	Value string `json:"_"`
}

type typeCodeNode struct {
	Value         string `json:"_"`
	ListVersionID string `json:"listVersionID"`
}

type amountNode struct {
	Value      float64 `json:"_"`
	CurrencyID string  `json:"currencyID"`
}

type quantityNode struct {
	Value    float64 `json:"_"`
	UnitCode string  `json:"unitCode"`
}

type schemeIDNode struct {
	Value    string `json:"_"`
	SchemeID string `json:"schemeID"`
}

type listIDNode struct {
	Value  string `json:"_"`
	ListID string `json:"listID"`
}

type UblParty struct {
	Party []ublPartyDetail `json:"Party"`
}

type ublPartyDetail struct {
	PartyIdentification []ublPartyID       `json:"PartyIdentification"`
	PartyName           []ublPartyName     `json:"PartyName"`
	PostalAddress       []ublPostalAddress `json:"PostalAddress"`
	PartyTaxScheme      []ublPartyTax      `json:"PartyTaxScheme"`
	PartyLegalEntity    []ublLegalEntity   `json:"PartyLegalEntity"`
	Contact             []ublContact       `json:"Contact,omitempty"`
}

type ublPartyID struct {
	ID []schemeIDNode `json:"ID"`
}

type ublPartyName struct {
	Name []textNode `json:"Name"`
}

type ublLegalEntity struct {
	RegistrationName []textNode `json:"RegistrationName"`
}

type ublPostalAddress struct {
	CityName []textNode   `json:"CityName,omitempty"`
	Country  []ublCountry `json:"Country"`
}

type ublCountry struct {
	IdentificationCode []textNode `json:"IdentificationCode"`
}

type ublPartyTax struct {
	CompanyID []textNode     `json:"CompanyID"`
	TaxScheme []ublTaxScheme `json:"TaxScheme"`
}

type ublTaxScheme struct {
	ID []textNode `json:"ID"`
}

type ublContact struct {
	ElectronicMail []textNode `json:"ElectronicMail,omitempty"`
	Telephone      []textNode `json:"Telephone,omitempty"`
}

type UblInvoiceLine struct {
	ID                  []textNode     `json:"ID"`
	InvoicedQuantity    []quantityNode `json:"InvoicedQuantity"`
	LineExtensionAmount []amountNode   `json:"LineExtensionAmount"`
	Item                []ublLineItem  `json:"Item"`
	Price               []ublPrice     `json:"Price"`
	TaxTotal            []UblTaxTotal  `json:"TaxTotal"`
}

type ublPrice struct {
	PriceAmount []amountNode `json:"PriceAmount"`
}

type ublLineItem struct {
	Description             []textNode          `json:"Description"`
	CommodityClassification []ublCommodityClass `json:"CommodityClassification"`
}

type ublCommodityClass struct {
	ItemClassificationCode []listIDNode `json:"ItemClassificationCode"`
}

type UblTaxTotal struct {
	TaxAmount   []amountNode     `json:"TaxAmount"`
	TaxSubtotal []ublTaxSubtotal `json:"TaxSubtotal"`
}

type ublTaxSubtotal struct {
	TaxableAmount []amountNode     `json:"TaxableAmount"`
	TaxAmount     []amountNode     `json:"TaxAmount"`
	TaxCategory   []ublTaxCategory `json:"TaxCategory"`
}

type ublTaxCategory struct {
	ID        []textNode     `json:"ID"`
	TaxScheme []ublTaxScheme `json:"TaxScheme"`
}

type UblMonetaryTotal struct {
	LineExtensionAmount []amountNode `json:"LineExtensionAmount"`
	TaxExclusiveAmount  []amountNode `json:"TaxExclusiveAmount"`
	TaxInclusiveAmount  []amountNode `json:"TaxInclusiveAmount"`
	PayableAmount       []amountNode `json:"PayableAmount"`
}

// BuildDocument maps an invoice and its items onto the UBL JSON document.
// Supplier fields fall back to the business profile when the invoice does
// not carry its own snapshot.
func BuildDocument(invoice invoicedomain.Invoice, items []invoicedomain.InvoiceItem, business businessdomain.Business) Document {
	currency := invoice.CurrencyCode
	issueDate := deref(invoice.IssueDate)

	lines := make([]UblInvoiceLine, 0, len(items))
	for i, item := range items {
		line := UblInvoiceLine{
			ID:                  []textNode{{strconv.Itoa(i + 1)}},
			InvoicedQuantity:    []quantityNode{{parseAmount(item.Quantity), item.UnitCode}},
			LineExtensionAmount: []amountNode{{parseAmount(item.Subtotal), currency}},
			Item: []ublLineItem{{
				Description:             []textNode{{item.Description}},
				CommodityClassification: []ublCommodityClass{{ItemClassificationCode: []listIDNode{{item.ClassificationCode, "CLASS"}}}},
			}},
			TaxTotal: []UblTaxTotal{{
				TaxAmount: []amountNode{{parseAmount(item.TaxAmount), currency}},
				TaxSubtotal: []ublTaxSubtotal{{
					TaxableAmount: []amountNode{{parseAmount(item.Subtotal), currency}},
					TaxAmount:     []amountNode{{parseAmount(item.TaxAmount), currency}},
					TaxCategory: []ublTaxCategory{{
						ID:        []textNode{{string(item.TaxType)}},
						TaxScheme: []ublTaxScheme{{ID: []textNode{{"OTH"}}}},
					}},
				}},
			}},
			Price: []ublPrice{{PriceAmount: []amountNode{{parseAmount(item.UnitPrice), currency}}}},
		}
		lines = append(lines, line)
	}

	supplier := buildParty(
		fallback(invoice.SupplierName, business.Name),
		fallback(invoice.SupplierTIN, business.TIN),
		fallback(invoice.SupplierRegistration, business.RegistrationNumber),
		business.CountryCode,
		deref(business.CityName),
		business.Email,
		deref(business.Phone),
	)
	buyer := buildParty(
		deref(invoice.BuyerName),
		deref(invoice.BuyerTIN),
		deref(invoice.BuyerRegistrationNumber),
		invoice.BuyerCountryCode,
		deref(invoice.BuyerCityName),
		deref(invoice.BuyerEmail),
		deref(invoice.BuyerPhone),
	)

	return Document{
		D: "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2",
		A: "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2",
		B: "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2",
		Invoice: []UblInvoice{{
			ID:                      []textNode{{deref(invoice.InvoiceNumber)}},
			IssueDate:               []textNode{{issueDate}},
			IssueTime:               []textNode{{"00:00:00Z"}},
			InvoiceTypeCode:         []typeCodeNode{{invoice.InvoiceType, "1.1"}},
			DocumentCurrencyCode:    []textNode{{currency}},
			AccountingSupplierParty: []UblParty{supplier},
			AccountingCustomerParty: []UblParty{buyer},
			InvoiceLine:             lines,
			TaxTotal: []UblTaxTotal{{
				TaxAmount: []amountNode{{parseAmount(invoice.TaxTotal), currency}},
				TaxSubtotal: []ublTaxSubtotal{{
					TaxableAmount: []amountNode{{parseAmount(invoice.Subtotal), currency}},
					TaxAmount:     []amountNode{{parseAmount(invoice.TaxTotal), currency}},
					TaxCategory: []ublTaxCategory{{
						ID:        []textNode{{"NA"}},
						TaxScheme: []ublTaxScheme{{ID: []textNode{{"OTH"}}}},
					}},
				}},
			}},
			LegalMonetaryTotal: []UblMonetaryTotal{{
				LineExtensionAmount: []amountNode{{parseAmount(invoice.Subtotal), currency}},
				TaxExclusiveAmount:  []amountNode{{parseAmount(invoice.Subtotal), currency}},
				TaxInclusiveAmount:  []amountNode{{parseAmount(invoice.GrandTotal), currency}},
				PayableAmount:       []amountNode{{parseAmount(invoice.GrandTotal), currency}},
			}},
		}},
	}
}

// PrepareDocument serializes a UBL document for submission: base64 of the
// JSON bytes plus their SHA-256 in base64. Digital signatures are only
// enforced in production; sandbox accepts unsigned documents.
func PrepareDocument(doc Document, codeNumber string) (SubmissionDocument, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return SubmissionDocument{}, err
	}

	sum := sha256.Sum256(raw)
	return SubmissionDocument{
		Format:       "JSON",
		Document:     base64.StdEncoding.EncodeToString(raw),
		DocumentHash: base64.StdEncoding.EncodeToString(sum[:]),
		CodeNumber:   codeNumber,
	}, nil
}

func buildParty(name, tin, registration, countryCode, cityName, email, phone string) UblParty {
	detail := ublPartyDetail{
		PartyIdentification: []ublPartyID{{ID: []schemeIDNode{{tin, "TIN"}}}},
		PartyName:           []ublPartyName{{Name: []textNode{{name}}}},
		PostalAddress: []ublPostalAddress{{
			Country: []ublCountry{{IdentificationCode: []textNode{{countryCode}}}},
		}},
		PartyTaxScheme: []ublPartyTax{{
			CompanyID: []textNode{{tin}},
			TaxScheme: []ublTaxScheme{{ID: []textNode{{"OTH"}}}},
		}},
		PartyLegalEntity: []ublLegalEntity{{RegistrationName: []textNode{{registration}}}},
	}

	if cityName != "" {
		detail.PostalAddress[0].CityName = []textNode{{cityName}}
	}
	if email != "" || phone != "" {
		contact := ublContact{}
		if email != "" {
			contact.ElectronicMail = []textNode{{email}}
		}
		if phone != "" {
			contact.Telephone = []textNode{{phone}}
		}
		detail.Contact = []ublContact{contact}
	}

	return UblParty{Party: []ublPartyDetail{detail}}
}

func parseAmount(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func fallback(s *string, def string) string {
	if s != nil && *s != "" {
		return *s
	}
	return def
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
