package extraction

// ExtractedInvoice is the structured result returned by the AI extraction
// model. Nullable fields use pointers; the model is instructed to emit null
// for anything it cannot find rather than guessing.
type ExtractedInvoice struct {
	Supplier          ExtractedSupplier `json:"supplier"`
	Buyer             ExtractedBuyer    `json:"buyer"`
	Invoice           ExtractedHeader   `json:"invoice"`
	LineItems         []ExtractedItem   `json:"line_items"`
	Totals            ExtractedTotals   `json:"totals"`
	OverallConfidence float64           `json:"overall_confidence"`
}

type ExtractedSupplier struct {
	Name               *string            `json:"name"`
	Tin                *string            `json:"tin"`
	RegistrationNumber *string            `json:"registration_number"`
	Address            *string            `json:"address"`
	Confidence         SupplierConfidence `json:"confidence"`
}

type SupplierConfidence struct {
	Name               float64 `json:"name"`
	Tin                float64 `json:"tin"`
	RegistrationNumber float64 `json:"registration_number"`
	Address            float64 `json:"address"`
}

type ExtractedBuyer struct {
	Name               *string         `json:"name"`
	Tin                *string         `json:"tin"`
	RegistrationNumber *string         `json:"registration_number"`
	Email              *string         `json:"email"`
	Phone              *string         `json:"phone"`
	Address            *string         `json:"address"`
	Confidence         BuyerConfidence `json:"confidence"`
}

type BuyerConfidence struct {
	Name float64 `json:"name"`
	Tin  float64 `json:"tin"`
}

type ExtractedHeader struct {
	Number     *string          `json:"number"`
	Date       *string          `json:"date"`
	Currency   string           `json:"currency"`
	Confidence HeaderConfidence `json:"confidence"`
}

type HeaderConfidence struct {
	Number float64 `json:"number"`
	Date   float64 `json:"date"`
}

type ExtractedItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TaxType     string  `json:"tax_type"`
	TaxRate     float64 `json:"tax_rate"`
	TaxAmount   float64 `json:"tax_amount"`
	Subtotal    float64 `json:"subtotal"`
	Total       float64 `json:"total"`
	Confidence  float64 `json:"confidence"`
}

type ExtractedTotals struct {
	Subtotal   *float64         `json:"subtotal"`
	TaxTotal   *float64         `json:"tax_total"`
	GrandTotal *float64         `json:"grand_total"`
	Confidence TotalsConfidence `json:"confidence"`
}

type TotalsConfidence struct {
	Subtotal   float64 `json:"subtotal"`
	TaxTotal   float64 `json:"tax_total"`
	GrandTotal float64 `json:"grand_total"`
}
