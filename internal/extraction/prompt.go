package extraction

import "fmt"

const systemPrompt = `You are an expert Malaysian invoice data extraction assistant.
Your job is to extract structured information from invoice text and return it as valid JSON.

Rules:
- Extract data exactly as it appears in the invoice text.
- For Malaysian invoices: TIN format is typically C/E/F/IG/NA/OA/P-XXXXXXXXXX (letters followed by digits).
- Dates must be in ISO 8601 format: YYYY-MM-DD.
- Amounts must be numbers (float), not strings.
- Use null for fields that cannot be found in the text.
- Confidence scores (0.0-1.0) reflect how certain you are about each extracted value:
  - 0.9-1.0: clearly present, unambiguous
  - 0.7-0.89: present but potentially ambiguous
  - 0.5-0.69: partially present or inferred
  - 0.0-0.49: guessed or uncertain
- Tax type codes: 01=SST, 02=Tourism Tax, E=Exempt, AE=Zero-rated, NA=Not applicable
- Return ONLY valid JSON matching the schema. No explanation text.`

const ocrPrompt = `Extract all text exactly as it appears in this invoice document. Preserve numbers, dates, and formatting. Output only the extracted text, nothing else.`

func buildExtractionPrompt(rawText string) string {
	return fmt.Sprintf(`Extract all invoice data from the following text and return a JSON object.

The JSON must follow this exact schema:
{
  "supplier": {
    "name": string|null,
    "tin": string|null,
    "registration_number": string|null,
    "address": string|null,
    "confidence": { "name": number, "tin": number, "registration_number": number, "address": number }
  },
  "buyer": {
    "name": string|null,
    "tin": string|null,
    "registration_number": string|null,
    "email": string|null,
    "phone": string|null,
    "address": string|null,
    "confidence": { "name": number, "tin": number }
  },
  "invoice": {
    "number": string|null,
    "date": string|null,
    "currency": string,
    "confidence": { "number": number, "date": number }
  },
  "line_items": [{
    "description": string,
    "quantity": number,
    "unit_price": number,
    "tax_type": "01"|"02"|"E"|"AE"|"NA",
    "tax_rate": number,
    "tax_amount": number,
    "subtotal": number,
    "total": number,
    "confidence": number
  }],
  "totals": {
    "subtotal": number|null,
    "tax_total": number|null,
    "grand_total": number|null,
    "confidence": { "subtotal": number, "tax_total": number, "grand_total": number }
  },
  "overall_confidence": number
}

Invoice text:
---
%s
---`, rawText)
}
