// Package extraction turns raw invoice documents into structured invoice
// data. Text is pulled out of PDFs locally and out of image scans through a
// vision model, then a chat completion in JSON mode maps the text onto the
// ExtractedInvoice schema.
package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/einvois/internal/config"
	"github.com/smallbiznis/einvois/internal/money"
)

// minTextLength is the shortest raw text worth sending to the model. Anything
// below this is an unreadable scan or an empty page.
const minTextLength = 10

var (
	ErrTextTooShort   = errors.New("extracted text is too short to process")
	ErrInvalidJSON    = errors.New("model returned invalid JSON")
	ErrEmptyResponse  = errors.New("model returned no choices")
	ErrUnsupportedDoc = errors.New("unsupported document type")
)

var Module = fx.Module("extraction",
	fx.Provide(NewService),
)

// SchemaError reports where the model output diverged from the expected
// extraction schema.
type SchemaError struct {
	Field  string
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("extraction schema validation failed: %s: %s", e.Field, e.Detail)
}

type Service interface {
	// ExtractText returns the plain text content of a document. fileType is
	// the stored document file type (pdf, jpg, jpeg, png).
	ExtractText(ctx context.Context, data []byte, fileType string) (string, error)

	// Extract runs the AI extraction over raw invoice text and returns the
	// validated structured result.
	Extract(ctx context.Context, rawText string) (*ExtractedInvoice, error)
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

type service struct {
	client      *openai.Client
	model       string
	visionModel string
	log         *zap.Logger
}

func NewService(p Params) Service {
	return &service{
		client:      openai.NewClient(p.Config.OpenAIAPIKey),
		model:       p.Config.OpenAIModel,
		visionModel: p.Config.OpenAIVisionModel,
		log:         p.Log.Named("extraction.service"),
	}
}

func (s *service) ExtractText(ctx context.Context, data []byte, fileType string) (string, error) {
	switch fileType {
	case "pdf":
		return pdfText(data)
	case "jpg", "jpeg":
		return s.imageText(ctx, data, "image/jpeg")
	case "png":
		return s.imageText(ctx, data, "image/png")
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDoc, fileType)
	}
}

func (s *service) Extract(ctx context.Context, rawText string) (*ExtractedInvoice, error) {
	if len(strings.TrimSpace(rawText)) < minTextLength {
		return nil, ErrTextTooShort
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildExtractionPrompt(rawText)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		MaxTokens: 2048,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	content := resp.Choices[0].Message.Content
	s.log.Debug("received extraction response", zap.Int("length", len(content)))

	var data ExtractedInvoice
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	normalize(&data)
	if err := validateSchema(&data); err != nil {
		return nil, err
	}

	return &data, nil
}

func (s *service) imageText(ctx context.Context, data []byte, mimeType string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: ocrPrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)),
						},
					},
				},
			},
		},
		MaxTokens: 4096,
	})
	if err != nil {
		return "", fmt.Errorf("vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var parts []string
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("read pdf page %d: %w", i, err)
		}
		parts = append(parts, text)
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}

// normalize applies the schema defaults the model sometimes omits.
func normalize(data *ExtractedInvoice) {
	if data.Invoice.Currency == "" {
		data.Invoice.Currency = "MYR"
	}
	for i := range data.LineItems {
		if data.LineItems[i].TaxType == "" {
			data.LineItems[i].TaxType = string(money.TaxTypeNotApplicable)
		}
	}
}

// validateSchema rejects extraction output that does not fit the contract.
// Bad model output fails the pipeline rather than producing a half-filled
// invoice.
func validateSchema(data *ExtractedInvoice) error {
	confidences := []struct {
		field string
		value float64
	}{
		{"supplier.confidence.name", data.Supplier.Confidence.Name},
		{"supplier.confidence.tin", data.Supplier.Confidence.Tin},
		{"supplier.confidence.registration_number", data.Supplier.Confidence.RegistrationNumber},
		{"supplier.confidence.address", data.Supplier.Confidence.Address},
		{"buyer.confidence.name", data.Buyer.Confidence.Name},
		{"buyer.confidence.tin", data.Buyer.Confidence.Tin},
		{"invoice.confidence.number", data.Invoice.Confidence.Number},
		{"invoice.confidence.date", data.Invoice.Confidence.Date},
		{"totals.confidence.subtotal", data.Totals.Confidence.Subtotal},
		{"totals.confidence.tax_total", data.Totals.Confidence.TaxTotal},
		{"totals.confidence.grand_total", data.Totals.Confidence.GrandTotal},
		{"overall_confidence", data.OverallConfidence},
	}
	for _, c := range confidences {
		if c.value < 0 || c.value > 1 {
			return &SchemaError{Field: c.field, Detail: fmt.Sprintf("confidence %v out of range", c.value)}
		}
	}

	for i, item := range data.LineItems {
		field := fmt.Sprintf("line_items[%d]", i)
		if item.Description == "" {
			return &SchemaError{Field: field + ".description", Detail: "must not be empty"}
		}
		if !money.TaxType(item.TaxType).Valid() {
			return &SchemaError{Field: field + ".tax_type", Detail: fmt.Sprintf("unknown code %q", item.TaxType)}
		}
		if item.Confidence < 0 || item.Confidence > 1 {
			return &SchemaError{Field: field + ".confidence", Detail: fmt.Sprintf("confidence %v out of range", item.Confidence)}
		}
	}

	return nil
}
