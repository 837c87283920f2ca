// Package myinvois wraps the LHDN MyInvois REST API: OAuth token issuance,
// document submission, submission status and document cancellation.
package myinvois

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/einvois/internal/config"
)

const (
	sandboxBaseURL    = "https://preprod-api.myinvois.hasil.gov.my"
	productionBaseURL = "https://api.myinvois.hasil.gov.my"

	tokenPath  = "/connect/token"
	submitPath = "/api/v1.0/documentsubmissions/"
)

// APIError is a non-2xx response from MyInvois, body preserved for the
// submission record.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Op, e.Status, e.Body)
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type DocumentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AcceptedDocument struct {
	UUID              string `json:"uuid"`
	InvoiceCodeNumber string `json:"invoiceCodeNumber"`
}

type RejectedDocument struct {
	InvoiceCodeNumber string        `json:"invoiceCodeNumber"`
	Error             DocumentError `json:"error"`
}

type SubmitResponse struct {
	SubmissionUid     string             `json:"submissionUid"`
	AcceptedDocuments []AcceptedDocument `json:"acceptedDocuments"`
	RejectedDocuments []RejectedDocument `json:"rejectedDocuments"`
}

type DocumentSummary struct {
	UUID              string         `json:"uuid"`
	SubmissionUid     string         `json:"submissionUid"`
	LongID            string         `json:"longId"`
	InternalID        string         `json:"internalId"`
	TypeName          string         `json:"typeName"`
	Status            string         `json:"status"`
	DateTimeReceived  string         `json:"dateTimeReceived"`
	DateTimeValidated string         `json:"dateTimeValidated,omitempty"`
	DateTimeDelivered string         `json:"dateTimeDelivered,omitempty"`
	SupplierTin       string         `json:"supplierTin,omitempty"`
	BuyerTin          string         `json:"buyerTin,omitempty"`
	Error             *DocumentError `json:"error,omitempty"`
}

type SubmissionStatusResponse struct {
	SubmissionUid    string            `json:"submissionUid"`
	DocumentCount    int               `json:"documentCount"`
	DateTimeReceived string            `json:"dateTimeReceived"`
	OverallStatus    string            `json:"overallStatus"`
	DocumentSummary  []DocumentSummary `json:"documentSummary"`
}

type CancelResponse struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
}

// SubmissionDocument is one document inside a submission payload. Document
// is the base64 UBL JSON and DocumentHash its SHA-256 in base64.
type SubmissionDocument struct {
	Format       string `json:"format"`
	Document     string `json:"document"`
	DocumentHash string `json:"documentHash"`
	CodeNumber   string `json:"codeNumber"`
}

type SubmissionPayload struct {
	Documents []SubmissionDocument `json:"documents"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(cfg config.Config) *Client {
	base := cfg.LHDNBaseURL
	if base == "" {
		base = sandboxBaseURL
		if cfg.LHDNEnvironment == "production" {
			base = productionBaseURL
		}
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) GetToken(ctx context.Context, clientID, clientSecret string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"scope":         {"InvoicingAPI"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out TokenResponse
	if err := c.do(req, "token request", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SubmitDocuments(ctx context.Context, accessToken string, payload SubmissionPayload) (*SubmitResponse, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, c.baseURL+submitPath, accessToken, payload)
	if err != nil {
		return nil, err
	}

	var out SubmitResponse
	if err := c.do(req, "submission", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetSubmissionStatus(ctx context.Context, accessToken, submissionUid string) (*SubmissionStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+submitPath+submissionUid, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var out SubmissionStatusResponse
	if err := c.do(req, "status check", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelDocument(ctx context.Context, accessToken, uuid, reason string) (*CancelResponse, error) {
	body := map[string]string{"status": "cancelled", "reason": reason}
	req, err := c.jsonRequest(ctx, http.MethodPut, fmt.Sprintf("%s/api/v1.0/documents/state/%s/state", c.baseURL, uuid), accessToken, body)
	if err != nil {
		return nil, err
	}

	var out CancelResponse
	if err := c.do(req, "cancel", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) jsonRequest(ctx context.Context, method, url, accessToken string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return req, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{Op: op, Status: resp.StatusCode, Body: string(body)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
