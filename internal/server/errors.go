package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	bulkdomain "github.com/smallbiznis/einvois/internal/bulkimport/domain"
	businessdomain "github.com/smallbiznis/einvois/internal/business/domain"
	documentdomain "github.com/smallbiznis/einvois/internal/document/domain"
	invoicedomain "github.com/smallbiznis/einvois/internal/invoice/domain"
	lhdndomain "github.com/smallbiznis/einvois/internal/lhdn/domain"
	"github.com/smallbiznis/einvois/internal/lhdn/myinvois"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var finalizeErr *invoicedomain.FinalizeError
	if errors.As(err, &finalizeErr) {
		payload := errorPayload{
			Type:    "validation_error",
			Message: "invoice cannot be finalized",
		}
		for _, reason := range finalizeErr.Reasons {
			payload.Errors = append(payload.Errors, ValidationError{
				Code:    "finalize_guard",
				Message: reason,
			})
		}
		return http.StatusBadRequest, payload
	}

	var transitionErr *invoicedomain.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		return http.StatusConflict, errorPayload{
			Type:    "invalid_transition",
			Message: transitionErr.Error(),
		}
	}

	var rejectionErr *lhdndomain.RejectionError
	if errors.As(err, &rejectionErr) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "document_rejected",
			Message: rejectionErr.Error(),
		}
	}

	var apiErr *myinvois.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway, errorPayload{
			Type:    "lhdn_error",
			Message: apiErr.Error(),
		}
	}

	switch {
	case isValidationSentinel(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{Code: err.Error(), Message: "invalid value"},
			},
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, documentdomain.ErrFileTooLarge),
		errors.Is(err, bulkdomain.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    "file_too_large",
			Message: "file too large",
		}
	case errors.Is(err, documentdomain.ErrUnsupportedFileType):
		return http.StatusUnsupportedMediaType, errorPayload{
			Type:    "unsupported_file_type",
			Message: "unsupported file type",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationSentinel(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, invoicedomain.ErrInvalidPageToken),
		errors.Is(err, invoicedomain.ErrInvalidTaxType),
		errors.Is(err, invoicedomain.ErrInvalidAmount),
		errors.Is(err, invoicedomain.ErrNoItems),
		errors.Is(err, bulkdomain.ErrInvalidPageToken),
		errors.Is(err, bulkdomain.ErrCSVRequired),
		errors.Is(err, businessdomain.ErrCredentialsMissing),
		errors.Is(err, documentdomain.ErrUploadMissing):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, businessdomain.ErrBusinessNotFound),
		errors.Is(err, documentdomain.ErrDocumentNotFound),
		errors.Is(err, bulkdomain.ErrSessionNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, invoicedomain.ErrNotEditable),
		errors.Is(err, invoicedomain.ErrNotDeletable),
		errors.Is(err, businessdomain.ErrDuplicateTIN),
		errors.Is(err, lhdndomain.ErrNotReady),
		errors.Is(err, lhdndomain.ErrNotSubmitted),
		errors.Is(err, lhdndomain.ErrNotValidated),
		errors.Is(err, lhdndomain.ErrMissingUuid):
		return true
	default:
		return false
	}
}
