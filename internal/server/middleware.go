package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/smallbiznis/einvois/internal/bizcontext"
)

const (
	HeaderBusiness  = "X-Business-ID"
	HeaderRequestID = "X-Request-Id"

	contextBusinessIDKey = "business_id"
)

// RequestID propagates the caller's correlation id or mints one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(HeaderRequestID, requestID)
		c.Request = c.Request.WithContext(bizcontext.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

// RequireBusiness resolves the acting business from the X-Business-ID
// header. This is the auth boundary stub; a session layer in front of the
// API is expected to set the header.
func (s *Server) RequireBusiness() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderBusiness))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		businessID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		if _, err := s.businessSvc.GetByID(c.Request.Context(), businessID); err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextBusinessIDKey, businessID)
		c.Request = c.Request.WithContext(bizcontext.WithBusinessID(c.Request.Context(), businessID.String()))
		c.Next()
	}
}

func businessID(c *gin.Context) snowflake.ID {
	if v, ok := c.Get(contextBusinessIDKey); ok {
		if id, ok := v.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}

func parseIDParam(c *gin.Context, name string) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param(name))
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, newValidationError(name, "invalid_id", "invalid id")
	}
	return id, nil
}
