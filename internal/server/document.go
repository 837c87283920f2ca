package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	documentdomain "github.com/smallbiznis/einvois/internal/document/domain"
)

func (s *Server) RequestUpload(c *gin.Context) {
	var req documentdomain.RequestUploadRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.documentSvc.RequestUpload(c.Request.Context(), businessID(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ConfirmUpload(c *gin.Context) {
	var req documentdomain.ConfirmUploadRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.documentSvc.ConfirmUpload(c.Request.Context(), businessID(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetDocumentByID(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := s.documentSvc.GetByID(c.Request.Context(), businessID(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": doc})
}
