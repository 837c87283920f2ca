package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	bulkdomain "github.com/smallbiznis/einvois/internal/bulkimport/domain"
)

func (s *Server) UploadBulkCSV(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		AbortWithError(c, bulkdomain.ErrCSVRequired)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	session, err := s.bulkSvc.InitiateCSVUpload(c.Request.Context(), businessID(c), header.Filename, data)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": session})
}

func (s *Server) CreateBulkSession(c *gin.Context) {
	session, err := s.bulkSvc.CreateDocumentSession(c.Request.Context(), businessID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": session})
}

func (s *Server) ListBulkImports(c *gin.Context) {
	var req bulkdomain.ListImportsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid query parameters"))
		return
	}

	resp, err := s.bulkSvc.List(c.Request.Context(), businessID(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Data,
		"page_info": resp.PageInfo,
	})
}

func (s *Server) GetBulkImport(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	session, err := s.bulkSvc.GetSession(c.Request.Context(), businessID(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

func (s *Server) GetBulkImportInvoices(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.bulkSvc.GetSessionWithInvoices(c.Request.Context(), businessID(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) SubmitBulkReady(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.bulkSvc.SubmitReady(c.Request.Context(), businessID(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
