package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	businessdomain "github.com/smallbiznis/einvois/internal/business/domain"
)

func (s *Server) CreateBusiness(c *gin.Context) {
	var req businessdomain.CreateBusinessRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	business, err := s.businessSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": business})
}

func (s *Server) GetBusiness(c *gin.Context) {
	business, err := s.businessSvc.GetByID(c.Request.Context(), businessID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": business})
}

func (s *Server) UpdateBusiness(c *gin.Context) {
	var req businessdomain.UpdateBusinessRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	business, err := s.businessSvc.Update(c.Request.Context(), businessID(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": business})
}

func (s *Server) SetLHDNCredentials(c *gin.Context) {
	var req businessdomain.SetLHDNCredentialsRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.businessSvc.SetLHDNCredentials(c.Request.Context(), businessID(c), req); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"updated": true}})
}
