package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/kbase/internal/domain"
	"github.com/timmy/kbase/internal/service"
)

// BusinessHandler handles business lifecycle endpoints.
type BusinessHandler struct {
	businessService *service.BusinessService
}

// NewBusinessHandler creates a new business handler.
// Parameters:
//   - businessService: business service instance.
// Returns:
//   - *BusinessHandler: initialized handler.
func NewBusinessHandler(businessService *service.BusinessService) *BusinessHandler {
	return &BusinessHandler{
		businessService: businessService,
	}
}

type createBusinessRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
}

// CreateBusiness handles POST /api/v1/businesses.
func (h *BusinessHandler) CreateBusiness(c *gin.Context) {
	var req createBusinessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	business, err := h.businessService.Create(c.Request.Context(), req.DisplayName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create business: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, business)
}

// ListBusinesses handles GET /api/v1/businesses.
func (h *BusinessHandler) ListBusinesses(c *gin.Context) {
	businesses, err := h.businessService.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list businesses: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"businesses": businesses,
		"total":      len(businesses),
	})
}

// GetBusiness handles GET /api/v1/businesses/:id.
func (h *BusinessHandler) GetBusiness(c *gin.Context) {
	business, err := h.businessService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Business not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get business: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, business)
}

// DeleteBusiness handles DELETE /api/v1/businesses/:id.
func (h *BusinessHandler) DeleteBusiness(c *gin.Context) {
	err := h.businessService.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Business not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete business: " + err.Error(),
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// GetStats handles GET /api/v1/businesses/:id/stats.
func (h *BusinessHandler) GetStats(c *gin.Context) {
	stats, err := h.businessService.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Business not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get stats: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}
