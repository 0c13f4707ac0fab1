package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/timmy/kbase/internal/domain"
	"github.com/timmy/kbase/internal/service"
)

// DocumentHandler handles document submission and inspection endpoints.
type DocumentHandler struct {
	processor *service.DocumentProcessor
	docs      service.DocumentStore
}

// NewDocumentHandler creates a new document handler.
// Parameters:
//   - processor: document processor for submissions and deletions.
//   - docs: document store for listing and detail lookups.
// Returns:
//   - *DocumentHandler: initialized handler.
func NewDocumentHandler(processor *service.DocumentProcessor, docs service.DocumentStore) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
		docs:      docs,
	}
}

type submitDocumentRequest struct {
	SourceRef string `json:"source_ref" binding:"required"`
}

// SubmitDocument handles POST /api/v1/businesses/:id/documents.
// Processing continues asynchronously; the response carries the pending
// document record. Re-submitting an unchanged source returns the existing
// processed document with 200.
func (h *DocumentHandler) SubmitDocument(c *gin.Context) {
	var req submitDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	doc, started, err := h.processor.SubmitAsync(c.Request.Context(), c.Param("id"), req.SourceRef)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit document: " + err.Error(),
		})
		return
	}

	if !started {
		c.JSON(http.StatusOK, doc)
		return
	}
	c.JSON(http.StatusAccepted, doc)
}

// ListDocuments handles GET /api/v1/businesses/:id/documents.
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	docs, err := h.docs.ListByBusiness(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list documents: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"total":     len(docs),
	})
}

// GetDocument handles GET /api/v1/documents/:id.
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	doc, err := h.docs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Document not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get document: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, doc)
}

// ListChunks handles GET /api/v1/documents/:id/chunks.
func (h *DocumentHandler) ListChunks(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.docs.GetByID(c.Request.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Document not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get document: " + err.Error(),
		})
		return
	}

	chunks, err := h.docs.ListChunks(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list chunks: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chunks": chunks,
		"total":  len(chunks),
	})
}

// DeleteDocument handles DELETE /api/v1/documents/:id.
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	err := h.processor.DeleteDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Document not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete document: " + err.Error(),
		})
		return
	}

	c.Status(http.StatusNoContent)
}
