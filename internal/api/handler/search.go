package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/kbase/internal/service"
)

// SearchHandler handles retrieval and question answering endpoints.
type SearchHandler struct {
	searchEngine *service.HybridSearchEngine
	queryEngine  *service.QueryEngine
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - searchEngine: hybrid search engine instance.
//   - queryEngine: query engine instance.
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(searchEngine *service.HybridSearchEngine, queryEngine *service.QueryEngine) *SearchHandler {
	return &SearchHandler{
		searchEngine: searchEngine,
		queryEngine:  queryEngine,
	}
}

// Search handles POST /api/v1/search.
func (h *SearchHandler) Search(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	result, err := h.searchEngine.Search(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Search failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Query handles POST /api/v1/query.
func (h *SearchHandler) Query(c *gin.Context) {
	var req service.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	result, err := h.queryEngine.Query(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Query failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}
