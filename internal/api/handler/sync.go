package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/kbase/internal/domain"
	"github.com/timmy/kbase/internal/service"
)

// SyncHandler handles reconciliation endpoints.
type SyncHandler struct {
	syncManager *service.SyncManager
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(syncManager *service.SyncManager) *SyncHandler {
	return &SyncHandler{
		syncManager: syncManager,
	}
}

// Reconcile handles POST /api/v1/businesses/:id/reconcile.
// Returns 409 when a reconciliation for the business is already running.
func (h *SyncHandler) Reconcile(c *gin.Context) {
	report, err := h.syncManager.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrReconcileInProgress) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Reconciliation already in progress",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Reconciliation failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// ReconcileAll handles POST /api/v1/reconcile.
func (h *SyncHandler) ReconcileAll(c *gin.Context) {
	reports, err := h.syncManager.ReconcileAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Reconciliation failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reports": reports,
		"total":   len(reports),
	})
}
