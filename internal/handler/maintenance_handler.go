package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"record-import-pipeline/internal/middleware"
	"record-import-pipeline/internal/repository"
	"record-import-pipeline/internal/service"
)

// MaintenanceHandler dispatches the background jobs that are not imports:
// derived-artifact rebuilds and cache rewarms.
type MaintenanceHandler struct {
	importService service.ImportServiceInterface
}

// NewMaintenanceHandler creates a new MaintenanceHandler.
func NewMaintenanceHandler(importService service.ImportServiceInterface) *MaintenanceHandler {
	return &MaintenanceHandler{importService: importService}
}

type rebuildRequest struct {
	SchemaID string `json:"schema_id" binding:"required"`
	FieldID  string `json:"field_id" binding:"required"`
}

// CreateRebuild handles POST /api/v1/maintenance/rebuild
func (h *MaintenanceHandler) CreateRebuild(c *gin.Context) {
	var req rebuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "schema_id and field_id are required"})
		return
	}

	job, err := h.importService.DispatchRebuild(c.Request.Context(), req.SchemaID, req.FieldID, actor(c))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrJobConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "a job is already in progress for this target"})
		case errors.Is(err, service.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "field not found"})
		case errors.Is(err, service.ErrNotAssetField):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			log.Printf("[request_id=%s] Failed to start rebuild: %v", middleware.GetRequestID(c), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start rebuild"})
		}
		return
	}

	c.JSON(http.StatusAccepted, toJobResponse(job))
}

type rewarmRequest struct {
	SchemaID string `json:"schema_id" binding:"required"`
}

// CreateRewarm handles POST /api/v1/maintenance/rewarm
func (h *MaintenanceHandler) CreateRewarm(c *gin.Context) {
	var req rewarmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "schema_id is required"})
		return
	}

	job, err := h.importService.DispatchRewarm(c.Request.Context(), req.SchemaID, actor(c))
	if err != nil {
		if errors.Is(err, repository.ErrJobConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "a rewarm is already in progress for this target"})
			return
		}
		log.Printf("[request_id=%s] Failed to start rewarm: %v", middleware.GetRequestID(c), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start rewarm"})
		return
	}

	c.JSON(http.StatusAccepted, toJobResponse(job))
}
