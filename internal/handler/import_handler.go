package handler

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"record-import-pipeline/internal/domain"
	"record-import-pipeline/internal/middleware"
	"record-import-pipeline/internal/repository"
	"record-import-pipeline/internal/service"
)

// TimeFormat is the standard time format for API responses (RFC3339).
const TimeFormat = time.RFC3339

// ImportHandler handles import dispatch and job inspection requests.
type ImportHandler struct {
	importService service.ImportServiceInterface
}

// NewImportHandler creates a new ImportHandler.
func NewImportHandler(importService service.ImportServiceInterface) *ImportHandler {
	return &ImportHandler{
		importService: importService,
	}
}

// JobResponse represents a job in the API response.
type JobResponse struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Target      string  `json:"target"`
	Restriction string  `json:"restriction,omitempty"`
	Description string  `json:"description,omitempty"`
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Progress    float64 `json:"progress"`
	Finished    bool    `json:"finished"`
	Failed      bool    `json:"failed"`
	CreatedBy   string  `json:"created_by,omitempty"`
	CreatedAt   string  `json:"created_at"`
	StartedAt   *string `json:"started_at,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// ReportEntryResponse represents one line of a job's error report.
type ReportEntryResponse struct {
	Severity string `json:"severity"`
	Line     int    `json:"line,omitempty"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message"`
}

// ReportResponse bundles a job with its report, the way the report surface
// renders them together.
type ReportResponse struct {
	Job          JobResponse           `json:"job"`
	Entries      []ReportEntryResponse `json:"entries"`
	ErrorCount   int                   `json:"error_count"`
	WarningCount int                   `json:"warning_count"`
}

// toJobResponse converts a domain.JobRecord to a JobResponse.
func toJobResponse(job *domain.JobRecord) JobResponse {
	response := JobResponse{
		ID:          job.ID,
		Type:        string(job.Type),
		Target:      job.Target,
		Restriction: job.Restriction,
		Total:       job.Total,
		Completed:   job.Completed,
		Progress:    job.Progress(),
		Finished:    job.Finished(),
		Failed:      job.Failed,
		CreatedBy:   job.CreatedBy,
		CreatedAt:   job.CreatedAt.Format(TimeFormat),
	}
	if job.Parameters != nil {
		response.Description = job.Parameters.Description
	}
	if job.StartedAt != nil {
		startedAt := job.StartedAt.Format(TimeFormat)
		response.StartedAt = &startedAt
	}
	if job.CompletedAt != nil {
		completedAt := job.CompletedAt.Format(TimeFormat)
		response.CompletedAt = &completedAt
	}
	return response
}

type validateRequest struct {
	SourceRef string                `json:"source_ref" binding:"required"`
	Delimiter string                `json:"delimiter"`
	Mapping   *domain.MappingConfig `json:"mapping" binding:"required"`
}

// CreateValidation handles POST /api/v1/imports/validate
func (h *ImportHandler) CreateValidation(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_ref and mapping are required"})
		return
	}

	job, err := h.importService.DispatchValidate(c.Request.Context(), &service.ValidateRequest{
		SourceRef: req.SourceRef,
		Delimiter: req.Delimiter,
		Mapping:   req.Mapping,
		Actor:     actor(c),
	})
	if err != nil {
		h.respondDispatchError(c, "start validation", err)
		return
	}

	c.JSON(http.StatusAccepted, toJobResponse(job))
}

// CreateCommit handles POST /api/v1/imports/:id/commit
func (h *ImportHandler) CreateCommit(c *gin.Context) {
	job, err := h.importService.DispatchCommit(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		h.respondDispatchError(c, "start commit", err)
		return
	}

	c.JSON(http.StatusAccepted, toJobResponse(job))
}

type xmlImportRequest struct {
	SourceRef string `json:"source_ref" binding:"required"`
	SchemaID  string `json:"schema_id" binding:"required"`
}

// CreateXMLImport handles POST /api/v1/imports/xml
func (h *ImportHandler) CreateXMLImport(c *gin.Context) {
	var req xmlImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_ref and schema_id are required"})
		return
	}

	job, err := h.importService.DispatchXML(c.Request.Context(), req.SourceRef, req.SchemaID, actor(c))
	if err != nil {
		h.respondDispatchError(c, "start xml import", err)
		return
	}

	c.JSON(http.StatusAccepted, toJobResponse(job))
}

// GetJob handles GET /api/v1/jobs/:id
func (h *ImportHandler) GetJob(c *gin.Context) {
	id := c.Param("id")

	job, err := h.importService.GetJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		log.Printf("[request_id=%s] Failed to get job %s: %v", middleware.GetRequestID(c), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve job"})
		return
	}

	c.JSON(http.StatusOK, toJobResponse(job))
}

// GetJobReport handles GET /api/v1/jobs/:id/report
func (h *ImportHandler) GetJobReport(c *gin.Context) {
	id := c.Param("id")

	job, err := h.importService.GetJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		log.Printf("[request_id=%s] Failed to get job %s: %v", middleware.GetRequestID(c), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve job"})
		return
	}

	entries, err := h.importService.GetJobReport(c.Request.Context(), id)
	if err != nil {
		log.Printf("[request_id=%s] Failed to get report for job %s: %v", middleware.GetRequestID(c), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve report"})
		return
	}

	response := ReportResponse{
		Job:     toJobResponse(job),
		Entries: make([]ReportEntryResponse, 0, len(entries)),
	}
	for _, e := range entries {
		response.Entries = append(response.Entries, ReportEntryResponse{
			Severity: string(e.Severity),
			Line:     e.LineNum,
			Category: e.Category,
			Message:  e.Message,
		})
		switch e.Severity {
		case domain.SeverityError:
			response.ErrorCount++
		case domain.SeverityWarning:
			response.WarningCount++
		}
	}

	c.JSON(http.StatusOK, response)
}

// GetRecordSnapshot handles GET /api/v1/records/:id
func (h *ImportHandler) GetRecordSnapshot(c *gin.Context) {
	id := c.Param("id")

	snapshot, err := h.importService.GetRecordSnapshot(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		log.Printf("[request_id=%s] Failed to get record %s: %v", middleware.GetRequestID(c), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve record"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"record_id": id, "values": snapshot})
}

func (h *ImportHandler) respondDispatchError(c *gin.Context, action string, err error) {
	var mappingErrs validation.Errors
	switch {
	case errors.As(err, &mappingErrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrJobConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "a job is already in progress for this target"})
	case errors.Is(err, service.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, service.ErrValidationUnfinished):
		c.JSON(http.StatusConflict, gin.H{"error": "validation has not finished yet"})
	case errors.Is(err, service.ErrValidationFailed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation reported errors; fix the source and re-validate"})
	case errors.Is(err, service.ErrWrongJobType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "job has the wrong type for this operation"})
	case errors.Is(err, service.ErrBadSource):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Printf("[request_id=%s] Failed to %s: %v", middleware.GetRequestID(c), action, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + action})
	}
}

// actor identifies the requesting user for audit columns. Authentication is
// someone else's problem; the gateway sets the header.
func actor(c *gin.Context) string {
	if a := c.GetHeader("X-Actor"); a != "" {
		return a
	}
	return "anonymous"
}
