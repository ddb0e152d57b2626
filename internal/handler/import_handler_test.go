package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"record-import-pipeline/internal/domain"
	"record-import-pipeline/internal/repository"
	"record-import-pipeline/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubService implements service.ImportServiceInterface with per-test
// function fields.
type stubService struct {
	dispatchValidate  func(ctx context.Context, req *service.ValidateRequest) (*domain.JobRecord, error)
	dispatchCommit    func(ctx context.Context, validateJobID, actor string) (*domain.JobRecord, error)
	dispatchXML       func(ctx context.Context, sourceRef, schemaID, actor string) (*domain.JobRecord, error)
	dispatchRebuild   func(ctx context.Context, schemaID, fieldID, actor string) (*domain.JobRecord, error)
	dispatchRewarm    func(ctx context.Context, schemaID, actor string) (*domain.JobRecord, error)
	getJob            func(ctx context.Context, id string) (*domain.JobRecord, error)
	getJobReport      func(ctx context.Context, jobID string) ([]domain.JobError, error)
	getRecordSnapshot func(ctx context.Context, recordID string) (map[string]string, error)
}

func (s *stubService) DispatchValidate(ctx context.Context, req *service.ValidateRequest) (*domain.JobRecord, error) {
	return s.dispatchValidate(ctx, req)
}

func (s *stubService) DispatchCommit(ctx context.Context, validateJobID, actor string) (*domain.JobRecord, error) {
	return s.dispatchCommit(ctx, validateJobID, actor)
}

func (s *stubService) DispatchXML(ctx context.Context, sourceRef, schemaID, actor string) (*domain.JobRecord, error) {
	return s.dispatchXML(ctx, sourceRef, schemaID, actor)
}

func (s *stubService) DispatchRebuild(ctx context.Context, schemaID, fieldID, actor string) (*domain.JobRecord, error) {
	return s.dispatchRebuild(ctx, schemaID, fieldID, actor)
}

func (s *stubService) DispatchRewarm(ctx context.Context, schemaID, actor string) (*domain.JobRecord, error) {
	return s.dispatchRewarm(ctx, schemaID, actor)
}

func (s *stubService) GetJob(ctx context.Context, id string) (*domain.JobRecord, error) {
	return s.getJob(ctx, id)
}

func (s *stubService) GetJobReport(ctx context.Context, jobID string) ([]domain.JobError, error) {
	return s.getJobReport(ctx, jobID)
}

func (s *stubService) GetRecordSnapshot(ctx context.Context, recordID string) (map[string]string, error) {
	return s.getRecordSnapshot(ctx, recordID)
}

func sampleJob() *domain.JobRecord {
	return &domain.JobRecord{
		ID:        "job-1",
		Type:      domain.JobTypeValidateImport,
		Target:    "schema-1",
		Total:     10,
		Completed: 4,
		CreatedBy: "alex",
		CreatedAt: time.Now(),
	}
}

func postJSON(router *gin.Engine, path string, payload any, headers map[string]string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestImportHandler_CreateValidation(t *testing.T) {
	validPayload := gin.H{
		"source_ref": "people.csv",
		"mapping": gin.H{
			"schema_id":          "schema-1",
			"external_id_column": 0,
			"columns": []gin.H{
				{"column": 0, "field_id": "f-ext", "kind": "short_text", "unique": true},
			},
		},
	}

	t.Run("dispatches and returns the job", func(t *testing.T) {
		var gotActor string
		svc := &stubService{
			dispatchValidate: func(_ context.Context, req *service.ValidateRequest) (*domain.JobRecord, error) {
				gotActor = req.Actor
				assert.Equal(t, "people.csv", req.SourceRef)
				require.NotNil(t, req.Mapping)
				assert.Equal(t, "schema-1", req.Mapping.SchemaID)
				return sampleJob(), nil
			},
		}
		handler := NewImportHandler(svc)
		router := gin.New()
		router.POST("/api/v1/imports/validate", handler.CreateValidation)

		w := postJSON(router, "/api/v1/imports/validate", validPayload, map[string]string{"X-Actor": "alex"})

		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "alex", gotActor)

		var response JobResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "job-1", response.ID)
		assert.InDelta(t, 0.4, response.Progress, 1e-9)
		assert.False(t, response.Finished)
	})

	t.Run("missing mapping is a bad request", func(t *testing.T) {
		handler := NewImportHandler(&stubService{})
		router := gin.New()
		router.POST("/api/v1/imports/validate", handler.CreateValidation)

		w := postJSON(router, "/api/v1/imports/validate", gin.H{"source_ref": "people.csv"}, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("busy target maps to conflict", func(t *testing.T) {
		svc := &stubService{
			dispatchValidate: func(context.Context, *service.ValidateRequest) (*domain.JobRecord, error) {
				return nil, repository.ErrJobConflict
			},
		}
		handler := NewImportHandler(svc)
		router := gin.New()
		router.POST("/api/v1/imports/validate", handler.CreateValidation)

		w := postJSON(router, "/api/v1/imports/validate", validPayload, nil)
		require.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unreadable source maps to bad request", func(t *testing.T) {
		svc := &stubService{
			dispatchValidate: func(context.Context, *service.ValidateRequest) (*domain.JobRecord, error) {
				return nil, service.ErrBadSource
			},
		}
		handler := NewImportHandler(svc)
		router := gin.New()
		router.POST("/api/v1/imports/validate", handler.CreateValidation)

		w := postJSON(router, "/api/v1/imports/validate", validPayload, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestImportHandler_CreateCommit(t *testing.T) {
	t.Run("dispatches against the validation job", func(t *testing.T) {
		svc := &stubService{
			dispatchCommit: func(_ context.Context, validateJobID, actor string) (*domain.JobRecord, error) {
				assert.Equal(t, "vjob-1", validateJobID)
				job := sampleJob()
				job.Type = domain.JobTypeCommitImport
				return job, nil
			},
		}
		handler := NewImportHandler(svc)
		router := gin.New()
		router.POST("/api/v1/imports/:id/commit", handler.CreateCommit)

		w := postJSON(router, "/api/v1/imports/vjob-1/commit", nil, nil)
		require.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("dirty validation report maps to unprocessable", func(t *testing.T) {
		svc := &stubService{
			dispatchCommit: func(context.Context, string, string) (*domain.JobRecord, error) {
				return nil, service.ErrValidationFailed
			},
		}
		handler := NewImportHandler(svc)
		router := gin.New()
		router.POST("/api/v1/imports/:id/commit", handler.CreateCommit)

		w := postJSON(router, "/api/v1/imports/vjob-1/commit", nil, nil)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("unfinished validation maps to conflict", func(t *testing.T) {
		svc := &stubService{
			dispatchCommit: func(context.Context, string, string) (*domain.JobRecord, error) {
				return nil, service.ErrValidationUnfinished
			},
		}
		handler := NewImportHandler(svc)
		router := gin.New()
		router.POST("/api/v1/imports/:id/commit", handler.CreateCommit)

		w := postJSON(router, "/api/v1/imports/vjob-1/commit", nil, nil)
		require.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestImportHandler_GetJob(t *testing.T) {
	t.Run("returns the job with its progress", func(t *testing.T) {
		svc := &stubService{
			getJob: func(_ context.Context, id string) (*domain.JobRecord, error) {
				assert.Equal(t, "job-1", id)
				return sampleJob(), nil
			},
		}
		handler := NewImportHandler(svc)
		router := gin.New()
		router.GET("/api/v1/jobs/:id", handler.GetJob)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var response JobResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, 10, response.Total)
		assert.Equal(t, 4, response.Completed)
	})

	t.Run("unknown job is 404", func(t *testing.T) {
		svc := &stubService{
			getJob: func(context.Context, string) (*domain.JobRecord, error) {
				return nil, service.ErrJobNotFound
			},
		}
		handler := NewImportHandler(svc)
		router := gin.New()
		router.GET("/api/v1/jobs/:id", handler.GetJob)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestImportHandler_GetJobReport(t *testing.T) {
	svc := &stubService{
		getJob: func(context.Context, string) (*domain.JobRecord, error) {
			return sampleJob(), nil
		},
		getJobReport: func(context.Context, string) ([]domain.JobError, error) {
			return []domain.JobError{
				{Severity: domain.SeverityError, LineNum: 4, Category: domain.CategoryUniqueness, Message: "duplicate"},
				{Severity: domain.SeverityWarning, LineNum: 5, Category: domain.CategoryParse, Message: "coerced"},
				{Severity: domain.SeverityWarning, LineNum: 6, Category: domain.CategoryParse, Message: "truncated"},
			}, nil
		},
	}
	handler := NewImportHandler(svc)
	router := gin.New()
	router.GET("/api/v1/jobs/:id/report", handler.GetJobReport)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/report", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response ReportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "job-1", response.Job.ID)
	require.Len(t, response.Entries, 3)
	assert.Equal(t, 1, response.ErrorCount)
	assert.Equal(t, 2, response.WarningCount)
	assert.Equal(t, "duplicate", response.Entries[0].Message)
}

func TestImportHandler_GetRecordSnapshot(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("serves the rendered values", func(t *testing.T) {
		svc := &stubService{
			getRecordSnapshot: func(_ context.Context, recordID string) (map[string]string, error) {
				require.Equal(t, "rec-1", recordID)
				return map[string]string{"f-name": "Alice", "f-score": "10"}, nil
			},
		}
		handler := NewImportHandler(svc)
		router := gin.New()
		router.GET("/api/v1/records/:id", handler.GetRecordSnapshot)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/records/rec-1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var response struct {
			RecordID string            `json:"record_id"`
			Values   map[string]string `json:"values"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "rec-1", response.RecordID)
		assert.Equal(t, "Alice", response.Values["f-name"])
	})

	t.Run("unknown record is 404", func(t *testing.T) {
		svc := &stubService{
			getRecordSnapshot: func(context.Context, string) (map[string]string, error) {
				return nil, service.ErrRecordNotFound
			},
		}
		handler := NewImportHandler(svc)
		router := gin.New()
		router.GET("/api/v1/records/:id", handler.GetRecordSnapshot)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/records/nope", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusNotFound, w.Code)
	})
}
