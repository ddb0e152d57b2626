package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"record-import-pipeline/internal/domain"
	"record-import-pipeline/internal/service"
)

func TestMaintenanceHandler_CreateRebuild(t *testing.T) {
	t.Run("dispatches a rebuild job", func(t *testing.T) {
		svc := &stubService{
			dispatchRebuild: func(_ context.Context, schemaID, fieldID, actor string) (*domain.JobRecord, error) {
				assert.Equal(t, "schema-1", schemaID)
				assert.Equal(t, "f-photo", fieldID)
				job := sampleJob()
				job.Type = domain.JobTypeRebuildDerived
				job.Restriction = fieldID
				return job, nil
			},
		}
		handler := NewMaintenanceHandler(svc)
		router := gin.New()
		router.POST("/api/v1/maintenance/rebuild", handler.CreateRebuild)

		w := postJSON(router, "/api/v1/maintenance/rebuild",
			gin.H{"schema_id": "schema-1", "field_id": "f-photo"}, nil)
		require.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("non-asset field is a bad request", func(t *testing.T) {
		svc := &stubService{
			dispatchRebuild: func(context.Context, string, string, string) (*domain.JobRecord, error) {
				return nil, service.ErrNotAssetField
			},
		}
		handler := NewMaintenanceHandler(svc)
		router := gin.New()
		router.POST("/api/v1/maintenance/rebuild", handler.CreateRebuild)

		w := postJSON(router, "/api/v1/maintenance/rebuild",
			gin.H{"schema_id": "schema-1", "field_id": "f-name"}, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing field_id is a bad request", func(t *testing.T) {
		handler := NewMaintenanceHandler(&stubService{})
		router := gin.New()
		router.POST("/api/v1/maintenance/rebuild", handler.CreateRebuild)

		w := postJSON(router, "/api/v1/maintenance/rebuild", gin.H{"schema_id": "schema-1"}, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestMaintenanceHandler_CreateRewarm(t *testing.T) {
	svc := &stubService{
		dispatchRewarm: func(_ context.Context, schemaID, actor string) (*domain.JobRecord, error) {
			assert.Equal(t, "schema-1", schemaID)
			job := sampleJob()
			job.Type = domain.JobTypeRewarmCache
			return job, nil
		},
	}
	handler := NewMaintenanceHandler(svc)
	router := gin.New()
	router.POST("/api/v1/maintenance/rewarm", handler.CreateRewarm)

	w := postJSON(router, "/api/v1/maintenance/rewarm", gin.H{"schema_id": "schema-1"}, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
}
