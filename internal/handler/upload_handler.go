package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"record-import-pipeline/internal/middleware"
	"record-import-pipeline/internal/upload"
)

// UploadHandler handles the staging area: source files waiting for dispatch
// and the asset pool import rows reference by name.
type UploadHandler struct {
	uploads upload.Store
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(uploads upload.Store) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

// CreateSource handles POST /api/v1/uploads/sources
func (h *UploadHandler) CreateSource(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	ref, err := h.uploads.SaveSource(header.Filename, file)
	if err != nil {
		log.Printf("[request_id=%s] Failed to save source: %v", middleware.GetRequestID(c), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save source file"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"source_ref": ref})
}

// CreateAsset handles POST /api/v1/uploads/assets
func (h *UploadHandler) CreateAsset(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form is required"})
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one file is required"})
		return
	}

	saved := make([]string, 0, len(files))
	for _, header := range files {
		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file " + header.Filename})
			return
		}
		err = h.uploads.SaveAsset(header.Filename, f)
		f.Close()
		if err != nil {
			log.Printf("[request_id=%s] Failed to save asset %s: %v", middleware.GetRequestID(c), header.Filename, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save asset " + header.Filename})
			return
		}
		saved = append(saved, header.Filename)
	}

	c.JSON(http.StatusCreated, gin.H{"saved": saved})
}

// GetAsset handles GET /api/v1/uploads/assets/:name
func (h *UploadHandler) GetAsset(c *gin.Context) {
	info, err := h.uploads.Asset(c.Param("name"))
	if err != nil {
		log.Printf("[request_id=%s] Failed to stat asset: %v", middleware.GetRequestID(c), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to inspect asset"})
		return
	}
	if info == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not in pool"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name":      info.Name,
		"size":      info.Size,
		"mime_type": info.MimeType,
	})
}
