package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"discord-file-relay/internal/actions"
	"discord-file-relay/internal/config"
	"discord-file-relay/internal/metrics"
	"discord-file-relay/internal/model"
	"discord-file-relay/internal/repository"
	"discord-file-relay/internal/scheduler"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Details   map[string]string `json:"details,omitempty"`
}

// Handlers contains all HTTP handlers
type Handlers struct {
	db         *gorm.DB
	repo       *repository.Repository
	dispatcher *actions.Dispatcher
	scheduler  *scheduler.Scheduler
	cfg        *config.Config
	metrics    *metrics.Metrics
	downloader *http.Client
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, repo *repository.Repository, dispatcher *actions.Dispatcher, sched *scheduler.Scheduler, cfg *config.Config, m *metrics.Metrics) *Handlers {
	return &Handlers{
		db:         db,
		repo:       repo,
		dispatcher: dispatcher,
		scheduler:  sched,
		cfg:        cfg,
		metrics:    m,
		downloader: &http.Client{Timeout: 2 * time.Minute},
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		// Engine actions
		api.POST("/bot", h.DispatchAction)

		// File metadata
		api.GET("/files", h.ListFiles)
		api.DELETE("/files/:id", h.DeleteFile)
		api.GET("/files/:id/download", h.DownloadFile)

		// Scheduler control
		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Details:   make(map[string]string),
	}

	if err := h.db.Raw("SELECT 1").Error; err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.scheduler.IsRunning() {
		response.Details["scheduler"] = "running"
		response.Details["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
	} else {
		response.Details["scheduler"] = "stopped"
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

// DispatchAction runs a named engine action (crawl, refresh, ...)
func (h *Handlers) DispatchAction(c *gin.Context) {
	var req actions.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	result, err := h.dispatcher.Dispatch(c.Request.Context(), req)
	if err != nil {
		var badReq *actions.BadRequestError
		if errors.As(err, &badReq) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_action",
				Message: badReq.Reason,
				Code:    http.StatusBadRequest,
			})
			return
		}
		logrus.Errorf("Action %s failed: %v", req.Action, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "action_failed",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListFiles returns all live file records
func (h *Handlers) ListFiles(c *gin.Context) {
	files, err := h.repo.ListActive()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch files",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	if files == nil {
		files = []model.StoredFile{}
	}
	h.metrics.LiveFiles.Set(float64(len(files)))
	c.JSON(http.StatusOK, files)
}

// DeleteFile soft-deletes a file record. The record is kept so later
// crawls do not re-ingest the attachment.
func (h *Handlers) DeleteFile(c *gin.Context) {
	id := c.Param("id")

	if err := h.repo.SoftDeleteByID(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "File not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to delete file",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	h.metrics.LiveFiles.Dec()
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "File marked as deleted"})
}

// DownloadFile proxies the file bytes from Discord. A URL past the
// staleness window is refreshed up front; a remote 404 triggers one
// emergency refresh and a single retry against the new URL.
func (h *Handlers) DownloadFile(c *gin.Context) {
	id := c.Param("id")

	file, err := h.repo.FindByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch file",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	if file == nil || file.Deleted {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "File not found or deleted",
			Code:    http.StatusNotFound,
		})
		return
	}

	downloadURL := file.DiscordURL

	stale := file.UpdatedAt.Before(time.Now().Add(-h.cfg.Refresh.StaleAfter))
	if stale && file.DiscordMessageID != nil {
		if url, ok := h.tryRefresh(c, id); ok {
			downloadURL = url
		}
	}

	resp, err := h.downloader.Get(downloadURL)
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "fetch_failed",
			Message: "Failed to fetch file from storage",
			Code:    http.StatusBadGateway,
		})
		return
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		logrus.Info("Stored URL expired, attempting emergency refresh")
		url, ok := h.tryRefresh(c, id)
		if !ok {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "url_expired",
				Message: "File URL expired and could not be refreshed",
				Code:    http.StatusNotFound,
			})
			return
		}
		resp, err = h.downloader.Get(url)
		if err != nil {
			c.JSON(http.StatusBadGateway, ErrorResponse{
				Error:   "fetch_failed",
				Message: "Failed to fetch file from storage",
				Code:    http.StatusBadGateway,
			})
			return
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "fetch_failed",
			Message: fmt.Sprintf("Storage returned HTTP %d", resp.StatusCode),
			Code:    http.StatusBadGateway,
		})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.OriginalName))
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		logrus.Errorf("Error streaming file %s: %v", id, err)
	}
}

// tryRefresh runs a refresh-single action and returns the new URL when
// one was written. Failures are logged and the caller keeps the stored
// URL.
func (h *Handlers) tryRefresh(c *gin.Context, fileID string) (string, bool) {
	result, err := h.dispatcher.Dispatch(c.Request.Context(), actions.Request{
		Action: actions.ActionRefreshSingle,
		FileID: fileID,
	})
	if err != nil {
		logrus.Errorf("Failed to refresh URL for %s: %v", fileID, err)
		return "", false
	}

	single, ok := result.(*actions.RefreshSingleResult)
	if !ok || !single.Refreshed {
		return "", false
	}

	file, err := h.repo.FindByID(fileID)
	if err != nil || file == nil {
		return "", false
	}
	return file.DiscordURL, true
}

// StartScheduler starts the periodic refresh sweep
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to start scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Scheduler started successfully", "status": "running"})
}

// StopScheduler stops the periodic refresh sweep
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to stop scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Scheduler stopped successfully", "status": "stopped"})
}

// RunOnce triggers a refresh sweep immediately
func (h *Handlers) RunOnce(c *gin.Context) {
	if err := h.scheduler.RunOnce(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to run refresh sweep",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Refresh sweep completed"})
}

// GetSchedulerStatus returns the current scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	status := "stopped"
	if h.scheduler.IsRunning() {
		status = "running"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"next_run": h.scheduler.GetNextRun(),
		"last_run": h.scheduler.GetLastRun(),
	})
}
