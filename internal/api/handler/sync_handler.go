package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/rostersync/internal/api/middleware"
	"github.com/timmy/rostersync/internal/domain"
	"github.com/timmy/rostersync/internal/logger"
	"github.com/timmy/rostersync/internal/service"
	"github.com/timmy/rostersync/internal/source"
	"github.com/timmy/rostersync/internal/source/bulk"
)

const defaultMaxUploadBytes = 32 << 20

// SyncRunner is the sync surface the handler drives.
type SyncRunner interface {
	Trigger(mode domain.RunMode, trigger domain.RunTrigger) (string, error)
	TriggerBulk(batch source.Batch, trigger domain.RunTrigger) (string, error)
	Cancel(ctx context.Context, runID string) error
	Status(ctx context.Context, runID string) (*domain.SyncRun, error)
	Active() *domain.SyncRun
	Latest(ctx context.Context) (*domain.SyncRun, error)
	History(ctx context.Context, limit int) ([]domain.SyncRun, error)
	TestProviderConnection(ctx context.Context) (bool, error)
}

// Archiver stores raw bulk uploads.
type Archiver interface {
	Put(ctx context.Context, kind, name string, data []byte) (string, error)
}

// SyncHandler handles sync run endpoints.
type SyncHandler struct {
	runner         SyncRunner
	archive        Archiver
	maxUploadBytes int64
}

// NewSyncHandler creates a new sync handler.
// Parameters:
//   - runner: sync orchestrator.
//   - archive: optional archive for bulk uploads; nil disables archiving.
//   - maxUploadBytes: upload size limit; zero uses the default.
//
// Returns:
//   - *SyncHandler: initialized handler.
func NewSyncHandler(runner SyncRunner, archive Archiver, maxUploadBytes int64) *SyncHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &SyncHandler{runner: runner, archive: archive, maxUploadBytes: maxUploadBytes}
}

// TriggerRequest represents the trigger sync API request.
type TriggerRequest struct {
	Mode domain.RunMode `json:"mode"`
}

// TriggerResponse is returned when a run is accepted.
type TriggerResponse struct {
	RunID      string            `json:"run_id"`
	ArchiveKey string            `json:"archive_key,omitempty"`
	RowErrors  []source.RowError `json:"row_errors,omitempty"`
}

// StateResponse describes whether a run is in progress.
type StateResponse struct {
	State  domain.RunStatus `json:"state"`
	Active *domain.SyncRun  `json:"active,omitempty"`
}

// TriggerSync handles POST /api/v1/sync.
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	req := TriggerRequest{Mode: domain.RunModeIncremental}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}
	}
	if m := c.Query("mode"); m != "" {
		req.Mode = domain.RunMode(m)
	}
	if req.Mode != domain.RunModeFull && req.Mode != domain.RunModeIncremental {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("mode must be %q or %q", domain.RunModeFull, domain.RunModeIncremental)})
		return
	}

	runID, err := h.runner.Trigger(req.Mode, domain.TriggerAPI)
	if err != nil {
		h.writeTriggerError(c, err)
		return
	}

	middleware.GetLogger(c).WithFields(logger.Fields{
		logger.FieldRunID: runID,
		"mode":            req.Mode,
	}).Info("Sync run accepted")
	c.JSON(http.StatusAccepted, TriggerResponse{RunID: runID})
}

// UploadBulk handles POST /api/v1/sync/bulk/:kind with a multipart "file".
// The file is archived when an archive is configured, parsed, and reconciled
// in a background bulk run.
func (h *SyncHandler) UploadBulk(c *gin.Context) {
	ctx := c.Request.Context()
	log := middleware.GetLogger(c)

	kind, err := domain.ParseEntityKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Multipart field 'file' is required"})
		return
	}
	if fh.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file exceeds %d bytes", h.maxUploadBytes)})
		return
	}

	opts := bulk.Options{}
	if f := c.PostForm("format"); f != "" {
		if opts.Format, err = bulk.ParseFormat(f); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	} else if opts.Format, err = bulk.FormatFromName(fh.Filename); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if asOf := c.PostForm("as_of"); asOf != "" {
		if opts.AsOf, err = domain.ParseTimestamp(asOf); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "as_of: " + err.Error()})
			return
		}
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload: " + err.Error()})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload: " + err.Error()})
		return
	}
	if int64(len(data)) > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file exceeds %d bytes", h.maxUploadBytes)})
		return
	}

	resp := TriggerResponse{}
	if h.archive != nil {
		start := time.Now()
		resp.ArchiveKey, err = h.archive.Put(ctx, string(kind), fh.Filename, data)
		if err != nil {
			log.WithError(err).Error("Failed to archive bulk upload")
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to archive upload"})
			return
		}
		logger.With(logger.Fields{logger.FieldSize: len(data)}).
			Since(start).
			Info(ctx, "Bulk upload archived: key=%s", resp.ArchiveKey)
	}

	batch := bulk.ParseBatch(bytes.NewReader(data), fh.Filename, kind, opts)
	resp.RowErrors = batch.RowErrors

	resp.RunID, err = h.runner.TriggerBulk(batch, domain.TriggerAPI)
	if err != nil {
		h.writeTriggerError(c, err)
		return
	}

	log.WithFields(logger.Fields{
		logger.FieldRunID:      resp.RunID,
		logger.FieldEntityKind: kind,
		logger.FieldCount:      len(batch.Records),
		"row_errors":           len(batch.RowErrors),
	}).Info("Bulk run accepted")
	c.JSON(http.StatusAccepted, resp)
}

func (h *SyncHandler) writeTriggerError(c *gin.Context, err error) {
	var conflict *service.ConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, gin.H{
			"error":         "A sync run is already in progress",
			"active_run_id": conflict.ActiveRunID,
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// GetState handles GET /api/v1/sync.
func (h *SyncHandler) GetState(c *gin.Context) {
	if run := h.runner.Active(); run != nil {
		c.JSON(http.StatusOK, StateResponse{State: domain.RunStatusRunning, Active: run})
		return
	}
	c.JSON(http.StatusOK, StateResponse{State: domain.RunStatusIdle})
}

// GetLatest handles GET /api/v1/sync/runs/latest.
func (h *SyncHandler) GetLatest(c *gin.Context) {
	run, err := h.runner.Latest(c.Request.Context())
	if err != nil {
		h.writeRunError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// GetRun handles GET /api/v1/sync/runs/:id.
func (h *SyncHandler) GetRun(c *gin.Context) {
	run, err := h.runner.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeRunError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListRuns handles GET /api/v1/sync/runs?limit=N.
func (h *SyncHandler) ListRuns(c *gin.Context) {
	limit := 0
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	runs, err := h.runner.History(c.Request.Context(), limit)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to list sync runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"total": len(runs),
	})
}

// CancelRun handles POST /api/v1/sync/runs/:id/cancel.
func (h *SyncHandler) CancelRun(c *gin.Context) {
	runID := c.Param("id")
	if err := h.runner.Cancel(c.Request.Context(), runID); err != nil {
		if errors.Is(err, service.ErrRunFinished) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.writeRunError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": "cancelling"})
}

// TestConnection handles GET /api/v1/provider/connection.
func (h *SyncHandler) TestConnection(c *gin.Context) {
	ok, err := h.runner.TestProviderConnection(c.Request.Context())
	if err != nil {
		middleware.GetLogger(c).WithError(err).Warn("Provider connection test failed")
		c.JSON(http.StatusOK, gin.H{"ok": ok, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": ok})
}

func (h *SyncHandler) writeRunError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Sync run not found"})
		return
	}
	middleware.GetLogger(c).WithError(err).Error("Failed to load sync run")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
