package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/embedr/internal/api/middleware"
	"github.com/timmy/embedr/internal/domain"
	"github.com/timmy/embedr/internal/logger"
	"github.com/timmy/embedr/internal/service"
)

// maxSubmissionBytes bounds the size of one ingest request body.
const maxSubmissionBytes = 32 << 20

// IngestService is the coordinator surface the handlers need.
type IngestService interface {
	Submit(ctx context.Context, records []map[string]any) (*domain.Batch, error)
	BatchProgress(ctx context.Context, batchID string) (*service.BatchProgress, error)
	GetTask(ctx context.Context, ref domain.TaskRef) (*domain.Task, error)
	GetItem(ctx context.Context, id string) (*domain.Item, error)
}

// IngestHandler handles ingest submissions and status lookups.
type IngestHandler struct {
	ingest IngestService
	logger *logger.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(ingest IngestService, log *logger.Logger) *IngestHandler {
	return &IngestHandler{
		ingest: ingest,
		logger: log,
	}
}

// log returns a logger from the request context if available, otherwise the handler's logger
func (h *IngestHandler) log(c *gin.Context) *logger.Logger {
	if l := logger.FromContext(c.Request.Context()); l != nil {
		return l
	}
	return h.logger
}

// SubmitResponse represents the ingest API response.
type SubmitResponse struct {
	BatchID   string             `json:"batch_id"`
	TaskCount int                `json:"task_count"`
	Items     []domain.BatchItem `json:"items"`
}

// Submit handles POST /api/v1/ingest.
// The body is a JSON list of item records; an invalid record rejects the whole submission.
func (h *IngestHandler) Submit(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSubmissionBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	var raw []any
	if err := json.Unmarshal(body, &raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body must be a JSON list of items"})
		return
	}

	records := make([]map[string]any, len(raw))
	for i, r := range raw {
		// Non-object entries stay nil and are reported by validation
		if m, ok := r.(map[string]any); ok {
			records[i] = m
		}
	}

	batch, err := h.ingest.Submit(c.Request.Context(), records)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"errors": verr.Errors})
			return
		}
		h.log(c).WithError(err).Error("Failed to submit batch")
		if batch != nil {
			c.Set(middleware.ContextBatchID, batch.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Batch stored but not fully queued", "batch_id": batch.ID})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit batch"})
		return
	}

	c.Set(middleware.ContextBatchID, batch.ID)
	c.JSON(http.StatusAccepted, SubmitResponse{
		BatchID:   batch.ID,
		TaskCount: batch.TaskCount,
		Items:     batch.Items,
	})
}

// BatchProgress handles GET /api/v1/batches/:id and GET /api/v1/ingest?batch_id=.
func (h *IngestHandler) BatchProgress(c *gin.Context) {
	batchID := c.Param("id")
	if batchID == "" {
		batchID = c.Query("batch_id")
	}
	if batchID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Batch ID is required"})
		return
	}
	c.Set(middleware.ContextBatchID, batchID)

	progress, err := h.ingest.BatchProgress(c.Request.Context(), batchID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// GetTask handles GET /api/v1/batches/:id/tasks/:task.
func (h *IngestHandler) GetTask(c *gin.Context) {
	taskID, err := strconv.Atoi(c.Param("task"))
	if err != nil || taskID < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Task ID must be a positive integer"})
		return
	}

	task, err := h.ingest.GetTask(c.Request.Context(), domain.TaskRef{BatchID: c.Param("id"), TaskID: taskID})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// GetItem handles GET /api/v1/items/:id.
// Items with an ingest in flight are not served.
func (h *IngestHandler) GetItem(c *gin.Context) {
	item, err := h.ingest.GetItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *IngestHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrBatchNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
	case errors.Is(err, domain.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
	case errors.Is(err, domain.ErrItemNotFound), errors.Is(err, domain.ErrItemLocked):
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
	default:
		h.log(c).WithError(err).Error("Lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
