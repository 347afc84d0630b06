package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/andresmv/credithub/internal/domain/failedjob"
	"github.com/gin-gonic/gin"
)

type FailedJobAdminStore interface {
	List(ctx context.Context, limit int) ([]failedjob.FailedJob, error)
	GetByID(ctx context.Context, id int64) (failedjob.FailedJob, error)
	MarkRetried(ctx context.Context, id int64) error
	MarkReviewed(ctx context.Context, id int64) error
}

type RedriveStore interface {
	InsertRedrive(ctx context.Context, taskName string, args, kwargs json.RawMessage) (int64, error)
}

type AdminHandler struct {
	failed  FailedJobAdminStore
	pending RedriveStore
	logger  *slog.Logger
}

func NewAdminHandler(failed FailedJobAdminStore, pending RedriveStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		failed:  failed,
		pending: pending,
		logger:  logger,
	}
}

const defaultFailedJobsLimit = 50

func (h *AdminHandler) ListFailedJobs(ctx *gin.Context) {
	limit := defaultFailedJobsLimit
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			RespondBadRequest(ctx, "limit must be between 1 and 500", nil)
			return
		}
		limit = n
	}

	items, err := h.failed.List(ctx.Request.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(ctx.Request.Context(), "admin.failed_jobs_list_error", "error", err)
		RespondInternal(ctx, "Could not list failed jobs")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// RetryFailedJob re-drives one dead letter by hand. Unlike the hourly
// sweeper it ignores is_retryable, an operator gets to overrule the
// classifier.
func (h *AdminHandler) RetryFailedJob(ctx *gin.Context) {
	id, ok := failedJobID(ctx)
	if !ok {
		return
	}

	reqCtx := ctx.Request.Context()

	f, err := h.failed.GetByID(reqCtx, id)
	if err != nil {
		if errors.Is(err, failedjob.ErrNotFound) {
			RespondNotFound(ctx, "Failed job not found")
			return
		}
		RespondInternal(ctx, "Could not load failed job")
		return
	}

	if f.Status != failedjob.StatusPending {
		RespondConflict(ctx, "already_handled",
			"Failed job is already "+string(f.Status))
		return
	}

	pendingID, err := h.pending.InsertRedrive(reqCtx, f.TaskName, f.JobArgs, f.JobKwargs)
	if err != nil {
		h.logger.ErrorContext(reqCtx, "admin.redrive_failed", "failed_job_id", id, "error", err)
		RespondInternal(ctx, "Could not re-enqueue job")
		return
	}

	if err := h.failed.MarkRetried(reqCtx, id); err != nil {
		h.logger.WarnContext(reqCtx, "admin.mark_retried_failed", "failed_job_id", id, "error", err)
	}

	h.logger.InfoContext(reqCtx, "admin.failed_job_retried",
		"failed_job_id", id, "pending_job_id", pendingID)
	ctx.JSON(http.StatusAccepted, gin.H{
		"status":         "requeued",
		"pending_job_id": pendingID,
	})
}

// ReviewFailedJob marks a dead letter as looked at so it drops out of the
// pending queue without being re-driven.
func (h *AdminHandler) ReviewFailedJob(ctx *gin.Context) {
	id, ok := failedJobID(ctx)
	if !ok {
		return
	}

	if _, err := h.failed.GetByID(ctx.Request.Context(), id); err != nil {
		if errors.Is(err, failedjob.ErrNotFound) {
			RespondNotFound(ctx, "Failed job not found")
			return
		}
		RespondInternal(ctx, "Could not load failed job")
		return
	}

	if err := h.failed.MarkReviewed(ctx.Request.Context(), id); err != nil {
		RespondInternal(ctx, "Could not mark failed job reviewed")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "reviewed"})
}

func failedJobID(ctx *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		RespondBadRequest(ctx, "Invalid failed job id", nil)
		return 0, false
	}
	return id, true
}
