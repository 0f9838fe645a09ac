package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/thumbgen/tracker/internal/middleware"
	"github.com/thumbgen/tracker/internal/model"
	"github.com/thumbgen/tracker/internal/service"
	ws "github.com/thumbgen/tracker/internal/websocket"
	"github.com/thumbgen/tracker/pkg/response"
)

// ThumbnailLinkTTL is how long a thumbnail redirect stays valid
const ThumbnailLinkTTL = 15 * time.Minute

type JobHandler struct {
	service *service.ThumbnailService
}

func NewJobHandler(svc *service.ThumbnailService) *JobHandler {
	return &JobHandler{service: svc}
}

// Status handles GET /api/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.GetJob(c.UserContext(), middleware.GetUserID(c), jobID)
	if err != nil {
		return jobError(c, err)
	}

	return response.OK(c, job.Descriptor())
}

// Thumbnail handles GET /api/jobs/:jobId/thumbnail by redirecting to a signed URL
func (h *JobHandler) Thumbnail(c *fiber.Ctx) error {
	link, err := h.service.ThumbnailLink(c.UserContext(), middleware.GetUserID(c), c.Params("jobId"), ThumbnailLinkTTL)
	if err != nil {
		return jobError(c, err)
	}
	return c.Redirect(link, fiber.StatusFound)
}

func jobError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, service.ErrJobForbidden):
		return response.Forbidden(c, "Job belongs to another user")
	case errors.Is(err, service.ErrThumbnailNotReady):
		return response.Conflict(c, "Thumbnail not ready")
	}
	return response.ServiceError(c, err.Error())
}

// SubscribeCheck lets userID follow only their own jobs and reports the current state.
func (h *JobHandler) SubscribeCheck(userID string) ws.SubscribeCheck {
	return func(jobID string) (model.JobUpdate, bool) {
		job, err := h.service.GetJob(context.Background(), userID, jobID)
		if err != nil {
			return model.JobUpdate{}, false
		}
		return model.JobUpdate{
			JobID:        job.ID,
			Status:       job.Status,
			ThumbnailURL: job.ThumbnailURL,
		}, true
	}
}
