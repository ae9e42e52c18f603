package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/phitk/render/internal/chart"
	"github.com/phitk/render/internal/model"
	"github.com/phitk/render/internal/service"
	"github.com/phitk/render/pkg/response"
)

type JobHandler struct {
	queue     *service.TaskQueue
	validator *validator.Validate
}

func NewJobHandler(queue *service.TaskQueue, v *validator.Validate) *JobHandler {
	return &JobHandler{
		queue:     queue,
		validator: v,
	}
}

// Submit handles POST /api/jobs
// @Summary      Submit render job
// @Description  Queue a chart for export. Returns as soon as the job is queued.
// @Tags         Jobs
// @Accept       json
// @Produce      json
// @Param        request body model.RenderParams true "Render params"
// @Success      202 {object} model.TaskView
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/jobs [post]
func (h *JobHandler) Submit(c *fiber.Ctx) error {
	params := model.RenderParams{Config: model.DefaultRenderSettings()}
	if err := c.BodyParser(&params); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if params.Info.Name == "" && params.Path != "" {
		if info, err := chart.ReadInfo(c.UserContext(), params.Path); err == nil {
			params.Info = info
		}
	}

	view, err := h.queue.Submit(c.UserContext(), params)
	if err != nil {
		return submitError(c, err)
	}

	return response.Accepted(c, view)
}

// Batch handles POST /api/jobs/batch
// @Summary      Submit several render jobs
// @Description  Queue one job per chart, each with settings from a named preset
// @Tags         Jobs
// @Accept       json
// @Produce      json
// @Param        request body model.BatchRequest true "Batch request"
// @Success      202 {object} model.BatchResponse
// @Failure      400 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/jobs/batch [post]
func (h *JobHandler) Batch(c *fiber.Ctx) error {
	var req model.BatchRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	views, err := h.queue.Batch(c.UserContext(), req.Items)
	if err != nil {
		return submitError(c, err)
	}

	return response.Accepted(c, model.BatchResponse{Tasks: views})
}

// List handles GET /api/jobs
// @Summary      List render jobs
// @Tags         Jobs
// @Produce      json
// @Success      200 {array} model.TaskView
// @Security     BearerAuth
// @Router       /api/jobs [get]
func (h *JobHandler) List(c *fiber.Ctx) error {
	return response.OK(c, h.queue.List())
}

// Get handles GET /api/jobs/:id
// @Summary      Get render job
// @Tags         Jobs
// @Produce      json
// @Param        id path int true "Job ID"
// @Success      200 {object} model.TaskView
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/jobs/{id} [get]
func (h *JobHandler) Get(c *fiber.Ctx) error {
	id, err := jobID(c)
	if err != nil {
		return response.ValidationError(c, "Invalid job ID", nil)
	}

	view, err := h.queue.Get(id)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, view)
}

// Cancel handles POST /api/jobs/:id/cancel
// @Summary      Cancel render job
// @Description  Cancel a queued or running job. Canceling a finished job changes nothing.
// @Tags         Jobs
// @Produce      json
// @Param        id path int true "Job ID"
// @Success      200 {object} model.CancelResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/jobs/{id}/cancel [post]
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	id, err := jobID(c)
	if err != nil {
		return response.ValidationError(c, "Invalid job ID", nil)
	}

	view, err := h.queue.Cancel(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.CancelResponse{Success: true, Task: view})
}

func jobID(c *fiber.Ctx) (uint32, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("invalid job id")
	}
	return uint32(id), nil
}
