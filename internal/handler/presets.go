package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/phitk/render/internal/model"
	"github.com/phitk/render/internal/preset"
	"github.com/phitk/render/pkg/response"
)

type PresetHandler struct {
	presets   *preset.Store
	validator *validator.Validate
}

func NewPresetHandler(presets *preset.Store, v *validator.Validate) *PresetHandler {
	return &PresetHandler{presets: presets, validator: v}
}

type createPresetRequest struct {
	Name     string               `json:"name" validate:"required,max=64"`
	Settings model.RenderSettings `json:"settings"`
}

// List handles GET /api/presets
// @Summary      List presets
// @Tags         Presets
// @Produce      json
// @Success      200 {array} preset.Preset
// @Security     BearerAuth
// @Router       /api/presets [get]
func (h *PresetHandler) List(c *fiber.Ctx) error {
	return response.OK(c, h.presets.List())
}

// Create handles POST /api/presets
// @Summary      Add preset
// @Tags         Presets
// @Accept       json
// @Produce      json
// @Success      201 {object} preset.Preset
// @Failure      400 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/presets [post]
func (h *PresetHandler) Create(c *fiber.Ctx) error {
	req := createPresetRequest{Settings: model.DefaultRenderSettings()}
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.presets.Add(req.Name, req.Settings); err != nil {
		switch {
		case errors.Is(err, preset.ErrExists):
			return response.Conflict(c, err.Error())
		case errors.Is(err, preset.ErrReserved):
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, preset.Preset{Name: req.Name, Settings: req.Settings})
}

// Delete handles DELETE /api/presets/:name
// @Summary      Remove preset
// @Tags         Presets
// @Param        name path string true "Preset name"
// @Success      204
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/presets/{name} [delete]
func (h *PresetHandler) Delete(c *fiber.Ctx) error {
	if err := h.presets.Remove(c.Params("name")); err != nil {
		switch {
		case errors.Is(err, preset.ErrNotFound):
			return response.NotFound(c, err.Error())
		case errors.Is(err, preset.ErrReserved):
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.ServiceError(c, err.Error())
	}
	return response.NoContent(c)
}
