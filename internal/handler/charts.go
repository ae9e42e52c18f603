package handler

import (
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/phitk/render/internal/chart"
	"github.com/phitk/render/pkg/response"
)

// ChartHandler browses the charts directory.
type ChartHandler struct {
	root string
}

func NewChartHandler(root string) *ChartHandler {
	return &ChartHandler{root: root}
}

type chartEntry struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// List handles GET /api/charts
// @Summary      List charts
// @Tags         Charts
// @Produce      json
// @Success      200 {array} chartEntry
// @Security     BearerAuth
// @Router       /api/charts [get]
func (h *ChartHandler) List(c *fiber.Ctx) error {
	files, err := chart.ListFiles(h.root)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	out := make([]chartEntry, 0, len(files))
	for _, f := range files {
		base := filepath.Base(f)
		out = append(out, chartEntry{Path: f, Name: strings.TrimSuffix(base, filepath.Ext(base))})
	}
	return response.OK(c, out)
}

// Info handles GET /api/charts/info?path=
// @Summary      Chart metadata
// @Tags         Charts
// @Produce      json
// @Param        path query string true "chart path inside the charts directory"
// @Success      200 {object} model.ChartInfo
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/charts/info [get]
func (h *ChartHandler) Info(c *fiber.Ctx) error {
	p := c.Query("path")
	if p == "" {
		return response.ValidationError(c, "path is required", nil)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(h.root, p)
	}
	rel, err := filepath.Rel(h.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return response.ValidationError(c, "path is outside the charts directory", nil)
	}

	info, err := chart.ReadInfo(c.UserContext(), p)
	if err != nil {
		return response.NotFound(c, err.Error())
	}
	return response.OK(c, info)
}
