package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/phitk/render/internal/encoder"
	"github.com/phitk/render/internal/ffmpeg"
	"github.com/phitk/render/pkg/response"
)

// Prober runs the encoder functional tests for a codec family.
type Prober interface {
	Probe(ctx context.Context, codec encoder.Codec, hardware bool) []encoder.Result
}

// SystemHandler reports on the encoder toolchain.
type SystemHandler struct {
	ffmpegPath string
	prober     Prober
	version    func(ctx context.Context, bin string) (string, error)
}

func NewSystemHandler(ffmpegPath string, prober Prober) *SystemHandler {
	return &SystemHandler{ffmpegPath: ffmpegPath, prober: prober, version: ffmpeg.Version}
}

type ffmpegStatus struct {
	Found   bool   `json:"found"`
	Path    string `json:"path,omitempty"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

type encoderReport struct {
	Codec    encoder.Codec    `json:"codec"`
	Hardware bool             `json:"hardware"`
	Results  []encoder.Result `json:"results"`
}

// FFmpeg handles GET /api/ffmpeg
// @Summary      FFmpeg status
// @Description  Whether an ffmpeg binary was found and which version it is
// @Tags         System
// @Produce      json
// @Success      200 {object} ffmpegStatus
// @Security     BearerAuth
// @Router       /api/ffmpeg [get]
func (h *SystemHandler) FFmpeg(c *fiber.Ctx) error {
	if h.ffmpegPath == "" {
		return response.OK(c, ffmpegStatus{Error: ffmpeg.ErrNotFound.Error()})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Second)
	defer cancel()

	v, err := h.version(ctx, h.ffmpegPath)
	if err != nil {
		return response.OK(c, ffmpegStatus{Path: h.ffmpegPath, Error: err.Error()})
	}
	return response.OK(c, ffmpegStatus{Found: true, Path: h.ffmpegPath, Version: v})
}

// Encoders handles GET /api/encoders?codec=h264&hw=true
// @Summary      Encoder report
// @Description  Runs a short test encode with every candidate for the codec family
// @Tags         System
// @Produce      json
// @Param        codec query string false "h264, hevc or av1"
// @Param        hw    query bool   false "include hardware encoders (default true)"
// @Success      200 {object} encoderReport
// @Failure      400 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/encoders [get]
func (h *SystemHandler) Encoders(c *fiber.Ctx) error {
	if h.prober == nil {
		return response.EncoderError(c, ffmpeg.ErrNotFound.Error(), nil)
	}

	codec, err := encoder.ParseCodec(c.Query("codec", string(encoder.CodecH264)))
	if err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}
	hardware := true
	if v := c.Query("hw"); v != "" {
		if hardware, err = strconv.ParseBool(v); err != nil {
			return response.ValidationError(c, "hw must be a boolean", nil)
		}
	}

	results := h.prober.Probe(c.UserContext(), codec, hardware)
	return response.OK(c, encoderReport{Codec: codec, Hardware: hardware, Results: results})
}
