package handler

import (
	"strconv"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	authz "github.com/phitk/render/internal/auth"
	ws "github.com/phitk/render/internal/websocket"
)

// Router wires every handler onto a fiber app.
type Router struct {
	Jobs    *JobHandler
	Presets *PresetHandler
	System  *SystemHandler
	Charts  *ChartHandler
	Hub     *ws.Hub

	Auth        fiber.Handler
	SubmitLimit fiber.Handler
	// Scope returns a handler requiring the named token scope. Nil skips
	// scope checks.
	Scope func(scope string) fiber.Handler

	// Services is reported by /health.
	Services fiber.Map
}

// Mount registers the routes on app.
func (r *Router) Mount(app *fiber.App) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"services": r.Services,
		})
	})

	auth := r.Auth
	if auth == nil {
		auth = func(c *fiber.Ctx) error { return c.Next() }
	}
	limit := r.SubmitLimit
	if limit == nil {
		limit = func(c *fiber.Ctx) error { return c.Next() }
	}

	scope := r.Scope
	if scope == nil {
		scope = func(string) fiber.Handler {
			return func(c *fiber.Ctx) error { return c.Next() }
		}
	}

	api := app.Group("/api", auth)

	jobs := api.Group("/jobs")
	jobs.Post("/", scope(authz.ScopeSubmit), limit, r.Jobs.Submit)
	jobs.Post("/batch", scope(authz.ScopeSubmit), limit, r.Jobs.Batch)
	jobs.Get("/", r.Jobs.List)
	jobs.Get("/:id", r.Jobs.Get)
	jobs.Post("/:id/cancel", scope(authz.ScopeCancel), r.Jobs.Cancel)

	if r.Presets != nil {
		api.Get("/presets", r.Presets.List)
		api.Post("/presets", scope(authz.ScopePresets), r.Presets.Create)
		api.Delete("/presets/:name", scope(authz.ScopePresets), r.Presets.Delete)
	}

	if r.System != nil {
		api.Get("/ffmpeg", r.System.FFmpeg)
		api.Get("/encoders", r.System.Encoders)
	}

	if r.Charts != nil {
		api.Get("/charts", r.Charts.List)
		api.Get("/charts/info", r.Charts.Info)
	}

	if r.Hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})

		// /ws/jobs subscribes to every job
		app.Get("/ws/jobs", websocket.New(func(c *websocket.Conn) {
			r.Hub.HandleConnection(c, ws.AllJobs)
		}))
		app.Get("/ws/jobs/:id", websocket.New(func(c *websocket.Conn) {
			id, err := strconv.ParseUint(c.Params("id"), 10, 32)
			if err != nil || id == 0 {
				_ = c.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			r.Hub.HandleConnection(c, uint32(id))
		}))
	}
}

// ErrorHandler renders fiber errors in the response envelope.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
