package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/phitk/render/internal/auth"
	"github.com/phitk/render/internal/encoder"
	"github.com/phitk/render/internal/handler"
	"github.com/phitk/render/internal/ipc"
	"github.com/phitk/render/internal/middleware"
	"github.com/phitk/render/internal/model"
	"github.com/phitk/render/internal/preset"
	"github.com/phitk/render/internal/service"
	"github.com/phitk/render/internal/store"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app       *fiber.App
	queue     *service.TaskQueue
	chartsDir string
}

// instantRunner finishes every job at once with three frames.
type instantRunner struct{}

func (instantRunner) Run(_ context.Context, _ model.RenderParams, _ string, onEvent func(ipc.Event)) (ipc.Result, error) {
	onEvent(ipc.StartMixing())
	onEvent(ipc.StartRender(3))
	for i := 0; i < 3; i++ {
		onEvent(ipc.Frame())
	}
	onEvent(ipc.Done(0.25))
	return ipc.Result{Total: 3, Frames: 3, Elapsed: 0.25}, nil
}

// stubProber reports libx264 as the only working encoder.
type stubProber struct{}

func (stubProber) Probe(_ context.Context, codec encoder.Codec, hardware bool) []encoder.Result {
	var out []encoder.Result
	for _, c := range encoder.Candidates(codec, hardware) {
		r := encoder.Result{Candidate: c, Listed: true, Detected: !c.Hardware()}
		if c.Hardware() {
			r.Error = "no device"
		} else {
			r.OK = true
		}
		out = append(out, r)
	}
	return out
}

// setupApp builds the same router the serve command mounts, backed by an
// in-memory store and a runner that needs no ffmpeg.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	validate := validator.New()

	chartsDir := t.TempDir()
	writeChart(t, chartsDir, "song")

	presets, err := preset.Open(filepath.Join(t.TempDir(), "presets.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	queue := service.NewTaskQueue(service.Options{
		OutputDir: t.TempDir(),
		Store:     store.NewMemoryStore(),
		Runner:    instantRunner{},
		Presets:   presets,
		Validator: validate,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go queue.Run(ctx)

	authMiddleware := middleware.NewAuthMiddleware(nil, testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(nil)

	app := fiber.New(fiber.Config{
		ErrorHandler: handler.ErrorHandler,
	})

	router := &handler.Router{
		Jobs:    handler.NewJobHandler(queue, validate),
		Presets: handler.NewPresetHandler(presets, validate),
		System:  handler.NewSystemHandler("", stubProber{}),
		Charts:  handler.NewChartHandler(chartsDir),
		Auth:    authMiddleware.Authenticate(),
		Scope:   authMiddleware.RequireScope,
		// Very high limit so tests don't get blocked
		SubmitLimit: rateLimiter.SubmitLimit(10000),
		Services: fiber.Map{
			"ffmpeg": false,
			"auth":   true,
		},
	}
	router.Mount(app)

	return &testApp{app: app, queue: queue, chartsDir: chartsDir}
}

// writeChart creates <dir>/<name>/chart.json and returns the chart directory.
func writeChart(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatal(err)
	}
	body := `{"offset": 0, "music": "music.ogg", "notes": [{"time": 0.5, "kind": "click"}], "info": {"name": "` + name + `", "level": "IN 15"}}`
	if err := os.WriteFile(filepath.Join(p, "chart.json"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	signed, err := auth.SignLegacyToken(testJWTSecret, "test-user-123", "test@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// parseJSONArray parses response body into a slice.
func parseJSONArray(t *testing.T, resp *http.Response) []interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result []interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
