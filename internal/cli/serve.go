package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/phitk/render/internal/auth"
	"github.com/phitk/render/internal/client"
	"github.com/phitk/render/internal/config"
	"github.com/phitk/render/internal/encoder"
	"github.com/phitk/render/internal/ffmpeg"
	"github.com/phitk/render/internal/handler"
	"github.com/phitk/render/internal/ipc"
	"github.com/phitk/render/internal/middleware"
	"github.com/phitk/render/internal/preset"
	"github.com/phitk/render/internal/service"
	"github.com/phitk/render/internal/store"
	"github.com/phitk/render/internal/worker"
	ws "github.com/phitk/render/internal/websocket"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job queue and its HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfg, log, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}

	validate := validator.New()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis not available", "addr", cfg.Redis.Addr, "error", err)
		}
	}

	jobStore, err := openStore(cfg, redisClient)
	if err != nil {
		return err
	}
	defer jobStore.Close()

	presets, err := preset.Open(cfg.Presets.Path)
	if err != nil {
		return err
	}

	bin, err := ffmpeg.Locate(ctx, cfg.FFmpeg.Path)
	if err != nil {
		log.Warn("ffmpeg not found, renders will fail until it is installed", "configured", cfg.FFmpeg.Path)
	} else {
		log.Info("using ffmpeg", "path", bin)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate own executable: %w", err)
	}
	args := []string{"render", "--assets", cfg.Render.AssetsDir}
	if bin != "" {
		args = append(args, "--ffmpeg", bin)
	}
	supervisor := &ipc.Supervisor{Exe: exe, Args: args, Env: os.Environ(), Logger: log}

	var publisher service.Publisher
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		store, err := client.NewR2Store(ctx, cfg.R2)
		if err != nil {
			log.Warn("R2 store not initialized", "error", err)
		} else {
			publisher = service.NewStoragePublisher(store)
		}
	}

	queue := service.NewTaskQueue(service.Options{
		OutputDir: cfg.Render.OutputDir,
		History:   cfg.Queue.History,
		Store:     jobStore,
		Runner:    supervisor,
		Presets:   presets,
		Publisher: publisher,
		Validator: validate,
		Logger:    log,
	})
	if err := queue.Restore(ctx); err != nil {
		log.Warn("failed to restore jobs", "error", err)
	}

	hub := ws.NewHub(log)
	go hub.Run(ctx)
	queue.Subscribe(hub)

	switch cfg.Queue.Backend {
	case "asynq":
		if cfg.Redis.Addr == "" {
			return errors.New("queue backend asynq needs redis.addr")
		}
		redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		asynqClient := asynq.NewClient(redisOpt)
		defer asynqClient.Close()
		queue.SetDispatcher(service.NewAsynqDispatcher(asynqClient, cfg.Queue.Retention))
		go startWorkerServer(ctx, cfg, redisOpt, queue, log)
	case "local", "":
		go queue.Run(ctx)
	default:
		return fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}

	var tokenVerifier auth.TokenVerifier
	if auth.Issuer(&cfg.OIDC) != "" {
		oidc, err := auth.NewOIDCVerifier(ctx, &cfg.OIDC)
		if err != nil {
			log.Warn("OIDC verifier not initialized", "error", err)
		} else {
			defer oidc.Close()
			tokenVerifier = oidc
		}
	}
	authMiddleware := middleware.NewAuthMiddleware(tokenVerifier, cfg.JWT.Secret)
	if !authMiddleware.Enabled() {
		log.Warn("no jwt secret or oidc issuer configured, the API is unauthenticated")
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	var prober handler.Prober
	if bin != "" {
		neg := encoder.NewNegotiator(bin, ffmpeg.Output, log)
		neg.ProbeTimeout = cfg.FFmpeg.ProbeTimeout
		prober = neg
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handler.ErrorHandler,
		BodyLimit:    4 * 1024 * 1024,
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
		Output: os.Stderr,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	router := &handler.Router{
		Jobs:        handler.NewJobHandler(queue, validate),
		Presets:     handler.NewPresetHandler(presets, validate),
		System:      handler.NewSystemHandler(bin, prober),
		Charts:      handler.NewChartHandler(cfg.Render.ChartsDir),
		Hub:         hub,
		Auth:        authMiddleware.Authenticate(),
		Scope:       authMiddleware.RequireScope,
		SubmitLimit: rateLimiter.SubmitLimit(cfg.RateLimit.SubmitPerHour),
		Services: fiber.Map{
			"ffmpeg": bin != "",
			"redis":  redisClient != nil,
			"store":  cfg.Store.Driver,
			"queue":  cfg.Queue.Backend,
			"r2":     publisher != nil,
			"auth":   authMiddleware.Enabled(),
		},
	}
	router.Mount(app)

	go func() {
		<-ctx.Done()
		log.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info("server starting", "addr", addr)
	return app.Listen(addr)
}

func openStore(cfg *config.Config, redisClient *redis.Client) (store.JobStore, error) {
	switch cfg.Store.Driver {
	case "memory", "":
		return store.NewMemoryStore(), nil
	case "redis":
		if redisClient == nil {
			return nil, errors.New("store driver redis needs redis.addr")
		}
		return store.NewRedisStore(redisClient, cfg.Queue.Retention), nil
	case "sqlite":
		return store.OpenSQLite(cfg.Store.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// startWorkerServer executes asynq render tasks one at a time.
func startWorkerServer(ctx context.Context, cfg *config.Config, redisOpt asynq.RedisClientOpt, queue *service.TaskQueue, log *slog.Logger) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		// One GPU, one export at a time
		Concurrency: 1,
		Queues: map[string]int{
			service.QueueRender: 1,
		},
		LogLevel:       asynqLogLevel,
		RetryDelayFunc: worker.RetryDelay,
	})

	mux := asynq.NewServeMux()
	worker.NewRenderWorker(queue, log).Register(mux)

	if err := srv.Start(mux); err != nil {
		log.Error("asynq worker failed to start", "error", err)
		return
	}
	<-ctx.Done()
	srv.Shutdown()
}
