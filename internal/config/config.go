package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Store     StoreConfig
	FFmpeg    FFmpegConfig
	Render    RenderConfig
	JWT       JWTConfig
	OIDC      OIDCConfig
	RateLimit RateLimitConfig
	R2        R2Config
	Presets   PresetsConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// QueueConfig selects how jobs reach the execution loop.
type QueueConfig struct {
	Backend   string // local | asynq
	History   int
	Retention time.Duration
}

type StoreConfig struct {
	Driver     string // memory | redis | sqlite
	SQLitePath string
}

type FFmpegConfig struct {
	Path         string
	ProbeTimeout time.Duration
}

type RenderConfig struct {
	AssetsDir        string
	OutputDir        string
	TempDir          string
	ChartsDir        string
	MixingSampleRate int
	LoadingTime      float64
	BeforeTime       float64
	PostRoll         float64
	Fade             float64
	EndingWaitTime   float64
	MaxReadbackSlots int
	Scene            string
}

type JWTConfig struct {
	Secret string
}

type OIDCConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type RateLimitConfig struct {
	SubmitPerHour int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type PresetsConfig struct {
	Path string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("OIDC_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("queue.backend", "QUEUE_BACKEND")
	_ = viper.BindEnv("queue.history", "QUEUE_HISTORY")
	_ = viper.BindEnv("queue.retention", "QUEUE_RETENTION")
	_ = viper.BindEnv("store.driver", "STORE_DRIVER")
	_ = viper.BindEnv("store.sqlite_path", "STORE_SQLITE_PATH")
	_ = viper.BindEnv("ffmpeg.path", "FFMPEG_PATH")
	_ = viper.BindEnv("ffmpeg.probe_timeout", "FFMPEG_PROBE_TIMEOUT")
	_ = viper.BindEnv("render.assets_dir", "RENDER_ASSETS_DIR")
	_ = viper.BindEnv("render.output_dir", "RENDER_OUTPUT_DIR")
	_ = viper.BindEnv("render.temp_dir", "RENDER_TEMP_DIR")
	_ = viper.BindEnv("render.charts_dir", "RENDER_CHARTS_DIR")
	_ = viper.BindEnv("render.mixing_sample_rate", "RENDER_MIXING_SAMPLE_RATE")
	_ = viper.BindEnv("render.scene", "RENDER_SCENE")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("oidc.domain", "OIDC_DOMAIN")
	_ = viper.BindEnv("oidc.client_id", "OIDC_CLIENT_ID")
	_ = viper.BindEnv("oidc.issuer", "OIDC_ISSUER")
	_ = viper.BindEnv("ratelimit.submit_per_hour", "RATELIMIT_SUBMIT_PER_HOUR")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("presets.path", "PRESETS_PATH")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("queue.backend", "local")
	viper.SetDefault("queue.history", 50)
	viper.SetDefault("queue.retention", 24*time.Hour)
	viper.SetDefault("store.driver", "memory")
	viper.SetDefault("store.sqlite_path", "jobs.db")
	viper.SetDefault("ffmpeg.probe_timeout", 15*time.Second)

	// Timeline defaults match the stock game scene
	viper.SetDefault("render.assets_dir", "assets")
	viper.SetDefault("render.output_dir", "output")
	viper.SetDefault("render.temp_dir", "")
	viper.SetDefault("render.charts_dir", "charts")
	viper.SetDefault("render.mixing_sample_rate", 96000)
	viper.SetDefault("render.loading_time", 2.55)
	viper.SetDefault("render.before_time", 0.7)
	viper.SetDefault("render.post_roll", 1.0)
	viper.SetDefault("render.fade", -0.5)
	viper.SetDefault("render.ending_wait_time", 1.2)
	viper.SetDefault("render.max_readback_slots", 30)
	viper.SetDefault("render.scene", "pattern")

	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("ratelimit.submit_per_hour", 60)
	viper.SetDefault("presets.path", "presets.yaml")

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Queue: QueueConfig{
			Backend:   viper.GetString("queue.backend"),
			History:   viper.GetInt("queue.history"),
			Retention: viper.GetDuration("queue.retention"),
		},
		Store: StoreConfig{
			Driver:     viper.GetString("store.driver"),
			SQLitePath: viper.GetString("store.sqlite_path"),
		},
		FFmpeg: FFmpegConfig{
			Path:         viper.GetString("ffmpeg.path"),
			ProbeTimeout: viper.GetDuration("ffmpeg.probe_timeout"),
		},
		Render: RenderConfig{
			AssetsDir:        viper.GetString("render.assets_dir"),
			OutputDir:        viper.GetString("render.output_dir"),
			TempDir:          viper.GetString("render.temp_dir"),
			ChartsDir:        viper.GetString("render.charts_dir"),
			MixingSampleRate: viper.GetInt("render.mixing_sample_rate"),
			LoadingTime:      viper.GetFloat64("render.loading_time"),
			BeforeTime:       viper.GetFloat64("render.before_time"),
			PostRoll:         viper.GetFloat64("render.post_roll"),
			Fade:             viper.GetFloat64("render.fade"),
			EndingWaitTime:   viper.GetFloat64("render.ending_wait_time"),
			MaxReadbackSlots: viper.GetInt("render.max_readback_slots"),
			Scene:            viper.GetString("render.scene"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		OIDC: OIDCConfig{
			Domain:   viper.GetString("oidc.domain"),
			ClientID: viper.GetString("oidc.client_id"),
			Issuer:   viper.GetString("oidc.issuer"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerHour: viper.GetInt("ratelimit.submit_per_hour"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Presets: PresetsConfig{
			Path: viper.GetString("presets.path"),
		},
	}

	return cfg, nil
}
