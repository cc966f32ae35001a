package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dunamismax/cutout/internal/domain"
	"github.com/dunamismax/cutout/internal/security"
	"github.com/hibiken/asynq"
)

// Config is built once at process start and shared read-only.
type Config struct {
	Debug      bool             `toml:"debug"`
	API        APIConfig        `toml:"api"`
	Security   SecurityConfig   `toml:"security"`
	Upload     UploadConfig     `toml:"upload"`
	Processing ProcessingConfig `toml:"processing"`
	Rembg      RembgConfig      `toml:"rembg"`
	Tools      ToolsConfig      `toml:"tools"`
	RateLimit  RateLimitConfig  `toml:"rate_limit"`
	Tracing    TracingConfig    `toml:"tracing"`
	Queue      QueueConfig      `toml:"queue"`
	Worker     WorkerConfig     `toml:"worker"`
	Storage    StorageConfig    `toml:"storage"`
	Database   DatabaseConfig   `toml:"database"`
	Webhook    WebhookConfig    `toml:"webhook"`
	Janitor    JanitorConfig    `toml:"janitor"`
}

type APIConfig struct {
	Addr           string        `toml:"addr"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	AsyncJobs      bool          `toml:"async_jobs"`
	PresignTTL     time.Duration `toml:"presign_ttl"`
}

type SecurityConfig struct {
	AllowedOrigins []string      `toml:"allowed_origins"`
	AuthorizedIPs  []string      `toml:"authorized_ips"`
	TrustedProxies string        `toml:"trusted_proxies"`
	APIKeySecret   string        `toml:"api_key_secret"`
	SignatureSkew  time.Duration `toml:"signature_skew"`
	AdminPassword  string        `toml:"admin_password"`

	// AdminPasswordHash is derived from AdminPassword at load time.
	AdminPasswordHash []byte `toml:"-"`
}

type UploadConfig struct {
	AllowedExtensions []string `toml:"allowed_extensions"`
	MaxBytes          int64    `toml:"max_bytes"`
	TempDir           string   `toml:"temp_dir"`
}

type ProcessingConfig struct {
	MinDimension   int         `toml:"min_dimension"`
	MaxDimension   int         `toml:"max_dimension"`
	DefaultQuality int         `toml:"default_quality"`
	FlattenColor   string      `toml:"flatten_color"`
	PoolSize       int         `toml:"pool_size"`
	QueueSize      int         `toml:"queue_size"`
	Flatten        color.NRGBA `toml:"-"`
}

// Defaults builds the per-endpoint parameter defaults.
func (p ProcessingConfig) Defaults(removeBackground bool, mode domain.ResizeMode) domain.Defaults {
	return domain.Defaults{
		RemoveBackground: removeBackground,
		Mode:             mode,
		Format:           domain.FormatPNG,
		Quality:          p.DefaultQuality,
		Flatten:          p.Flatten,
		MinDimension:     p.MinDimension,
		MaxDimension:     p.MaxDimension,
	}
}

type RembgConfig struct {
	Backend      string `toml:"backend"`
	DefaultModel string `toml:"default_model"`

	ModelDir    string `toml:"model_dir"`
	ONNXLibPath string `toml:"onnx_lib_path"`

	BriaToken        string        `toml:"bria_api_token"`
	BriaURL          string        `toml:"bria_api_url"`
	BriaPollAttempts int           `toml:"bria_poll_attempts"`
	BriaPollInterval time.Duration `toml:"bria_poll_interval"`

	Command string `toml:"command"`
}

type ToolsConfig struct {
	XnConvertPath string `toml:"xnconvert_path"`
	CascadePath   string `toml:"cascade_path"`
}

type RateLimitConfig struct {
	Enabled  bool          `toml:"enabled"`
	Capacity int           `toml:"capacity"`
	Window   time.Duration `toml:"window"`
}

type TracingConfig struct {
	ServiceName  string `toml:"service_name"`
	Exporter     string `toml:"exporter"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	OTLPInsecure bool   `toml:"otlp_insecure"`
}

type QueueConfig struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	Name          string `toml:"name"`
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int    `toml:"concurrency"`
	MaxActiveJobs int    `toml:"max_active_jobs"`
	MetricsAddr   string `toml:"metrics_addr"`
}

type StorageConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
}

type DatabaseConfig struct {
	DSN string `toml:"dsn"`
}

type WebhookConfig struct {
	SigningSecret  string        `toml:"signing_secret"`
	Timeout        time.Duration `toml:"timeout"`
	MaxAttempts    int           `toml:"max_attempts"`
	InitialBackoff time.Duration `toml:"initial_backoff"`
	MaxBackoff     time.Duration `toml:"max_backoff"`
}

type JanitorConfig struct {
	Schedule string        `toml:"schedule"`
	MaxAge   time.Duration `toml:"max_age"`
}

func defaultConfig() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:           ":5000",
			RequestTimeout: 60 * time.Second,
			PresignTTL:     15 * time.Minute,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"*"},
			SignatureSkew:  900 * time.Second,
		},
		Upload: UploadConfig{
			AllowedExtensions: []string{"png", "jpg", "jpeg"},
			MaxBytes:          25 << 20,
			TempDir:           os.TempDir(),
		},
		Processing: ProcessingConfig{
			MinDimension:   100,
			MaxDimension:   10000,
			DefaultQuality: 90,
			FlattenColor:   "white",
			PoolSize:       4,
			QueueSize:      64,
		},
		Rembg: RembgConfig{
			Backend:          "onnx",
			DefaultModel:     "u2net",
			ModelDir:         "./models",
			BriaURL:          "https://engine.prod.bria-api.com/v1/background/remove",
			BriaPollAttempts: 30,
			BriaPollInterval: time.Second,
		},
		RateLimit: RateLimitConfig{
			Capacity: 60,
			Window:   time.Minute,
		},
		Tracing: TracingConfig{
			ServiceName: "cutout",
			Exporter:    "none",
		},
		Queue: QueueConfig{
			RedisAddr: "localhost:6379",
			Name:      "default",
		},
		Worker: WorkerConfig{
			Concurrency:   max(2, runtime.NumCPU()),
			MaxActiveJobs: defaultWorkerSlots,
			MetricsAddr:   ":9091",
		},
		Storage: StorageConfig{
			Endpoint:  "localhost:9000",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Bucket:    "cutout-jobs",
		},
		Webhook: WebhookConfig{
			Timeout:        10 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		Janitor: JanitorConfig{
			Schedule: "@every 10m",
			MaxAge:   time.Hour,
		},
	}
}

// Load applies defaults, then the optional TOML file named by CONFIG_FILE,
// then environment overrides.
func Load() (Config, error) {
	cfg := defaultConfig()

	if path := env("CONFIG_FILE", ""); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := finalize(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Debug = envBool("DEBUG", cfg.Debug)

	if port := env("PORT", ""); port != "" {
		cfg.API.Addr = ":" + port
	}
	cfg.API.Addr = env("CUTOUT_API_ADDR", cfg.API.Addr)
	cfg.API.RequestTimeout = envDuration("REQUEST_TIMEOUT", cfg.API.RequestTimeout)
	cfg.API.AsyncJobs = envBool("ASYNC_JOBS_ENABLED", cfg.API.AsyncJobs)
	cfg.API.PresignTTL = envDuration("PRESIGN_TTL", cfg.API.PresignTTL)

	cfg.Security.AllowedOrigins = envList("ALLOWED_ORIGINS", cfg.Security.AllowedOrigins)
	cfg.Security.AuthorizedIPs = envList("AUTHORIZED_IPS", cfg.Security.AuthorizedIPs)
	cfg.Security.TrustedProxies = env("TRUSTED_PROXIES", cfg.Security.TrustedProxies)
	cfg.Security.APIKeySecret = env("API_KEY_SECRET", cfg.Security.APIKeySecret)
	cfg.Security.AdminPassword = env("ADMIN_PASSWORD", cfg.Security.AdminPassword)

	cfg.Upload.AllowedExtensions = envList("ALLOWED_EXTENSIONS", cfg.Upload.AllowedExtensions)
	cfg.Upload.MaxBytes = int64(envInt("MAX_UPLOAD_BYTES", int(cfg.Upload.MaxBytes)))
	cfg.Upload.TempDir = env("TEMP_DIR", cfg.Upload.TempDir)

	cfg.Processing.MinDimension = envInt("MIN_DIMENSION", cfg.Processing.MinDimension)
	cfg.Processing.MaxDimension = envInt("MAX_DIMENSION", cfg.Processing.MaxDimension)
	cfg.Processing.DefaultQuality = envInt("DEFAULT_QUALITY", cfg.Processing.DefaultQuality)
	cfg.Processing.FlattenColor = env("FLATTEN_COLOR", cfg.Processing.FlattenColor)
	cfg.Processing.PoolSize = envInt("WORKER_POOL_SIZE", cfg.Processing.PoolSize)
	cfg.Processing.QueueSize = envInt("WORKER_QUEUE_SIZE", cfg.Processing.QueueSize)

	cfg.Rembg.Backend = strings.ToLower(env("REMBG_BACKEND", cfg.Rembg.Backend))
	cfg.Rembg.DefaultModel = env("DEFAULT_MODEL", cfg.Rembg.DefaultModel)
	cfg.Rembg.ModelDir = env("MODEL_DIR", cfg.Rembg.ModelDir)
	cfg.Rembg.ONNXLibPath = env("ONNX_LIB_PATH", cfg.Rembg.ONNXLibPath)
	cfg.Rembg.BriaToken = env("BRIA_API_TOKEN", cfg.Rembg.BriaToken)
	cfg.Rembg.BriaURL = env("BRIA_API_URL", cfg.Rembg.BriaURL)
	cfg.Rembg.BriaPollAttempts = envInt("BRIA_POLL_ATTEMPTS", cfg.Rembg.BriaPollAttempts)
	cfg.Rembg.BriaPollInterval = envDuration("BRIA_POLL_INTERVAL", cfg.Rembg.BriaPollInterval)
	cfg.Rembg.Command = env("REMBG_COMMAND", cfg.Rembg.Command)

	cfg.Tools.XnConvertPath = env("XNCONVERT_PATH", cfg.Tools.XnConvertPath)
	cfg.Tools.CascadePath = env("FACE_CASCADE_PATH", cfg.Tools.CascadePath)

	cfg.RateLimit.Enabled = envBool("RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.Capacity = envInt("RATE_LIMIT_CAPACITY", cfg.RateLimit.Capacity)
	cfg.RateLimit.Window = envDuration("RATE_LIMIT_WINDOW", cfg.RateLimit.Window)

	cfg.Tracing.ServiceName = env("OTEL_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.Exporter = env("OTEL_TRACES_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.OTLPEndpoint = env("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.OTLPEndpoint)
	cfg.Tracing.OTLPInsecure = envBool("OTEL_EXPORTER_OTLP_INSECURE", cfg.Tracing.OTLPInsecure)

	cfg.Queue.RedisAddr = env("REDIS_ADDR", cfg.Queue.RedisAddr)
	cfg.Queue.RedisPassword = env("REDIS_PASSWORD", cfg.Queue.RedisPassword)
	cfg.Queue.RedisDB = envInt("REDIS_DB", cfg.Queue.RedisDB)
	cfg.Queue.Name = env("ASYNC_QUEUE", cfg.Queue.Name)

	cfg.Worker.Concurrency = envInt("WORKER_CONCURRENCY", cfg.Worker.Concurrency)
	cfg.Worker.MaxActiveJobs = envInt("WORKER_MAX_ACTIVE_JOBS", cfg.Worker.MaxActiveJobs)
	cfg.Worker.MetricsAddr = env("WORKER_METRICS_ADDR", cfg.Worker.MetricsAddr)

	cfg.Storage.Endpoint = env("MINIO_ENDPOINT", cfg.Storage.Endpoint)
	cfg.Storage.AccessKey = env("MINIO_ACCESS_KEY", cfg.Storage.AccessKey)
	cfg.Storage.SecretKey = env("MINIO_SECRET_KEY", cfg.Storage.SecretKey)
	cfg.Storage.Bucket = env("MINIO_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.Region = env("MINIO_REGION", cfg.Storage.Region)
	cfg.Storage.UseSSL = envBool("MINIO_USE_SSL", cfg.Storage.UseSSL)

	cfg.Database.DSN = env("POSTGRES_DSN", cfg.Database.DSN)

	cfg.Webhook.SigningSecret = env("WEBHOOK_SIGNING_SECRET", cfg.Webhook.SigningSecret)
	cfg.Webhook.Timeout = envDuration("WEBHOOK_TIMEOUT", cfg.Webhook.Timeout)
	cfg.Webhook.MaxAttempts = envInt("WEBHOOK_MAX_ATTEMPTS", cfg.Webhook.MaxAttempts)
	cfg.Webhook.InitialBackoff = envDuration("WEBHOOK_INITIAL_BACKOFF", cfg.Webhook.InitialBackoff)
	cfg.Webhook.MaxBackoff = envDuration("WEBHOOK_MAX_BACKOFF", cfg.Webhook.MaxBackoff)

	cfg.Janitor.Schedule = env("JANITOR_SCHEDULE", cfg.Janitor.Schedule)
	cfg.Janitor.MaxAge = envDuration("TEMP_MAX_AGE", cfg.Janitor.MaxAge)
}

func finalize(cfg *Config) error {
	p := &cfg.Processing
	if p.MinDimension < 1 || p.MaxDimension < p.MinDimension {
		return fmt.Errorf("invalid dimension bounds min=%d max=%d", p.MinDimension, p.MaxDimension)
	}
	if p.DefaultQuality < 1 || p.DefaultQuality > 100 {
		return fmt.Errorf("default quality must be in 1..100, got %d", p.DefaultQuality)
	}
	p.PoolSize = max(1, p.PoolSize)
	p.QueueSize = max(0, p.QueueSize)

	flatten, err := domain.ParseColor(p.FlattenColor)
	if err != nil {
		return fmt.Errorf("flatten color: %w", err)
	}
	flatten.A = 255
	p.Flatten = flatten

	for i, ext := range cfg.Upload.AllowedExtensions {
		cfg.Upload.AllowedExtensions[i] = strings.TrimPrefix(strings.ToLower(ext), ".")
	}
	if len(cfg.Upload.AllowedExtensions) == 0 {
		return errors.New("at least one allowed extension is required")
	}

	// workers only read jobs from postgres
	if cfg.API.AsyncJobs && strings.TrimSpace(cfg.Database.DSN) == "" {
		return errors.New("ASYNC_JOBS_ENABLED requires POSTGRES_DSN")
	}

	if cfg.Security.AdminPassword != "" {
		hash, err := security.HashPassword(cfg.Security.AdminPassword)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		cfg.Security.AdminPasswordHash = hash
		cfg.Security.AdminPassword = ""
	}
	return nil
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	out := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
