package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds the environment driven configuration for the visual service.
type Config struct {
	// Service Configuration
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"visual-api"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort        int           `env:"VISUAL_API_PORT" envDefault:"8290"`
	LogLevel        string        `env:"VISUAL_LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"VISUAL_LOG_FORMAT" envDefault:"console"` // Options: "console" or "json"
	EnableTracing   bool          `env:"ENABLE_TRACING" envDefault:"false"`
	OTLPEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	TraceSampleRate float64       `env:"OTEL_TRACES_SAMPLE_RATE" envDefault:"1"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Database
	RepositoryBackend    string        `env:"REPOSITORY_BACKEND" envDefault:"postgres"` // Options: "postgres" or "memory"
	DBPostgresqlWriteDSN string        `env:"DB_POSTGRESQL_WRITE_DSN"`
	DBMaxIdleConns       int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBMaxOpenConns       int           `env:"DB_MAX_OPEN_CONNS" envDefault:"15"`
	DBConnLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	AutoMigrate          bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`

	// Image default backend selection
	ImageDefaultBackend string `env:"IMAGE_DEFAULT_BACKEND" envDefault:"azure"` // Options: "azure" or "s3"

	// Azure Blob Storage
	AzureAccountName          string        `env:"AZURE_STORAGE_ACCOUNT"`
	AzureAccountKey           string        `env:"AZURE_STORAGE_KEY"`
	AzureBlobEndpoint         string        `env:"AZURE_BLOB_ENDPOINT"` // Defaults to https://{account}.blob.core.windows.net
	AzureImageContainer       string        `env:"AZURE_IMAGE_CONTAINER" envDefault:"images"`
	AzureStreamingContainer   string        `env:"AZURE_STREAMING_CONTAINER" envDefault:"streaming"`
	AzureLegacyImageContainer string        `env:"AZURE_LEGACY_IMAGE_CONTAINER"` // Optional
	AzureSASTTL               time.Duration `env:"AZURE_SAS_TTL" envDefault:"1h"`
	AzureSASCacheSize         int           `env:"AZURE_SAS_CACHE_SIZE" envDefault:"1024"`

	// S3 Storage
	S3Endpoint     string        `env:"VISUAL_S3_ENDPOINT" envDefault:"https://s3.menlo.ai"`
	S3Region       string        `env:"VISUAL_S3_REGION" envDefault:"us-west-2"`
	S3Bucket       string        `env:"VISUAL_S3_BUCKET"`
	S3AccessKeyID  string        `env:"VISUAL_S3_ACCESS_KEY_ID"`
	S3SecretKey    string        `env:"VISUAL_S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle bool          `env:"VISUAL_S3_USE_PATH_STYLE" envDefault:"true"`
	S3PresignTTL   time.Duration `env:"VISUAL_S3_PRESIGN_TTL" envDefault:"1h"`

	// Video v2 storage (MinIO)
	VideoMinioEndpoint  string `env:"VIDEO_MINIO_ENDPOINT" envDefault:"localhost:9000"`
	VideoMinioAccessKey string `env:"VIDEO_MINIO_ACCESS_KEY"`
	VideoMinioSecretKey string `env:"VIDEO_MINIO_SECRET_KEY"`
	VideoMinioBucket    string `env:"VIDEO_MINIO_BUCKET" envDefault:"videos"`
	VideoMinioUseSSL    bool   `env:"VIDEO_MINIO_USE_SSL" envDefault:"false"`

	// Legacy video storage (filesystem share)
	LegacyVideoPath    string `env:"LEGACY_VIDEO_PATH"`
	LegacyVideoBaseURL string `env:"LEGACY_VIDEO_BASE_URL"`

	// Transcoding engine
	TranscoderURL         string        `env:"TRANSCODER_URL" envDefault:"http://localhost:8095"`
	TranscoderAPIKey      string        `env:"TRANSCODER_API_KEY"`
	TranscoderTimeout     time.Duration `env:"TRANSCODER_HTTP_TIMEOUT" envDefault:"30s"`
	TranscodePollInterval time.Duration `env:"TRANSCODE_POLL_INTERVAL" envDefault:"5s"`
	TranscodeWarnAfter    time.Duration `env:"TRANSCODE_WARN_AFTER" envDefault:"5m"`
	TranscodeMaxWait      time.Duration `env:"TRANSCODE_MAX_WAIT" envDefault:"20m"`
	ScreenshotRetryDelay  time.Duration `env:"SCREENSHOT_RETRY_DELAY" envDefault:"5s"`

	// Notifications
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_VISUAL_TOPIC" envDefault:"visual.events"`

	// Background worker pool
	WorkerCount     int           `env:"VISUAL_WORKER_COUNT" envDefault:"4"`
	WorkerQueueSize int           `env:"VISUAL_WORKER_QUEUE_SIZE" envDefault:"256"`
	WorkerTimeout   time.Duration `env:"VISUAL_WORKER_TASK_TIMEOUT" envDefault:"30m"`

	// Stale job sweep
	SweepEnabled  bool   `env:"STALE_SWEEP_ENABLED" envDefault:"true"`
	SweepSchedule string `env:"STALE_SWEEP_SCHEDULE" envDefault:"* * * * *"`
	SweepLimit    int    `env:"STALE_SWEEP_LIMIT" envDefault:"50"`

	// Delivery
	ProxyBaseURL     string        `env:"VISUAL_PROXY_BASE_URL" envDefault:"http://localhost:8290"`
	HLSAllowedOrigin string        `env:"HLS_ALLOWED_ORIGIN"` // Empty allows any upstream
	StreamingTimeout time.Duration `env:"STREAMING_FETCH_TIMEOUT" envDefault:"60s"`

	// Uploads
	MaxUploadBytes int64  `env:"VISUAL_MAX_UPLOAD_BYTES" envDefault:"524288000"`
	UploadTempDir  string `env:"VISUAL_UPLOAD_TEMP_DIR"`
}

// Load parses environment variables into Config. .env files in the working directory and its
// parent are loaded first and never override variables already set.
func Load() (*Config, error) {
	loadEnvFiles()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles() {
	for _, candidate := range []string{".env", filepath.Join("..", ".env")} {
		if _, err := os.Stat(candidate); err == nil {
			_ = godotenv.Load(candidate)
		}
	}
}

func (c *Config) normalize() error {
	c.RepositoryBackend = strings.ToLower(strings.TrimSpace(c.RepositoryBackend))
	c.ImageDefaultBackend = strings.ToLower(strings.TrimSpace(c.ImageDefaultBackend))
	c.AzureAccountName = strings.TrimSpace(c.AzureAccountName)
	c.AzureAccountKey = strings.TrimSpace(c.AzureAccountKey)
	c.S3Bucket = strings.TrimSpace(c.S3Bucket)
	c.S3AccessKeyID = strings.TrimSpace(c.S3AccessKeyID)
	c.S3SecretKey = strings.TrimSpace(c.S3SecretKey)
	c.ProxyBaseURL = strings.TrimSuffix(strings.TrimSpace(c.ProxyBaseURL), "/")
	c.HLSAllowedOrigin = strings.TrimSpace(c.HLSAllowedOrigin)
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))

	if c.LogFormat != "json" {
		c.LogFormat = "console"
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLE_RATE must be between 0 and 1, got %v", c.TraceSampleRate)
	}

	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 500 * 1024 * 1024
	}
	if c.UploadTempDir == "" {
		c.UploadTempDir = os.TempDir()
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 1
	}

	switch c.RepositoryBackend {
	case "postgres":
		if c.DBPostgresqlWriteDSN == "" {
			return fmt.Errorf("DB_POSTGRESQL_WRITE_DSN is required when REPOSITORY_BACKEND is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported REPOSITORY_BACKEND %q", c.RepositoryBackend)
	}

	switch c.ImageDefaultBackend {
	case "azure":
		if c.AzureAccountName == "" || c.AzureAccountKey == "" {
			return fmt.Errorf("AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY are required when IMAGE_DEFAULT_BACKEND is azure")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("VISUAL_S3_BUCKET is required when IMAGE_DEFAULT_BACKEND is s3")
		}
	default:
		return fmt.Errorf("unsupported IMAGE_DEFAULT_BACKEND %q", c.ImageDefaultBackend)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// IsMemoryRepository returns true when repositories are kept in process memory.
func (c *Config) IsMemoryRepository() bool {
	return c.RepositoryBackend == "memory"
}

// AzureEnabled returns true when Azure credentials are configured.
func (c *Config) AzureEnabled() bool {
	return c.AzureAccountName != "" && c.AzureAccountKey != ""
}

// S3Enabled returns true when an S3 bucket is configured.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != ""
}

// AzureEndpoint returns the blob service URL for the configured account.
func (c *Config) AzureEndpoint() string {
	if c.AzureBlobEndpoint != "" {
		return strings.TrimSuffix(c.AzureBlobEndpoint, "/")
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net", c.AzureAccountName)
}
