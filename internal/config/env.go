package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom log forwarding configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// PipelineConfig defines per-job processing behavior and limits.
type PipelineConfig struct {
	OutputDir           string
	TempDir             string
	UploadDir           string
	MaxRetries          int
	RetryBaseDelay      time.Duration
	CleanupOnError      bool
	ConfidenceThreshold float64
	MaxFileSizeMB       int
	MaxBatchSize        int
}

// RemoteConfig points at the optional processing acceleration service.
type RemoteConfig struct {
	URL            string
	RequestTimeout time.Duration
	BreakerBase    time.Duration
	BreakerMax     time.Duration
	MaxInflight    int
}

// DetectorConfig locates the local face detection model.
type DetectorConfig struct {
	CascadePath string
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	PollInterval time.Duration
}

// WorkerConfig defines the worker pool.
type WorkerConfig struct {
	Concurrency    int
	MaxJobAttempts int
	RequeueDelay   time.Duration
}

// StorageConfig enables S3 artifact uploads.
type StorageConfig struct {
	S3Bucket string
	Prefix   string
}

// Config is the top-level configuration.
type Config struct {
	Logging  LoggingConfig
	Axiom    AxiomConfig
	Pipeline PipelineConfig
	Remote   RemoteConfig
	Detector DetectorConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Storage  StorageConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/pixelforge.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_pixelforge",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Pipeline = PipelineConfig{
		OutputDir:           getEnv("OUTPUT_DIR", "output"),
		TempDir:             getEnv("TEMP_DIR", os.TempDir()),
		UploadDir:           getEnv("UPLOAD_DIR", "uploads"),
		MaxRetries:          parseInt(getEnv("MAX_RETRIES", "3"), 3),
		RetryBaseDelay:      parseDuration(getEnv("RETRY_BASE_DELAY", "500ms"), 500*time.Millisecond),
		CleanupOnError:      parseBool(getEnv("CLEANUP_ON_ERROR", "true")),
		ConfidenceThreshold: parseFloat(getEnv("DETECTION_CONFIDENCE_THRESHOLD", "0.4"), 0.4),
		MaxFileSizeMB:       parseInt(getEnv("MAX_FILE_SIZE_MB", "50"), 50),
		MaxBatchSize:        parseInt(getEnv("MAX_BATCH_SIZE", "50"), 50),
	}

	cfg.Remote = RemoteConfig{
		URL:            getEnv("REMOTE_SERVICE_URL", ""),
		RequestTimeout: parseDuration(getEnv("REMOTE_REQUEST_TIMEOUT", "60s"), 60*time.Second),
		BreakerBase:    parseDuration(getEnv("BREAKER_BASE_BACKOFF", "30s"), 30*time.Second),
		BreakerMax:     parseDuration(getEnv("BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
		MaxInflight:    parseInt(getEnv("REMOTE_MAX_INFLIGHT", "4"), 4),
	}

	cfg.Detector = DetectorConfig{
		CascadePath: getEnv("FACE_CASCADE_PATH", "models/facefinder"),
	}

	cfg.Queue = QueueConfig{
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:       getEnv("QUEUE_STREAM", "jobs:photo:pipeline"),
		Group:        getEnv("QUEUE_GROUP", "workers:pipeline"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "100ms"), 100*time.Millisecond),
	}

	cfg.Worker = WorkerConfig{
		Concurrency:    parseInt(getEnv("WORKER_CONCURRENCY", "4"), 4),
		MaxJobAttempts: parseInt(getEnv("WORKER_MAX_JOB_ATTEMPTS", "2"), 2),
		RequeueDelay:   parseDuration(getEnv("WORKER_REQUEUE_DELAY", "1m"), time.Minute),
	}

	cfg.Storage = StorageConfig{
		S3Bucket: getEnv("AWS_S3_BUCKET", ""),
		Prefix:   getEnv("AWS_S3_PREFIX", "pixelforge"),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" { return def }
	if n, err := strconv.Atoi(s); err == nil { return n }
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" { return def }
	if f, err := strconv.ParseFloat(s, 64); err == nil { return f }
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" { return def }
	if d, err := time.ParseDuration(s); err == nil { return d }
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" { return "true" }
	return "false"
}
