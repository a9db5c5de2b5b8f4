package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is resolved in three layers: built-in defaults, an optional YAML file
// named by FIELDOPS_CONFIG, then environment variables.
type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	OxiDBHost string `yaml:"oxidb_host"`
	OxiDBPort int    `yaml:"oxidb_port"`
	PoolSize  int    `yaml:"pool_size"`
	GelfAddr  string `yaml:"gelf_addr"`

	Blob      BlobConfig      `yaml:"blob"`
	Sequence  SequenceConfig  `yaml:"sequence"`
	Documents DocumentsConfig `yaml:"documents"`
	Staging   StagingConfig   `yaml:"staging"`
	Upload    UploadConfig    `yaml:"upload"`

	ReceiptSecret string        `yaml:"receipt_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
}

type BlobConfig struct {
	Backend       string `yaml:"backend"` // oxidb | s3
	Bucket        string `yaml:"bucket"`
	S3Region      string `yaml:"s3_region"`
	S3Endpoint    string `yaml:"s3_endpoint"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type SequenceConfig struct {
	Path    string `yaml:"path"`
	Prefix  string `yaml:"prefix"`
	Padding int    `yaml:"padding"`
}

type DocumentsConfig struct {
	Generator  string        `yaml:"generator"` // queue | webhook
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

type StagingConfig struct {
	MaxBytes       int64  `yaml:"max_bytes"`
	MaxEdge        int    `yaml:"max_edge"`
	MinEdge        int    `yaml:"min_edge"`
	Quality        int    `yaml:"quality"`
	MaxAssets      int    `yaml:"max_assets"`
	MaxPerCategory int    `yaml:"max_per_category"`
	PreviewDir     string `yaml:"preview_dir"`
}

type UploadConfig struct {
	Parallelism   int           `yaml:"parallelism"`
	Timeout       time.Duration `yaml:"timeout"`
	RecordTimeout time.Duration `yaml:"record_timeout"`
	DetachTimeout time.Duration `yaml:"detach_timeout"`
	Detach        bool          `yaml:"detach"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:  ":8080",
		OxiDBHost: "127.0.0.1",
		OxiDBPort: 4444,
		PoolSize:  3,
		Blob: BlobConfig{
			Backend:  "oxidb",
			Bucket:   "fieldops_photos",
			S3Region: "eu-west-1",
		},
		Sequence: SequenceConfig{
			Path:    "fieldops-seq.db",
			Prefix:  "WO-",
			Padding: 6,
		},
		Documents: DocumentsConfig{
			Generator: "queue",
			Timeout:   30 * time.Second,
		},
		Staging: StagingConfig{
			MaxBytes:       10 << 20,
			MaxEdge:        1920,
			MinEdge:        240,
			Quality:        80,
			MaxAssets:      45,
			MaxPerCategory: 15,
		},
		Upload: UploadConfig{
			Parallelism:   6,
			Timeout:       60 * time.Second,
			RecordTimeout: 15 * time.Second,
			DetachTimeout: 5 * time.Minute,
			Detach:        true,
		},
		ReceiptSecret: "fieldops-dev-secret-change-me",
		SessionTTL:    12 * time.Hour,
	}
}

// Load resolves the configuration. A broken YAML file is an error; a missing
// FIELDOPS_CONFIG simply skips that layer.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("FIELDOPS_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("FIELDOPS_ADDR", c.HTTPAddr)
	c.OxiDBHost = getEnv("OXIDB_HOST", c.OxiDBHost)
	c.OxiDBPort = getEnvInt("OXIDB_PORT", c.OxiDBPort)
	c.PoolSize = getEnvInt("FIELDOPS_POOL_SIZE", c.PoolSize)
	c.GelfAddr = getEnv("FIELDOPS_GELF_ADDR", c.GelfAddr)

	c.Blob.Backend = getEnv("FIELDOPS_BLOB_BACKEND", c.Blob.Backend)
	c.Blob.Bucket = getEnv("FIELDOPS_BLOB_BUCKET", c.Blob.Bucket)
	c.Blob.S3Region = getEnv("AWS_REGION", c.Blob.S3Region)
	c.Blob.S3Endpoint = getEnv("AWS_ENDPOINT_URL", c.Blob.S3Endpoint)
	c.Blob.PublicBaseURL = getEnv("FIELDOPS_BLOB_PUBLIC_URL", c.Blob.PublicBaseURL)

	c.Sequence.Path = getEnv("FIELDOPS_SEQUENCE_DB", c.Sequence.Path)
	c.Sequence.Prefix = getEnv("FIELDOPS_WORK_ORDER_PREFIX", c.Sequence.Prefix)

	c.Documents.Generator = getEnv("FIELDOPS_DOCGEN", c.Documents.Generator)
	c.Documents.WebhookURL = getEnv("FIELDOPS_DOCGEN_URL", c.Documents.WebhookURL)
	c.Documents.Timeout = getEnvDuration("FIELDOPS_DOCGEN_TIMEOUT", c.Documents.Timeout)

	c.Staging.MaxAssets = getEnvInt("FIELDOPS_MAX_ASSETS", c.Staging.MaxAssets)
	c.Staging.MaxPerCategory = getEnvInt("FIELDOPS_MAX_PER_CATEGORY", c.Staging.MaxPerCategory)
	c.Staging.PreviewDir = getEnv("FIELDOPS_PREVIEW_DIR", c.Staging.PreviewDir)

	c.Upload.Parallelism = getEnvInt("FIELDOPS_UPLOAD_PARALLELISM", c.Upload.Parallelism)
	c.Upload.Timeout = getEnvDuration("FIELDOPS_UPLOAD_TIMEOUT", c.Upload.Timeout)
	c.Upload.DetachTimeout = getEnvDuration("FIELDOPS_DETACH_TIMEOUT", c.Upload.DetachTimeout)
	c.Upload.Detach = getEnvBool("FIELDOPS_DETACH", c.Upload.Detach)

	c.ReceiptSecret = getEnv("FIELDOPS_RECEIPT_SECRET", c.ReceiptSecret)
	c.SessionTTL = getEnvDuration("FIELDOPS_SESSION_TTL", c.SessionTTL)
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Blob.Backend {
	case "oxidb", "s3":
	default:
		return fmt.Errorf("config: unknown blob backend %q", c.Blob.Backend)
	}
	switch c.Documents.Generator {
	case "queue":
	case "webhook":
		if c.Documents.WebhookURL == "" {
			return fmt.Errorf("config: webhook document generator needs FIELDOPS_DOCGEN_URL")
		}
	default:
		return fmt.Errorf("config: unknown document generator %q", c.Documents.Generator)
	}
	if c.Staging.Quality < 1 || c.Staging.Quality > 100 {
		return fmt.Errorf("config: staging quality %d out of range 1..100", c.Staging.Quality)
	}
	if c.Staging.MinEdge > c.Staging.MaxEdge {
		return fmt.Errorf("config: min edge %d exceeds max edge %d", c.Staging.MinEdge, c.Staging.MaxEdge)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
