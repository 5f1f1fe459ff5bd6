// Package config provides configuration loading for the ingestion service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds ingestion service configuration.
type Config struct {
	// Pipeline settings
	PipelineName        string
	RawDir              string
	MaxRetries          int
	BaseBackoff         time.Duration
	ConfidenceThreshold float64
	CronSpec            string

	// Warehouse settings
	DatabaseURL string

	// Object store settings
	Bucket           string
	ValidPrefix      string
	QuarantinePrefix string
	DataRoot         string
	MinioEndpoint    string
	MinioAccessKey   string
	MinioSecretKey   string
	MinioUseSSL      bool

	// Retention settings
	RunRetentionDays int
}

// Load reads configuration from environment.
func Load() *Config {
	return &Config{
		PipelineName:        getEnv("INGEST_PIPELINE_NAME", "batch_ingestion"),
		RawDir:              getEnv("INGEST_RAW_DIR", "./data/raw"),
		MaxRetries:          getEnvInt("INGEST_MAX_RETRIES", 3),
		BaseBackoff:         time.Duration(getEnvInt("INGEST_BASE_BACKOFF_MS", 1000)) * time.Millisecond,
		ConfidenceThreshold: getEnvFloat("INGEST_CONFIDENCE_THRESHOLD", 0.75),
		CronSpec:            getEnv("INGEST_CRON_SPEC", "0 */6 * * *"),
		DatabaseURL:         getEnv("INGEST_DATABASE_URL", ""),
		Bucket:              getEnv("INGEST_BUCKET", "retail-lake"),
		ValidPrefix:         getEnv("INGEST_VALID_PREFIX", "valid"),
		QuarantinePrefix:    getEnv("INGEST_QUARANTINE_PREFIX", "quarantine"),
		DataRoot:            getEnv("INGEST_DATA_ROOT", ""),
		MinioEndpoint:       getEnv("INGEST_MINIO_ENDPOINT", ""),
		MinioAccessKey:      getEnv("INGEST_MINIO_ACCESS_KEY", ""),
		MinioSecretKey:      getEnv("INGEST_MINIO_SECRET_KEY", ""),
		MinioUseSSL:         getEnvBool("INGEST_MINIO_USE_SSL", false),
		RunRetentionDays:    getEnvInt("INGEST_RUN_RETENTION_DAYS", 90),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
