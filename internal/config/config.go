// Package config provides configuration loading from environment variables.
package config

import (
	"log/slog"
	"strings"
	"time"

	"datasetclient/pkg/dataset"
)

// ClientConfig holds the Dataset Service connection settings.
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// LoadClientConfig loads client configuration from environment variables.
// DATASET_API_KEY takes precedence over DATASET_API_KEY_FILE.
func LoadClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:   GetEnv("DATASET_BASE_URL", ""),
		APIKey:    GetSecretEnv("DATASET_API_KEY"),
		Timeout:   GetDurationEnv("DATASET_TIMEOUT", dataset.DefaultTimeout),
		UserAgent: GetEnv("DATASET_USER_AGENT", dataset.DefaultUserAgent),
	}
}

// Dataset converts the config into the SDK's constructor settings.
func (c *ClientConfig) Dataset() dataset.Config {
	return dataset.Config{
		BaseURL:   c.BaseURL,
		APIKey:    c.APIKey,
		Timeout:   c.Timeout,
		UserAgent: c.UserAgent,
	}
}

// ExportConfig holds configuration for the dataset-export command.
type ExportConfig struct {
	RequestFile   string
	PollInterval  time.Duration
	WaitTimeout   time.Duration
	Output        string // Directory or s3://bucket/prefix
	SubmitRetries int
	NotifyURL     string // CloudEvent receiver (empty to skip)
	NotifyKey     string // HMAC key for the receiver (empty for unsigned)
	MetricsPort   string // Empty disables the metrics server
	LogLevel      slog.Level
}

// LoadExportConfig loads command configuration from environment variables.
func LoadExportConfig() *ExportConfig {
	return &ExportConfig{
		RequestFile:   GetEnv("EXPORT_REQUEST_FILE", ""),
		PollInterval:  GetDurationEnv("EXPORT_POLL_INTERVAL", dataset.DefaultPollInterval),
		WaitTimeout:   GetDurationEnv("EXPORT_WAIT_TIMEOUT", dataset.DefaultWaitTimeout),
		Output:        GetEnv("EXPORT_OUTPUT", "./exports"),
		SubmitRetries: GetIntEnv("EXPORT_SUBMIT_RETRIES", 3),
		NotifyURL:     GetEnv("EXPORT_NOTIFY_URL", ""),
		NotifyKey:     GetSecretEnv("EXPORT_NOTIFY_KEY"),
		MetricsPort:   GetEnv("METRICS_PORT", ""),
		LogLevel:      parseLevel(GetEnv("LOG_LEVEL", "info")),
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
