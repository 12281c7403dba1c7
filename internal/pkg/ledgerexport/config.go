package ledgerexport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/StreamPass/internal/pkg/env"
)

// Config holds the S3 target of the daily ledger export
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig loads the export target from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "eu-central-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Prefix:          strings.Trim(env.GetEnv("S3_EXPORT_PREFIX", "ledger"), "/"),
		Enabled:         env.GetEnvBool("S3_EXPORT_ENABLED", false),
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when the ledger export is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when the ledger export is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when the ledger export is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if the export is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// ObjectKey is the object holding the entries of one UTC day.
// Format: ledger/YYYY/MM/DD.jsonl
func (c *Config) ObjectKey(day time.Time) string {
	day = day.UTC()
	prefix := c.Prefix
	if prefix == "" {
		prefix = "ledger"
	}
	return fmt.Sprintf("%s/%04d/%02d/%02d.jsonl", prefix, day.Year(), int(day.Month()), day.Day())
}
