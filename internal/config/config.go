// Package config defines the global configuration structure for the lifeline
// platform. Configuration is loaded once at process initialization (Lambda
// cold start) and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails the process immediately
// on startup.
package config

import (
	"time"

	"lifeline/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Components receive only the
// specific subsets they require.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"lifeline"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain configurations
	Database  DatabaseConfig
	AWS       AWSConfig
	Monitor   MonitorConfig
	Delivery  DeliveryConfig
	Retention RetentionConfig
	SMTP      SMTPConfig
	Redis     RedisConfig

	// Build metadata (injected via ldflags, not env)
	Build BuildInfo
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	// Resolved from SSM or env
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// DeliveryQueueURL is the SQS queue carrying delivery jobs from the
	// scanner to the delivery worker.
	DeliveryQueueURL string `envconfig:"SQS_DELIVERY_QUEUE" validate:"required,url"`

	// ArchiveBucket is cold storage for purged audit rows. Empty disables
	// audit archival (and therefore audit retention).
	ArchiveBucket string `envconfig:"ARCHIVE_BUCKET"`

	// LocalStack support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// MonitorConfig tunes the scheduled scans.
type MonitorConfig struct {
	// ScanBatchSize caps the candidates one scan invocation processes.
	ScanBatchSize int `envconfig:"SCAN_BATCH_SIZE" default:"100" validate:"gt=0"`

	// ReminderThreshold is the fraction of the check-in interval that must
	// have elapsed before a reminder goes out.
	ReminderThreshold float64 `envconfig:"REMINDER_THRESHOLD" default:"0.85" validate:"gte=0.5,lte=0.99"`

	// LockTTL is the time-to-live for job locks, covering the typical
	// Lambda execution duration with margin.
	LockTTL time.Duration `envconfig:"JOB_LOCK_TTL" default:"15m"`
}

// DeliveryConfig tunes the notification dispatcher.
type DeliveryConfig struct {
	// RetryDelay is the SQS re-enqueue delay after a transient failure.
	RetryDelay time.Duration `envconfig:"DELIVERY_RETRY_DELAY" default:"60s"`
}

// RetentionConfig holds the data retention windows enforced by the daily
// cleanup job.
type RetentionConfig struct {
	SoftDelete     time.Duration `envconfig:"RETENTION_SOFT_DELETE" default:"720h"`  // 30 days
	CheckIns       time.Duration `envconfig:"RETENTION_CHECK_INS" default:"2160h"`   // 90 days
	Audit          time.Duration `envconfig:"RETENTION_AUDIT" default:"2160h"`       // 90 days
	JobHistory     time.Duration `envconfig:"RETENTION_JOB_HISTORY" default:"720h"`  // 30 days
	AuditBatchSize int           `envconfig:"RETENTION_AUDIT_BATCH_SIZE" default:"500" validate:"gt=0"`
}

// SMTPConfig holds the outbound mail relay settings.
type SMTPConfig struct {
	Host     string       `envconfig:"SMTP_HOST" validate:"required"`
	Port     int          `envconfig:"SMTP_PORT" default:"587"`
	Username string       `envconfig:"SMTP_USERNAME"`
	Password SecretString `envconfig:"SMTP_PASSWORD"`
	From     string       `envconfig:"SMTP_FROM" default:"no-reply@lifeline.dev" validate:"email"`
}

// RedisConfig holds the reminder dedup cache connection settings.
type RedisConfig struct {
	Addr     string       `envconfig:"REDIS_ADDR" validate:"required"`
	Password SecretString `envconfig:"REDIS_PASSWORD"`
	DB       int          `envconfig:"REDIS_DB" default:"0"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
