// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
	// ErrMongoDatabaseRequired is returned when MONGO_URI is set without MONGO_DATABASE.
	ErrMongoDatabaseRequired = errors.New("config: MONGO_DATABASE is required when MONGO_URI is set")
	// ErrKafkaTopicRequired is returned when KAFKA_BROKERS is set without KAFKA_TOPIC.
	ErrKafkaTopicRequired = errors.New("config: KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	// ErrInvalidLimit is returned when a numeric limit is out of range.
	ErrInvalidLimit = errors.New("config: invalid limit")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`
	MaxUploadBytes int64    `env:"MAX_UPLOAD_BYTES, default=268435456" json:"max_upload_bytes"`

	// Local storage settings
	TempDir       string `env:"TEMP_DIR, default=/tmp/media-ingest" json:"temp_dir"`
	ObjectDir     string `env:"OBJECT_DIR" json:"object_dir,omitempty"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" json:"public_base_url,omitempty"`

	// Pipeline settings
	MaxConcurrent    int           `env:"MAX_CONCURRENT, default=4" json:"max_concurrent"`
	UploadMaxRetries int           `env:"UPLOAD_MAX_RETRIES, default=2" json:"upload_max_retries"`
	UploadRetryDelay time.Duration `env:"UPLOAD_RETRY_DELAY, default=2s" json:"upload_retry_delay"`

	// Transformation settings
	ImageMaxDimension int           `env:"IMAGE_MAX_DIMENSION, default=1600" json:"image_max_dimension"`
	ImageQuality      int           `env:"IMAGE_QUALITY, default=80" json:"image_quality"`
	AudioBitrate      string        `env:"AUDIO_BITRATE, default=128k" json:"audio_bitrate"`
	VideoTrimLimit    time.Duration `env:"VIDEO_TRIM_LIMIT, default=60s" json:"video_trim_limit"`
	FFmpegPath        string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath       string        `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Quota settings
	QuotaWindow time.Duration `env:"QUOTA_WINDOW, default=24h" json:"quota_window"`
	QuotaPosts  int           `env:"QUOTA_POSTS, default=20" json:"quota_posts"`
	QuotaTracks int           `env:"QUOTA_TRACKS, default=3" json:"quota_tracks"`
	QuotaNotes  int           `env:"QUOTA_NOTES, default=50" json:"quota_notes"`
	ShowcaseCap int           `env:"SHOWCASE_CAP, default=6" json:"showcase_cap"`

	// Optional S3 settings
	S3Bucket           string        `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string        `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string        `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3PresignTTL       time.Duration `env:"S3_PRESIGN_TTL" json:"s3_presign_ttl,omitempty"`
	AWSAccessKeyID     string        `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string        `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Optional MongoDB settings
	MongoURI      string `env:"MONGO_URI" json:"-"` // May carry credentials
	MongoDatabase string `env:"MONGO_DATABASE, default=media_ingest" json:"mongo_database"`

	// Optional Redis settings
	RedisAddr     string `env:"REDIS_ADDR" json:"redis_addr,omitempty"`
	RedisPassword string `env:"REDIS_PASSWORD" json:"-"` // Masked in JSON
	RedisDB       int    `env:"REDIS_DB, default=0" json:"redis_db"`
	RedisPrefix   string `env:"REDIS_PREFIX, default=quota" json:"redis_prefix"`

	// Optional Kafka settings
	KafkaBrokers []string `env:"KAFKA_BROKERS" json:"kafka_brokers,omitempty"`
	KafkaTopic   string   `env:"KAFKA_TOPIC, default=content.committed" json:"kafka_topic"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// MongoEnabled returns true if records are kept in MongoDB.
func (c *Config) MongoEnabled() bool {
	return c.MongoURI != ""
}

// RedisEnabled returns true if quota reservations are claimed in Redis.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// KafkaEnabled returns true if commit notifications are published to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return load(context.Background(), nil)
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that optional integrations are configured consistently.
func (c *Config) Validate() error {
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	if c.MongoEnabled() && c.MongoDatabase == "" {
		return ErrMongoDatabaseRequired
	}
	if c.KafkaEnabled() && c.KafkaTopic == "" {
		return ErrKafkaTopicRequired
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("%w: MAX_CONCURRENT must be at least 1", ErrInvalidLimit)
	}
	if c.UploadMaxRetries < 0 {
		return fmt.Errorf("%w: UPLOAD_MAX_RETRIES must not be negative", ErrInvalidLimit)
	}
	if c.ImageQuality < 1 || c.ImageQuality > 100 {
		return fmt.Errorf("%w: IMAGE_QUALITY must be between 1 and 100", ErrInvalidLimit)
	}
	if c.QuotaWindow <= 0 {
		return fmt.Errorf("%w: QUOTA_WINDOW must be positive", ErrInvalidLimit)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, MaxConcurrent: %d, UploadMaxRetries: %d, S3Bucket: %s, S3Region: %s, Mongo: %s, Redis: %s, KafkaBrokers: %v, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.MaxConcurrent,
		c.UploadMaxRetries,
		c.S3Bucket,
		c.S3Region,
		mask(c.MongoURI),
		c.RedisAddr,
		c.KafkaBrokers,
		c.LogFormat,
		c.LogLevel,
	)
}

// mask hides a secret while showing whether it is set.
func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
