package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadMap(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	return load(context.Background(), envconfig.MapLookuper(env))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadMap(t, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "/tmp/media-ingest", cfg.TempDir)
	assert.Equal(t, 4, cfg.MaxConcurrent)
	assert.Equal(t, 2, cfg.UploadMaxRetries)
	assert.Equal(t, 2*time.Second, cfg.UploadRetryDelay)
	assert.Equal(t, 1600, cfg.ImageMaxDimension)
	assert.Equal(t, 80, cfg.ImageQuality)
	assert.Equal(t, "128k", cfg.AudioBitrate)
	assert.Equal(t, time.Minute, cfg.VideoTrimLimit)
	assert.Equal(t, 24*time.Hour, cfg.QuotaWindow)
	assert.Equal(t, 6, cfg.ShowcaseCap)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)

	assert.False(t, cfg.S3Enabled())
	assert.False(t, cfg.MongoEnabled())
	assert.False(t, cfg.RedisEnabled())
	assert.False(t, cfg.KafkaEnabled())
}

func TestLoad_CustomValues(t *testing.T) {
	cfg, err := loadMap(t, map[string]string{
		"PORT":               "3000",
		"TEMP_DIR":           "/custom/temp",
		"MAX_CONCURRENT":     "8",
		"UPLOAD_RETRY_DELAY": "500ms",
		"S3_BUCKET":          "media",
		"S3_REGION":          "eu-west-1",
		"MONGO_URI":          "mongodb://localhost:27017",
		"REDIS_ADDR":         "localhost:6379",
		"KAFKA_BROKERS":      "k1:9092,k2:9092",
		"LOG_FORMAT":         "json",
	})
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "/custom/temp", cfg.TempDir)
	assert.Equal(t, 8, cfg.MaxConcurrent)
	assert.Equal(t, 500*time.Millisecond, cfg.UploadRetryDelay)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)

	assert.True(t, cfg.S3Enabled())
	assert.True(t, cfg.MongoEnabled())
	assert.True(t, cfg.RedisEnabled())
	assert.True(t, cfg.KafkaEnabled())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SHOWCASE_CAP", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 3, cfg.ShowcaseCap)
}

func TestLoad_InvalidValue(t *testing.T) {
	_, err := loadMap(t, map[string]string{"PORT": "not-a-number"})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := loadMap(t, map[string]string{})
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"defaults", func(*Config) {}, nil},
		{"bucket without region", func(c *Config) { c.S3Bucket = "media" }, ErrS3RegionRequired},
		{"mongo without database", func(c *Config) {
			c.MongoURI = "mongodb://x"
			c.MongoDatabase = ""
		}, ErrMongoDatabaseRequired},
		{"kafka without topic", func(c *Config) {
			c.KafkaBrokers = []string{"k:9092"}
			c.KafkaTopic = ""
		}, ErrKafkaTopicRequired},
		{"zero concurrency", func(c *Config) { c.MaxConcurrent = 0 }, ErrInvalidLimit},
		{"negative retries", func(c *Config) { c.UploadMaxRetries = -1 }, ErrInvalidLimit},
		{"quality above range", func(c *Config) { c.ImageQuality = 101 }, ErrInvalidLimit},
		{"empty window", func(c *Config) { c.QuotaWindow = 0 }, ErrInvalidLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfig_String_MasksSecrets(t *testing.T) {
	cfg := &Config{
		Port:               8080,
		MongoURI:           "mongodb://user:hunter2@db:27017",
		RedisPassword:      "redis-secret",
		AWSSecretAccessKey: "aws-secret",
	}

	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, "redis-secret")
	assert.NotContains(t, s, "aws-secret")
	assert.Contains(t, s, "Mongo: ***")
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"INFO":    "INFO",
		"warning": "WARN",
		"error":   "ERROR",
		"bogus":   "INFO",
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in).String(), in)
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		cfg := &Config{LogFormat: strings.ToUpper(format), LogLevel: "debug"}
		logger := cfg.NewLogger()
		require.NotNil(t, logger)
		assert.True(t, logger.Enabled(context.Background(), parseLogLevel("debug")))
	}
}
