// Package bootstrap provides dependency initialization for the media ingest API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/maauso/media-ingest/internal/audio"
	"github.com/maauso/media-ingest/internal/config"
	"github.com/maauso/media-ingest/internal/content"
	"github.com/maauso/media-ingest/internal/events"
	"github.com/maauso/media-ingest/internal/media"
	"github.com/maauso/media-ingest/internal/metrics"
	"github.com/maauso/media-ingest/internal/pipeline"
	"github.com/maauso/media-ingest/internal/quota"
	"github.com/maauso/media-ingest/internal/storage"
	"github.com/maauso/media-ingest/internal/transform"
	"github.com/maauso/media-ingest/internal/upload"
)

const (
	connectTimeout    = 10 * time.Second
	recordsCollection = "records"
	streaksCollection = "streaks"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Service *pipeline.Service
	Storage storage.Storage
	Prober  media.Prober
	Metrics http.Handler

	closers []func(context.Context) error
}

// Close releases external clients in reverse order of creation.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}
	fail := func(err error) (*Dependencies, error) {
		_ = deps.Close(context.Background())
		return nil, err
	}

	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return fail(err)
	}
	deps.Storage = store

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observer, err := metrics.New(metrics.DefaultNamespace, registry)
	if err != nil {
		return fail(fmt.Errorf("create metrics: %w", err))
	}
	deps.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	// Initialize metadata store
	records, streaks, err := initRecords(ctx, cfg, logger, deps)
	if err != nil {
		return fail(err)
	}

	// Initialize commit notifications
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.KafkaEnabled() {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		deps.closers = append(deps.closers, func(context.Context) error { return kp.Close() })
		publisher = kp
		logger.Info("kafka publisher configured",
			slog.Any("brokers", cfg.KafkaBrokers),
			slog.String("topic", cfg.KafkaTopic),
		)
	}

	// Initialize quota guard
	guardOpts := []quota.Option{quota.WithLogger(logger)}
	if cfg.RedisEnabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		deps.closers = append(deps.closers, func(context.Context) error { return client.Close() })

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fail(fmt.Errorf("ping redis: %w", err))
		}
		guardOpts = append(guardOpts, quota.WithReserver(quota.NewRedisReserver(client, cfg.RedisPrefix)))
		logger.Info("redis quota reservations configured", slog.String("addr", cfg.RedisAddr))
	}
	guard := quota.NewGuard(records, limits(cfg), guardOpts...)

	// Initialize media processing
	processor := media.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)
	deps.Prober = processor
	transformer := transform.NewTransformer(
		media.NewImagingResizer(),
		audio.NewFFmpegCompressor(processor),
		store.TempDir(),
		transformOptions(cfg),
		logger,
	)

	// Initialize upload executor
	executor := upload.NewExecutor(store,
		upload.WithRetryPolicy(upload.ConstantRetryPolicy(cfg.UploadMaxRetries, cfg.UploadRetryDelay)),
		upload.WithObserver(observer),
		upload.WithLogger(logger),
	)

	committer := content.NewCommitter(records,
		content.WithStreaks(streaks),
		content.WithPublisher(publisher),
		content.WithCommitLogger(logger),
	)

	deps.Service = pipeline.NewService(pipeline.Dependencies{
		Validator:   media.NewValidator(nil),
		Guard:       guard,
		Transformer: transformer,
		Uploader:    executor,
		Committer:   committer,
	},
		pipeline.WithLogger(logger),
		pipeline.WithRemover(store),
		pipeline.WithMaxConcurrent(cfg.MaxConcurrent),
		pipeline.WithMaxRetries(cfg.UploadMaxRetries),
		pipeline.WithObserver(observer),
	)

	return deps, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			PublicBaseURL:   cfg.PublicBaseURL,
			PresignTTL:      cfg.S3PresignTTL,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir, cfg.ObjectDir, cfg.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", localStore.TempDir()),
		slog.String("object_dir", localStore.ObjectDir()),
	)
	return localStore, nil
}

// initRecords connects to MongoDB when configured and falls back to the
// in-memory store otherwise.
func initRecords(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *Dependencies) (content.Repository, content.StreakCounter, error) {
	if !cfg.MongoEnabled() {
		logger.Info("in-memory metadata store configured")
		return content.NewMemoryRepository(), content.NewMemoryStreaks(), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	deps.closers = append(deps.closers, client.Disconnect)

	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.MongoDatabase)
	repo := content.NewMongoRepository(db.Collection(recordsCollection))
	if err := repo.EnsureIndexes(connectCtx); err != nil {
		return nil, nil, fmt.Errorf("ensure indexes: %w", err)
	}

	logger.Info("mongo metadata store configured", slog.String("database", cfg.MongoDatabase))
	return repo, content.NewMongoStreaks(db.Collection(streaksCollection)), nil
}

func limits(cfg *config.Config) quota.Limits {
	return quota.Limits{
		Window: cfg.QuotaWindow,
		PerType: map[content.Type]int{
			content.TypePost:  cfg.QuotaPosts,
			content.TypeTrack: cfg.QuotaTracks,
			content.TypeNote:  cfg.QuotaNotes,
		},
		ShowcaseCap: cfg.ShowcaseCap,
	}
}

func transformOptions(cfg *config.Config) transform.Options {
	opts := transform.DefaultOptions()
	opts.MaxImageDimension = cfg.ImageMaxDimension
	opts.ImageQuality = cfg.ImageQuality
	opts.VideoTrimLimit = cfg.VideoTrimLimit
	if cfg.AudioBitrate != "" {
		opts.Audio.Bitrate = cfg.AudioBitrate
	}
	return opts
}
