package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/codeready-toolchain/studyengine/pkg/adminapi"
	"github.com/codeready-toolchain/studyengine/pkg/agentcontext"
	"github.com/codeready-toolchain/studyengine/pkg/blobstore"
	"github.com/codeready-toolchain/studyengine/pkg/broker"
	"github.com/codeready-toolchain/studyengine/pkg/collaborative"
	appconfig "github.com/codeready-toolchain/studyengine/pkg/config"
	"github.com/codeready-toolchain/studyengine/pkg/comments"
	"github.com/codeready-toolchain/studyengine/pkg/export"
	"github.com/codeready-toolchain/studyengine/pkg/hybrid"
	"github.com/codeready-toolchain/studyengine/pkg/metrics"
	"github.com/codeready-toolchain/studyengine/pkg/pairing"
	"github.com/codeready-toolchain/studyengine/pkg/retention"
	"github.com/codeready-toolchain/studyengine/pkg/statuscache"
	"github.com/codeready-toolchain/studyengine/pkg/store"
	"github.com/codeready-toolchain/studyengine/pkg/storyplugin"
	"github.com/codeready-toolchain/studyengine/pkg/syntheticworker"
	"github.com/go-redis/redis/v8"
)

// shutdownTimeout is the deadline of the context runWithApp passes to Close.
// Close does not wait on in-flight work, so the deadline is not consulted.
const shutdownTimeout = 15 * time.Second

// app bundles every component the serve and worker commands wire together,
// built once from config and torn down in reverse on shutdown.
type app struct {
	cfg appconfig.Config

	store   *store.Client
	redis   *redis.Client
	blobs   *blobstore.Store
	metrics *metrics.Metrics

	broker       *broker.Broker
	statusCache  *statuscache.Cache
	storyReg     *storyplugin.Registry
	agentCtxSvc  *agentcontext.Service
	commentSvc   *comments.Service
	pairingSvc   *pairing.Service
	collabOrch   *collaborative.Orchestrator
	hybridOrch   *hybrid.Orchestrator
	synthWorker  *syntheticworker.Worker
	exportWorker *export.Worker
	sweeper      *retention.Sweeper
}

// buildApp constructs every dependency from cfg, but starts
// no background work; callers decide what to run (serve, worker, or both).
func buildApp(ctx context.Context, cfg appconfig.Config) (*app, error) {
	dbClient, err := store.NewClient(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s3Client, err := newS3Client(ctx, cfg)
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("failed to configure s3 client: %w", err)
	}
	blobs := blobstore.New(s3Client, cfg.S3Bucket)

	storyReg := storyplugin.NewRegistry()
	if err := appconfig.RegisterStoryPlugins(storyReg, cfg.StoryConfigPath); err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("failed to register story plugins: %w", err)
	}

	m := metrics.New()

	b := broker.New(dbClient.Client, cfg.PodID).WithMetrics(m)
	statusCache := statuscache.New(rdb, cfg.StatusCacheTTL)
	agentCtxSvc := agentcontext.New(dbClient.Client)
	commentSvc := comments.New(dbClient.Client)
	pairingSvc := pairing.New(dbClient.Client).WithBroker(b)
	collabOrch := collaborative.New(dbClient.Client, blobs, agentCtxSvc, commentSvc)
	notifier := hybrid.NewPGNotifier(dbClient.DB())
	hybridOrch := hybrid.New(dbClient.Client, commentSvc, notifier, b)
	synthWorker := syntheticworker.New(dbClient.Client, statusCache, storyReg, cfg.APIKeyFor)
	exportWorker := export.New(dbClient.Client, blobs).WithMetrics(m)

	sweeper, err := retention.New(dbClient.Client, cfg.RetentionSchedule)
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("failed to configure retention sweeper: %w", err)
	}

	return &app{
		cfg:          cfg,
		store:        dbClient,
		redis:        rdb,
		blobs:        blobs,
		metrics:      m,
		broker:       b,
		statusCache:  statusCache,
		storyReg:     storyReg,
		agentCtxSvc:  agentCtxSvc,
		commentSvc:   commentSvc,
		pairingSvc:   pairingSvc,
		collabOrch:   collabOrch,
		hybridOrch:   hybridOrch,
		synthWorker:  synthWorker,
		exportWorker: exportWorker,
		sweeper:      sweeper,
	}, nil
}

// Close releases the app's connections. Safe to call once, after all
// background work (broker subscriptions, sweeper) has been stopped.
func (a *app) Close(_ context.Context) error {
	a.sweeper.Stop()
	if err := a.redis.Close(); err != nil {
		slog.Warn("failed to close redis client", "error", err)
	}
	return a.store.Close()
}

// adminServer constructs the admin HTTP server bound to this app's store,
// status cache, and blob store. Built lazily so `worker`-only runs never
// construct it.
func (a *app) adminServer() *adminapi.Server {
	deps := map[string]store.Pinger{
		"redis":     a.statusCache,
		"blobstore": a.blobs,
	}
	return adminapi.New(a.store.Client, a.store.DB(), a.statusCache, deps)
}

func newS3Client(ctx context.Context, cfg appconfig.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = &cfg.S3Endpoint
			o.UsePathStyle = true
		}
	}), nil
}
