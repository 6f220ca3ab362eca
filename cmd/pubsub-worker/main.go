// Command pubsub-worker consumes {pattern, data} envelopes from Cloud Pub/Sub
// and dispatches them to the handlers registered in handlers.go.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coocood/freecache"
	"go.uber.org/zap"

	"github.com/infigaming-com/cloudpubsub-transport/cache"
	"github.com/infigaming-com/cloudpubsub-transport/observability/metrics"
	"github.com/infigaming-com/cloudpubsub-transport/pubsub"
	"github.com/infigaming-com/cloudpubsub-transport/pubsub/driver/google"
	"github.com/infigaming-com/cloudpubsub-transport/util"
	"github.com/infigaming-com/cloudpubsub-transport/web"
)

func main() {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	cfg, err := loadConfig(*envFile)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	lg, syncLogger := util.NewLogger(cfg.ServiceName)
	defer syncLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, lg, cfg); err != nil {
		lg.Error("worker stopped", zap.Error(err))
		syncLogger()
		os.Exit(1)
	}
}

func run(ctx context.Context, lg *zap.Logger, cfg *config) error {
	logger := pubsub.NewZapLogger(lg)

	gcfg := google.Config{
		ProjectID: cfg.ProjectID,
		Endpoint:  cfg.Endpoint,
		UserAgent: cfg.ServiceName,
		Logger:    logger,
	}
	if cfg.CredentialsFile != "" {
		creds, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return err
		}
		gcfg.CredentialsJSON = creds
	}
	broker, err := google.New(ctx, gcfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := broker.Close(closeCtx); err != nil {
			lg.Warn("failed to close broker", zap.Error(err))
		}
	}()

	opts := []pubsub.Option{
		pubsub.WithLogger(logger),
		pubsub.WithEnableLogger(cfg.EnableLogger),
		pubsub.WithDefaultTopic(cfg.DefaultTopic),
		pubsub.WithDefaultSubscription(cfg.DefaultSubscription),
		pubsub.WithAckAfterHandler(cfg.AckAfterHandler),
		pubsub.WithNackDelay(cfg.NackDelay),
		pubsub.WithConcurrency(cfg.Concurrency),
	}

	if cfg.OTLPEndpoint != "" {
		exporter, shutdown, err := metrics.NewMetricExporter(metrics.Config{
			ServiceName:  cfg.ServiceName,
			OTLPEndpoint: cfg.OTLPEndpoint,
		})
		if err != nil {
			return err
		}
		defer shutdown()
		hooks, err := metrics.NewPubSubHooks(exporter.Meter())
		if err != nil {
			return err
		}
		opts = append(opts, pubsub.WithHooks(hooks))
	}

	dedupe, closeDedupe, err := newDedupeCache(lg, cfg)
	if err != nil {
		return err
	}
	defer closeDedupe()
	opts = append(opts, pubsub.WithDeduplication(cache.NewDeduplicator(dedupe, cfg.ServiceName+":handled:"), cfg.DedupeTTL))

	server, err := pubsub.New(broker, registerHandlers(lg), opts...)
	if err != nil {
		return err
	}

	health := web.NewServer(lg, server, web.WithPort(cfg.HTTPPort))
	webErr := make(chan error, 1)
	go func() { webErr <- health.Run(ctx) }()

	server.Listen(ctx, func() {
		lg.Info("pubsub worker ready", zap.Strings("subscriptions", server.Subscriptions()), zap.Strings("patterns", server.Patterns()))
	})

	select {
	case <-ctx.Done():
	case err = <-webErr:
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if cerr := server.Close(closeCtx); cerr != nil {
		lg.Error("failed to close pubsub server", zap.Error(cerr))
	}
	return err
}

// newDedupeCache uses redis when configured so replicas share handled ids,
// and an in-process freecache otherwise.
func newDedupeCache(lg *zap.Logger, cfg *config) (cache.Cache, func(), error) {
	if cfg.DedupeRedisAddr != "" {
		return cache.NewRedisCache(lg, &cache.RedisCacheConfig{Addr: cfg.DedupeRedisAddr})
	}
	return cache.NewFreeCache(freecache.NewCache(16 * 1024 * 1024)), func() {}, nil
}
