package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"

	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mp4bot"
	"mp4bot/async"
	"mp4bot/internal/bot"
	"mp4bot/internal/cache"
	"mp4bot/internal/config"
	"mp4bot/internal/exceptions"
	"mp4bot/internal/ingest"
	"mp4bot/internal/pipeline"
	"mp4bot/internal/probe"
	"mp4bot/internal/reply"
	"mp4bot/internal/resolvers"
	"mp4bot/internal/tracker"
	"mp4bot/internal/transcode"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := &cli.App{
		Name:  "mp4bot",
		Usage: "reply to animated-image links with smaller video equivalents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "load configuration from `FILE`",
			},
		},
		Action: func(c *cli.Context) error {
			return run(ctx, c.String("config"))
		},
		HideHelpCommand: true,
	}

	result := async.Run(func() error { return app.Run(os.Args) })

	select {
	case err := <-result:
		if err != nil {
			log.Fatal(err)
		}
	case <-ctx.Done():
		stop()
		if err := <-result; err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal(err)
		}
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	zap.RedirectStdLog(logger)

	store, err := tracker.NewSQLiteStore(cfg.Storage.TrackingPath)
	if err != nil {
		return err
	}
	exc, err := exceptions.Open(cfg.Storage.ExceptionsPath)
	if err != nil {
		store.Close()
		return err
	}

	var resultCache cache.Cache
	var redisCache *cache.Redis
	if cfg.Cache.RedisURL != "" {
		redisCache, err = cache.NewRedis(ctx, cfg.Cache.RedisURL, cfg.Cache.KeyPrefix)
		if err != nil {
			store.Close()
			exc.Close()
			return err
		}
		resultCache = redisCache
	} else {
		logger.Sugar().Warn("no redis configured, using in-memory result cache")
		resultCache = cache.NewMemory()
	}

	prober := probe.New(probe.Config{
		Timeout:      cfg.Probe.Timeout,
		MaxRedirects: cfg.Probe.MaxRedirects,
		RetryDelay:   cfg.Probe.RetryDelay,
		UserAgent:    mp4bot.UserAgent,
	})
	registry := resolvers.NewRegistry(prober, resolvers.Config{
		PreviewAttempts: cfg.Pipeline.PreviewAttempts,
		PreviewDelay:    cfg.Pipeline.PreviewDelay,
	})
	transcoder := transcode.New(transcode.NewHTTPClient(transcode.HTTPConfig{
		BaseURL:   cfg.Transcode.BaseURL,
		Token:     cfg.Transcode.Token,
		UserAgent: mp4bot.UserAgent,
	}), transcode.Config{
		PollDelay: cfg.Transcode.PollDelay,
		MaxPolls:  cfg.Transcode.MaxPolls,
	})

	trk := tracker.NewTracker(store)
	pipe := pipeline.New(prober, registry, resultCache, transcoder, pipeline.Config{
		GifSizeThreshold: cfg.Pipeline.GifSizeThreshold,
		Mp4ProbeAttempts: cfg.Pipeline.Mp4ProbeAttempts,
		SuccessTTL:       cfg.Pipeline.SuccessTTL,
		FailureTTL:       cfg.Pipeline.FailureTTL,
	})
	renderer := reply.NewRenderer(reply.DefaultTemplates(), mp4bot.Version)
	b := bot.New(bot.Config{
		Username:                cfg.Bot.Username,
		QueueSize:               cfg.Bot.QueueSize,
		DrainTick:               cfg.Bot.DrainTick,
		AllowUpload:             cfg.Bot.AllowUpload,
		Mp4BiggerAllowedDomains: cfg.Bot.Mp4BiggerAllowedDomains,
	}, bot.NewLoggingClient(), pipe, trk, exc, renderer)

	source := ingest.NewJSONLinesSource(os.Stdin)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return b.Run(ctx) })
	group.Go(func() error { return trk.Run(ctx) })
	group.Go(func() error { return source.Start(ctx, b) })
	err = group.Wait()

	var result *multierror.Error
	if err != nil && !errors.Is(err, context.Canceled) {
		result = multierror.Append(result, err)
	}
	if redisCache != nil {
		result = multierror.Append(result, redisCache.Close())
	}
	result = multierror.Append(result, exc.Close(), store.Close())
	return result.ErrorOrNil()
}
