package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"mp4bot"
	"mp4bot/internal/cache"
	"mp4bot/internal/pipeline"
	"mp4bot/internal/probe"
	"mp4bot/internal/resolvers"
	"mp4bot/internal/tracker"
	"mp4bot/internal/transcode"
)

// resolve-link resolves one or more links on the command line and prints the
// outcome as JSON, without touching any bot state.
func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	zap.RedirectStdLog(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := &cli.App{
		Name:      "resolve-link",
		Usage:     "resolve animated-image links to their video equivalents",
		ArgsUsage: "URL [URL ...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "upload",
				Usage: "allow transcode uploads when no video equivalent exists",
			},
			&cli.StringFlag{
				Name:  "transcode-token",
				Usage: "conversion service API `TOKEN` (required with --upload)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() == 0 {
				return fmt.Errorf("no URLs given")
			}
			pipe := buildPipeline(c.String("transcode-token"))
			for _, link := range c.Args().Slice() {
				if err := resolve(ctx, pipe, link, c.Bool("upload")); err != nil {
					return err
				}
			}
			return nil
		},
		HideHelpCommand: true,
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Fatal(err.Error())
	}
}

func buildPipeline(token string) *pipeline.Pipeline {
	prober := probe.New(probe.Config{UserAgent: mp4bot.UserAgent})
	registry := resolvers.NewRegistry(prober, resolvers.Config{})
	transcoder := transcode.New(transcode.NewHTTPClient(transcode.HTTPConfig{
		BaseURL:   transcode.DefaultBaseURL,
		Token:     token,
		UserAgent: mp4bot.UserAgent,
	}), transcode.Config{})
	return pipeline.New(prober, registry, cache.NewMemory(), transcoder, pipeline.Config{})
}

func resolve(ctx context.Context, pipe *pipeline.Pipeline, link string, allowUpload bool) error {
	trk := tracker.NewTracker(tracker.NopStore{})
	it := trk.TrackNewGifItem(mp4bot.ItemTypeSubmission, "cli", "", "", "", link, time.Now())

	result, err := pipe.Process(ctx, &pipeline.Request{
		URL:         link,
		ItemID:      "cli",
		ItemLink:    link,
		Tracker:     it,
		AllowUpload: allowUpload,
	})
	if err != nil {
		return err
	}
	if result == nil {
		return fmt.Errorf("could not resolve %s", link)
	}
	_ = it.EndTracking(tracker.StatusSuccess, nil)

	out, err := json.MarshalIndent(result.Item, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
