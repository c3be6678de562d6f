// Package bot ties ingestion, the resolution pipeline, exception handling
// and replying together into the long-running service.
package bot

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mp4bot"
	"mp4bot/generic"
	"mp4bot/internal/exceptions"
	"mp4bot/internal/ingest"
	"mp4bot/internal/pipeline"
	"mp4bot/internal/reply"
	"mp4bot/internal/tracker"
)

const (
	DefaultQueueSize = 1000
	// DefaultDrainTick is the pause between queue drains. Items arrive in
	// bursts from the ingest sources; a short fixed tick decouples intake
	// from processing without busy-waiting.
	DefaultDrainTick = 5 * time.Millisecond
)

type Config struct {
	// Username the bot posts under; its own items are skipped.
	Username  string
	QueueSize int
	DrainTick time.Duration
	// AllowUpload enables the transcode-upload fallback globally.
	AllowUpload bool
	// Mp4BiggerAllowedDomains lists source domains where replying is still
	// worth it when the mp4 turned out bigger than the gif.
	Mp4BiggerAllowedDomains []string
}

type Bot struct {
	config      Config
	client      Client
	pipeline    *pipeline.Pipeline
	tracker     *tracker.Tracker
	exceptions  exceptions.Store
	renderer    *reply.Renderer
	allowBigger generic.Set[string]
	sleep       func(ctx context.Context, d time.Duration)

	submissions chan *ingest.Submission
	comments    chan *ingest.Comment
	messages    chan *ingest.Message

	log *zap.SugaredLogger
}

func New(config Config, client Client, p *pipeline.Pipeline, t *tracker.Tracker, exc exceptions.Store, renderer *reply.Renderer) *Bot {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.DrainTick <= 0 {
		config.DrainTick = DefaultDrainTick
	}
	allowBigger := generic.NewSet[string]()
	for _, domain := range config.Mp4BiggerAllowedDomains {
		allowBigger.Add(domain)
	}
	return &Bot{
		config:      config,
		client:      client,
		pipeline:    p,
		tracker:     t,
		exceptions:  exc,
		renderer:    renderer,
		allowBigger: allowBigger,
		sleep:       sleepCtx,
		submissions: make(chan *ingest.Submission, config.QueueSize),
		comments:    make(chan *ingest.Comment, config.QueueSize),
		messages:    make(chan *ingest.Message, config.QueueSize),
		log:         zap.S().Named("bot"),
	}
}

var _ ingest.Handler = &Bot{}

// HandleSubmission queues a submission, dropping it when the queue is full:
// falling behind on new items beats blocking the ingest source.
func (b *Bot) HandleSubmission(ctx context.Context, submission *ingest.Submission) {
	b.tracker.TrackNewIncomingItem(mp4bot.ItemTypeSubmission)
	select {
	case b.submissions <- submission:
	default:
		b.log.Warnw("submission queue full, dropping item", "item_id", submission.ID)
		b.tracker.Count("dropped", string(mp4bot.ItemTypeSubmission), 1)
	}
}

func (b *Bot) HandleComment(ctx context.Context, comment *ingest.Comment) {
	b.tracker.TrackNewIncomingItem(mp4bot.ItemTypeComment)
	select {
	case b.comments <- comment:
	default:
		b.log.Warnw("comment queue full, dropping item", "item_id", comment.ID)
		b.tracker.Count("dropped", string(mp4bot.ItemTypeComment), 1)
	}
}

func (b *Bot) HandleMessage(ctx context.Context, message *ingest.Message) {
	b.tracker.TrackNewIncomingItem(mp4bot.ItemTypeInbox)
	select {
	case b.messages <- message:
	default:
		b.log.Warnw("message queue full, dropping item", "item_id", message.ID)
		b.tracker.Count("dropped", string(mp4bot.ItemTypeInbox), 1)
	}
}

// Run processes queued items until the context ends. Sources feed the
// queues concurrently through the Handler methods; processing fans out one
// goroutine per item.
func (b *Bot) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		ticker := time.NewTicker(b.config.DrainTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				b.drain(ctx)
			}
		}
	})
	return group.Wait()
}

// drain empties all three queues, spawning one goroutine per item.
func (b *Bot) drain(ctx context.Context) {
	for {
		select {
		case submission := <-b.submissions:
			go b.processSubmission(ctx, submission)
		case comment := <-b.comments:
			go b.processComment(ctx, comment)
		case message := <-b.messages:
			go b.processMessage(ctx, message)
		default:
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
