package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"mp4bot"
	"mp4bot/internal/exceptions"
	"mp4bot/internal/ingest"
	"mp4bot/internal/pipeline"
	"mp4bot/internal/reply"
	"mp4bot/internal/tracker"
)

var linkPattern = regexp.MustCompile(`https?://[a-zA-Z0-9.:\-]+/[^\s)\]]*`)

func (b *Bot) processSubmission(ctx context.Context, submission *ingest.Submission) {
	if submission.Locked || submission.Quarantined {
		return
	}
	if strings.EqualFold(submission.Author, b.config.Username) {
		return
	}
	canonical, err := mp4bot.ParseCanonicalURL(submission.URL)
	if err != nil || !mp4bot.ShouldHandle(canonical) {
		return
	}
	b.processGifLink(ctx, &gifItem{
		itemType:  mp4bot.ItemTypeSubmission,
		id:        submission.ID,
		fullname:  "t3_" + submission.ID,
		subreddit: submission.Subreddit,
		author:    submission.Author,
		permalink: submission.Permalink,
		url:       submission.URL,
		canonical: canonical,
		nsfw:      submission.NSFW,
		createdAt: submission.CreatedAt,
		item:      submission,
	})
}

func (b *Bot) processComment(ctx context.Context, comment *ingest.Comment) {
	if comment.Quarantined {
		return
	}
	if strings.EqualFold(comment.Author, b.config.Username) {
		return
	}
	for _, link := range linkPattern.FindAllString(comment.Body, -1) {
		canonical, err := mp4bot.ParseCanonicalURL(link)
		if err != nil || !mp4bot.ShouldHandle(canonical) {
			continue
		}
		b.processGifLink(ctx, &gifItem{
			itemType:  mp4bot.ItemTypeComment,
			id:        comment.ID,
			fullname:  "t1_" + comment.ID,
			subreddit: comment.Subreddit,
			author:    comment.Author,
			permalink: comment.Permalink,
			url:       link,
			canonical: canonical,
			nsfw:      comment.NSFW,
			createdAt: comment.CreatedAt,
		})
		// One link per comment keeps the bot from spamming link dumps.
		return
	}
}

// gifItem is the per-link unit of work, whatever item type it came from.
type gifItem struct {
	itemType  mp4bot.ItemType
	id        string
	fullname  string
	subreddit string
	author    string
	permalink string
	url       string
	canonical *mp4bot.CanonicalURL
	nsfw      bool
	createdAt time.Time
	// item carries preview metadata for submissions; nil otherwise.
	item mp4bot.Item
}

// processGifLink runs one link through the pipeline and posts the reply.
// Exception items still resolve (keeping the cache warm for other
// subreddits) but never reply or upload.
func (b *Bot) processGifLink(ctx context.Context, item *gifItem) {
	canonical := item.canonical
	it := b.tracker.TrackNewGifItem(
		item.itemType, item.id, item.subreddit,
		canonical.RegistrableDomain, canonical.Hostname(), item.url,
		item.createdAt,
	)
	defer b.tracker.EnsureEnded(it)
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("panic while processing item", "item_id", item.id, "panic", r)
			if !it.Ended() {
				_ = it.EndTracking(tracker.StatusError, &tracker.Update{
					ErrorCode:  tracker.Opt(tracker.ErrorUnknown),
					ErrorExtra: tracker.Opt(fmt.Sprint(r)),
				})
			}
		}
	}()

	exception := b.isException(item, canonical.RegistrableDomain)

	result, err := b.pipeline.Process(ctx, &pipeline.Request{
		URL:         item.url,
		ItemID:      item.id,
		ItemLink:    item.permalink,
		Subreddit:   item.subreddit,
		NSFW:        item.nsfw,
		Item:        item.item,
		Tracker:     it,
		AllowUpload: b.config.AllowUpload && !exception,
	})
	if err != nil {
		b.log.Errorw("pipeline failed", "item_id", item.id, "error", err)
		return
	}
	if result == nil {
		return
	}
	if exception {
		_ = it.EndTracking(tracker.StatusIgnored, nil)
		return
	}
	if b.mp4Bigger(result.Item, canonical.RegistrableDomain) {
		_ = it.EndTracking(tracker.StatusError, &tracker.Update{
			ErrorCode: tracker.Opt(tracker.ErrorMp4BiggerThanGif),
		})
		return
	}

	text, err := b.renderer.Render(reply.Data{
		Item:      result.Item,
		Link:      item.url,
		Subreddit: item.subreddit,
		Uploaded:  result.Uploaded,
	})
	if err != nil {
		b.log.Errorw("rendering reply failed", "item_id", item.id, "error", err)
		_ = it.EndTracking(tracker.StatusError, &tracker.Update{
			ErrorCode:  tracker.Opt(tracker.ErrorReplyFail),
			ErrorExtra: tracker.Opt(err.Error()),
		})
		return
	}
	b.postReply(ctx, item, it, text)
}

func (b *Bot) isException(item *gifItem, domain string) bool {
	checks := []struct {
		kind     mp4bot.LocationType
		location string
	}{
		{mp4bot.LocationSubreddit, item.subreddit},
		{mp4bot.LocationUser, item.author},
		{mp4bot.LocationDomain, domain},
	}
	for _, check := range checks {
		if check.location == "" {
			continue
		}
		found, err := b.exceptions.IsException(check.kind, check.location)
		if err != nil {
			b.log.Warnw("exception lookup failed", "kind", check.kind, "location", check.location, "error", err)
			continue
		}
		if found {
			return true
		}
	}
	return false
}

// mp4Bigger reports whether the mp4 came out larger than the gif on a
// domain where that makes the reply pointless.
func (b *Bot) mp4Bigger(item *mp4bot.ResolvedItem, domain string) bool {
	if item.GifSize == mp4bot.SizeUnknown || item.Mp4Size == mp4bot.SizeUnknown {
		return false
	}
	return item.Mp4Size > item.GifSize && !b.allowBigger.Contains(domain)
}

// postReply posts the comment, waiting out one rate limit. A ban while
// posting adds the subreddit as an exception so the next item skips it.
func (b *Bot) postReply(ctx context.Context, item *gifItem, it *tracker.ItemTracker, text string) {
	err := b.client.Reply(ctx, item.fullname, text)

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		b.log.Infow("rate limited, waiting to retry",
			"item_id", item.id, "retry_after", rateLimitErr.RetryAfter)
		b.sleep(ctx, rateLimitErr.RetryAfter)
		err = b.client.Reply(ctx, item.fullname, text)
	}

	switch {
	case err == nil:
		_ = it.EndTracking(tracker.StatusSuccess, nil)
	case errors.As(err, &rateLimitErr):
		_ = it.EndTracking(tracker.StatusError, &tracker.Update{
			ErrorCode: tracker.Opt(tracker.ErrorReplyRateLimit),
		})
	default:
		var banErr *BanError
		if errors.As(err, &banErr) {
			b.log.Warnw("banned from subreddit", "subreddit", item.subreddit)
			if addErr := b.exceptions.Add(exceptions.Entry{
				Type:     mp4bot.LocationSubreddit,
				Location: item.subreddit,
				Source:   exceptions.SourceBanError,
				Reason:   "reply rejected with a ban error",
			}); addErr != nil {
				b.log.Errorw("recording ban exception failed", "subreddit", item.subreddit, "error", addErr)
			}
			_ = it.EndTracking(tracker.StatusError, &tracker.Update{
				ErrorCode: tracker.Opt(tracker.ErrorReplyBan),
			})
			return
		}
		_ = it.EndTracking(tracker.StatusError, &tracker.Update{
			ErrorCode:  tracker.Opt(tracker.ErrorReplyFail),
			ErrorExtra: tracker.Opt(err.Error()),
		})
	}
}
