package bot

import (
	"context"
	"strings"

	"mp4bot"
	"mp4bot/internal/exceptions"
	"mp4bot/internal/ingest"
	"mp4bot/internal/pipeline"
	"mp4bot/internal/reply"
	"mp4bot/internal/tracker"
)

const (
	excludeMeCommand        = "exclude me"
	excludeSubredditCommand = "exclude subreddit"
)

// processMessage handles inbox commands and ban notifications.
func (b *Bot) processMessage(ctx context.Context, message *ingest.Message) {
	if b.handleBanNotification(message) {
		return
	}

	body := strings.ToLower(strings.TrimSpace(message.Body))
	switch {
	case strings.HasPrefix(body, excludeSubredditCommand):
		b.handleExcludeSubreddit(ctx, message)
	case strings.HasPrefix(body, excludeMeCommand):
		b.handleExcludeMe(ctx, message)
	case linkPattern.MatchString(message.Body):
		b.handleLinkRequest(ctx, message)
	default:
		b.replyToMessage(ctx, message,
			"Sorry, I couldn't understand that message. "+
				"Send \"exclude me\" to stop me replying to your items, or "+
				"\"exclude subreddit <name>\" (as a moderator) to exclude a subreddit.")
	}
}

// handleLinkRequest resolves links sent via private message and replies
// with the first result. Replies with an apology when every link failed.
func (b *Bot) handleLinkRequest(ctx context.Context, message *ingest.Message) {
	for _, link := range linkPattern.FindAllString(message.Body, -1) {
		canonical, err := mp4bot.ParseCanonicalURL(link)
		if err != nil || !mp4bot.ShouldHandle(canonical) {
			continue
		}
		it := b.tracker.TrackNewGifItem(
			mp4bot.ItemTypeInbox, message.ID, "",
			canonical.RegistrableDomain, canonical.Hostname(), link,
			message.CreatedAt,
		)
		result, err := b.pipeline.Process(ctx, &pipeline.Request{
			URL:         link,
			ItemID:      message.ID,
			Tracker:     it,
			AllowUpload: b.config.AllowUpload,
		})
		if err != nil {
			b.log.Errorw("pipeline failed for message link", "message_id", message.ID, "error", err)
		}
		if err != nil || result == nil {
			b.tracker.EnsureEnded(it)
			continue
		}
		text, err := b.renderer.Render(reply.Data{
			Item:     result.Item,
			Link:     link,
			Uploaded: result.Uploaded,
		})
		if err != nil {
			b.log.Errorw("rendering message reply failed", "message_id", message.ID, "error", err)
			b.tracker.EnsureEnded(it)
			continue
		}
		b.replyToMessage(ctx, message, text)
		_ = it.EndTracking(tracker.StatusSuccess, nil)
		return
	}
	b.replyToMessage(ctx, message, "Sorry, I couldn't process any of the links in your message.")
}

// handleBanNotification detects subreddit ban messages and records the
// subreddit as an exception for the ban's duration. Returns true when the
// message was a ban notification.
func (b *Bot) handleBanNotification(message *ingest.Message) bool {
	if message.Subreddit == "" || !strings.Contains(strings.ToLower(message.Subject), "banned") {
		return false
	}
	duration := ParseBanDuration(message.Body)
	b.log.Infow("banned from subreddit",
		"subreddit", message.Subreddit, "duration", duration)
	if err := b.exceptions.Add(exceptions.Entry{
		Type:     mp4bot.LocationSubreddit,
		Location: message.Subreddit,
		Source:   exceptions.SourceBanDM,
		Reason:   message.Subject,
		Duration: duration,
	}); err != nil {
		b.log.Errorw("recording ban exception failed", "subreddit", message.Subreddit, "error", err)
	}
	return true
}

func (b *Bot) handleExcludeMe(ctx context.Context, message *ingest.Message) {
	source := exceptions.SourceUserDM
	if message.WasComment {
		source = exceptions.SourceUserReply
	}
	if err := b.exceptions.Add(exceptions.Entry{
		Type:     mp4bot.LocationUser,
		Location: message.Author,
		Source:   source,
		Reason:   "requested via inbox",
	}); err != nil {
		b.log.Errorw("recording user exception failed", "user", message.Author, "error", err)
		return
	}
	b.replyToMessage(ctx, message, "Done, I won't reply to your items anymore.")
}

// handleExcludeSubreddit excludes a subreddit on request of one of its
// moderators.
func (b *Bot) handleExcludeSubreddit(ctx context.Context, message *ingest.Message) {
	body := strings.TrimSpace(message.Body)
	fields := strings.Fields(body)
	if len(fields) < 3 {
		b.replyToMessage(ctx, message, "Please name the subreddit: \"exclude subreddit <name>\".")
		return
	}
	subreddit := strings.TrimPrefix(strings.TrimPrefix(fields[2], "/r/"), "r/")

	isMod, err := b.client.IsModerator(ctx, message.Author, subreddit)
	if err != nil {
		b.log.Errorw("moderator check failed", "user", message.Author, "subreddit", subreddit, "error", err)
		b.replyToMessage(ctx, message, "Sorry, I couldn't verify your moderator status right now. Please try again later.")
		return
	}
	if !isMod {
		b.replyToMessage(ctx, message, "Only moderators of a subreddit can exclude it.")
		return
	}
	if err := b.exceptions.Add(exceptions.Entry{
		Type:     mp4bot.LocationSubreddit,
		Location: subreddit,
		Source:   exceptions.SourceUserDM,
		Reason:   "requested by moderator " + message.Author,
	}); err != nil {
		b.log.Errorw("recording subreddit exception failed", "subreddit", subreddit, "error", err)
		return
	}
	b.replyToMessage(ctx, message, "Done, I won't reply in r/"+subreddit+" anymore.")
}

func (b *Bot) replyToMessage(ctx context.Context, message *ingest.Message, text string) {
	if err := b.client.ReplyToMessage(ctx, message.ID, text); err != nil {
		b.log.Warnw("replying to message failed", "message_id", message.ID, "error", err)
	}
}
