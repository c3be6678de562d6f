package bot

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Client is the platform surface the bot needs. Implementations translate
// platform-specific failures into the typed errors below so the bot can
// react correctly.
type Client interface {
	// Reply posts a comment under the given fullname.
	Reply(ctx context.Context, parentFullname string, text string) error
	// ReplyToMessage answers a private message.
	ReplyToMessage(ctx context.Context, messageID string, text string) error
	// IsModerator reports whether user moderates subreddit.
	IsModerator(ctx context.Context, user, subreddit string) (bool, error)
}

// BanError means the bot is banned from the subreddit it tried to post in.
type BanError struct {
	Subreddit string
}

func (e *BanError) Error() string {
	return fmt.Sprintf("banned from posting in %s", e.Subreddit)
}

// RateLimitError carries how long the platform asked us to wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

var rateLimitPattern = regexp.MustCompile(`(?i)try again in (\d+) (minutes?|seconds?)`)

// ParseRateLimit extracts the wait from a rate-limit error message like
// "you are doing that too much. try again in 7 minutes.". Client
// implementations use it to build RateLimitError values.
func ParseRateLimit(message string) (time.Duration, bool) {
	m := rateLimitPattern.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	unit := time.Second
	if m[2] == "minute" || m[2] == "minutes" {
		unit = time.Minute
	}
	return time.Duration(n) * unit, true
}

var banDurationPattern = regexp.MustCompile(`(?i)for (\d+) days?`)

// ParseBanDuration extracts a temporary ban length from a ban notification
// body. Returns 0 (permanent) when no duration is mentioned.
func ParseBanDuration(body string) time.Duration {
	m := banDurationPattern.FindStringSubmatch(body)
	if m == nil {
		return 0
	}
	days, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}
