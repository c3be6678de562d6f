package resolvers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mp4bot"
	"mp4bot/internal/retry"
)

var errPreviewNotReady = errors.New("no video preview in item metadata yet")

// newRedditPreview resolves i.redd.it gifs through the video preview embedded
// in the submission's own metadata. The preview is generated asynchronously
// after item creation and cannot be guessed from the URL, so absence is
// retried by refetching the item's current state; exhausting the budget
// means "no video location", not a failure.
func newRedditPreview(attempts int, delay time.Duration) mp4bot.Resolver {
	return mp4bot.Resolver{
		Name: "reddit-preview",
		Matches: func(u *mp4bot.CanonicalURL) bool {
			return u.Hostname() == "i.redd.it"
		},
		VideoLink: func(ctx context.Context, u *mp4bot.CanonicalURL, item mp4bot.Item) (*mp4bot.CanonicalURL, error) {
			if item == nil {
				return nil, mp4bot.ErrNoVideoLocation
			}
			first := true
			loc, err := retry.Do(ctx, retry.Config{
				MaxAttempts: attempts,
				Delay:       delay,
				IsRetryable: func(err error) bool {
					return errors.Is(err, errPreviewNotReady)
				},
			}, func(ctx context.Context) (string, error) {
				if !first {
					if err := item.Refresh(ctx); err != nil {
						return "", fmt.Errorf("refreshing item: %w", err)
					}
				}
				first = false
				if preview, ok := item.VideoPreviewURL(); ok {
					return preview, nil
				}
				return "", errPreviewNotReady
			})
			if err != nil {
				if errors.Is(err, retry.ErrAttemptsExhausted) {
					return nil, mp4bot.ErrNoVideoLocation
				}
				return nil, err
			}
			return u.Rewrite(loc)
		},
	}
}
