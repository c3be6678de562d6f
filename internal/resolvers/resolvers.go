// Package resolvers holds the per-provider URL rewriting rules: direct-link
// normalization across hosting providers and derivation of pre-existing
// video-format equivalents.
package resolvers

import (
	"context"
	"time"

	"mp4bot"
	"mp4bot/generic"
	"mp4bot/internal/probe"
	"mp4bot/util"
)

type Config struct {
	// PreviewAttempts bounds the deferred retries against eventually
	// consistent embedded preview metadata.
	PreviewAttempts int
	// PreviewDelay is the fixed pause between preview refetches.
	PreviewDelay time.Duration
}

const (
	DefaultPreviewAttempts = 10
	DefaultPreviewDelay    = 15 * time.Second
)

// videoSwapHosts serve the video form of an asset under the same URL with
// the extension substituted.
var videoSwapHosts = generic.NewSet(
	"i.giphy.com",
	"i.gyazo.com",
	"media.tumblr.com",
	"i.makeagif.com",
	"j.gifs.com",
)

// NewRegistry builds the default resolver registry in priority order. The
// prober serves the one network lookup the direct-link rules need
// (short-link expansion).
func NewRegistry(p *probe.Prober, config Config) *mp4bot.ResolverRegistry {
	if config.PreviewAttempts <= 0 {
		config.PreviewAttempts = DefaultPreviewAttempts
	}
	if config.PreviewDelay <= 0 {
		config.PreviewDelay = DefaultPreviewDelay
	}
	r := &mp4bot.ResolverRegistry{}
	r.MustAdd(newGiphyShortlink(p).WithPriority(mp4bot.PriorityHighest))
	r.MustAdd(newGiphy())
	r.MustAdd(newGfycat())
	r.MustAdd(newRedditPreview(config.PreviewAttempts, config.PreviewDelay))
	r.MustAdd(newExtensionSwap())
	r.MustAdd(newPassthrough().WithPriority(mp4bot.PriorityLowest))
	return r
}

// newExtensionSwap covers the fixed set of hosts where the video equivalent
// is the same URL with .gif swapped for .mp4.
func newExtensionSwap() mp4bot.Resolver {
	return mp4bot.Resolver{
		Name: "extension-swap",
		Matches: func(u *mp4bot.CanonicalURL) bool {
			return videoSwapHosts.Contains(u.Hostname())
		},
		VideoLink: swapToMp4,
	}
}

// newPassthrough accepts anything: the URL is assumed to already be the
// direct asset link, and with no video rule the caller falls back to the
// transcode upload.
func newPassthrough() mp4bot.Resolver {
	return mp4bot.Resolver{
		Name: "passthrough",
		Matches: func(u *mp4bot.CanonicalURL) bool {
			return true
		},
	}
}

func swapToMp4(ctx context.Context, u *mp4bot.CanonicalURL, item mp4bot.Item) (*mp4bot.CanonicalURL, error) {
	return u.Rewrite(util.SwapExtension(u.String(), ".gif", ".mp4"))
}
