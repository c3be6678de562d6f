package resolvers

import (
	"context"
	"regexp"

	"mp4bot"
)

var (
	// Size/quality-variant hosts: thumbs.gfycat.com, giant.gfycat.com, ...
	gfycatVariantHost = regexp.MustCompile(`(thumbs|giant|fat|zippy)\.`)
	// Size-modifier filename suffixes on thumbnail assets.
	gfycatVariantFile = regexp.MustCompile(`(-size_restricted|-small|-max-14?mb|-100px)?(\.gif)$`)
)

// newGfycat derives the canonical gfycat page from a thumbnail-variant gif
// URL. The page URL doubles as the video link, and sizes come from the
// provider's metadata API, so the result asset is never probed.
func newGfycat() mp4bot.Resolver {
	return mp4bot.Resolver{
		Name: "gfycat",
		Matches: func(u *mp4bot.CanonicalURL) bool {
			return u.RegistrableDomain == "gfycat.com"
		},
		VideoLink: func(ctx context.Context, u *mp4bot.CanonicalURL, item mp4bot.Item) (*mp4bot.CanonicalURL, error) {
			href := gfycatVariantHost.ReplaceAllString(u.String(), "")
			href = gfycatVariantFile.ReplaceAllString(href, "")
			return u.Rewrite(href)
		},
		TrustedMetadata: true,
	}
}
