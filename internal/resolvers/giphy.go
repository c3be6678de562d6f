package resolvers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"mp4bot"
	"mp4bot/internal/probe"
)

// ErrShortlinkExpansionFailed means a short link had no redirect, or
// redirected to the provider's bare homepage, which is how expired/unknown
// short links answer.
var ErrShortlinkExpansionFailed = errors.New("short link expansion failed")

var (
	// Thumbnail CDN subdomains: media0.giphy.com, ephmedia.giphy.com, ...
	giphyMediaSubdomain = regexp.MustCompile(`^(eph)?media[0-9]?$`)
	giphyMediaHost      = regexp.MustCompile(`[a-z0-9]+\.giphy\.com/media`)
	giphyPageHost       = regexp.MustCompile(`(www\.)?giphy\.com/(gifs|embed)`)
	giphyDisplayHost    = regexp.MustCompile(`i\.giphy\.com/(media/)?`)
	giphyDisplayFile    = regexp.MustCompile(`(/giphy)?\.mp4$`)
)

// newGiphy normalizes the three URL shapes giphy serves one asset under: a
// CDN thumbnail variant, an already-direct i.giphy.com link (possibly with a
// video extension), and the human-facing gallery page.
func newGiphy() mp4bot.Resolver {
	return mp4bot.Resolver{
		Name: "giphy",
		Matches: func(u *mp4bot.CanonicalURL) bool {
			return u.RegistrableDomain == "giphy.com"
		},
		DirectLink:  giphyDirectLink,
		VideoLink:   swapToMp4,
		DisplayLink: giphyDisplayLink,
	}
}

func giphyDirectLink(ctx context.Context, u *mp4bot.CanonicalURL) (*mp4bot.CanonicalURL, error) {
	href := u.String()
	switch {
	case giphyMediaSubdomain.MatchString(u.Subdomain) || strings.Contains(href, "i.giphy.com/media/"):
		// https://media2.giphy.com/media/JIX9t2j0ZTN9S/200w.webp
		//   -> https://i.giphy.com/JIX9t2j0ZTN9S.gif
		// The asset host serves the same content under any extension, so
		// dropping the variant filename and forcing .gif is safe.
		href = href[:strings.LastIndex(href, "/")]
		href = giphyMediaHost.ReplaceAllString(href, "i.giphy.com") + ".gif"
	case u.Subdomain == "i":
		// Already a direct link, however not necessarily with the image
		// extension.
		href = strings.TrimSuffix(href, ".webm")
		href = strings.TrimSuffix(href, ".mp4")
		if !strings.HasSuffix(href, ".gif") {
			href += ".gif"
		}
	default:
		// Actual website:
		// https://giphy.com/gifs/cute-dog-1gUn2j2RKcK0yaLKaO/fullscreen
		//   -> https://i.giphy.com/1gUn2j2RKcK0yaLKaO.gif
		href = strings.TrimSuffix(href, "/")
		href = giphyPageHost.ReplaceAllString(href, "i.giphy.com")
		if strings.Count(u.Path, "/") == 3 {
			// An extra path segment is a display-mode modifier such as
			// /fullscreen, /html5 or /tile.
			href = href[:strings.LastIndex(href, "/")]
		}
		if dash := strings.LastIndex(href, "-"); dash > 0 {
			// Everything before the last hyphen in the final segment is a
			// human-readable slug; the identifier follows it.
			href = href[:strings.LastIndex(href, "/")+1] + href[dash+1:]
		}
		href += ".gif"
	}
	return u.Rewrite(href)
}

// giphyDisplayLink turns a direct mp4 link into the human-friendly mirror
// page variant.
func giphyDisplayLink(u *mp4bot.CanonicalURL) *mp4bot.CanonicalURL {
	if u.RegistrableDomain != "giphy.com" {
		return nil
	}
	href := giphyDisplayHost.ReplaceAllString(u.String(), "media.giphy.com/media/")
	href = giphyDisplayFile.ReplaceAllString(href, "/giphy.mp4")
	display, err := u.Rewrite(href)
	if err != nil {
		return nil
	}
	return display
}

// newGiphyShortlink expands gph.is short links via a single redirect lookup.
// The expanded URL is re-resolved by the matching provider afterwards.
func newGiphyShortlink(p *probe.Prober) mp4bot.Resolver {
	return mp4bot.Resolver{
		Name: "giphy-shortlink",
		Matches: func(u *mp4bot.CanonicalURL) bool {
			return u.RegistrableDomain == "gph.is"
		},
		DirectLink: func(ctx context.Context, u *mp4bot.CanonicalURL) (*mp4bot.CanonicalURL, error) {
			loc, err := p.RedirectLocation(ctx, u.String())
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrShortlinkExpansionFailed, err)
			}
			if loc == "http://giphy.com/" || loc == "https://giphy.com/" {
				// Unknown short links redirect to the homepage.
				return nil, fmt.Errorf("%w: redirected to %s", ErrShortlinkExpansionFailed, loc)
			}
			return u.Rewrite(loc)
		},
	}
}
