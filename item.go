package mp4bot

import (
	"context"
	"fmt"
	"math"
)

type ItemType string

const (
	ItemTypeSubmission ItemType = "submission"
	ItemTypeComment    ItemType = "comment"
	ItemTypeInbox      ItemType = "inbox"
)

type LocationType string

const (
	LocationSubreddit LocationType = "subreddit"
	LocationUser      LocationType = "user"
	LocationDomain    LocationType = "domain"
)

// SizeUnknown marks a byte size the provider gave no metadata for. It must be
// guarded against explicitly and never compared numerically to a threshold.
const SizeUnknown int64 = -1

// A ResolvedItem is the final outcome of resolving one animated-image link:
// the video-equivalent URL plus the sizes needed for the savings comparison.
// Immutable once created; re-resolution produces a new instance.
type ResolvedItem struct {
	Mp4Link        string `json:"mp4Link"`
	Mp4DisplayLink string `json:"mp4DisplayLink,omitempty"`
	GifSize        int64  `json:"gifSize"`
	Mp4Size        int64  `json:"mp4Size"`
	WebmSize       *int64 `json:"webmSize,omitempty"`
}

// Item is the submission-side context a resolver may need: some providers
// publish the video equivalent only inside item-specific preview metadata
// that is populated asynchronously after item creation.
type Item interface {
	// VideoPreviewURL returns the embedded video preview URL if the upstream
	// has generated it yet.
	VideoPreviewURL() (string, bool)
	// Refresh re-fetches the item's current upstream state.
	Refresh(ctx context.Context) error
}

var byteSizeUnits = []string{"Bytes", "KB", "MB", "GB", "TB", "PB"}

// ReadableFileSize renders a byte count for reply text, or "" for
// SizeUnknown.
func ReadableFileSize(bytes int64) string {
	if bytes < 0 {
		return ""
	}
	size := float64(bytes)
	i := 0
	for size >= 1000 && i < len(byteSizeUnits)-1 {
		i++
		size /= 1024
	}
	return fmt.Sprintf("%s %s", trimTrailingZeros(size), byteSizeUnits[i])
}

// SavingsPercent renders the size saving of video over source as a
// two-decimal percentage with half-up rounding and trailing zeros kept
// ("80.00"). Both sizes must be known.
func SavingsPercent(sourceSize, videoSize int64) string {
	saved := float64(sourceSize-videoSize) / float64(sourceSize) * 100
	return fmt.Sprintf("%.2f", math.Round(saved*100)/100)
}

func trimTrailingZeros(v float64) string {
	s := fmt.Sprintf("%.2f", math.Round(v*100)/100)
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}
