// Package cache stores final resolution outcomes keyed by the exact
// canonicalized source URL. Entries are a tagged union of a resolved item or
// a known-failure sentinel, so a cached failure can never be confused with a
// cache miss or parsed as a payload.
package cache

import (
	"context"
	"time"

	"mp4bot"
)

const (
	DefaultSuccessTTL = 30 * 24 * time.Hour
	// Failures expire sooner so permanently-broken links are not re-probed
	// on every ingestion cycle, while still recovering once upstream fixes
	// itself.
	DefaultFailureTTL = 7 * 24 * time.Hour
)

// An Entry is either a resolved item or the known-failure sentinel.
type Entry struct {
	Item    *mp4bot.ResolvedItem `json:"item,omitempty"`
	Failure bool                 `json:"failure,omitempty"`
}

func Success(item *mp4bot.ResolvedItem) *Entry {
	return &Entry{Item: item}
}

func KnownFailure() *Entry {
	return &Entry{Failure: true}
}

func (e *Entry) IsFailure() bool {
	return e != nil && e.Failure
}

// Cache is the result store. Get returns (nil, nil) on a miss; a cached
// failure is a non-nil Entry with IsFailure() true. Put overwrites, never
// merges.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
}
