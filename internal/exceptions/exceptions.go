// Package exceptions is the allow/deny store: subreddits, users and domains
// the bot must not reply to.
package exceptions

import (
	"strings"
	"time"

	"mp4bot"
)

// Source records how an exception came to exist.
type Source string

const (
	SourceBanDM     Source = "ban-dm"
	SourceBanError  Source = "ban-error"
	SourceUserDM    Source = "user-dm"
	SourceUserReply Source = "user-reply"
	SourceManual    Source = "manual"
	SourceUnknown   Source = "unknown"
)

type Entry struct {
	Type     mp4bot.LocationType `json:"type"`
	Location string              `json:"location"`
	Source   Source              `json:"source"`
	Reason   string              `json:"reason,omitempty"`
	// Duration of 0 means permanent. Expired entries are treated as absent.
	Duration  time.Duration `json:"duration,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

func (e *Entry) expired(now time.Time) bool {
	return e.Duration > 0 && now.After(e.CreatedAt.Add(e.Duration))
}

// Store is the exception predicate plus its maintenance operations.
type Store interface {
	IsException(kind mp4bot.LocationType, location string) (bool, error)
	Add(entry Entry) error
	Remove(kind mp4bot.LocationType, location string) error
	List() ([]Entry, error)
	Close() error
}

func entryKey(kind mp4bot.LocationType, location string) []byte {
	return []byte(string(kind) + "-" + strings.ToLower(location))
}
