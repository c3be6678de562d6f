package tracker

import (
	"context"
	"time"
)

// A StatEntry is one flushed counter increment.
type StatEntry struct {
	Timestamp time.Time
	Key       string
	SubKey    string
	Value     int64
}

type Store interface {
	InsertStats(ctx context.Context, stats []StatEntry) error
	InsertRecords(ctx context.Context, records []*Record) error
	Close() error
}

// NopStore discards everything. Used by one-shot commands that have no
// business writing statistics.
type NopStore struct{}

var _ Store = NopStore{}

func (NopStore) InsertStats(context.Context, []StatEntry) error { return nil }
func (NopStore) InsertRecords(context.Context, []*Record) error { return nil }
func (NopStore) Close() error                                   { return nil }
