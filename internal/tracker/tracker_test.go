package tracker

import (
	"context"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"

	"mp4bot"
)

type fakeStore struct {
	stats   []StatEntry
	records []*Record
}

func (s *fakeStore) InsertStats(ctx context.Context, stats []StatEntry) error {
	s.stats = append(s.stats, stats...)
	return nil
}

func (s *fakeStore) InsertRecords(ctx context.Context, records []*Record) error {
	s.records = append(s.records, records...)
	return nil
}

func (s *fakeStore) Close() error { return nil }

func newTestTracker() (*Tracker, *fakeStore) {
	store := &fakeStore{}
	return NewTracker(store), store
}

func newTestItem(tr *Tracker) *ItemTracker {
	return tr.TrackNewGifItem(
		mp4bot.ItemTypeSubmission, "abc123", "funny",
		"giphy.com", "i.giphy.com", "https://i.giphy.com/x.gif",
		time.Now(),
	)
}

func TestItemTracker_UpdateDataWriteOnce(t *testing.T) {
	assert := assert_.New(t)

	tr, _ := newTestTracker()
	it := newTestItem(tr)

	assert.NoError(it.UpdateData(Update{GifSize: Opt[int64](5_000_000)}))
	err := it.UpdateData(Update{GifSize: Opt[int64](6_000_000)})
	assert.ErrorIs(err, ErrDuplicateField)
	assert.ErrorContains(err, "gifSize")

	// Other fields are still settable after a duplicate attempt.
	assert.NoError(it.UpdateData(Update{Mp4Size: Opt[int64](1_000_000)}))
}

func TestItemTracker_EndTrackingOnce(t *testing.T) {
	assert := assert_.New(t)

	tr, store := newTestTracker()
	it := newTestItem(tr)

	assert.False(it.Ended())
	assert.NoError(it.EndTracking(StatusSuccess, nil))
	assert.True(it.Ended())
	assert.ErrorIs(it.EndTracking(StatusSuccess, nil), ErrAlreadyEnded)
	assert.ErrorIs(it.Abort(), ErrAlreadyEnded)

	assert.NoError(tr.Flush(context.Background()))
	assert.Len(store.records, 1)
	assert.Equal(StatusSuccess, store.records[0].Status)
}

func TestItemTracker_AbortDiscardsRecord(t *testing.T) {
	assert := assert_.New(t)

	tr, store := newTestTracker()
	it := newTestItem(tr)

	assert.NoError(it.Abort())
	assert.True(it.Ended())
	assert.NoError(tr.Flush(context.Background()))
	assert.Empty(store.records)
}

func TestTracker_EnsureEnded(t *testing.T) {
	assert := assert_.New(t)

	tr, store := newTestTracker()
	it := newTestItem(tr)

	tr.EnsureEnded(it)
	assert.True(it.Ended())
	assert.NoError(tr.Flush(context.Background()))
	assert.Len(store.records, 1)
	assert.Equal(StatusError, store.records[0].Status)
	assert.Equal(ErrorTrackerNotEnded, *store.records[0].ErrorCode)

	// Already-ended trackers are left alone.
	tr.EnsureEnded(it)
}

func TestTracker_FlushCounters(t *testing.T) {
	assert := assert_.New(t)
	ctx := context.Background()

	tr, store := newTestTracker()
	tr.TrackNewIncomingItem(mp4bot.ItemTypeSubmission)
	tr.TrackNewIncomingItem(mp4bot.ItemTypeSubmission)
	tr.TrackNewIncomingItem(mp4bot.ItemTypeComment)

	assert.NoError(tr.Flush(ctx))
	counts := map[string]int64{}
	for _, stat := range store.stats {
		counts[stat.Key+"/"+stat.SubKey] = stat.Value
	}
	assert.Equal(int64(2), counts["items/submission"])
	assert.Equal(int64(1), counts["items/comment"])

	// A flush clears the batch; flushing again writes nothing new.
	before := len(store.stats)
	assert.NoError(tr.Flush(ctx))
	assert.Len(store.stats, before)
}

func TestTracker_ErrorCodeCounted(t *testing.T) {
	assert := assert_.New(t)

	tr, store := newTestTracker()
	it := newTestItem(tr)
	assert.NoError(it.EndTracking(StatusError, &Update{ErrorCode: Opt(ErrorGifTooSmall)}))

	assert.NoError(tr.Flush(context.Background()))
	found := false
	for _, stat := range store.stats {
		if stat.Key == "errors" && stat.SubKey == string(ErrorGifTooSmall) {
			found = true
			assert.Equal(int64(1), stat.Value)
		}
	}
	assert.True(found, "expected an errors/gif-too-small counter")
}
