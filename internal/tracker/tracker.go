// Package tracker records what happened to every item the bot saw: aggregate
// counters flushed on an interval, plus one lifecycle record per gif item.
package tracker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mp4bot"
	"mp4bot/internal/sync_"
)

const DefaultFlushInterval = 60 * time.Second

type statKey struct {
	Key    string
	SubKey string
}

type batchState struct {
	counters map[statKey]int64
	records  []*Record
}

func newBatchState() *batchState {
	return &batchState{counters: make(map[statKey]int64)}
}

type Tracker struct {
	log           *zap.SugaredLogger
	store         Store
	flushInterval time.Duration
	now           func() time.Time
	batch         *sync_.Mutexed[*batchState]
}

func NewTracker(store Store) *Tracker {
	return &Tracker{
		log:           zap.S().Named("tracker"),
		store:         store,
		flushInterval: DefaultFlushInterval,
		now:           time.Now,
		batch:         sync_.NewMutexed(newBatchState()),
	}
}

// Count adds to an aggregate counter, merged with any previous increments
// until the next flush.
func (t *Tracker) Count(key, subKey string, delta int64) {
	_ = t.batch.Locked(func(b *batchState) error {
		b.counters[statKey{Key: key, SubKey: subKey}] += delta
		return nil
	})
}

// TrackNewIncomingItem counts every item seen, whether or not it carries a
// handleable link.
func (t *Tracker) TrackNewIncomingItem(itemType mp4bot.ItemType) {
	t.Count("items", string(itemType), 1)
}

// TrackNewGifItem opens a lifecycle record for an item whose link passed
// classification. The caller must end it exactly once.
func (t *Tracker) TrackNewGifItem(itemType mp4bot.ItemType, itemID, subreddit, domain, hostname, gifLink string, createdAt time.Time) *ItemTracker {
	t.Count("gifs", string(itemType), 1)
	t.Count("domains", domain, 1)
	return &ItemTracker{
		tracker: t,
		record: Record{
			ItemType:  itemType,
			ItemID:    itemID,
			Subreddit: subreddit,
			Domain:    domain,
			Hostname:  hostname,
			GifLink:   gifLink,
			CreatedAt: createdAt,
			StartedAt: t.now(),
		},
	}
}

// EnsureEnded force-ends a tracker a processing path forgot to end. This is
// a bug net; the recorded outcome points at the defect.
func (t *Tracker) EnsureEnded(item *ItemTracker) {
	if item.Ended() {
		return
	}
	t.log.Warnw("item tracking was never ended", "item_id", item.ItemID())
	_ = item.EndTracking(StatusError, &Update{ErrorCode: Opt(ErrorTrackerNotEnded)})
}

func (t *Tracker) enqueue(record *Record) {
	_ = t.batch.Locked(func(b *batchState) error {
		b.counters[statKey{Key: "status", SubKey: string(record.Status)}]++
		if record.ErrorCode != nil {
			b.counters[statKey{Key: "errors", SubKey: string(*record.ErrorCode)}]++
		}
		b.records = append(b.records, record)
		return nil
	})
}

// Run flushes on an interval until the context ends, then flushes whatever
// is still buffered.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := t.Flush(context.Background()); err != nil {
				t.log.Errorw("final flush failed", "error", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if err := t.Flush(ctx); err != nil {
				t.log.Errorw("flush failed", "error", err)
			}
		}
	}
}

// Flush persists and clears the current batch. Counters and records taken
// out of the batch are lost if the store fails; the store is local, so a
// failure here means something much bigger is wrong.
func (t *Tracker) Flush(ctx context.Context) error {
	b := t.batch.Swap(newBatchState())
	if len(b.counters) == 0 && len(b.records) == 0 {
		return nil
	}
	timestamp := t.now()
	stats := make([]StatEntry, 0, len(b.counters))
	for key, value := range b.counters {
		stats = append(stats, StatEntry{
			Timestamp: timestamp,
			Key:       key.Key,
			SubKey:    key.SubKey,
			Value:     value,
		})
	}
	if err := t.store.InsertStats(ctx, stats); err != nil {
		return err
	}
	if err := t.store.InsertRecords(ctx, b.records); err != nil {
		return err
	}
	t.log.Debugw("flushed tracking batch", "stats", len(stats), "records", len(b.records))
	return nil
}
