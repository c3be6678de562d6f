package tracker

import (
	"errors"
	"fmt"
	"time"

	"mp4bot"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusIgnored Status = "ignored"
)

// ErrorCode is the terminal outcome class of one item, one per failure mode
// so metrics can tell them apart.
type ErrorCode string

const (
	// The reply failed due to an undetected ban.
	ErrorReplyBan ErrorCode = "reply-ban"
	// The reply failed due to a rate limit, even after waiting it out.
	ErrorReplyRateLimit ErrorCode = "reply-ratelimit"
	// The reply failed for unknown reasons (such as a 500).
	ErrorReplyFail ErrorCode = "reply-fail"
	// Gif size is below the reply-worthiness threshold.
	ErrorGifTooSmall ErrorCode = "gif-too-small"
	// No pre-existing video equivalent and uploading was not allowed.
	ErrorNoMp4Location ErrorCode = "no-mp4-location"
	// Uploading the gif to the conversion service failed.
	ErrorUploadFailed ErrorCode = "upload-failed"
	// The metadata check(s) against the gif asset failed.
	ErrorHeadFailedGif ErrorCode = "head-failed-gif"
	// The metadata check(s) against the mp4 asset failed.
	ErrorHeadFailedMp4 ErrorCode = "head-failed-mp4"
	// The mp4 was bigger than the gif on a domain where that is not allowed.
	ErrorMp4BiggerThanGif ErrorCode = "mp4-bigger-than-gif"
	// A previous processing attempt for this link failed and was cached.
	ErrorCached ErrorCode = "cached"
	// A pipeline path exited without ending its tracker. A defect detector,
	// not a real outcome.
	ErrorTrackerNotEnded ErrorCode = "tracker-not-ended"
	ErrorUnknown         ErrorCode = "unknown"
)

type ErrorDetail string

const (
	DetailConnectionError ErrorDetail = "connection-error"
	DetailStatusCode      ErrorDetail = "status-code"
	DetailContentType     ErrorDetail = "content-type"
	DetailContentLength   ErrorDetail = "content-length"
	DetailMaxRetryCount   ErrorDetail = "max-retry-count-reached"
	DetailRedirectFail    ErrorDetail = "redirect-fail"
	DetailNoUpload        ErrorDetail = "no-upload"
	DetailServiceError    ErrorDetail = "service-error"
)

var (
	// ErrDuplicateField guards against a code path double-reporting a
	// measurement: tracker fields are write-once.
	ErrDuplicateField = errors.New("tracking field already set")
	// ErrAlreadyEnded guards against a second terminal call on one tracker.
	ErrAlreadyEnded = errors.New("tracking already ended")
)

// A Record is the per-item lifecycle entry persisted for observability.
// Optional fields are pointers; nil means "never measured".
type Record struct {
	ItemType  mp4bot.ItemType
	ItemID    string
	Subreddit string
	Domain    string
	Hostname  string
	GifLink   string
	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time
	Status    Status

	Mp4Link        *string
	Mp4DisplayLink *string
	GifSize        *int64
	Mp4Size        *int64
	WebmSize       *int64
	FromCache      *bool
	UploadTime     *time.Duration
	ErrorCode      *ErrorCode
	ErrorDetail    *ErrorDetail
	ErrorExtra     *string
}

// An Update is a partial set of measurements to merge into a record. Every
// non-nil field must not have been set before.
type Update struct {
	Mp4Link        *string
	Mp4DisplayLink *string
	GifSize        *int64
	Mp4Size        *int64
	WebmSize       *int64
	FromCache      *bool
	UploadTime     *time.Duration
	ErrorCode      *ErrorCode
	ErrorDetail    *ErrorDetail
	ErrorExtra     *string
}

// Opt wraps a value for an optional Update field.
func Opt[T any](value T) *T {
	return &value
}

// An ItemTracker accumulates one source item's processing lifecycle and is
// frozen by exactly one terminal call (EndTracking or Abort).
type ItemTracker struct {
	tracker *Tracker
	record  Record
	ended   bool
}

func (t *ItemTracker) ItemID() string {
	return t.record.ItemID
}

func (t *ItemTracker) Ended() bool {
	return t.ended
}

// UpdateData merges measurements into the record. Re-setting an already-set
// field is a programming error and fails with ErrDuplicateField immediately
// rather than being silently ignored.
func (t *ItemTracker) UpdateData(update Update) error {
	if err := setOnce(&t.record.Mp4Link, update.Mp4Link, "mp4Link"); err != nil {
		return err
	}
	if err := setOnce(&t.record.Mp4DisplayLink, update.Mp4DisplayLink, "mp4DisplayLink"); err != nil {
		return err
	}
	if err := setOnce(&t.record.GifSize, update.GifSize, "gifSize"); err != nil {
		return err
	}
	if err := setOnce(&t.record.Mp4Size, update.Mp4Size, "mp4Size"); err != nil {
		return err
	}
	if err := setOnce(&t.record.WebmSize, update.WebmSize, "webmSize"); err != nil {
		return err
	}
	if err := setOnce(&t.record.FromCache, update.FromCache, "fromCache"); err != nil {
		return err
	}
	if err := setOnce(&t.record.UploadTime, update.UploadTime, "uploadTime"); err != nil {
		return err
	}
	if err := setOnce(&t.record.ErrorCode, update.ErrorCode, "errorCode"); err != nil {
		return err
	}
	if err := setOnce(&t.record.ErrorDetail, update.ErrorDetail, "errorDetail"); err != nil {
		return err
	}
	if err := setOnce(&t.record.ErrorExtra, update.ErrorExtra, "errorExtra"); err != nil {
		return err
	}
	return nil
}

func setOnce[T any](dst **T, src *T, field string) error {
	if src == nil {
		return nil
	}
	if *dst != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateField, field)
	}
	*dst = src
	return nil
}

// EndTracking freezes the record with a terminal status, computes the wall
// elapsed time, and enqueues it for batched persistence.
func (t *ItemTracker) EndTracking(status Status, final *Update) error {
	if t.ended {
		return fmt.Errorf("%w: item %s", ErrAlreadyEnded, t.record.ItemID)
	}
	t.ended = true
	if final != nil {
		if err := t.UpdateData(*final); err != nil {
			return err
		}
	}
	t.record.Status = status
	t.record.EndedAt = t.tracker.now()
	t.tracker.log.Debugw("tracking ended",
		"item_id", t.record.ItemID,
		"status", t.record.Status,
		"gif_size", optString(t.record.GifSize),
		"mp4_size", optString(t.record.Mp4Size),
		"processing_time", t.record.EndedAt.Sub(t.record.StartedAt),
	)
	t.tracker.enqueue(&t.record)
	return nil
}

// Abort discards the tracker without persisting. Used when an item is
// rejected before any meaningful work happened.
func (t *ItemTracker) Abort() error {
	if t.ended {
		return fmt.Errorf("%w: item %s", ErrAlreadyEnded, t.record.ItemID)
	}
	t.ended = true
	return nil
}

func optString[T any](v *T) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}
