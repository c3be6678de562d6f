// Package transcode submits source assets to an external conversion service
// and polls the asynchronous job until completion.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mp4bot/internal/retry"
)

const (
	DefaultPollDelay = 2 * time.Second
	// DefaultMaxPolls bounds the status poll at roughly 15 minutes.
	DefaultMaxPolls = 450
)

// Job task states reported by the conversion service. "NotFoundo" is the
// provider's actual spelling.
const (
	TaskComplete = "complete"
	TaskEncoding = "encoding"
	TaskError    = "error"
	TaskNotFound = "NotFoundo"
)

// UploadRequest describes one conversion job. Title should link back to the
// source item for attribution and abuse tracing.
type UploadRequest struct {
	FetchURL string
	Title    string
	NSFW     bool
}

// JobStatus is one poll answer.
type JobStatus struct {
	Task         string
	ErrorMessage string
}

// AssetDetails are the sizes the service reports for a hosted asset. Zero or
// missing sizes are mapped to -1 (unknown) by the client.
type AssetDetails struct {
	GifSize  int64
	Mp4Size  int64
	WebmSize int64
}

// Uploader is the conversion-service API surface the poll loop needs.
type Uploader interface {
	// Upload submits a job and returns the service-side job/asset name.
	Upload(ctx context.Context, req UploadRequest) (string, error)
	// Status reports the current state of a submitted job.
	Status(ctx context.Context, name string) (*JobStatus, error)
	// Details fetches size metadata for a hosted asset.
	Details(ctx context.Context, name string) (*AssetDetails, error)
}

// UploadError is an explicit failure reported by the conversion service.
type UploadError struct {
	Name   string
	Task   string
	Detail string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s failed with task %q: %s", e.Name, e.Task, e.Detail)
}

// ErrUploadTimeout means the job never reached a terminal state within the
// poll budget. Distinct from an explicit service error.
var ErrUploadTimeout = errors.New("upload did not finish within the poll budget")

var errStillEncoding = errors.New("still encoding")

// Outcome is a finished conversion: where the hosted result lives and how
// long the whole upload+poll cycle took.
type Outcome struct {
	Name     string
	URL      string
	Duration time.Duration
}

type Config struct {
	PollDelay time.Duration
	MaxPolls  int
	// ResultURL renders the public URL of a finished asset from its name.
	// Defaults to the gfycat page URL.
	ResultURL func(name string) string
}

// A Transcoder drives one conversion job at a time against an Uploader.
type Transcoder struct {
	uploader  Uploader
	pollDelay time.Duration
	maxPolls  int
	resultURL func(name string) string
	now       func() time.Time
	log       *zap.SugaredLogger
}

func New(uploader Uploader, config Config) *Transcoder {
	if config.PollDelay <= 0 {
		config.PollDelay = DefaultPollDelay
	}
	if config.MaxPolls <= 0 {
		config.MaxPolls = DefaultMaxPolls
	}
	if config.ResultURL == nil {
		config.ResultURL = func(name string) string {
			return "https://gfycat.com/" + name
		}
	}
	return &Transcoder{
		uploader:  uploader,
		pollDelay: config.PollDelay,
		maxPolls:  config.MaxPolls,
		resultURL: config.ResultURL,
		now:       time.Now,
		log:       zap.S().Named("transcode"),
	}
}

// Convert submits the asset and polls on a fixed interval until the job
// completes, the service reports an error, or the attempt budget runs out.
// The returned Outcome records the wall-clock duration of the whole cycle.
func (t *Transcoder) Convert(ctx context.Context, req UploadRequest) (*Outcome, error) {
	start := t.now()
	name, err := t.uploader.Upload(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("submitting upload: %w", err)
	}
	t.log.Debugw("upload submitted", "name", name, "fetch_url", req.FetchURL)

	_, err = retry.Do(ctx, retry.Config{
		MaxAttempts: t.maxPolls,
		Delay:       t.pollDelay,
		IsRetryable: func(err error) bool {
			return errors.Is(err, errStillEncoding)
		},
	}, func(ctx context.Context) (struct{}, error) {
		status, err := t.uploader.Status(ctx, name)
		if err != nil {
			return struct{}{}, err
		}
		switch status.Task {
		case TaskComplete:
			return struct{}{}, nil
		case TaskEncoding:
			return struct{}{}, errStillEncoding
		case TaskError, TaskNotFound:
			return struct{}{}, &UploadError{Name: name, Task: status.Task, Detail: status.ErrorMessage}
		default:
			return struct{}{}, fmt.Errorf("unexpected task state %q for upload %s", status.Task, name)
		}
	})
	if err != nil {
		if errors.Is(err, retry.ErrAttemptsExhausted) {
			return nil, fmt.Errorf("%w: %s", ErrUploadTimeout, name)
		}
		return nil, err
	}

	outcome := &Outcome{
		Name:     name,
		URL:      t.resultURL(name),
		Duration: t.now().Sub(start),
	}
	t.log.Debugw("upload finished", "name", name, "duration", outcome.Duration)
	return outcome, nil
}

// Details exposes the uploader's metadata lookup for providers whose sizes
// are trusted without probing the result asset.
func (t *Transcoder) Details(ctx context.Context, name string) (*AssetDetails, error) {
	return t.uploader.Details(ctx, name)
}
