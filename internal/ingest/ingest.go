// Package ingest defines the incoming item types and the sources that
// deliver them to the bot.
package ingest

import (
	"context"
	"time"
)

// A Submission is a link or self post.
type Submission struct {
	ID          string
	Subreddit   string
	Author      string
	Title       string
	Permalink   string
	URL         string
	SelfText    string
	NSFW        bool
	Locked      bool
	Quarantined bool
	CreatedAt   time.Time
	// PreviewVideoURL is the platform-generated video preview, populated
	// asynchronously after submission; "" until it exists.
	PreviewVideoURL string

	refresh func(ctx context.Context, s *Submission) error
}

// VideoPreviewURL reports the embedded video preview, if generated yet.
func (s *Submission) VideoPreviewURL() (string, bool) {
	return s.PreviewVideoURL, s.PreviewVideoURL != ""
}

// Refresh re-fetches the submission's upstream state through the hook its
// source installed. Without a hook the state simply stays as delivered.
func (s *Submission) Refresh(ctx context.Context) error {
	if s.refresh == nil {
		return nil
	}
	return s.refresh(ctx, s)
}

// SetRefresh installs the source-side refetch hook.
func (s *Submission) SetRefresh(fn func(ctx context.Context, s *Submission) error) {
	s.refresh = fn
}

// A Comment is a reply under a submission.
type Comment struct {
	ID          string
	Subreddit   string
	Author      string
	Permalink   string
	Body        string
	NSFW        bool
	Quarantined bool
	CreatedAt   time.Time
}

// A Message is a private message or username mention from the inbox.
type Message struct {
	ID      string
	Author  string
	Subject string
	Body    string
	// Subreddit is set when the message was sent on behalf of a subreddit
	// (ban notifications, modmail).
	Subreddit  string
	WasComment bool
	CreatedAt  time.Time
}

// Handler receives items as a source produces them. Implementations must
// not block for long; sources deliver sequentially.
type Handler interface {
	HandleSubmission(ctx context.Context, submission *Submission)
	HandleComment(ctx context.Context, comment *Comment)
	HandleMessage(ctx context.Context, message *Message)
}

// A Source streams items into a Handler until its context ends.
type Source interface {
	Name() string
	Start(ctx context.Context, handler Handler) error
}
