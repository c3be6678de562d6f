package ingest

import (
	"context"

	"github.com/google/uuid"
)

const channelSourceBuffer = 64

// ChannelSource delivers items fed to it programmatically. It backs tests
// and the one-shot commands; a production deployment wires a streaming
// source in its place.
type ChannelSource struct {
	name        string
	submissions chan *Submission
	comments    chan *Comment
	messages    chan *Message
}

var _ Source = &ChannelSource{}

func NewChannelSource(name string) *ChannelSource {
	return &ChannelSource{
		name:        name,
		submissions: make(chan *Submission, channelSourceBuffer),
		comments:    make(chan *Comment, channelSourceBuffer),
		messages:    make(chan *Message, channelSourceBuffer),
	}
}

func (s *ChannelSource) Name() string {
	return s.name
}

// OfferSubmission queues a submission, assigning an ID if it has none.
func (s *ChannelSource) OfferSubmission(submission *Submission) {
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	s.submissions <- submission
}

func (s *ChannelSource) OfferComment(comment *Comment) {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	s.comments <- comment
}

func (s *ChannelSource) OfferMessage(message *Message) {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	s.messages <- message
}

func (s *ChannelSource) Start(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case submission := <-s.submissions:
			handler.HandleSubmission(ctx, submission)
		case comment := <-s.comments:
			handler.HandleComment(ctx, comment)
		case message := <-s.messages:
			handler.HandleMessage(ctx, message)
		}
	}
}
