package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// envelope is one line of JSONLinesSource input.
type envelope struct {
	Kind       string `json:"kind"`
	Submission *struct {
		ID              string `json:"id"`
		Subreddit       string `json:"subreddit"`
		Author          string `json:"author"`
		Title           string `json:"title"`
		Permalink       string `json:"permalink"`
		URL             string `json:"url"`
		NSFW            bool   `json:"nsfw"`
		Locked          bool   `json:"locked"`
		Quarantined     bool   `json:"quarantined"`
		PreviewVideoURL string `json:"previewVideoUrl"`
	} `json:"submission,omitempty"`
	Comment *struct {
		ID        string `json:"id"`
		Subreddit string `json:"subreddit"`
		Author    string `json:"author"`
		Permalink string `json:"permalink"`
		Body      string `json:"body"`
		NSFW      bool   `json:"nsfw"`
	} `json:"comment,omitempty"`
	Message *struct {
		ID         string `json:"id"`
		Author     string `json:"author"`
		Subject    string `json:"subject"`
		Body       string `json:"body"`
		Subreddit  string `json:"subreddit"`
		WasComment bool   `json:"wasComment"`
	} `json:"message,omitempty"`
}

// JSONLinesSource reads one JSON item envelope per line, for feeding the
// bot from files or pipes. Malformed lines are logged and skipped.
type JSONLinesSource struct {
	reader io.Reader
	now    func() time.Time
	log    *zap.SugaredLogger
}

var _ Source = &JSONLinesSource{}

func NewJSONLinesSource(reader io.Reader) *JSONLinesSource {
	return &JSONLinesSource{
		reader: reader,
		now:    time.Now,
		log:    zap.S().Named("ingest.jsonl"),
	}
}

func (s *JSONLinesSource) Name() string {
	return "jsonl"
}

func (s *JSONLinesSource) Start(ctx context.Context, handler Handler) error {
	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			s.log.Warnw("skipping malformed line", "error", err)
			continue
		}
		if err := s.deliver(ctx, handler, &env); err != nil {
			s.log.Warnw("skipping item", "kind", env.Kind, "error", err)
		}
	}
	return scanner.Err()
}

func (s *JSONLinesSource) deliver(ctx context.Context, handler Handler, env *envelope) error {
	switch env.Kind {
	case "submission":
		if env.Submission == nil {
			return fmt.Errorf("missing submission payload")
		}
		in := env.Submission
		handler.HandleSubmission(ctx, &Submission{
			ID:              orNewID(in.ID),
			Subreddit:       in.Subreddit,
			Author:          in.Author,
			Title:           in.Title,
			Permalink:       in.Permalink,
			URL:             in.URL,
			NSFW:            in.NSFW,
			Locked:          in.Locked,
			Quarantined:     in.Quarantined,
			CreatedAt:       s.now(),
			PreviewVideoURL: in.PreviewVideoURL,
		})
	case "comment":
		if env.Comment == nil {
			return fmt.Errorf("missing comment payload")
		}
		in := env.Comment
		handler.HandleComment(ctx, &Comment{
			ID:        orNewID(in.ID),
			Subreddit: in.Subreddit,
			Author:    in.Author,
			Permalink: in.Permalink,
			Body:      in.Body,
			NSFW:      in.NSFW,
			CreatedAt: s.now(),
		})
	case "message":
		if env.Message == nil {
			return fmt.Errorf("missing message payload")
		}
		in := env.Message
		handler.HandleMessage(ctx, &Message{
			ID:         orNewID(in.ID),
			Author:     in.Author,
			Subject:    in.Subject,
			Body:       in.Body,
			Subreddit:  in.Subreddit,
			WasComment: in.WasComment,
			CreatedAt:  s.now(),
		})
	default:
		return fmt.Errorf("unknown item kind %q", env.Kind)
	}
	return nil
}

func orNewID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}
