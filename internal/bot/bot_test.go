package bot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"

	"mp4bot"
	"mp4bot/internal/cache"
	"mp4bot/internal/exceptions"
	"mp4bot/internal/ingest"
	"mp4bot/internal/pipeline"
	"mp4bot/internal/probe"
	"mp4bot/internal/reply"
	"mp4bot/internal/tracker"
	"mp4bot/internal/transcode"
	"mp4bot/util"
)

type fakeClient struct {
	replies        []string
	replyParents   []string
	replyErrs      []error
	messageReplies []string
	moderators     map[string]bool
}

func (c *fakeClient) Reply(ctx context.Context, parentFullname string, text string) error {
	call := len(c.replies)
	c.replies = append(c.replies, text)
	c.replyParents = append(c.replyParents, parentFullname)
	if call < len(c.replyErrs) {
		return c.replyErrs[call]
	}
	return nil
}

func (c *fakeClient) ReplyToMessage(ctx context.Context, messageID string, text string) error {
	c.messageReplies = append(c.messageReplies, text)
	return nil
}

func (c *fakeClient) IsModerator(ctx context.Context, user, subreddit string) (bool, error) {
	return c.moderators[user+"/"+subreddit], nil
}

type memExceptions struct {
	entries map[string]exceptions.Entry
}

func newMemExceptions() *memExceptions {
	return &memExceptions{entries: make(map[string]exceptions.Entry)}
}

func (s *memExceptions) key(kind mp4bot.LocationType, location string) string {
	return string(kind) + "-" + strings.ToLower(location)
}

func (s *memExceptions) IsException(kind mp4bot.LocationType, location string) (bool, error) {
	_, ok := s.entries[s.key(kind, location)]
	return ok, nil
}

func (s *memExceptions) Add(entry exceptions.Entry) error {
	s.entries[s.key(entry.Type, entry.Location)] = entry
	return nil
}

func (s *memExceptions) Remove(kind mp4bot.LocationType, location string) error {
	delete(s.entries, s.key(kind, location))
	return nil
}

func (s *memExceptions) List() ([]exceptions.Entry, error) { return nil, nil }
func (s *memExceptions) Close() error                      { return nil }

type recordingStore struct {
	records []*tracker.Record
}

func (s *recordingStore) InsertStats(ctx context.Context, stats []tracker.StatEntry) error {
	return nil
}

func (s *recordingStore) InsertRecords(ctx context.Context, records []*tracker.Record) error {
	s.records = append(s.records, records...)
	return nil
}

func (s *recordingStore) Close() error { return nil }

type noConvert struct{}

func (noConvert) Convert(ctx context.Context, req transcode.UploadRequest) (*transcode.Outcome, error) {
	panic("unexpected upload")
}

func (noConvert) Details(ctx context.Context, name string) (*transcode.AssetDetails, error) {
	panic("unexpected details lookup")
}

type botFixture struct {
	bot    *Bot
	client *fakeClient
	exc    *memExceptions
	store  *recordingStore
	server *httptest.Server
}

// newBotFixture serves a gif/mp4 pair and wires a full bot around it with a
// resolver that swaps extensions on any host.
func newBotFixture(t *testing.T, gifSize, mp4Size string) *botFixture {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.gif":
			w.Header().Set("Content-Type", "image/gif")
			w.Header().Set("Content-Length", gifSize)
		case "/a.mp4":
			w.Header().Set("Content-Type", "video/mp4")
			w.Header().Set("Content-Length", mp4Size)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	registry := &mp4bot.ResolverRegistry{}
	registry.MustAdd(mp4bot.Resolver{
		Name:    "swap",
		Matches: func(u *mp4bot.CanonicalURL) bool { return true },
		VideoLink: func(ctx context.Context, u *mp4bot.CanonicalURL, item mp4bot.Item) (*mp4bot.CanonicalURL, error) {
			return u.Rewrite(util.SwapExtension(u.String(), ".gif", ".mp4"))
		},
	})
	prober := probe.New(probe.Config{
		Timeout:    time.Second,
		RetryDelay: time.Millisecond,
		UserAgent:  "bot-test",
	})
	pipe := pipeline.New(prober, registry, cache.NewMemory(), noConvert{}, pipeline.Config{})

	client := &fakeClient{moderators: make(map[string]bool)}
	exc := newMemExceptions()
	store := &recordingStore{}
	b := New(Config{Username: "mp4bot"}, client, pipe, tracker.NewTracker(store), exc,
		reply.NewRenderer(reply.DefaultTemplates(), "test"))
	b.sleep = func(ctx context.Context, d time.Duration) {}
	return &botFixture{bot: b, client: client, exc: exc, store: store, server: server}
}

func (f *botFixture) gifSubmission() *ingest.Submission {
	return &ingest.Submission{
		ID:        "sub1",
		Subreddit: "funny",
		Author:    "someone",
		Permalink: "https://reddit.example/r/funny/sub1",
		URL:       f.server.URL + "/a.gif",
		CreatedAt: time.Now(),
	}
}

func (f *botFixture) flushedRecord(t *testing.T) *tracker.Record {
	t.Helper()
	assert_.NoError(t, f.bot.tracker.Flush(context.Background()))
	assert_.Len(t, f.store.records, 1)
	return f.store.records[0]
}

func TestBot_SubmissionReplyFlow(t *testing.T) {
	assert := assert_.New(t)

	f := newBotFixture(t, "10000000", "2000000")
	f.bot.processSubmission(context.Background(), f.gifSubmission())

	assert.Len(f.client.replies, 1)
	assert.Equal("t3_sub1", f.client.replyParents[0])
	assert.Contains(f.client.replies[0], f.server.URL+"/a.mp4")
	assert.Contains(f.client.replies[0], "80.00")

	record := f.flushedRecord(t)
	assert.Equal(tracker.StatusSuccess, record.Status)
	assert.Nil(record.ErrorCode)
}

func TestBot_SkipsOwnItems(t *testing.T) {
	assert := assert_.New(t)

	f := newBotFixture(t, "10000000", "2000000")
	submission := f.gifSubmission()
	submission.Author = "MP4Bot"
	f.bot.processSubmission(context.Background(), submission)

	assert.Empty(f.client.replies)
	assert.NoError(f.bot.tracker.Flush(context.Background()))
	assert.Empty(f.store.records)
}

func TestBot_ExceptionProcessedWithoutReply(t *testing.T) {
	assert := assert_.New(t)

	f := newBotFixture(t, "10000000", "2000000")
	assert.NoError(f.exc.Add(exceptions.Entry{
		Type:     mp4bot.LocationSubreddit,
		Location: "funny",
		Source:   exceptions.SourceManual,
	}))
	f.bot.processSubmission(context.Background(), f.gifSubmission())

	assert.Empty(f.client.replies)
	record := f.flushedRecord(t)
	assert.Equal(tracker.StatusIgnored, record.Status)
	// The pipeline still ran: the outcome was resolved and cached.
	assert.NotNil(record.Mp4Link)
}

func TestBot_Mp4BiggerThanGif(t *testing.T) {
	assert := assert_.New(t)

	f := newBotFixture(t, "2000001", "9000000")
	f.bot.processSubmission(context.Background(), f.gifSubmission())

	assert.Empty(f.client.replies)
	record := f.flushedRecord(t)
	assert.Equal(tracker.StatusError, record.Status)
	assert.Equal(tracker.ErrorMp4BiggerThanGif, *record.ErrorCode)
}

func TestBot_BanAddsException(t *testing.T) {
	assert := assert_.New(t)

	f := newBotFixture(t, "10000000", "2000000")
	f.client.replyErrs = []error{&BanError{Subreddit: "funny"}}
	f.bot.processSubmission(context.Background(), f.gifSubmission())

	found, err := f.exc.IsException(mp4bot.LocationSubreddit, "funny")
	assert.NoError(err)
	assert.True(found)

	record := f.flushedRecord(t)
	assert.Equal(tracker.ErrorReplyBan, *record.ErrorCode)
}

func TestBot_RateLimitRetriedOnce(t *testing.T) {
	assert := assert_.New(t)

	f := newBotFixture(t, "10000000", "2000000")
	f.client.replyErrs = []error{&RateLimitError{RetryAfter: time.Minute}}
	f.bot.processSubmission(context.Background(), f.gifSubmission())

	assert.Len(f.client.replies, 2)
	record := f.flushedRecord(t)
	assert.Equal(tracker.StatusSuccess, record.Status)
}

func TestBot_RateLimitTwiceGivesUp(t *testing.T) {
	assert := assert_.New(t)

	f := newBotFixture(t, "10000000", "2000000")
	f.client.replyErrs = []error{
		&RateLimitError{RetryAfter: time.Minute},
		&RateLimitError{RetryAfter: time.Minute},
	}
	f.bot.processSubmission(context.Background(), f.gifSubmission())

	assert.Len(f.client.replies, 2)
	record := f.flushedRecord(t)
	assert.Equal(tracker.ErrorReplyRateLimit, *record.ErrorCode)
}

func TestBot_CommentLinkExtraction(t *testing.T) {
	assert := assert_.New(t)

	f := newBotFixture(t, "10000000", "2000000")
	f.bot.processComment(context.Background(), &ingest.Comment{
		ID:        "com1",
		Subreddit: "funny",
		Author:    "someone",
		Body:      "look at [this](" + f.server.URL + "/a.gif) and https://example.com/not-a-gif",
		CreatedAt: time.Now(),
	})

	assert.Len(f.client.replies, 1)
	assert.Equal("t1_com1", f.client.replyParents[0])
}

func TestBot_ExcludeMe(t *testing.T) {
	assert := assert_.New(t)

	f := newBotFixture(t, "10000000", "2000000")
	f.bot.processMessage(context.Background(), &ingest.Message{
		ID:     "msg1",
		Author: "someone",
		Body:   "Exclude me",
	})

	found, err := f.exc.IsException(mp4bot.LocationUser, "someone")
	assert.NoError(err)
	assert.True(found)
	assert.Len(f.client.messageReplies, 1)
}

func TestBot_ExcludeSubredditNeedsModerator(t *testing.T) {
	assert := assert_.New(t)

	f := newBotFixture(t, "10000000", "2000000")
	f.bot.processMessage(context.Background(), &ingest.Message{
		ID:     "msg1",
		Author: "someone",
		Body:   "exclude subreddit funny",
	})
	found, _ := f.exc.IsException(mp4bot.LocationSubreddit, "funny")
	assert.False(found)

	f.client.moderators["someone/funny"] = true
	f.bot.processMessage(context.Background(), &ingest.Message{
		ID:     "msg2",
		Author: "someone",
		Body:   "exclude subreddit r/funny",
	})
	found, _ = f.exc.IsException(mp4bot.LocationSubreddit, "funny")
	assert.True(found)
}

func TestBot_MessageLinkRequest(t *testing.T) {
	assert := assert_.New(t)

	f := newBotFixture(t, "10000000", "2000000")
	f.bot.processMessage(context.Background(), &ingest.Message{
		ID:        "msg1",
		Author:    "someone",
		Body:      "can you do " + f.server.URL + "/a.gif please",
		CreatedAt: time.Now(),
	})

	assert.Len(f.client.messageReplies, 1)
	assert.Contains(f.client.messageReplies[0], f.server.URL+"/a.mp4")

	record := f.flushedRecord(t)
	assert.Equal(tracker.StatusSuccess, record.Status)
}

func TestBot_MessageLinkRequestAllFailed(t *testing.T) {
	assert := assert_.New(t)

	f := newBotFixture(t, "10000000", "2000000")
	f.bot.processMessage(context.Background(), &ingest.Message{
		ID:        "msg1",
		Author:    "someone",
		Body:      "can you do " + f.server.URL + "/missing.gif please",
		CreatedAt: time.Now(),
	})

	assert.Len(f.client.messageReplies, 1)
	assert.Contains(f.client.messageReplies[0], "couldn't process")
}

func TestBot_BanNotification(t *testing.T) {
	assert := assert_.New(t)

	f := newBotFixture(t, "10000000", "2000000")
	f.bot.processMessage(context.Background(), &ingest.Message{
		ID:        "msg1",
		Author:    "funny-ModTeam",
		Subject:   "You've been banned from participating in r/funny",
		Body:      "You are banned for 7 days.",
		Subreddit: "funny",
	})

	found, err := f.exc.IsException(mp4bot.LocationSubreddit, "funny")
	assert.NoError(err)
	assert.True(found)
	entry := f.exc.entries["subreddit-funny"]
	assert.Equal(exceptions.SourceBanDM, entry.Source)
	assert.Equal(7*24*time.Hour, entry.Duration)
	// Ban notifications are not answered.
	assert.Empty(f.client.messageReplies)
}
