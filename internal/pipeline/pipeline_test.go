package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"

	"mp4bot"
	"mp4bot/internal/cache"
	"mp4bot/internal/probe"
	"mp4bot/internal/tracker"
	"mp4bot/internal/transcode"
	"mp4bot/util"
)

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

type fakeConverter struct {
	outcome    *transcode.Outcome
	convertErr error
	details    *transcode.AssetDetails
	converts   int
}

func (f *fakeConverter) Convert(ctx context.Context, req transcode.UploadRequest) (*transcode.Outcome, error) {
	f.converts++
	if f.convertErr != nil {
		return nil, f.convertErr
	}
	return f.outcome, nil
}

func (f *fakeConverter) Details(ctx context.Context, name string) (*transcode.AssetDetails, error) {
	return f.details, nil
}

// swapRegistry routes everything through one resolver that swaps .gif for
// .mp4, keeping the asset on the test server.
func swapRegistry() *mp4bot.ResolverRegistry {
	registry := &mp4bot.ResolverRegistry{}
	registry.MustAdd(mp4bot.Resolver{
		Name:    "swap",
		Matches: func(u *mp4bot.CanonicalURL) bool { return true },
		VideoLink: func(ctx context.Context, u *mp4bot.CanonicalURL, item mp4bot.Item) (*mp4bot.CanonicalURL, error) {
			return u.Rewrite(util.SwapExtension(u.String(), ".gif", ".mp4"))
		},
	})
	return registry
}

// passthroughRegistry routes everything through a resolver with no video
// rule, forcing the upload fallback.
func passthroughRegistry() *mp4bot.ResolverRegistry {
	registry := &mp4bot.ResolverRegistry{}
	registry.MustAdd(mp4bot.Resolver{
		Name:    "plain",
		Matches: func(u *mp4bot.CanonicalURL) bool { return true },
	})
	return registry
}

type fixture struct {
	pipeline *Pipeline
	cache    *cache.Memory
	store    *recordingStore
	tracker  *tracker.Tracker
}

func newFixture(registry *mp4bot.ResolverRegistry, converter Converter, config Config) *fixture {
	if config.Mp4ProbeAttempts == 0 {
		config.Mp4ProbeAttempts = 1
	}
	prober := probe.New(probe.Config{
		Timeout:    time.Second,
		RetryDelay: time.Millisecond,
		UserAgent:  "pipeline-test",
	})
	memory := cache.NewMemory()
	store := &recordingStore{}
	return &fixture{
		pipeline: New(prober, registry, memory, converter, config),
		cache:    memory,
		store:    store,
		tracker:  tracker.NewTracker(store),
	}
}

func (f *fixture) request(url string, allowUpload bool) *Request {
	it := f.tracker.TrackNewGifItem(
		mp4bot.ItemTypeSubmission, "item1", "funny",
		"example.com", "example.com", url, time.Now(),
	)
	return &Request{
		URL:         url,
		ItemID:      "item1",
		ItemLink:    "https://reddit.example/r/funny/item1",
		Subreddit:   "funny",
		Tracker:     it,
		AllowUpload: allowUpload,
	}
}

// record flushes the tracker and returns the single persisted record.
func (f *fixture) record(t *testing.T) *tracker.Record {
	t.Helper()
	assert_.NoError(t, f.tracker.Flush(context.Background()))
	assert_.Len(t, f.store.records, 1)
	return f.store.records[0]
}

func gifServer(t *testing.T, gifSize, mp4Size string) *httptest.Server {
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
	return server
}

func TestProcess_SuccessViaProbedVideo(t *testing.T) {
	assert := assert_.New(t)
	ctx := context.Background()

	server := gifServer(t, "10000000", "2000000")
	f := newFixture(swapRegistry(), &fakeConverter{}, Config{})

	req := f.request(server.URL+"/a.gif?utm=1", false)
	result, err := f.pipeline.Process(ctx, req)
	assert.NoError(err)
	assert.NotNil(result)
	assert.False(result.Uploaded)
	assert.False(result.FromCache)
	assert.Equal(server.URL+"/a.mp4", result.Item.Mp4Link)
	assert.Equal(int64(10000000), result.Item.GifSize)
	assert.Equal(int64(2000000), result.Item.Mp4Size)

	// Success leaves the tracker open for the caller to end after replying.
	assert.False(req.Tracker.Ended())

	// The outcome is cached under the param-stripped direct URL.
	entry, err := f.cache.Get(ctx, server.URL+"/a.gif")
	assert.NoError(err)
	assert.NotNil(entry)
	assert.False(entry.IsFailure())
}

func TestProcess_GifTooSmall(t *testing.T) {
	assert := assert_.New(t)
	ctx := context.Background()

	server := gifServer(t, "1000", "500")
	f := newFixture(swapRegistry(), &fakeConverter{}, Config{GifSizeThreshold: 2_000_000})

	req := f.request(server.URL+"/a.gif", false)
	result, err := f.pipeline.Process(ctx, req)
	assert.NoError(err)
	assert.Nil(result)

	record := f.record(t)
	assert.Equal(tracker.StatusIgnored, record.Status)
	assert.Equal(tracker.ErrorGifTooSmall, *record.ErrorCode)

	// Too-small links are cached as failures so they are not re-probed.
	entry, err := f.cache.Get(ctx, server.URL+"/a.gif")
	assert.NoError(err)
	assert.True(entry.IsFailure())
}

func TestProcess_GifProbe404(t *testing.T) {
	assert := assert_.New(t)
	ctx := context.Background()

	server := gifServer(t, "10000000", "2000000")
	f := newFixture(swapRegistry(), &fakeConverter{}, Config{})

	req := f.request(server.URL+"/missing.gif", false)
	result, err := f.pipeline.Process(ctx, req)
	assert.NoError(err)
	assert.Nil(result)

	record := f.record(t)
	assert.Equal(tracker.StatusError, record.Status)
	assert.Equal(tracker.ErrorHeadFailedGif, *record.ErrorCode)
	assert.Equal(tracker.DetailMaxRetryCount, *record.ErrorDetail)
}

func TestProcess_CachedFailure(t *testing.T) {
	assert := assert_.New(t)
	ctx := context.Background()

	f := newFixture(swapRegistry(), &fakeConverter{}, Config{})
	url := "https://unreachable.example.com/a.gif"
	assert.NoError(f.cache.Put(ctx, url, cache.KnownFailure(), time.Minute))

	req := f.request(url, false)
	result, err := f.pipeline.Process(ctx, req)
	assert.NoError(err)
	assert.Nil(result)

	record := f.record(t)
	assert.Equal(tracker.StatusIgnored, record.Status)
	assert.Equal(tracker.ErrorCached, *record.ErrorCode)
}

func TestProcess_CachedSuccess(t *testing.T) {
	assert := assert_.New(t)
	ctx := context.Background()

	f := newFixture(swapRegistry(), &fakeConverter{}, Config{})
	url := "https://unreachable.example.com/a.gif"
	item := &mp4bot.ResolvedItem{
		Mp4Link: "https://unreachable.example.com/a.mp4",
		GifSize: 10_000_000,
		Mp4Size: 2_000_000,
	}
	assert.NoError(f.cache.Put(ctx, url, cache.Success(item), time.Minute))

	req := f.request(url, false)
	result, err := f.pipeline.Process(ctx, req)
	assert.NoError(err)
	assert.NotNil(result)
	assert.True(result.FromCache)
	assert.Equal(item, result.Item)
	assert.False(req.Tracker.Ended())
}

func TestProcess_NoVideoLocationWithoutUpload(t *testing.T) {
	assert := assert_.New(t)
	ctx := context.Background()

	server := gifServer(t, "10000000", "2000000")
	f := newFixture(passthroughRegistry(), &fakeConverter{}, Config{})

	req := f.request(server.URL+"/a.gif", false)
	result, err := f.pipeline.Process(ctx, req)
	assert.NoError(err)
	assert.Nil(result)

	record := f.record(t)
	assert.Equal(tracker.StatusIgnored, record.Status)
	assert.Equal(tracker.ErrorNoMp4Location, *record.ErrorCode)
	assert.Equal(tracker.DetailNoUpload, *record.ErrorDetail)

	// No-upload outcomes are not cached: another item may allow uploading.
	entry, err := f.cache.Get(ctx, server.URL+"/a.gif")
	assert.NoError(err)
	assert.Nil(entry)
}

func TestProcess_UploadFallback(t *testing.T) {
	assert := assert_.New(t)
	ctx := context.Background()

	server := gifServer(t, "10000000", "2000000")
	converter := &fakeConverter{
		outcome: &transcode.Outcome{
			Name:     "SomeGif",
			URL:      "https://gfycat.com/SomeGif",
			Duration: 3 * time.Second,
		},
		details: &transcode.AssetDetails{
			GifSize:  10_000_000,
			Mp4Size:  2_000_000,
			WebmSize: 1_500_000,
		},
	}
	f := newFixture(passthroughRegistry(), converter, Config{})

	req := f.request(server.URL+"/a.gif", true)
	result, err := f.pipeline.Process(ctx, req)
	assert.NoError(err)
	assert.NotNil(result)
	assert.True(result.Uploaded)
	assert.Equal("https://gfycat.com/SomeGif", result.Item.Mp4Link)
	assert.Equal(int64(2_000_000), result.Item.Mp4Size)
	assert.NotNil(result.Item.WebmSize)
	assert.Equal(int64(1_500_000), *result.Item.WebmSize)
	assert.Equal(1, converter.converts)

	// Uploaded results are cached like any other success.
	entry, err := f.cache.Get(ctx, server.URL+"/a.gif")
	assert.NoError(err)
	assert.False(entry.IsFailure())
}

func TestProcess_UploadFailureNotCached(t *testing.T) {
	assert := assert_.New(t)
	ctx := context.Background()

	server := gifServer(t, "10000000", "2000000")
	converter := &fakeConverter{convertErr: errors.New("service exploded")}
	f := newFixture(passthroughRegistry(), converter, Config{})

	req := f.request(server.URL+"/a.gif", true)
	result, err := f.pipeline.Process(ctx, req)
	assert.NoError(err)
	assert.Nil(result)

	record := f.record(t)
	assert.Equal(tracker.StatusError, record.Status)
	assert.Equal(tracker.ErrorUploadFailed, *record.ErrorCode)

	entry, err := f.cache.Get(ctx, server.URL+"/a.gif")
	assert.NoError(err)
	assert.Nil(entry)
}

func TestProcess_Mp4LengthUnknown(t *testing.T) {
	assert := assert_.New(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.gif":
			w.Header().Set("Content-Type", "image/gif")
			w.Header().Set("Content-Length", "10000000")
		case "/a.mp4":
			w.Header().Set("Content-Type", "video/mp4")
		}
	}))
	defer server.Close()
	f := newFixture(swapRegistry(), &fakeConverter{}, Config{})

	req := f.request(server.URL+"/a.gif", false)
	result, err := f.pipeline.Process(ctx, req)
	assert.NoError(err)
	assert.Nil(result)

	record := f.record(t)
	assert.Equal(tracker.ErrorHeadFailedMp4, *record.ErrorCode)
	assert.Equal(tracker.DetailContentLength, *record.ErrorDetail)
}
