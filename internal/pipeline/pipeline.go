// Package pipeline drives one link from classification to a resolved video
// equivalent: direct-link normalization, cache lookup, source probing, video
// resolution or transcode upload, and result verification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mp4bot"
	"mp4bot/internal/cache"
	"mp4bot/internal/probe"
	"mp4bot/internal/tracker"
	"mp4bot/internal/transcode"
	"mp4bot/util"
)

const (
	// DefaultGifSizeThreshold is the smallest gif worth replying about.
	DefaultGifSizeThreshold int64 = 2_000_000
	DefaultMp4ProbeAttempts       = 10
)

// Converter is the transcode surface the pipeline needs, satisfied by
// transcode.Transcoder.
type Converter interface {
	Convert(ctx context.Context, req transcode.UploadRequest) (*transcode.Outcome, error)
	Details(ctx context.Context, name string) (*transcode.AssetDetails, error)
}

type Config struct {
	GifSizeThreshold int64
	Mp4ProbeAttempts int
	SuccessTTL       time.Duration
	FailureTTL       time.Duration
}

// A Request is one item's link plus the context needed to resolve it.
type Request struct {
	URL       string
	ItemID    string
	ItemLink  string
	Subreddit string
	NSFW      bool
	// Item gives resolvers access to item-level preview metadata; may be nil
	// for link-only requests.
	Item mp4bot.Item
	// Tracker receives every measurement and the terminal outcome. The
	// pipeline ends it on every path except success, which the caller ends
	// after replying.
	Tracker *tracker.ItemTracker
	// AllowUpload permits falling back to a transcode upload when no
	// pre-existing video equivalent exists.
	AllowUpload bool
}

// A Result is a successful resolution.
type Result struct {
	Item *mp4bot.ResolvedItem
	// Uploaded is set when the video exists because this run transcoded it.
	Uploaded  bool
	FromCache bool
}

type Pipeline struct {
	prober     *probe.Prober
	registry   *mp4bot.ResolverRegistry
	cache      cache.Cache
	transcoder Converter
	config     Config
	inFlight   *keyedMutex
	log        *zap.SugaredLogger
}

func New(prober *probe.Prober, registry *mp4bot.ResolverRegistry, resultCache cache.Cache, transcoder Converter, config Config) *Pipeline {
	if config.GifSizeThreshold <= 0 {
		config.GifSizeThreshold = DefaultGifSizeThreshold
	}
	if config.Mp4ProbeAttempts <= 0 {
		config.Mp4ProbeAttempts = DefaultMp4ProbeAttempts
	}
	if config.SuccessTTL <= 0 {
		config.SuccessTTL = cache.DefaultSuccessTTL
	}
	if config.FailureTTL <= 0 {
		config.FailureTTL = cache.DefaultFailureTTL
	}
	return &Pipeline{
		prober:     prober,
		registry:   registry,
		cache:      resultCache,
		transcoder: transcoder,
		config:     config,
		inFlight:   newKeyedMutex(),
		log:        zap.S().Named("pipeline"),
	}
}

// Process resolves one link. A nil Result with nil error is a handled
// terminal outcome (ignored, cached failure, upstream failure); the tracker
// carries the reason and no reply should be posted. On success the tracker
// is left open for the caller to end after replying.
func (p *Pipeline) Process(ctx context.Context, req *Request) (*Result, error) {
	source, err := mp4bot.ParseCanonicalURL(req.URL)
	if err != nil {
		// Classification should have rejected this already.
		p.endIgnored(req, tracker.ErrorUnknown, nil, err.Error())
		return nil, fmt.Errorf("unprocessable link %q: %w", req.URL, err)
	}

	direct, err := p.resolveDirect(ctx, source)
	if err != nil {
		p.endError(ctx, req, tracker.ErrorHeadFailedGif, tracker.Opt(tracker.DetailRedirectFail), err.Error())
		p.cacheFailure(ctx, source.WithoutParams().String())
		return nil, nil
	}

	key := direct.String()
	unlock := p.inFlight.Lock(key)
	defer unlock()

	if result, done := p.checkCache(ctx, req, key); done {
		return result, nil
	}
	if err := p.update(req, tracker.Update{FromCache: tracker.Opt(false)}); err != nil {
		return nil, err
	}
	return p.resolveFresh(ctx, req, direct, key)
}

// resolveDirect normalizes to the direct asset link. When a rule lands on a
// different registrable domain (short-link expansion), routing runs once
// more so the target provider's rules apply.
func (p *Pipeline) resolveDirect(ctx context.Context, source *mp4bot.CanonicalURL) (*mp4bot.CanonicalURL, error) {
	resolver, err := p.registry.Find(source)
	if err != nil {
		return nil, err
	}
	direct, err := resolver.ResolveDirect(ctx, source)
	if err != nil {
		return nil, err
	}
	if direct.RegistrableDomain != source.RegistrableDomain {
		if resolver, err = p.registry.Find(direct); err != nil {
			return nil, err
		}
		if direct, err = resolver.ResolveDirect(ctx, direct); err != nil {
			return nil, err
		}
	}
	return direct, nil
}

// checkCache consults the result cache. A cached failure ends the tracker;
// a cached success returns the stored item with the tracker still open.
func (p *Pipeline) checkCache(ctx context.Context, req *Request, key string) (*Result, bool) {
	entry, err := p.cache.Get(ctx, key)
	if err != nil {
		p.log.Warnw("cache lookup failed", "key", key, "error", err)
		return nil, false
	}
	if entry == nil {
		return nil, false
	}
	if entry.IsFailure() {
		p.endIgnored(req, tracker.ErrorCached, nil, "")
		return nil, true
	}
	if err := p.update(req, tracker.Update{
		FromCache: tracker.Opt(true),
		Mp4Link:   tracker.Opt(entry.Item.Mp4Link),
		GifSize:   tracker.Opt(entry.Item.GifSize),
		Mp4Size:   tracker.Opt(entry.Item.Mp4Size),
	}); err != nil {
		return nil, true
	}
	return &Result{Item: entry.Item, FromCache: true}, true
}

func (p *Pipeline) resolveFresh(ctx context.Context, req *Request, direct *mp4bot.CanonicalURL, key string) (*Result, error) {
	gifSize, ok := p.probeSource(ctx, req, direct, key)
	if !ok {
		return nil, nil
	}

	video, uploaded, ok := p.resolveVideo(ctx, req, direct, key)
	if !ok {
		return nil, nil
	}
	if err := p.update(req, tracker.Update{Mp4Link: tracker.Opt(video.String())}); err != nil {
		return nil, err
	}

	item, ok := p.buildItem(ctx, req, direct, video, gifSize, uploaded, key)
	if !ok {
		return nil, nil
	}

	if err := p.cache.Put(ctx, key, cache.Success(item), p.config.SuccessTTL); err != nil {
		p.log.Warnw("cache write failed", "key", key, "error", err)
	}
	if err := p.update(req, tracker.Update{
		Mp4Size:  tracker.Opt(item.Mp4Size),
		WebmSize: item.WebmSize,
	}); err != nil {
		return nil, err
	}
	return &Result{Item: item, Uploaded: uploaded}, nil
}

// probeSource checks the source asset exists, has the right type, and is big
// enough to bother with. The second return is false when processing ended.
func (p *Pipeline) probeSource(ctx context.Context, req *Request, direct *mp4bot.CanonicalURL, key string) (int64, bool) {
	result, err := p.prober.Probe(ctx, direct.String(), "image/gif", 1)
	if err != nil {
		p.endError(ctx, req, tracker.ErrorHeadFailedGif, probeDetail(err), err.Error())
		p.cacheFailure(ctx, key)
		return 0, false
	}
	gifSize := result.ContentLength
	if err := p.update(req, tracker.Update{GifSize: tracker.Opt(gifSize)}); err != nil {
		return 0, false
	}
	if gifSize != mp4bot.SizeUnknown && gifSize < p.config.GifSizeThreshold {
		p.endIgnored(req, tracker.ErrorGifTooSmall, nil, "")
		p.cacheFailure(ctx, key)
		return 0, false
	}
	return gifSize, true
}

// resolveVideo finds the pre-existing video equivalent, or transcodes one
// when allowed. The third return is false when processing ended.
func (p *Pipeline) resolveVideo(ctx context.Context, req *Request, direct *mp4bot.CanonicalURL, key string) (*mp4bot.CanonicalURL, bool, bool) {
	resolver, err := p.registry.Find(direct)
	if err != nil {
		p.endError(ctx, req, tracker.ErrorHeadFailedMp4, nil, err.Error())
		return nil, false, false
	}
	video, err := resolver.ResolveVideo(ctx, direct, req.Item)
	if err == nil {
		return video, false, true
	}
	if !errors.Is(err, mp4bot.ErrNoVideoLocation) {
		p.endError(ctx, req, tracker.ErrorHeadFailedMp4, tracker.Opt(tracker.DetailConnectionError), err.Error())
		p.cacheFailure(ctx, key)
		return nil, false, false
	}
	if !req.AllowUpload {
		p.endIgnored(req, tracker.ErrorNoMp4Location, tracker.Opt(tracker.DetailNoUpload), "")
		return nil, false, false
	}
	return p.upload(ctx, req, direct)
}

// upload transcodes the source asset into a hosted video. Upload failures
// are never cached: the service hiccuping on one attempt says nothing about
// the link.
func (p *Pipeline) upload(ctx context.Context, req *Request, direct *mp4bot.CanonicalURL) (*mp4bot.CanonicalURL, bool, bool) {
	outcome, err := p.transcoder.Convert(ctx, transcode.UploadRequest{
		FetchURL: direct.String(),
		Title:    "mp4 mirror of " + req.ItemLink,
		NSFW:     req.NSFW,
	})
	if err != nil {
		detail := tracker.DetailServiceError
		if errors.Is(err, transcode.ErrUploadTimeout) {
			detail = tracker.DetailMaxRetryCount
		}
		p.endError(ctx, req, tracker.ErrorUploadFailed, tracker.Opt(detail), err.Error())
		return nil, false, false
	}
	video, err := direct.Rewrite(outcome.URL)
	if err != nil {
		p.endError(ctx, req, tracker.ErrorUploadFailed, nil, err.Error())
		return nil, false, false
	}
	if err := p.update(req, tracker.Update{UploadTime: tracker.Opt(outcome.Duration)}); err != nil {
		return nil, false, false
	}
	return video, true, true
}

// buildItem fills in the result sizes, either from the provider's trusted
// metadata API or by probing the video asset. The second return is false
// when processing ended.
func (p *Pipeline) buildItem(ctx context.Context, req *Request, direct, video *mp4bot.CanonicalURL, gifSize int64, uploaded bool, key string) (*mp4bot.ResolvedItem, bool) {
	item := &mp4bot.ResolvedItem{
		Mp4Link: video.String(),
		GifSize: gifSize,
		Mp4Size: mp4bot.SizeUnknown,
	}

	resolver, err := p.registry.Find(video)
	if err == nil {
		if display := resolver.ResolveDisplay(video); display != nil {
			item.Mp4DisplayLink = display.String()
			if err := p.update(req, tracker.Update{Mp4DisplayLink: tracker.Opt(item.Mp4DisplayLink)}); err != nil {
				return nil, false
			}
		}
	}

	if uploaded || (err == nil && resolver.TrustedMetadata) {
		if ok := p.fillTrustedSizes(ctx, req, video, item); !ok {
			return nil, false
		}
		return item, true
	}

	result, probeErr := p.prober.Probe(ctx, video.String(), "video/mp4", p.config.Mp4ProbeAttempts)
	if probeErr != nil {
		p.endError(ctx, req, tracker.ErrorHeadFailedMp4, probeDetail(probeErr), probeErr.Error())
		p.cacheFailure(ctx, key)
		return nil, false
	}
	if result.ContentLength == mp4bot.SizeUnknown {
		p.endError(ctx, req, tracker.ErrorHeadFailedMp4, tracker.Opt(tracker.DetailContentLength), "")
		p.cacheFailure(ctx, key)
		return nil, false
	}
	item.Mp4Size = result.ContentLength
	return item, true
}

// fillTrustedSizes pulls sizes from the hosting service's metadata API
// instead of probing the asset.
func (p *Pipeline) fillTrustedSizes(ctx context.Context, req *Request, video *mp4bot.CanonicalURL, item *mp4bot.ResolvedItem) bool {
	name, err := util.AssetName(video.URL)
	if err != nil {
		p.endError(ctx, req, tracker.ErrorHeadFailedMp4, nil, err.Error())
		return false
	}
	details, err := p.transcoder.Details(ctx, name)
	if err != nil {
		p.endError(ctx, req, tracker.ErrorHeadFailedMp4, tracker.Opt(tracker.DetailServiceError), err.Error())
		return false
	}
	item.Mp4Size = details.Mp4Size
	if item.GifSize == mp4bot.SizeUnknown && details.GifSize != mp4bot.SizeUnknown {
		item.GifSize = details.GifSize
	}
	if details.WebmSize != mp4bot.SizeUnknown {
		item.WebmSize = &details.WebmSize
	}
	return true
}

func (p *Pipeline) cacheFailure(ctx context.Context, key string) {
	if err := p.cache.Put(ctx, key, cache.KnownFailure(), p.config.FailureTTL); err != nil {
		p.log.Warnw("cache write failed", "key", key, "error", err)
	}
}

func (p *Pipeline) update(req *Request, update tracker.Update) error {
	if err := req.Tracker.UpdateData(update); err != nil {
		p.log.Errorw("tracking update failed", "item_id", req.ItemID, "error", err)
		return err
	}
	return nil
}

func (p *Pipeline) endError(ctx context.Context, req *Request, code tracker.ErrorCode, detail *tracker.ErrorDetail, extra string) {
	update := &tracker.Update{ErrorCode: tracker.Opt(code), ErrorDetail: detail}
	if extra != "" {
		update.ErrorExtra = tracker.Opt(extra)
	}
	if err := req.Tracker.EndTracking(tracker.StatusError, update); err != nil {
		p.log.Errorw("ending tracking failed", "item_id", req.ItemID, "error", err)
	}
}

func (p *Pipeline) endIgnored(req *Request, code tracker.ErrorCode, detail *tracker.ErrorDetail, extra string) {
	update := &tracker.Update{ErrorCode: tracker.Opt(code), ErrorDetail: detail}
	if extra != "" {
		update.ErrorExtra = tracker.Opt(extra)
	}
	if err := req.Tracker.EndTracking(tracker.StatusIgnored, update); err != nil {
		p.log.Errorw("ending tracking failed", "item_id", req.ItemID, "error", err)
	}
}

// probeDetail maps a probe failure to its tracking detail.
func probeDetail(err error) *tracker.ErrorDetail {
	var (
		connErr      *probe.ConnectionError
		statusErr    *probe.StatusError
		typeErr      *probe.TypeMismatchError
		exhaustedErr *probe.RetriesExhaustedError
	)
	switch {
	case errors.As(err, &connErr):
		return tracker.Opt(tracker.DetailConnectionError)
	case errors.As(err, &statusErr):
		return tracker.Opt(tracker.DetailStatusCode)
	case errors.As(err, &typeErr):
		return tracker.Opt(tracker.DetailContentType)
	case errors.As(err, &exhaustedErr):
		return tracker.Opt(tracker.DetailMaxRetryCount)
	}
	return nil
}
