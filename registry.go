package mp4bot

import (
	"context"
	"errors"
	"math"
	"sort"

	"mp4bot/generic"
)

var (
	ErrDuplicateResolver = errors.New("duplicate resolver name")
	ErrInvalidResolver   = errors.New("invalid resolver")
	ErrNoMatch           = errors.New("no resolver matched the URL")
	ErrUnknownResolver   = errors.New("unknown resolver")
	// ErrNoVideoLocation means the provider has no pre-existing video
	// equivalent for this asset. A legitimate outcome, not a failure: it
	// triggers the transcode-upload fallback.
	ErrNoVideoLocation = errors.New("no video location available")
)

var (
	PriorityHighest int16 = math.MinInt16
	PriorityDefault int16 = 0
	PriorityLowest  int16 = math.MaxInt16
)

// A Resolver holds the per-provider URL rewriting rules. Matches routes by
// canonicalized URL; the rule funcs are nil where the provider has no rule,
// with nil DirectLink meaning "already a direct asset link" and nil VideoLink
// meaning "no pre-existing video equivalent".
type Resolver struct {
	Name string
	// Priority of the resolver, lower (including negative) means matching earlier.
	Priority int16
	Matches  func(u *CanonicalURL) bool
	// DirectLink rewrites a page or thumbnail URL into the direct asset URL.
	DirectLink func(ctx context.Context, u *CanonicalURL) (*CanonicalURL, error)
	// VideoLink derives a pre-existing video-equivalent URL from the direct
	// asset URL, or fails with ErrNoVideoLocation.
	VideoLink func(ctx context.Context, u *CanonicalURL, item Item) (*CanonicalURL, error)
	// DisplayLink derives a human-friendly mirror of the video URL, or nil.
	DisplayLink func(u *CanonicalURL) *CanonicalURL
	// TrustedMetadata is set when the provider exposes a metadata API that
	// makes probing the result asset unnecessary.
	TrustedMetadata bool
}

func (r Resolver) WithPriority(priority int16) Resolver {
	r.Priority = priority
	return r
}

// ResolveDirect applies the provider's direct-link rule, treating a nil rule
// as passthrough. Query string and fragment are stripped first, so applying
// the rule to an already-direct link is a no-op.
func (r *Resolver) ResolveDirect(ctx context.Context, u *CanonicalURL) (*CanonicalURL, error) {
	u = u.WithoutParams()
	if r.DirectLink == nil {
		return u, nil
	}
	return r.DirectLink(ctx, u)
}

// ResolveVideo applies the provider's video-equivalent rule, treating a nil
// rule as "no video location".
func (r *Resolver) ResolveVideo(ctx context.Context, u *CanonicalURL, item Item) (*CanonicalURL, error) {
	if r.VideoLink == nil {
		return nil, ErrNoVideoLocation
	}
	return r.VideoLink(ctx, u, item)
}

// ResolveDisplay applies the provider's display-link rule, returning nil when
// there is none.
func (r *Resolver) ResolveDisplay(u *CanonicalURL) *CanonicalURL {
	if r.DisplayLink == nil {
		return nil
	}
	return r.DisplayLink(u)
}

// A ResolverRegistry is a priority-ordered collection of Resolver strategies
// which can be matched against canonicalized URLs.
type ResolverRegistry struct {
	resolvers   []*Resolver
	resolverMap map[string]*Resolver
}

// Add registers a Resolver. Resolver.Name and Resolver.Matches must be set,
// and Resolver.Name must be unique within the registry.
func (r *ResolverRegistry) Add(res Resolver) error {
	if r.resolverMap == nil {
		r.resolverMap = make(map[string]*Resolver)
	}
	if res.Name == "" || res.Matches == nil {
		return ErrInvalidResolver
	}
	if _, ok := r.resolverMap[res.Name]; ok {
		return ErrDuplicateResolver
	}
	r.resolverMap[res.Name] = &res
	r.resolvers = append(r.resolvers, r.resolverMap[res.Name])
	r.sortByPriority()
	return nil
}

// MustAdd wraps Add but panics if there is an error.
func (r *ResolverRegistry) MustAdd(res Resolver) {
	generic.Unwrap_(r.Add(res))
}

// Get returns the named resolver, or ErrUnknownResolver.
func (r *ResolverRegistry) Get(name string) (*Resolver, error) {
	if res, ok := r.resolverMap[name]; ok {
		return res, nil
	}
	return nil, ErrUnknownResolver
}

// List returns the names of registered resolvers in priority order.
func (r *ResolverRegistry) List() []string {
	names := make([]string, 0, len(r.resolvers))
	for _, res := range r.resolvers {
		names = append(names, res.Name)
	}
	return names
}

// Find matches a URL against each Resolver in priority order, or returns
// ErrNoMatch.
func (r *ResolverRegistry) Find(u *CanonicalURL) (*Resolver, error) {
	for _, res := range r.resolvers {
		if res.Matches(u) {
			return res, nil
		}
	}
	return nil, ErrNoMatch
}

func (r *ResolverRegistry) sortByPriority() {
	sort.SliceStable(r.resolvers, func(i, j int) bool {
		return r.resolvers[i].Priority < r.resolvers[j].Priority
	})
}
