package mp4bot

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var (
	ErrInvalidURL     = errors.New("not a well-formed absolute http(s) URL")
	ErrURLHasUserinfo = errors.New("URL carries embedded credentials")
)

// A CanonicalURL is a validated absolute http(s) URL together with its
// registrable domain and subdomain, derived once at construction time.
// Two canonicalizations of the same input are always domain-equal.
type CanonicalURL struct {
	*url.URL
	// RegistrableDomain is the eTLD+1 of the hostname ("i.giphy.com" ->
	// "giphy.com"), or the full hostname where no registrable domain can
	// be derived (IP addresses, single-label hosts).
	RegistrableDomain string
	// Subdomain is everything left of the registrable domain, without the
	// trailing dot ("i.giphy.com" -> "i"), or "" if there is none.
	Subdomain string
}

// ParseCanonicalURL validates and canonicalizes a raw URL string. It fails
// with ErrInvalidURL on anything that is not an absolute http(s) URL with a
// hostname, and with ErrURLHasUserinfo on URLs carrying credentials, which
// callers treat as "do not handle" rather than a processing error.
func ParseCanonicalURL(raw string) (*CanonicalURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: empty hostname", ErrInvalidURL)
	}
	if u.User != nil {
		return nil, ErrURLHasUserinfo
	}
	return newCanonicalURL(u), nil
}

// MustParseCanonicalURL wraps ParseCanonicalURL but panics on error. Intended
// for static URLs and tests.
func MustParseCanonicalURL(raw string) *CanonicalURL {
	u, err := ParseCanonicalURL(raw)
	if err != nil {
		panic(err)
	}
	return u
}

func newCanonicalURL(u *url.URL) *CanonicalURL {
	host := strings.ToLower(u.Hostname())
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// No registrable domain (IP address, single-label host, ...);
		// fall back to the hostname so domain routing still has a key.
		domain = host
	}
	subdomain := ""
	if host != domain && strings.HasSuffix(host, "."+domain) {
		subdomain = strings.TrimSuffix(host, "."+domain)
	}
	return &CanonicalURL{
		URL:               u,
		RegistrableDomain: domain,
		Subdomain:         subdomain,
	}
}

// WithoutParams returns a copy with query string and fragment stripped.
// Calling it on a URL that has neither returns an equal URL.
func (c *CanonicalURL) WithoutParams() *CanonicalURL {
	if c.RawQuery == "" && c.Fragment == "" {
		return c
	}
	u := *c.URL
	u.RawQuery = ""
	u.Fragment = ""
	return newCanonicalURL(&u)
}

// Rewrite parses a rewritten URL string into a new CanonicalURL. Resolver
// rules build result URLs as strings; this is the single place they get
// re-validated.
func (c *CanonicalURL) Rewrite(raw string) (*CanonicalURL, error) {
	return ParseCanonicalURL(raw)
}

func (c *CanonicalURL) String() string {
	return c.URL.String()
}
