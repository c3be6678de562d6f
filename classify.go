package mp4bot

import "strings"

// ShouldHandle decides whether a URL is a candidate animated-image link worth
// processing. Pure, no I/O. It accepts direct .gif links on any host, plus
// giphy's human-readable gallery pages, which embed a resolvable asset even
// though the URL itself has no image extension.
func ShouldHandle(u *CanonicalURL) bool {
	if u == nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !strings.Contains(u.Hostname(), ".") || u.Path == "" {
		return false
	}
	if strings.HasSuffix(u.Path, ".gif") {
		return true
	}
	if u.RegistrableDomain == "giphy.com" && strings.HasPrefix(u.Path, "/gifs/") && !strings.HasSuffix(u.Path, ".mp4") {
		return true
	}
	return false
}
