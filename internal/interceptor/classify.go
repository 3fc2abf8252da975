package interceptor

import (
	"net/http"
	"path"
	"strings"
)

// Strategy is the caching strategy applied to one request.
type Strategy int

const (
	// Passthrough requests go to the network untouched.
	Passthrough Strategy = iota
	// CacheFirst serves from the static partition and only fetches on a miss.
	CacheFirst
	// NetworkFirst fetches and falls back to the dynamic partition, then the
	// offline page for navigations.
	NetworkFirst
)

func (s Strategy) String() string {
	switch s {
	case Passthrough:
		return "passthrough"
	case CacheFirst:
		return "cache-first"
	case NetworkFirst:
		return "network-first"
	default:
		return "unknown"
	}
}

var staticExtensions = map[string]bool{
	".js":    true,
	".css":   true,
	".png":   true,
	".jpg":   true,
	".jpeg":  true,
	".svg":   true,
	".gif":   true,
	".webp":  true,
	".woff":  true,
	".woff2": true,
}

// IsStaticAsset reports whether a request path names a script, style, image or font.
func IsStaticAsset(p string) bool {
	return staticExtensions[strings.ToLower(path.Ext(p))]
}

// IsDataEndpoint reports whether responses for the path may be kept in the
// dynamic partition.
func IsDataEndpoint(p string) bool {
	return strings.HasPrefix(p, "/api/products") ||
		strings.HasPrefix(p, "/api/vendors") ||
		strings.Contains(p, "graphql")
}

// IsNavigation reports whether r is a page navigation.
func IsNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// Classify picks the strategy for r. Only GET requests over http or https are
// intercepted.
func Classify(r *http.Request) Strategy {
	if r.Method != http.MethodGet {
		return Passthrough
	}
	if r.URL.Scheme != "" && r.URL.Scheme != "http" && r.URL.Scheme != "https" {
		return Passthrough
	}
	if IsStaticAsset(r.URL.Path) {
		return CacheFirst
	}
	return NetworkFirst
}

// cacheable reports whether a successful network-first response to r is
// stored in the dynamic partition.
func cacheable(r *http.Request) bool {
	return IsNavigation(r) || IsDataEndpoint(r.URL.Path)
}
