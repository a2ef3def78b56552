// Package classifier implements hostname lookup, real-IP extraction,
// blacklist/whitelist checks, and the browser/non-browser heuristic that
// decide how an incoming request should be routed.
package classifier

import (
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Result is one of the classifier's outcomes, named after the glossary's
// ConnectionResult list. The first four are terminal rejections; the first
// three carry no associated site, while Ignored still reports the site it
// matched. Accepted means a site was found and the request may proceed.
type Result string

const (
	MissingHost Result = "missing_host"
	UnknownSite Result = "unknown_site"
	InvalidUrl  Result = "invalid_url"
	Ignored     Result = "ignored"
	Accepted    Result = "accepted"
)

// browserTokens are the User-Agent substrings that mark a request as coming
// from an interactive browser.
var browserTokens = []string{"Mozilla", "Chrome", "Safari", "Firefox", "Edge", "Opera"}

// Request is the subset of an incoming HTTP request the classifier needs,
// kept separate from *http.Request so it is trivial to construct in tests.
type Request struct {
	Method    string
	Path      string
	RawQuery  string
	Host      string
	RemoteIP  string // TCP peer address, no port
	XRealIP   string
	XForwardedFor string
	UserAgent string
	Accept    string
}

// RequestFromHTTP extracts a Request from a standard *http.Request.
func RequestFromHTTP(r *http.Request) Request {
	return Request{
		Method:        r.Method,
		Path:          r.URL.Path,
		RawQuery:      r.URL.RawQuery,
		Host:          r.Host,
		RemoteIP:      stripPort(r.RemoteAddr),
		XRealIP:       strings.TrimSpace(r.Header.Get("X-Real-IP")),
		XForwardedFor: r.Header.Get("X-Forwarded-For"),
		UserAgent:     r.Header.Get("User-Agent"),
		Accept:        r.Header.Get("Accept"),
	}
}

// RealIP resolves the real client IP: X-Real-IP, then the leftmost entry
// of X-Forwarded-For, falling back to the TCP peer.
func (req Request) RealIP() string {
	if req.XRealIP != "" {
		return req.XRealIP
	}
	if first := firstForwardedFor(req.XForwardedFor); first != "" {
		return first
	}
	return req.RemoteIP
}

// IsBrowser reports whether the request looks like it came from an
// interactive browser rather than a script, health check, or API client.
func (req Request) IsBrowser() bool {
	if strings.Contains(req.Accept, "text/html") {
		return true
	}
	ua := req.UserAgent
	for _, tok := range browserTokens {
		if strings.Contains(ua, tok) {
			return true
		}
	}
	return false
}

// SiteLookup resolves a lowercase-normalized Host header to a site name.
type SiteLookup func(host string) (siteName string, ok bool)

// SiteConfig is the subset of a site's config the classifier consults for
// per-site rejection rules.
type SiteConfig struct {
	PathBlacklist []string
	IPBlacklist   *IPMatcher
	IPWhitelist   *IPMatcher
}

// SiteConfigLookup resolves a site name to the rules needed to finish
// classification.
type SiteConfigLookup func(siteName string) (SiteConfig, bool)

// Classify runs the full decision chain. siteName is empty unless the
// result is Accepted (or Ignored, where a site was found but rejected).
func Classify(req Request, lookupSite SiteLookup, lookupCfg SiteConfigLookup) (result Result, siteName string, isBrowser bool) {
	host := normalizeHost(req.Host)
	if host == "" {
		return MissingHost, "", false
	}

	name, ok := lookupSite(host)
	if !ok {
		return UnknownSite, "", false
	}

	if !validURL(req.Path, req.RawQuery) {
		return InvalidUrl, "", false
	}

	cfg, ok := lookupCfg(name)
	if !ok {
		return UnknownSite, "", false
	}

	ip := req.RealIP()
	if cfg.IPBlacklist != nil && cfg.IPBlacklist.Match(ip) {
		return Ignored, name, false
	}
	if cfg.IPWhitelist != nil && !cfg.IPWhitelist.IsEmpty() && !cfg.IPWhitelist.Match(ip) {
		return Ignored, name, false
	}
	for _, glob := range cfg.PathBlacklist {
		if matched, _ := path.Match(glob, req.Path); matched {
			return Ignored, name, false
		}
	}

	return Accepted, name, req.IsBrowser()
}

func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

func validURL(p, rawQuery string) bool {
	if !strings.HasPrefix(p, "/") {
		return false
	}
	u := &url.URL{Path: p, RawQuery: rawQuery}
	_, err := url.ParseRequestURI(u.RequestURI())
	return err == nil
}

func firstForwardedFor(xff string) string {
	xff = strings.TrimSpace(xff)
	if xff == "" {
		return ""
	}
	if i := strings.IndexByte(xff, ','); i >= 0 {
		xff = xff[:i]
	}
	return strings.TrimSpace(xff)
}

func stripPort(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}
