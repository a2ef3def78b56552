// Package frontproxy implements the intercepting HTTP server that
// classifies requests, consults the site state machine and wake
// coordinator, and either proxies upstream or renders the landing page.
package frontproxy

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Mubelotix/nginx-hibernator/internal/classifier"
	"github.com/Mubelotix/nginx-hibernator/internal/clockutil"
	"github.com/Mubelotix/nginx-hibernator/internal/history"
	"github.com/Mubelotix/nginx-hibernator/internal/logging"
	"github.com/Mubelotix/nginx-hibernator/internal/site"
)

// apiPrefix is where the dashboard API is mounted; everything under it
// bypasses classification entirely.
const apiPrefix = "/hibernator-api/"

// siteEntry bundles a live *site.Site with the precomputed classifier rules
// derived from its immutable config, so the per-request path doesn't
// rebuild an IPMatcher or walk a glob list from scratch.
type siteEntry struct {
	s   *site.Site
	cls classifier.SiteConfig
}

// Handler is the Front Proxy's http.Handler.
type Handler struct {
	byHost map[string]*siteEntry
	byName map[string]*siteEntry
	hist   history.Store
	log    logging.Logger
	api    http.Handler // Dashboard API, may be nil in tests
}

// NewHandler builds a Handler over the given sites.
func NewHandler(sites []*site.Site, hist history.Store, log logging.Logger, api http.Handler) *Handler {
	h := &Handler{
		byHost: make(map[string]*siteEntry),
		byName: make(map[string]*siteEntry),
		hist:   hist,
		log:    log,
		api:    api,
	}
	for _, s := range sites {
		entry := &siteEntry{
			s: s,
			cls: classifier.SiteConfig{
				PathBlacklist: s.Cfg.PathBlacklist,
				IPBlacklist:   classifier.NewIPMatcher(s.Cfg.IPBlacklist),
				IPWhitelist:   classifier.NewIPMatcher(s.Cfg.IPWhitelist),
			},
		}
		h.byName[s.Cfg.Name] = entry
		for _, host := range s.Cfg.Hosts {
			h.byHost[host] = entry
		}
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, apiPrefix) {
		if h.api != nil {
			h.api.ServeHTTP(w, r)
		} else {
			http.NotFound(w, r)
		}
		return
	}

	req := classifier.RequestFromHTTP(r)
	result, siteName, isBrowser := classifier.Classify(req,
		func(host string) (string, bool) {
			e, ok := h.byHost[host]
			if !ok {
				return "", false
			}
			return e.s.Cfg.Name, true
		},
		func(name string) (classifier.SiteConfig, bool) {
			e, ok := h.byName[name]
			if !ok {
				return classifier.SiteConfig{}, false
			}
			return e.cls, true
		},
	)

	switch result {
	case classifier.MissingHost:
		h.reject(w, r, req, http.StatusNotFound, "", "missing_host", false)
		return
	case classifier.UnknownSite:
		h.reject(w, r, req, http.StatusNotFound, "", "unknown_site", false)
		return
	case classifier.InvalidUrl:
		h.reject(w, r, req, http.StatusBadRequest, "", "invalid_url", false)
		return
	case classifier.Ignored:
		h.reject(w, r, req, http.StatusServiceUnavailable, siteName, "ignored", isBrowser)
		return
	}

	entry := h.byName[siteName]
	s := entry.s
	mode := s.Cfg.ProxyMode
	if isBrowser {
		mode = s.Cfg.BrowserProxyMode
	}

	switch mode {
	case site.ModeNever:
		h.recordRequest(req, siteName, "unproxied", isBrowser)
		http.Error(w, "Unproxied", http.StatusServiceUnavailable)

	case site.ModeAlways:
		h.handleAlways(w, r, req, s, isBrowser)

	case site.ModeWhenReady:
		h.handleWhenReady(w, r, req, s, isBrowser)

	default:
		h.recordRequest(req, siteName, "unproxied", isBrowser)
		http.Error(w, "Unproxied", http.StatusServiceUnavailable)
	}
}

func (h *Handler) handleAlways(w http.ResponseWriter, r *http.Request, req classifier.Request, s *site.Site, isBrowser bool) {
	deadline := clockutil.Now().Add(s.Cfg.ProxyTimeout)
	outcome, err := s.EnsureUp(r.Context(), deadline)
	switch outcome {
	case site.Ready:
		h.proxyUpstream(w, r, req, s)
	case site.NotReady:
		if isBrowser {
			h.serveLanding(w, req, s)
		} else {
			h.recordRequest(req, s.Cfg.Name, "proxy_timeout", isBrowser)
			http.Error(w, "ProxyTimeout", http.StatusGatewayTimeout)
		}
	case site.Failed:
		h.log.Warn("ensure_up failed", logging.Site(s.Cfg.Name), logging.Err(err))
		h.recordRequest(req, s.Cfg.Name, "proxy_failed", isBrowser)
		http.Error(w, "ProxyFailed", http.StatusBadGateway)
	}
}

func (h *Handler) handleWhenReady(w http.ResponseWriter, r *http.Request, req classifier.Request, s *site.Site, isBrowser bool) {
	state, _ := s.State()
	if state == site.Up {
		h.proxyUpstream(w, r, req, s)
		return
	}
	s.WakeInBackground(context.Background())
	if isBrowser {
		h.serveLanding(w, req, s)
	} else {
		h.recordRequest(req, s.Cfg.Name, "unproxied", isBrowser)
		http.Error(w, "Unproxied", http.StatusServiceUnavailable)
	}
}

func (h *Handler) proxyUpstream(w http.ResponseWriter, r *http.Request, req classifier.Request, s *site.Site) {
	realIP := req.RealIP()
	var failed bool
	proxy := newBackendProxy(s.Cfg.Port, realIP, func(err error) {
		failed = true
		h.log.Warn("upstream proxy error", logging.Site(s.Cfg.Name), logging.Err(err))
	})
	now := clockutil.Now()
	proxy.ServeHTTP(w, r)

	// Only a successful forwarded exchange counts as activity; a
	// connect/read failure (flagged by the ErrorHandler above) must not
	// reset the idle clock or be recorded as proxy_success.
	if failed {
		h.recordRequest(req, s.Cfg.Name, "proxy_failed", req.IsBrowser())
		return
	}
	s.MarkActivity(now)
	h.recordRequest(req, s.Cfg.Name, "proxy_success", req.IsBrowser())
}

func (h *Handler) serveLanding(w http.ResponseWriter, req classifier.Request, s *site.Site) {
	startedAt, ok := s.StartedAt()
	var elapsed time.Duration
	if ok {
		elapsed = clockutil.Now().Sub(startedAt)
	}
	eta, ok := s.ETA()
	if !ok {
		eta = s.Cfg.StartTimeout
	}
	h.recordRequest(req, s.Cfg.Name, "landing_served", true)
	renderLanding(w, s.Cfg.LandingFolder, elapsed, eta, s.Cfg.KeepAlive)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, req classifier.Request, status int, siteName, result string, isBrowser bool) {
	h.recordRequest(req, siteName, result, isBrowser)
	http.Error(w, http.StatusText(status), status)
}

func (h *Handler) recordRequest(req classifier.Request, siteName, result string, isBrowser bool) {
	if h.hist == nil {
		return
	}
	headers := map[string]string{"User-Agent": req.UserAgent, "Accept": req.Accept}
	_, err := h.hist.AppendRequest(history.RequestRecord{
		At:        clockutil.Now(),
		Method:    req.Method,
		URL:       req.Path,
		Host:      req.Host,
		RealIP:    req.RealIP(),
		Headers:   headers,
		Site:      siteName,
		Result:    result,
		IsBrowser: isBrowser,
	})
	if err != nil {
		h.log.Warn("history append_request failed", logging.Err(err))
	}
}
