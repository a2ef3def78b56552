// Package api implements the dashboard's authenticated JSON endpoints over
// the live site map and the history store's range/metric queries, mounted
// under /hibernator-api/ on the same port as the front proxy.
package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Mubelotix/nginx-hibernator/internal/history"
	"github.com/Mubelotix/nginx-hibernator/internal/logging"
	"github.com/Mubelotix/nginx-hibernator/internal/site"
)

// ServiceView is one entry of GET /services, timestamped in unix seconds to
// match the other dashboard views.
type ServiceView struct {
	Name        string `json:"name"`
	State       string `json:"state"`
	LastChanged int64  `json:"last_changed"`
}

// MetricsView is the JSON shape of GET /services/{name}/metrics.
type MetricsView struct {
	UptimePercentage      float64  `json:"uptime_percentage"`
	TotalHibernations     int64    `json:"total_hibernations"`
	StartTimesHistogram   [5]int64 `json:"start_times_histogram"`
	StartDurationEstimate *int64   `json:"start_duration_estimate_ms"`
}

// RequestView and StateView are the JSON shapes of the /history and
// /state-history streams, timestamped in unix seconds.
type RequestView struct {
	Timestamp int64             `json:"timestamp"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Host      string            `json:"host"`
	RealIP    string            `json:"real_ip"`
	Headers   map[string]string `json:"headers"`
	Site      string            `json:"site"`
	Result    string            `json:"result"`
	IsBrowser bool              `json:"is_browser"`
}

type StateView struct {
	Timestamp int64  `json:"timestamp"`
	Service   string `json:"service"`
	State     string `json:"state"`
}

// Registry is what the Dashboard API needs from the fleet: the live site
// map, keyed by name.
type Registry interface {
	Sites() []*site.Site
	Site(name string) (*site.Site, bool)
}

// NewRouter builds the chi router mounted at /hibernator-api/.
func NewRouter(reg Registry, hist history.Store, apiKeySHA256 string, log logging.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(auth(apiKeySHA256))

	r.Get("/hibernator-api/services", handleServices(reg))
	r.Get("/hibernator-api/services/{name}/config", handleServiceConfig(reg))
	r.Get("/hibernator-api/services/{name}/metrics", handleMetrics(reg, hist))
	r.Get("/hibernator-api/history", handleHistory(hist))
	r.Get("/hibernator-api/state-history", handleStateHistory(hist))

	return r
}

// auth is a constant-time x-api-key check. An empty configured hash
// disables auth entirely.
func auth(apiKeySHA256 string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKeySHA256 == "" {
			return next
		}
		want, err := hex.DecodeString(apiKeySHA256)
		if err != nil {
			// A malformed configured hash can never match; fail closed.
			want = nil
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("x-api-key")
			if got == "" {
				http.Error(w, "missing x-api-key", http.StatusUnauthorized)
				return
			}
			sum := sha256.Sum256([]byte(got))
			if want == nil || subtle.ConstantTimeCompare(sum[:], want) != 1 {
				http.Error(w, "invalid x-api-key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleServices(reg Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sites := reg.Sites()
		out := make([]ServiceView, 0, len(sites))
		for _, s := range sites {
			state, since := s.State()
			out = append(out, ServiceView{Name: s.Cfg.Name, State: state.String(), LastChanged: since.Unix()})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleServiceConfig(reg Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		s, ok := reg.Site(name)
		if !ok {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, s.Cfg)
	}
}

func handleMetrics(reg Registry, hist history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		s, ok := reg.Site(name)
		if !ok {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}

		seconds := int64(86400)
		if raw := r.URL.Query().Get("seconds"); raw != "" {
			if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
				seconds = v
			}
		}

		m, err := hist.Metrics(name, seconds, s.ETA, s.TotalHibernations())
		if err != nil {
			http.Error(w, "fetching metrics: "+err.Error(), http.StatusInternalServerError)
			return
		}

		view := MetricsView{
			UptimePercentage:    m.UptimePercentage,
			TotalHibernations:   m.TotalHibernations,
			StartTimesHistogram: m.StartTimesHistogram,
		}
		if m.StartDurationEstimate != nil {
			ms := m.StartDurationEstimate.Milliseconds()
			view.StartDurationEstimate = &ms
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleHistory(hist history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := parseRangeQuery(r)
		recs, err := hist.HistoryRange(q)
		if err != nil {
			http.Error(w, "fetching history: "+err.Error(), http.StatusInternalServerError)
			return
		}
		out := make([]RequestView, 0, len(recs))
		for _, rec := range recs {
			out = append(out, RequestView{
				Timestamp: rec.At.Unix(),
				Method:    rec.Method,
				URL:       rec.URL,
				Host:      rec.Host,
				RealIP:    rec.RealIP,
				Headers:   rec.Headers,
				Site:      rec.Site,
				Result:    rec.Result,
				IsBrowser: rec.IsBrowser,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleStateHistory(hist history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := parseRangeQuery(r)
		service := r.URL.Query().Get("service")
		recs, err := hist.StateHistoryRange(service, q)
		if err != nil {
			http.Error(w, "fetching state history: "+err.Error(), http.StatusInternalServerError)
			return
		}
		out := make([]StateView, 0, len(recs))
		for _, rec := range recs {
			out = append(out, StateView{Timestamp: rec.At.Unix(), Service: rec.Site, State: rec.State})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// parseRangeQuery reads before/after as unix seconds.
func parseRangeQuery(r *http.Request) history.RangeQuery {
	var q history.RangeQuery
	if raw := r.URL.Query().Get("before"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			q.Before = time.Unix(v, 0)
		}
	}
	if raw := r.URL.Query().Get("after"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			q.After = time.Unix(v, 0)
		}
	}
	return q
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
