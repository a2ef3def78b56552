package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Mubelotix/nginx-hibernator/internal/history"
	"github.com/Mubelotix/nginx-hibernator/internal/logging"
	"github.com/Mubelotix/nginx-hibernator/internal/site"
)

type fakeRegistry struct {
	sites  []*site.Site
	byName map[string]*site.Site
}

func (f *fakeRegistry) Sites() []*site.Site { return f.sites }
func (f *fakeRegistry) Site(name string) (*site.Site, bool) {
	s, ok := f.byName[name]
	return s, ok
}

type fakeStore struct {
	reqs   []history.RequestRecord
	states []history.StateRecord
}

func (f *fakeStore) Close() error { return nil }
func (f *fakeStore) AppendRequest(rec history.RequestRecord) (uint64, error) {
	f.reqs = append(f.reqs, rec)
	return uint64(len(f.reqs)), nil
}
func (f *fakeStore) AppendState(rec history.StateRecord) (uint64, error) {
	f.states = append(f.states, rec)
	return uint64(len(f.states)), nil
}
func (f *fakeStore) HistoryRange(q history.RangeQuery) ([]history.RequestRecord, error) {
	return f.reqs, nil
}
func (f *fakeStore) StateHistoryRange(siteName string, q history.RangeQuery) ([]history.StateRecord, error) {
	return f.states, nil
}
func (f *fakeStore) Metrics(siteName string, windowSecs int64, eta func() (time.Duration, bool), totalHibernations int64) (history.Metrics, error) {
	return history.Metrics{UptimePercentage: 42.5, TotalHibernations: totalHibernations}, nil
}

func TestAuthRejectsMissingKey(t *testing.T) {
	reg := &fakeRegistry{byName: map[string]*site.Site{}}
	hash := sha256.Sum256([]byte("secret"))
	r := NewRouter(reg, &fakeStore{}, hex.EncodeToString(hash[:]), logging.New("error", true))

	req := httptest.NewRequest(http.MethodGet, "/hibernator-api/services", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", w.Code)
	}
}

func TestAuthAcceptsCorrectKey(t *testing.T) {
	reg := &fakeRegistry{byName: map[string]*site.Site{}}
	hash := sha256.Sum256([]byte("secret"))
	r := NewRouter(reg, &fakeStore{}, hex.EncodeToString(hash[:]), logging.New("error", true))

	req := httptest.NewRequest(http.MethodGet, "/hibernator-api/services", nil)
	req.Header.Set("x-api-key", "secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}
}

func TestAuthDisabledWhenNoHashConfigured(t *testing.T) {
	reg := &fakeRegistry{byName: map[string]*site.Site{}}
	r := NewRouter(reg, &fakeStore{}, "", logging.New("error", true))

	req := httptest.NewRequest(http.MethodGet, "/hibernator-api/services", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200 with auth disabled", w.Code)
	}
}

func TestServicesEndpointReturnsSiteList(t *testing.T) {
	reg := &fakeRegistry{byName: map[string]*site.Site{}}
	r := NewRouter(reg, &fakeStore{}, "", logging.New("error", true))

	req := httptest.NewRequest(http.MethodGet, "/hibernator-api/services", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out []ServiceView
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("got %d services, want 0 for an empty registry", len(out))
	}
}

func TestServiceConfigEndpointNotFound(t *testing.T) {
	reg := &fakeRegistry{byName: map[string]*site.Site{}}
	r := NewRouter(reg, &fakeStore{}, "", logging.New("error", true))

	req := httptest.NewRequest(http.MethodGet, "/hibernator-api/services/nope/config", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", w.Code)
	}
}

func TestHistoryEndpointReturnsRecords(t *testing.T) {
	reg := &fakeRegistry{byName: map[string]*site.Site{}}
	store := &fakeStore{reqs: []history.RequestRecord{{At: time.Now(), Method: "GET", URL: "/", Site: "a", Result: "proxy_success"}}}
	r := NewRouter(reg, store, "", logging.New("error", true))

	req := httptest.NewRequest(http.MethodGet, "/hibernator-api/history", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out []RequestView
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(out) != 1 || out[0].Method != "GET" {
		t.Fatalf("got %+v", out)
	}
}
