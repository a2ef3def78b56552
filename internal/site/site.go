// Package site implements the per-site state machine and wake coordinator:
// the core lifecycle engine the rest of the daemon is built around.
package site

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Mubelotix/nginx-hibernator/internal/clockutil"
	"github.com/Mubelotix/nginx-hibernator/internal/logging"
	"github.com/Mubelotix/nginx-hibernator/internal/proxycfg"
	"github.com/Mubelotix/nginx-hibernator/internal/svcctl"
)

// ProxyMode controls how a request of a given browser/non-browser class is
// treated while the site is not UP.
type ProxyMode string

const (
	ModeAlways     ProxyMode = "always"
	ModeWhenReady  ProxyMode = "when_ready"
	ModeNever      ProxyMode = "never"
)

// Config is the immutable per-site configuration.
type Config struct {
	Name               string
	Hosts              []string
	Port               int
	AccessLogPath      string
	AccessLogFilter    string
	ServiceUnitName    string
	AvailableConfig    string
	EnabledConfig      string
	HibernatorConfig   string
	KeepAlive          time.Duration
	ProxyMode          ProxyMode
	BrowserProxyMode   ProxyMode
	ProxyTimeout       time.Duration
	ProxyCheckInterval time.Duration
	StartTimeout       time.Duration
	StartCheckInterval time.Duration
	PathBlacklist      []string
	IPBlacklist        []string
	IPWhitelist        []string
	EtaSampleSize      int
	EtaPercentile      float64
	LandingFolder      string
	RestartCooldown    time.Duration
}

// Recorder receives state-transition events for persistence. Defined here,
// not in the history package, to avoid an import cycle: site must not
// depend on how history is persisted.
type Recorder interface {
	RecordStateChange(site string, newState State, at time.Time)
}

// starter is the value installed while state == Starting. Waiters hold only
// a reference to it (no back-pointer to the Site), so it can't form a
// reference cycle with the Site it belongs to.
type starter struct {
	generation uint64
	startedAt  time.Time
	ready      chan struct{} // closed exactly once, when the cycle resolves
	failed     bool
}

// Site owns one site's runtime record and the mutex guarding it.
type Site struct {
	Cfg Config

	svc     *svcctl.Controller
	proxy   *proxycfg.Switcher
	log     logging.Logger
	rec     Recorder
	waiter  func(ctx context.Context, port int, deadline time.Time, interval time.Duration) (bool, error)

	mu                 sync.Mutex
	state              State
	stateSince         time.Time
	lastActivity       time.Time
	startSamples       []time.Duration
	sampleHead         int
	starter            *starter
	lastStartAttempt   time.Time
	totalHibernations  int64
}

// Waiter abstracts the TCP readiness prober so tests can substitute a fake
// without opening real sockets; production wiring passes prober.WaitReadyBool.
type Waiter func(ctx context.Context, port int, deadline time.Time, interval time.Duration) (bool, error)

// New constructs a Site in state Unknown; call Reconcile before serving
// traffic to establish its real starting state.
func New(cfg Config, svc *svcctl.Controller, proxy *proxycfg.Switcher, log logging.Logger, rec Recorder, wait Waiter) *Site {
	if cfg.EtaSampleSize <= 0 {
		cfg.EtaSampleSize = 100
	}
	return &Site{
		Cfg:    cfg,
		svc:    svc,
		proxy:  proxy,
		log:    log.With(logging.Site(cfg.Name)),
		rec:    rec,
		waiter: wait,
		state:  Unknown,
	}
}

// Reconcile performs the boot-time probe: the site starts UP iff its port
// is already connectable, DOWN otherwise. Run once per site before the
// front proxy accepts any connection.
func (s *Site) Reconcile(ctx context.Context, probeOnce func(ctx context.Context, port int) bool) error {
	up := probeOnce(ctx, s.Cfg.Port)
	now := clockutil.Now()

	s.mu.Lock()
	if up {
		s.state = Up
		s.stateSince = now
		s.lastActivity = now
	} else {
		s.state = Down
		s.stateSince = now
	}
	s.mu.Unlock()

	if s.rec != nil {
		s.rec.RecordStateChange(s.Cfg.Name, s.state, now)
	}

	if !up {
		return s.proxy.RouteToHibernator(ctx, s.Cfg.Name, s.Cfg.EnabledConfig, s.Cfg.HibernatorConfig)
	}
	return s.proxy.RouteToBackend(ctx, s.Cfg.Name, s.Cfg.EnabledConfig, s.Cfg.AvailableConfig)
}

// State returns the current state without side effects (used by when_ready
// mode to peek, and by the dashboard's /services listing).
func (s *Site) State() (State, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.stateSince
}

// MarkActivity updates last_activity to now if now is later, keeping the
// value monotonic-non-decreasing. Used by a successfully proxied request
// and, through ObserveLogActivity, by the hibernation loop's access-log sweep.
func (s *Site) MarkActivity(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.mu.Unlock()
}

// LastActivity returns the current last_activity value.
func (s *Site) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// ObserveLogActivity folds in an access-log-derived timestamp:
// last_activity = max(last_activity, observed).
func (s *Site) ObserveLogActivity(observed time.Time) {
	s.MarkActivity(observed)
}

// TotalHibernations returns the in-memory hibernation counter.
func (s *Site) TotalHibernations() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalHibernations
}

// recordSample appends a completed start duration to the bounded ring.
func (s *Site) recordSample(d time.Duration) {
	if s.startSamples == nil {
		s.startSamples = make([]time.Duration, 0, s.Cfg.EtaSampleSize)
	}
	if len(s.startSamples) < s.Cfg.EtaSampleSize {
		s.startSamples = append(s.startSamples, d)
	} else {
		s.startSamples[s.sampleHead] = d
		s.sampleHead = (s.sampleHead + 1) % s.Cfg.EtaSampleSize
	}
}

// ETA computes the configured percentile ETA over the current sample ring.
// ok is false when fewer than two samples exist ("ETA unknown").
func (s *Site) ETA() (eta time.Duration, ok bool) {
	s.mu.Lock()
	samples := make([]time.Duration, len(s.startSamples))
	copy(samples, s.startSamples)
	pct := s.Cfg.EtaPercentile
	s.mu.Unlock()

	if len(samples) < 2 {
		return 0, false
	}
	values := make([]float64, len(samples))
	for i, d := range samples {
		values[i] = float64(d)
	}
	return time.Duration(percentile(values, pct/100)), true
}

// percentile performs linear interpolation between neighboring order
// statistics, the standard nearest-rank-with-interpolation estimator used
// for ETA/latency percentiles.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if q <= 0 {
		return minOf(values)
	}
	if q >= 1 {
		return maxOf(values)
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	weight := pos - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

func minOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

// StartedAt returns the monotonic instant of the current STARTING cycle, if
// any, for computing "elapsed since start" on the landing page.
func (s *Site) StartedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.starter == nil {
		return time.Time{}, false
	}
	return s.starter.startedAt, true
}

// CheckHibernate implements the hibernation loop's per-tick UP→DOWN
// transition guard. Returns true if it transitioned.
func (s *Site) CheckHibernate(ctx context.Context) (bool, error) {
	now := clockutil.Now()

	s.mu.Lock()
	if s.state != Up {
		s.mu.Unlock()
		return false, nil
	}
	idle := now.Sub(s.lastActivity)
	if idle < s.Cfg.KeepAlive {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	if err := s.proxy.RouteToHibernator(ctx, s.Cfg.Name, s.Cfg.EnabledConfig, s.Cfg.HibernatorConfig); err != nil {
		return false, err
	}
	_ = s.svc.Stop(ctx, s.Cfg.ServiceUnitName)

	s.mu.Lock()
	// Re-check under lock: another path (a fresh wake) may have raced us
	// between the unlocked proxy/service calls and here.
	if s.state != Up || now.Sub(s.lastActivity) < s.Cfg.KeepAlive {
		s.mu.Unlock()
		return false, nil
	}
	s.state = Down
	s.stateSince = now
	s.totalHibernations++
	s.mu.Unlock()

	if s.rec != nil {
		s.rec.RecordStateChange(s.Cfg.Name, Down, now)
	}
	s.log.Info("site hibernated", logging.Dur("idle_for", idle))
	return true, nil
}
