package hibernation

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Mubelotix/nginx-hibernator/internal/logging"
	"github.com/Mubelotix/nginx-hibernator/internal/proxycfg"
	"github.com/Mubelotix/nginx-hibernator/internal/site"
	"github.com/Mubelotix/nginx-hibernator/internal/svcctl"
)

func newTestSite(t *testing.T, name string) *site.Site {
	t.Helper()
	log := logging.New("error", true)
	svc := svcctl.New("true")
	proxy := proxycfg.New("true", log)

	dir := t.TempDir()
	available := dir + "/available"
	hibernator := dir + "/hibernator"
	enabled := dir + "/enabled"
	if err := os.WriteFile(available, nil, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if err := os.WriteFile(hibernator, nil, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg := site.Config{
		Name:               name,
		Hosts:              []string{name + ".example.com"},
		Port:               18080,
		AccessLogPath:      "/does/not/matter.log",
		ServiceUnitName:    name + ".service",
		AvailableConfig:    available,
		HibernatorConfig:   hibernator,
		EnabledConfig:      enabled,
		KeepAlive:          50 * time.Millisecond,
		ProxyMode:          site.ModeAlways,
		BrowserProxyMode:   site.ModeAlways,
		StartTimeout:       time.Second,
		StartCheckInterval: time.Millisecond,
	}
	wait := func(ctx context.Context, port int, deadline time.Time, interval time.Duration) (bool, error) {
		return true, nil
	}
	s := site.New(cfg, svc, proxy, log, nil, wait)
	if err := s.Reconcile(context.Background(), func(ctx context.Context, port int) bool { return true }); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	return s
}

func TestLoopObservesLogActivityAndHibernates(t *testing.T) {
	s := newTestSite(t, "loop-site")

	callCount := 0
	reader := func(path, filter string) (time.Time, bool, error) {
		callCount++
		return time.Time{}, false, nil
	}

	l := New([]*site.Site{s}, reader, logging.New("error", true))
	l.tick(context.Background())

	if callCount != 1 {
		t.Fatalf("expected one log read, got %d", callCount)
	}

	time.Sleep(80 * time.Millisecond)
	l.tick(context.Background())

	state, _ := s.State()
	if state != site.Down {
		t.Fatalf("expected site to hibernate to Down, got %v", state)
	}
}

func TestLoopSkipsLogReadWhenSiteIsDown(t *testing.T) {
	s := newTestSite(t, "down-site")
	if err := s.Reconcile(context.Background(), func(ctx context.Context, port int) bool { return false }); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if state, _ := s.State(); state != site.Down {
		t.Fatalf("expected site to reconcile Down, got %v", state)
	}

	called := false
	reader := func(path, filter string) (time.Time, bool, error) {
		called = true
		return time.Time{}, false, nil
	}

	l := New([]*site.Site{s}, reader, logging.New("error", true))
	l.tick(context.Background())

	if called {
		t.Fatalf("expected log reader not to be called for a site that is not UP")
	}
}

func TestLoopSkipsLogReadWhenPathEmpty(t *testing.T) {
	s := newTestSite(t, "no-log-site")
	s.Cfg.AccessLogPath = ""

	called := false
	reader := func(path, filter string) (time.Time, bool, error) {
		called = true
		return time.Time{}, false, nil
	}

	l := New([]*site.Site{s}, reader, logging.New("error", true))
	l.tick(context.Background())

	if called {
		t.Fatalf("expected log reader not to be called when AccessLogPath is empty")
	}
}
