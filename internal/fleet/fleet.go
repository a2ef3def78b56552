// Package fleet owns the process-wide site map and wires together every
// other component into a running daemon: config, per-site state machines,
// the front proxy, the hibernation loop, and the dashboard API.
package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mubelotix/nginx-hibernator/internal/api"
	"github.com/Mubelotix/nginx-hibernator/internal/config"
	"github.com/Mubelotix/nginx-hibernator/internal/frontproxy"
	"github.com/Mubelotix/nginx-hibernator/internal/hibernation"
	"github.com/Mubelotix/nginx-hibernator/internal/history"
	historypebble "github.com/Mubelotix/nginx-hibernator/internal/history/pebble"
	"github.com/Mubelotix/nginx-hibernator/internal/logging"
	"github.com/Mubelotix/nginx-hibernator/internal/logtail"
	"github.com/Mubelotix/nginx-hibernator/internal/prober"
	"github.com/Mubelotix/nginx-hibernator/internal/proxycfg"
	"github.com/Mubelotix/nginx-hibernator/internal/site"
	"github.com/Mubelotix/nginx-hibernator/internal/svcctl"
)

// drainGrace bounds how long Stop waits for in-flight front-proxy
// connections to finish; the listener itself is closed at once, and
// connections still open when the grace runs out are not force-closed.
const drainGrace = 15 * time.Second

// Fleet is the top-level object cmd/hibernator constructs and runs.
type Fleet struct {
	cfg *config.Config
	log logging.Logger

	sites  []*site.Site
	byName map[string]*site.Site

	hist  history.Store
	front *frontproxy.Server
	loop  *hibernation.Loop
}

// recorder implements site.Recorder by delegating to the history store.
type recorder struct {
	hist history.Store
	log  logging.Logger
}

func (r *recorder) RecordStateChange(siteName string, newState site.State, at time.Time) {
	if _, err := r.hist.AppendState(history.StateRecord{Site: siteName, State: newState.String(), At: at}); err != nil {
		r.log.Warn("history append_state failed", logging.Site(siteName), logging.Err(err))
	}
}

// New builds every component from cfg but does not yet start anything.
func New(cfg *config.Config, log logging.Logger) (*Fleet, error) {
	hist, err := historypebble.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	rec := &recorder{hist: hist, log: log}
	svc := svcctl.New(cfg.ServiceManager)
	proxy := proxycfg.New(cfg.ReverseProxyCmd, log)

	f := &Fleet{
		cfg:    cfg,
		log:    log,
		byName: make(map[string]*site.Site),
		hist:   hist,
	}

	for _, sc := range cfg.Sites {
		s := site.New(sc, svc, proxy, log, rec, prober.WaitReadyBool)
		f.sites = append(f.sites, s)
		f.byName[sc.Name] = s
	}

	dashboard := api.NewRouter(f, hist, cfg.APIKeySHA256, log)
	handler := frontproxy.NewHandler(f.sites, hist, log, dashboard)
	f.front = frontproxy.NewServer(fmt.Sprintf(":%d", cfg.HibernatorPort), handler, log)
	f.loop = hibernation.New(f.sites, logtail.MostRecentActivity, log)

	return f, nil
}

// Sites implements api.Registry.
func (f *Fleet) Sites() []*site.Site { return f.sites }

// Site implements api.Registry.
func (f *Fleet) Site(name string) (*site.Site, bool) {
	s, ok := f.byName[name]
	return s, ok
}

// Reconcile runs the boot-time probe for every site before the front
// proxy starts accepting connections. Sites are reconciled concurrently
// since each only touches its own state and proxy symlink.
func (f *Fleet) Reconcile(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(f.sites))
	for i, s := range f.sites {
		wg.Add(1)
		go func(i int, s *site.Site) {
			defer wg.Done()
			errs[i] = s.Reconcile(ctx, prober.ProbeOnce)
		}(i, s)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("reconciling site %q: %w", f.sites[i].Cfg.Name, err)
		}
	}
	return nil
}

// Start reconciles every site, then brings up the hibernation loop and the
// front proxy listener. The listener bind error is returned synchronously
// so main can map it to the right exit code.
func (f *Fleet) Start(ctx context.Context) error {
	if err := f.Reconcile(ctx); err != nil {
		return err
	}
	f.loop.Start(ctx)
	if err := f.front.Start(); err != nil {
		f.loop.Stop()
		return err
	}
	return nil
}

// Stop drains the front proxy, stops the hibernation loop, and closes the
// history store, in that order so nothing writes to a closed store.
func (f *Fleet) Stop(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, drainGrace)
	defer cancel()
	if err := f.front.Stop(drainCtx); err != nil {
		f.log.Warn("front proxy shutdown error", logging.Err(err))
	}
	f.loop.Stop()
	return f.hist.Close()
}
