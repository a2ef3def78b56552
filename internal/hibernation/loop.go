// Package hibernation implements the background ticker that folds
// access-log activity into each UP site and triggers the
// keep_alive-driven UP→DOWN transition.
package hibernation

import (
	"context"
	"time"

	"github.com/Mubelotix/nginx-hibernator/internal/logging"
	"github.com/Mubelotix/nginx-hibernator/internal/site"
)

// tickInterval is the loop's polling period. A site only actually transitions
// once its keep_alive has elapsed, so the one-second resolution here just
// bounds how late a hibernation can fire relative to its deadline.
const tickInterval = time.Second

// LogReader abstracts the access-log tailer so tests can substitute a fake
// without touching the filesystem.
type LogReader func(path, filter string) (t time.Time, ok bool, err error)

// Loop owns the background goroutine. Stop blocks until it exits.
type Loop struct {
	sites []*site.Site
	read  LogReader
	log   logging.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Loop over the given live sites.
func New(sites []*site.Site, read LogReader, log logging.Logger) *Loop {
	return &Loop{sites: sites, read: read, log: log}
}

// Start launches the ticker goroutine.
func (l *Loop) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)

		l.tick(ctx)

		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for its goroutine to exit.
func (l *Loop) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
}

// tick runs one pass over every site: fold in access-log activity, then
// check whether it's time to hibernate.
func (l *Loop) tick(ctx context.Context) {
	for _, s := range l.sites {
		cfg := s.Cfg
		// Log activity only moves last_activity for sites that are currently
		// UP; a DOWN site's last_activity is reset on its next wake.
		if state, _ := s.State(); cfg.AccessLogPath != "" && state == site.Up {
			if observed, ok, err := l.read(cfg.AccessLogPath, cfg.AccessLogFilter); err != nil {
				l.log.Warn("access log read failed", logging.Site(cfg.Name), logging.Err(err))
			} else if ok {
				s.ObserveLogActivity(observed)
			}
		}

		if _, err := s.CheckHibernate(ctx); err != nil {
			l.log.Warn("hibernate check failed", logging.Site(cfg.Name), logging.Err(err))
		}
	}
}
