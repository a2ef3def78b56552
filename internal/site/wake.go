package site

import (
	"context"
	"time"

	"github.com/Mubelotix/nginx-hibernator/internal/clockutil"
	"github.com/Mubelotix/nginx-hibernator/internal/errs"
	"github.com/Mubelotix/nginx-hibernator/internal/logging"
)

// EnsureUp is the wake coordinator's public contract. It blocks the
// calling goroutine (not the site mutex) until the site reaches UP, the
// starter fails, or deadline passes.
func (s *Site) EnsureUp(ctx context.Context, deadline time.Time) (Outcome, error) {
	now := clockutil.Now()

	s.mu.Lock()
	switch s.state {
	case Up:
		s.lastActivity = now
		s.mu.Unlock()
		return Ready, nil

	case Starting:
		st := s.starter
		s.mu.Unlock()
		return s.wait(ctx, st, deadline), nil

	case Down, Unknown:
		st := &starter{
			generation: nextGeneration(),
			startedAt:  now,
			ready:      make(chan struct{}),
		}
		s.starter = st
		s.state = Starting
		s.stateSince = now
		s.mu.Unlock()

		if s.rec != nil {
			s.rec.RecordStateChange(s.Cfg.Name, Starting, now)
		}

		// Preparatory re-routing happens synchronously so a failure here can
		// still roll back to DOWN before any waiter subscribes to a starter
		// that will never resolve usefully.
		if err := s.proxy.RouteToHibernator(ctx, s.Cfg.Name, s.Cfg.EnabledConfig, s.Cfg.HibernatorConfig); err != nil {
			s.rollbackToDown(st)
			return Failed, err
		}

		go s.runStarter(st)

		return s.wait(ctx, st, deadline), nil

	default:
		s.mu.Unlock()
		return Failed, nil
	}
}

// wait subscribes to a starter's broadcast signal and blocks until it
// fires or deadline passes. It never cancels the starter itself.
func (s *Site) wait(ctx context.Context, st *starter, deadline time.Time) Outcome {
	select {
	case <-st.ready:
		if st.failed {
			return Failed
		}
		return Ready
	case <-time.After(time.Until(deadline)):
		return NotReady
	case <-ctx.Done():
		return NotReady
	}
}

// runStarter drives a single DOWN→STARTING→{UP,DOWN} cycle. It must not
// hold s.mu across any blocking I/O: the site lock is only taken to
// read/commit state.
func (s *Site) runStarter(st *starter) {
	if wait := s.cooldownRemaining(); wait > 0 {
		time.Sleep(wait)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Cfg.StartTimeout)
	defer cancel()

	s.mu.Lock()
	s.lastStartAttempt = clockutil.Now()
	s.mu.Unlock()

	if err := s.svc.Start(ctx, s.Cfg.ServiceUnitName); err != nil {
		s.log.Warn("service start failed", logging.Err(err))
		s.rollbackToDown(st)
		return
	}

	deadline := st.startedAt.Add(s.Cfg.StartTimeout)
	okReady, err := s.waiter(ctx, s.Cfg.Port, deadline, s.Cfg.StartCheckInterval)
	if err != nil || !okReady {
		if err == nil {
			err = &errs.TcpProbeTimeout{Port: s.Cfg.Port}
		}
		s.log.Warn("readiness probe did not succeed", logging.Err(err))
		s.rollbackToDown(st)
		return
	}

	now := clockutil.Now()
	if rerr := s.proxy.RouteToBackend(ctx, s.Cfg.Name, s.Cfg.EnabledConfig, s.Cfg.AvailableConfig); rerr != nil {
		s.log.Warn("route to backend failed after successful probe", logging.Err(rerr))
		s.rollbackToDown(st)
		return
	}

	s.mu.Lock()
	s.recordSample(now.Sub(st.startedAt))
	s.state = Up
	s.stateSince = now
	s.lastActivity = now
	s.starter = nil
	s.mu.Unlock()

	close(st.ready)

	if s.rec != nil {
		s.rec.RecordStateChange(s.Cfg.Name, Up, now)
	}
	s.log.Info("site woke up", logging.Dur("elapsed", now.Sub(st.startedAt)))
}

// rollbackToDown resolves a failed starter: routes back to hibernator
// (best-effort; a failure here is logged, not escalated further since the
// cycle already failed), commits DOWN, and signals every waiter as Failed.
func (s *Site) rollbackToDown(st *starter) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.proxy.RouteToHibernator(ctx, s.Cfg.Name, s.Cfg.EnabledConfig, s.Cfg.HibernatorConfig); err != nil {
		s.log.Warn("rollback route_to_hibernator failed", logging.Err(err))
	}

	now := clockutil.Now()
	s.mu.Lock()
	st.failed = true
	s.state = Down
	s.stateSince = now
	s.starter = nil
	s.mu.Unlock()

	close(st.ready)

	if s.rec != nil {
		s.rec.RecordStateChange(s.Cfg.Name, Down, now)
	}
}

// cooldownRemaining returns how long runStarter should wait before issuing
// service.start, enforcing the configured restart cooldown.
func (s *Site) cooldownRemaining() time.Duration {
	if s.Cfg.RestartCooldown <= 0 {
		return 0
	}
	s.mu.Lock()
	last := s.lastStartAttempt
	s.mu.Unlock()
	if last.IsZero() {
		return 0
	}
	elapsed := clockutil.Now().Sub(last)
	if elapsed >= s.Cfg.RestartCooldown {
		return 0
	}
	return s.Cfg.RestartCooldown - elapsed
}

// WakeInBackground triggers a DOWN→STARTING cycle without waiting for it,
// used by when_ready mode, which renders the landing page immediately. It
// is a fire-and-forget EnsureUp on its own goroutine with a deadline of
// now + start_timeout; the caller never waits on it, and the starter runs
// to completion regardless.
func (s *Site) WakeInBackground(ctx context.Context) {
	go func() {
		_, _ = s.EnsureUp(ctx, clockutil.Now().Add(s.Cfg.StartTimeout))
	}()
}
