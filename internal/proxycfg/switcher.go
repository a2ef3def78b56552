// Package proxycfg atomically swaps a reverse-proxy "enabled" link between
// a site's backend config and a shared hibernator config, then validates
// and reloads the proxy.
package proxycfg

import (
	"context"
	"os"
	"os/exec"
	"sync"

	"github.com/Mubelotix/nginx-hibernator/internal/errs"
	"github.com/Mubelotix/nginx-hibernator/internal/logging"
)

// Target identifies what the "enabled" link should point at.
type Target int

const (
	TargetBackend Target = iota
	TargetHibernator
)

// Switcher serializes every reload behind one process-wide mutex, since the
// proxy's config tree is a shared critical section.
type Switcher struct {
	proxyBin string // e.g. "nginx"
	mu       sync.Mutex
	log      logging.Logger
}

// New returns a Switcher that validates/reloads via the given proxy binary.
func New(proxyBin string, log logging.Logger) *Switcher {
	if proxyBin == "" {
		proxyBin = "nginx"
	}
	return &Switcher{proxyBin: proxyBin, log: log}
}

// RouteToBackend ensures enabledPath points at backendConfigPath, then
// validates and reloads. Idempotent: a no-op if already pointing there.
func (s *Switcher) RouteToBackend(ctx context.Context, site, enabledPath, backendConfigPath string) error {
	return s.route(ctx, site, "route_to_backend", enabledPath, backendConfigPath)
}

// RouteToHibernator ensures enabledPath points at hibernatorConfigPath,
// then validates and reloads.
func (s *Switcher) RouteToHibernator(ctx context.Context, site, enabledPath, hibernatorConfigPath string) error {
	return s.route(ctx, site, "route_to_hibernator", enabledPath, hibernatorConfigPath)
}

func (s *Switcher) route(ctx context.Context, site, op, enabledPath, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, hadPrevious, err := readLink(enabledPath)
	if err != nil {
		return &errs.ProxyConfigError{Site: site, Op: op, Err: err}
	}
	if hadPrevious && previous == target {
		// Already routed correctly; still worth a no-op success, no reload needed.
		return nil
	}

	if err := swapLink(enabledPath, target); err != nil {
		return &errs.ProxyConfigError{Site: site, Op: op, Err: err}
	}

	if err := s.validate(ctx); err != nil {
		// Roll back before surfacing the failure.
		if hadPrevious {
			_ = swapLink(enabledPath, previous)
		}
		return &errs.ProxyConfigError{Site: site, Op: "validate", Err: err}
	}

	if err := s.reload(ctx); err != nil {
		if hadPrevious {
			_ = swapLink(enabledPath, previous)
		}
		return &errs.ProxyConfigError{Site: site, Op: "reload", Err: err}
	}

	if s.log != nil {
		s.log.Info("reverse proxy config switched", logging.Site(site), logging.String("target", target))
	}
	return nil
}

func readLink(path string) (target string, ok bool, err error) {
	target, err = os.Readlink(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return target, true, nil
}

func swapLink(path, target string) error {
	tmp := path + ".tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Switcher) validate(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.proxyBin, "-t")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errWithOutput(err, out)
	}
	return nil
}

func (s *Switcher) reload(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.proxyBin, "-s", "reload")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errWithOutput(err, out)
	}
	return nil
}

func errWithOutput(err error, out []byte) error {
	if len(out) == 0 {
		return err
	}
	return &outputError{cause: err, output: string(out)}
}

type outputError struct {
	cause  error
	output string
}

func (e *outputError) Error() string { return e.cause.Error() + ": " + e.output }
func (e *outputError) Unwrap() error { return e.cause }
