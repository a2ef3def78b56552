// Package svcctl drives an external service manager (systemctl or
// equivalent) as an opaque subprocess.
package svcctl

import (
	"context"
	"os/exec"
	"strings"

	"github.com/Mubelotix/nginx-hibernator/internal/errs"
)

// Controller invokes "<manager> start|stop|is-active <unit>" and interprets
// the exit code. It holds no per-unit state; callers own any cooldown or
// single-flight guard.
type Controller struct {
	manager string // e.g. "systemctl"
}

// New returns a Controller that shells out to the given manager binary.
func New(manager string) *Controller {
	if manager == "" {
		manager = "systemctl"
	}
	return &Controller{manager: manager}
}

// Start invokes "<manager> start <unit>". A non-zero exit is reported as a
// ServiceManagerError; it does not mean the backend is ready, only that the
// manager accepted the command.
func (c *Controller) Start(ctx context.Context, unit string) error {
	return c.run(ctx, "start", unit)
}

// Stop invokes "<manager> stop <unit>".
func (c *Controller) Stop(ctx context.Context, unit string) error {
	return c.run(ctx, "stop", unit)
}

// IsActive invokes "<manager> is-active <unit>" and reports true iff the
// command exits 0. Any other outcome, including a run error, is "inactive".
func (c *Controller) IsActive(ctx context.Context, unit string) bool {
	err := c.run(ctx, "is-active", unit)
	return err == nil
}

func (c *Controller) run(ctx context.Context, op, unit string) error {
	cmd := exec.CommandContext(ctx, c.manager, op, unit)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &errs.ServiceManagerError{
			Unit: unit,
			Op:   op,
			Err:  wrapOutput(err, out),
		}
	}
	return nil
}

func wrapOutput(err error, out []byte) error {
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return err
	}
	return &exitWithOutput{cause: err, output: trimmed}
}

type exitWithOutput struct {
	cause  error
	output string
}

func (e *exitWithOutput) Error() string { return e.cause.Error() + ": " + e.output }
func (e *exitWithOutput) Unwrap() error { return e.cause }
