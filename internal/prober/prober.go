// Package prober implements a TCP readiness probe: poll a local port
// until it accepts a connection or a deadline passes.
package prober

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/Mubelotix/nginx-hibernator/internal/errs"
)

// Outcome is the result of WaitReady.
type Outcome int

const (
	Ready Outcome = iota
	TimedOut
)

// WaitReady dials 127.0.0.1:port repeatedly, closing the connection
// immediately on success, until either a connection succeeds or deadline
// passes. It sleeps interval between attempts; ctx cancellation ends the
// wait early and is reported as TimedOut (the caller's ctx governs whether
// that means "give up" or "shutting down").
func WaitReady(ctx context.Context, port int, deadline time.Time, interval time.Duration) (Outcome, error) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	for {
		if tryConnect(ctx, addr) {
			return Ready, nil
		}
		now := time.Now()
		if !now.Before(deadline) {
			return TimedOut, &errs.TcpProbeTimeout{Port: port}
		}
		wait := interval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return TimedOut, fmt.Errorf("probe cancelled: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
}

// ProbeOnce attempts a single connect-then-close against 127.0.0.1:port,
// used for boot-time reconciliation (no polling loop).
func ProbeOnce(ctx context.Context, port int) bool {
	return tryConnect(ctx, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
}

// WaitReadyBool adapts WaitReady to the site.Waiter signature the wake
// coordinator expects.
func WaitReadyBool(ctx context.Context, port int, deadline time.Time, interval time.Duration) (bool, error) {
	outcome, err := WaitReady(ctx, port, deadline, interval)
	return outcome == Ready, err
}

func tryConnect(ctx context.Context, addr string) bool {
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
