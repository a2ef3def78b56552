package svcctl

import (
	"context"
	"errors"
	"testing"

	"github.com/Mubelotix/nginx-hibernator/internal/errs"
)

func TestStartSucceedsWithZeroExit(t *testing.T) {
	c := New("true")
	if err := c.Start(context.Background(), "unit"); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestStartFailsWithNonZeroExit(t *testing.T) {
	c := New("false")
	err := c.Start(context.Background(), "unit")
	if err == nil {
		t.Fatalf("expected an error")
	}
	var smErr *errs.ServiceManagerError
	if !errors.As(err, &smErr) {
		t.Fatalf("expected *errs.ServiceManagerError, got %T", err)
	}
	if smErr.Op != "start" || smErr.Unit != "unit" {
		t.Fatalf("got op=%q unit=%q", smErr.Op, smErr.Unit)
	}
}

func TestIsActiveTrueOnZeroExit(t *testing.T) {
	c := New("true")
	if !c.IsActive(context.Background(), "unit") {
		t.Fatalf("expected IsActive=true")
	}
}

func TestIsActiveFalseOnNonZeroExit(t *testing.T) {
	c := New("false")
	if c.IsActive(context.Background(), "unit") {
		t.Fatalf("expected IsActive=false")
	}
}

func TestNewDefaultsEmptyManagerToSystemctl(t *testing.T) {
	c := New("")
	if c.manager != "systemctl" {
		t.Fatalf("got manager %q, want systemctl", c.manager)
	}
}
