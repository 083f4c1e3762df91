package session

import (
	"context"
	"testing"
	"time"

	"github.com/opsco-dev/termcopilot/internal/apperr"
)

func newTestRegistry(t *testing.T) (*Registry, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRegistry(ctx, "/bin/sh", []string{"-c", "cat"}, nil)
	return r, cancel
}

func TestCreateThenEndLeavesRegistryEmpty(t *testing.T) {
	r, cancel := newTestRegistry(t)
	defer cancel()

	before := r.Count()

	s, err := r.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := r.Get(s.ID); !ok {
		t.Fatal("expected to find just-created session")
	}

	if err := r.End(s.ID); err != nil {
		t.Fatalf("end: %v", err)
	}

	if got := r.Count(); got != before {
		t.Fatalf("expected registry size %d, got %d", before, got)
	}
	if _, ok := r.Get(s.ID); ok {
		t.Fatal("expected session to be gone after end")
	}
}

func TestRepeatedEndReportsSessionNotFound(t *testing.T) {
	r, cancel := newTestRegistry(t)
	defer cancel()

	s, err := r.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.End(s.ID); err != nil {
		t.Fatalf("first end: %v", err)
	}

	err = r.End(s.ID)
	if apperr.KindOf(err) != apperr.KindSessionNotFound {
		t.Fatalf("expected session-not-found, got %v", err)
	}
}

func TestEndClosesPTYWithinBoundedInterval(t *testing.T) {
	r, cancel := newTestRegistry(t)
	defer cancel()

	s, err := r.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.End(s.ID); err != nil {
		t.Fatalf("end: %v", err)
	}

	select {
	case <-s.PTY.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected pty to exit within 2s of session end")
	}
}

func TestEndIsIdempotentOnTheSessionItself(t *testing.T) {
	r, cancel := newTestRegistry(t)
	defer cancel()

	s, err := r.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	s.End()
	s.End()

	if !s.Ended() {
		t.Fatal("expected session to report ended")
	}
}

func TestCreatedSessionHasNoSSHShell(t *testing.T) {
	r, cancel := newTestRegistry(t)
	defer cancel()

	s, err := r.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer r.End(s.ID)

	if s.SSH() != nil {
		t.Fatal("expected no ssh shell on a freshly created session")
	}
}
