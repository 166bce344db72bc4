package sessionstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	sess := Session{ID: "s1", UserID: "u@x.com", ProtocolVersion: "2025-06-18", CreatedAt: time.Now()}
	if err := s.Put(ctx, sess); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "u@x.com" {
		t.Errorf("UserID = %q", got.UserID)
	}

	if err := s.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	if err := s.Put(ctx, Session{ID: "s1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := s.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after expiry", err)
	}
}

func TestMemoryStoreSlidingExpiry(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	if err := s.Put(ctx, Session{ID: "s1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Touch the session just before expiry, then verify the TTL slid forward.
	now = now.Add(50 * time.Second)
	if _, err := s.Get(ctx, "s1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	now = now.Add(50 * time.Second)
	if _, err := s.Get(ctx, "s1"); err != nil {
		t.Errorf("Get after sliding refresh: %v", err)
	}
}
