package dircache

import (
	"context"
	"testing"
	"time"

	"clinicbook/backend/internal/domain"
	"clinicbook/backend/internal/store"
)

type countingDirectory struct {
	calls int
	p     domain.Practitioner
	err   error
}

func (d *countingDirectory) Get(ctx context.Context, id string) (domain.Practitioner, error) {
	d.calls++
	if d.err != nil {
		return domain.Practitioner{}, d.err
	}
	return d.p, nil
}

func TestGet_CachesHits(t *testing.T) {
	inner := &countingDirectory{p: domain.Practitioner{ID: "dr-1", StartMinute: 540, EndMinute: 1020}}
	dir := New(inner, 8, time.Minute)

	for i := 0; i < 3; i++ {
		p, err := dir.Get(context.Background(), "dr-1")
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if p.ID != "dr-1" {
			t.Fatalf("id = %q", p.ID)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("inner calls = %d, want 1", inner.calls)
	}
}

func TestGet_DoesNotCacheMisses(t *testing.T) {
	inner := &countingDirectory{err: store.ErrNotFound}
	dir := New(inner, 8, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := dir.Get(context.Background(), "dr-x"); err != store.ErrNotFound {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	}
	if inner.calls != 2 {
		t.Fatalf("inner calls = %d, want 2 (misses must not be cached)", inner.calls)
	}

	// The practitioner shows up; the next read sees it immediately.
	inner.err = nil
	inner.p = domain.Practitioner{ID: "dr-x"}
	p, err := dir.Get(context.Background(), "dr-x")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if p.ID != "dr-x" {
		t.Fatalf("id = %q", p.ID)
	}
}

func TestInvalidate_DropsEntry(t *testing.T) {
	inner := &countingDirectory{p: domain.Practitioner{ID: "dr-1"}}
	dir := New(inner, 8, time.Minute)

	if _, err := dir.Get(context.Background(), "dr-1"); err != nil {
		t.Fatalf("Get error: %v", err)
	}
	dir.Invalidate("dr-1")
	if _, err := dir.Get(context.Background(), "dr-1"); err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("inner calls = %d, want 2 after invalidation", inner.calls)
	}
}
