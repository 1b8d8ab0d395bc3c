package locks

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/ebrland/orchestrator/internal/errors"
	"github.com/ebrland/orchestrator/pkg/store/memstore"
)

func TestSendLocks_RejectsConcurrentHolder(t *testing.T) {
	s := memstore.New()
	locks := NewSendLocks(s)
	ctx := context.Background()

	if err := locks.Acquire(ctx, 1, "worker-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := locks.Acquire(ctx, 1, "worker-b")
	if err == nil || !apperrors.IsType(err, apperrors.ErrorTypeLockHeld) {
		t.Fatalf("expected lock-held error, got %v", err)
	}
}

func TestSendLocks_WithLockReleasesOnSuccess(t *testing.T) {
	s := memstore.New()
	locks := NewSendLocks(s)
	ctx := context.Background()

	err := locks.WithLock(ctx, 1, "worker-a", func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := locks.Acquire(ctx, 1, "worker-b"); err != nil {
		t.Fatalf("expected lock free after release, got %v", err)
	}
}

func TestSendLocks_WithLockReleasesOnFailure(t *testing.T) {
	s := memstore.New()
	locks := NewSendLocks(s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := locks.WithLock(ctx, 1, "worker-a", func(ctx context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped failure, got %v", err)
	}
	if err := locks.Acquire(ctx, 1, "worker-b"); err != nil {
		t.Fatalf("expected lock released after failing body, got %v", err)
	}
}

func TestSchedulerLocks_ReentrantForSameHolder(t *testing.T) {
	s := memstore.New()
	locks := NewSchedulerLocks(s)
	ctx := context.Background()

	if err := locks.Acquire(ctx, "nightly", "scheduler-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := locks.Extend(ctx, "nightly", "scheduler-1"); err != nil {
		t.Fatalf("expected same holder to extend, got %v", err)
	}
	if err := locks.Acquire(ctx, "nightly", "scheduler-2"); err == nil {
		t.Fatal("expected a different holder to be rejected")
	}
}
