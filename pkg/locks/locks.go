// Package locks provides the per-lead send lock and the cluster-wide named
// scheduler lock, both backed by store.Store rows with a TTL and an
// instance-id holder, grounded on the original locking service's
// acquire/extend/release semantics.
package locks

import (
	"context"
	"time"

	apperrors "github.com/ebrland/orchestrator/internal/errors"
	"github.com/ebrland/orchestrator/pkg/store"
)

const (
	defaultSendLockTTL      = 30 * time.Second
	defaultSchedulerLockTTL = 10 * time.Minute
)

// SendLocks guards a single lead against concurrent outreach sends.
type SendLocks struct {
	store store.Store
}

func NewSendLocks(s store.Store) *SendLocks {
	return &SendLocks{store: s}
}

// Acquire takes the per-lead send lock, returning an ErrorTypeLockHeld
// AppError if another holder currently owns it.
func (l *SendLocks) Acquire(ctx context.Context, leadID int64, holderID string) error {
	ok, err := l.store.AcquireSendLock(ctx, leadID, holderID, defaultSendLockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewLockHeldError("send_lock")
	}
	return nil
}

func (l *SendLocks) Release(ctx context.Context, leadID int64, holderID string) error {
	return l.store.ReleaseSendLock(ctx, leadID, holderID)
}

// WithLock acquires the send lock for leadID, runs fn, and releases the lock
// whether or not fn succeeds — the Go equivalent of the original service's
// context-manager usage.
func (l *SendLocks) WithLock(ctx context.Context, leadID int64, holderID string, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx, leadID, holderID); err != nil {
		return err
	}
	defer l.Release(ctx, leadID, holderID)
	return fn(ctx)
}

// SchedulerLocks guards a named scheduled job (followups, nightly
// orchestration) against concurrent runs across scheduler instances. Unlike
// SendLocks, the same holder may re-acquire (extend) its own lock.
type SchedulerLocks struct {
	store store.Store
}

func NewSchedulerLocks(s store.Store) *SchedulerLocks {
	return &SchedulerLocks{store: s}
}

func (l *SchedulerLocks) Acquire(ctx context.Context, name, holderID string) error {
	ok, err := l.store.AcquireSchedulerLock(ctx, name, holderID, defaultSchedulerLockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewLockHeldError(name)
	}
	return nil
}

// Extend renews the TTL on a lock this holder already owns.
func (l *SchedulerLocks) Extend(ctx context.Context, name, holderID string) error {
	ok, err := l.store.ExtendSchedulerLock(ctx, name, holderID, defaultSchedulerLockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewLockHeldError(name)
	}
	return nil
}

func (l *SchedulerLocks) Release(ctx context.Context, name, holderID string) error {
	return l.store.ReleaseSchedulerLock(ctx, name, holderID)
}

func (l *SchedulerLocks) WithLock(ctx context.Context, name, holderID string, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx, name, holderID); err != nil {
		return err
	}
	defer l.Release(ctx, name, holderID)
	return fn(ctx)
}
