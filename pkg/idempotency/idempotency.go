// Package idempotency implements the reserve-then-execute pattern used by
// the outreach dispatcher and buyer blast: generate a stable key, reserve it
// with a unique-constrained insert, execute the side effect, then finalize
// the row. A racing reservation returns the winner's existing row instead of
// erroring, so retries are safe.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ebrland/orchestrator/pkg/store"
	"github.com/ebrland/orchestrator/pkg/types"
)

// Key derives a stable idempotency key from its parts, joined with "|" and
// hashed so arbitrary free-text (message bodies) can't blow past column
// limits or leak through the key itself.
func Key(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte("|"))
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Outcome describes whether Reserve created a new attempt or found one
// already reserved by a racing caller.
type Outcome struct {
	Attempt  *types.OutreachAttempt
	Reserved bool // true if this call created the row; false if it already existed
}

// Reserve inserts a pending outreach_attempts row for key, or returns the
// existing row (Reserved=false) if another caller already reserved it.
func Reserve(ctx context.Context, s store.Store, leadID int64, direction, body, key string) (Outcome, error) {
	attempt, err := s.InsertOutreachAttempt(ctx, &types.OutreachAttempt{
		LeadID: leadID, Direction: direction, Body: body, Status: "pending", IdempotencyKey: key,
	})
	if err == nil {
		return Outcome{Attempt: attempt, Reserved: true}, nil
	}
	if err == store.ErrConflict {
		existing, findErr := s.FindOutreachByIdempotencyKey(ctx, key)
		if findErr != nil {
			return Outcome{}, fmt.Errorf("reservation conflicted but existing row not found: %w", findErr)
		}
		return Outcome{Attempt: existing, Reserved: false}, nil
	}
	return Outcome{}, err
}

// Finalize updates a reserved attempt with its execution outcome.
func Finalize(ctx context.Context, s store.Store, attempt *types.OutreachAttempt, status, result, errorCode, providerSID string) error {
	attempt.Status = status
	attempt.Result = result
	attempt.ErrorCode = errorCode
	attempt.ProviderSID = providerSID
	return s.UpdateOutreachAttempt(ctx, attempt)
}
