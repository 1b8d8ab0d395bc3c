package retry

import (
	"context"
	"errors"
	"testing"
)

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	result, err := Do(context.Background(), func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" || attempts != 2 {
		t.Errorf("expected success on second attempt, got result=%q attempts=%d", result, attempts)
	}
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), func() (string, error) {
		attempts++
		return "", Permanent(errors.New("invalid number"))
	})
	if err == nil {
		t.Fatal("expected error to surface")
	}
	if attempts != 1 {
		t.Errorf("expected exactly one attempt for a permanent error, got %d", attempts)
	}
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), func() (string, error) {
		attempts++
		return "", errors.New("still failing")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("expected exactly 3 attempts under the general policy, got %d", attempts)
	}
}
