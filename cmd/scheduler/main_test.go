package main

import (
	"strings"
	"testing"

	"github.com/ebrland/orchestrator/pkg/types"
)

func TestFollowupMessage_VariesByAttemptNumber(t *testing.T) {
	lead := &types.Lead{ID: 1}

	first := followupMessage(lead, 1)
	second := followupMessage(lead, 2)
	third := followupMessage(lead, 3)

	if first == second || second == third || first == third {
		t.Fatalf("expected a distinct message per followup number, got %q / %q / %q", first, second, third)
	}
	for _, msg := range []string{first, second, third} {
		if !strings.Contains(msg, "STOP") {
			t.Errorf("followup message missing opt-out instruction: %q", msg)
		}
	}
}

func TestFollowupMessage_BeyondThirdAttemptReusesLastMessage(t *testing.T) {
	lead := &types.Lead{ID: 1}
	if followupMessage(lead, 4) != followupMessage(lead, 3) {
		t.Fatalf("expected attempts past the third to reuse the same closing message")
	}
}
