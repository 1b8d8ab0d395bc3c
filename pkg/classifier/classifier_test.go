package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/ebrland/orchestrator/pkg/circuitbreaker"
)

type stubLLM struct {
	intent     string
	confidence float64
	err        error
}

func (s *stubLLM) Classify(ctx context.Context, replyText, leadContext string) (string, float64, error) {
	return s.intent, s.confidence, s.err
}

func (s *stubLLM) Describe(ctx context.Context, prompt string) (string, error) {
	return "", s.err
}

func TestClassify_StopTakesPriorityOverInterest(t *testing.T) {
	r := Classify(context.Background(), nil, circuitbreaker.NewManager(nil), "STOP, I'm interested but please remove me")
	if r.Intent != IntentStop || r.Confidence != 1.0 {
		t.Fatalf("expected STOP to win priority, got %+v", r)
	}
}

func TestClassify_AskingPriceWhenInterestIncludesPriceKeyword(t *testing.T) {
	r := Classify(context.Background(), nil, circuitbreaker.NewManager(nil), "how much can you offer?")
	if r.Intent != IntentAskingPrice {
		t.Errorf("expected asking_price, got %s", r.Intent)
	}
}

func TestClassify_PlainInterestWithoutPriceKeyword(t *testing.T) {
	r := Classify(context.Background(), nil, circuitbreaker.NewManager(nil), "sure, tell me more")
	if r.Intent != IntentInterested {
		t.Errorf("expected interested, got %s", r.Intent)
	}
}

func TestClassify_FallsBackToLLMOnNoKeywordMatch(t *testing.T) {
	llm := &stubLLM{intent: "NOT_INTERESTED", confidence: 0.7}
	r := Classify(context.Background(), llm, circuitbreaker.NewManager(nil), "my nephew handles all this now")
	if r.Intent != IntentNotInterested || !r.FromLLM {
		t.Errorf("expected LLM fallback result, got %+v", r)
	}
}

func TestClassify_LLMFailureDefaultsToLowConfidenceConfused(t *testing.T) {
	llm := &stubLLM{err: errors.New("timeout")}
	r := Classify(context.Background(), llm, circuitbreaker.NewManager(nil), "what does this mean exactly")
	if r.Intent != IntentConfused || r.Confidence != 0.3 {
		t.Errorf("expected confused/low-confidence default, got %+v", r)
	}
}
