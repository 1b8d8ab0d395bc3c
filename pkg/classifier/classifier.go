// Package classifier detects the intent of an inbound SMS reply: a keyword
// cascade handles the cases that matter for TCPA compliance and obvious
// sentiment, falling back to the LLM client for anything ambiguous.
package classifier

import (
	"context"
	"regexp"
	"strings"

	"github.com/ebrland/orchestrator/pkg/circuitbreaker"
	"github.com/ebrland/orchestrator/pkg/types"
)

type Intent string

const (
	IntentInterested    Intent = "interested"
	IntentNotInterested Intent = "not_interested"
	IntentAskingPrice   Intent = "asking_price"
	IntentNegotiating   Intent = "negotiating"
	IntentScheduling    Intent = "scheduling"
	IntentConfused      Intent = "confused"
	IntentStop          Intent = "stop"
	IntentWrongNumber   Intent = "wrong_number"
	IntentDeceased      Intent = "deceased"
	IntentSpam          Intent = "spam"
)

// stopKeywords, deceasedKeywords, and so on mirror the original keyword
// cascade exactly, checked in the same priority order: TCPA compliance
// cases are matched before anything else so the LLM fallback can never
// override a STOP.
var stopKeywords = []string{
	"stop", "unsubscribe", "remove", "opt out", "opt-out",
	"cancel", "quit", "end", "do not contact", "don't contact",
	"no more", "leave me alone", "take me off", "remove me",
}

var deceasedKeywords = []string{
	"deceased", "passed away", "died", "death", "no longer with us",
	"passed on", "rest in peace", "rip",
}

var wrongNumberKeywords = []string{
	"wrong number", "wrong person", "don't own", "not my property",
	"never owned", "sold it", "already sold", "not the owner",
}

var notInterestedKeywords = []string{
	"not interested", "no thanks", "no thank you", "not selling",
	"not for sale", "keeping it", "no", "don't want", "pass",
}

var interestKeywords = []string{
	"interested", "tell me more", "how much", "what price",
	"make an offer", "send offer", "yes", "sure", "okay",
	"let me know", "what can you offer", "cash offer",
}

var priceKeywords = []string{"how much", "what price", "offer", "cash"}

// Result is the outcome of classifying a single inbound message.
type Result struct {
	Intent        Intent
	Confidence    float64
	Sentiment     string // positive, neutral, negative
	KeywordsFound []string
	FromLLM       bool
}

// Classify detects intent from message, using llm as a fallback through
// breaker when no keyword matches. llm may be nil, in which case an
// unmatched message classifies as confused at low confidence.
func Classify(ctx context.Context, llm types.LLM, breaker *circuitbreaker.Manager, message string) Result {
	lower := strings.ToLower(strings.TrimSpace(message))

	if kw, ok := firstMatch(lower, stopKeywords); ok {
		return Result{Intent: IntentStop, Confidence: 1.0, Sentiment: "negative", KeywordsFound: []string{kw}}
	}
	if kw, ok := firstMatch(lower, deceasedKeywords); ok {
		return Result{Intent: IntentDeceased, Confidence: 0.95, Sentiment: "negative", KeywordsFound: []string{kw}}
	}
	if kw, ok := firstMatch(lower, wrongNumberKeywords); ok {
		return Result{Intent: IntentWrongNumber, Confidence: 0.9, Sentiment: "neutral", KeywordsFound: []string{kw}}
	}
	if kw, ok := firstMatch(lower, notInterestedKeywords); ok {
		return Result{Intent: IntentNotInterested, Confidence: 0.85, Sentiment: "negative", KeywordsFound: []string{kw}}
	}
	if kw, ok := firstMatch(lower, interestKeywords); ok {
		intent := IntentInterested
		if containsAny(lower, priceKeywords) {
			intent = IntentAskingPrice
		}
		return Result{Intent: intent, Confidence: 0.8, Sentiment: "positive", KeywordsFound: []string{kw}}
	}

	return classifyWithLLM(ctx, llm, breaker, message)
}

func firstMatch(haystack string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`).MatchString(haystack) {
			return kw, true
		}
	}
	return "", false
}

func containsAny(haystack string, keywords []string) bool {
	_, ok := firstMatch(haystack, keywords)
	return ok
}

var llmIntentMap = map[string]Intent{
	"INTERESTED":     IntentInterested,
	"NOT_INTERESTED": IntentNotInterested,
	"ASKING_PRICE":   IntentAskingPrice,
	"CONFUSED":       IntentConfused,
	"STOP":           IntentStop,
	"SPAM":           IntentSpam,
}

// classifyWithLLM calls the fallback model through the circuit breaker,
// defaulting to confused/low-confidence on any failure — a misclassified
// ambiguous message is far cheaper than a stuck pipeline.
func classifyWithLLM(ctx context.Context, llm types.LLM, breaker *circuitbreaker.Manager, message string) Result {
	if llm == nil {
		return Result{Intent: IntentConfused, Confidence: 0.3, Sentiment: "neutral"}
	}

	v, err := breaker.Execute(ctx, "anthropic-classifier", func(ctx context.Context) (interface{}, error) {
		intentStr, confidence, err := llm.Classify(ctx, message, "")
		if err != nil {
			return nil, err
		}
		return Result{
			Intent:     mapLLMIntent(intentStr),
			Confidence: confidence,
			Sentiment:  "neutral",
			FromLLM:    true,
		}, nil
	})
	if err != nil {
		return Result{Intent: IntentConfused, Confidence: 0.3, Sentiment: "neutral", FromLLM: true}
	}
	return v.(Result)
}

func mapLLMIntent(raw string) Intent {
	if intent, ok := llmIntentMap[strings.ToUpper(raw)]; ok {
		return intent
	}
	return IntentConfused
}
