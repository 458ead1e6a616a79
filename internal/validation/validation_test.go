package validation

import (
	"context"
	"strings"
	"testing"

	"periscope/internal/core"
	"periscope/test/mocks"
)

func article(content string) core.Article {
	return core.Article{Title: "Title", URL: "https://example.com/a", Content: content}
}

func TestValidateShortCircuits(t *testing.T) {
	provider := mocks.NewMockProvider(func(string, string) (any, error) {
		return map[string]any{"is_spam": true, "confidence": 1, "reasoning": "x"}, nil
	})
	v := New(provider, Options{SpamDetection: true})

	res := v.Validate(context.Background(), article("   \n\t"))
	if !res.IsEmpty || res.IsValid() {
		t.Errorf("Expected empty result, got %+v", res)
	}

	res = v.Validate(context.Background(), article(strings.Repeat("a", 99)))
	if !res.IsTooShort || res.IsValid() {
		t.Errorf("Expected too-short result, got %+v", res)
	}

	if provider.Calls() != 0 {
		t.Errorf("Expected no AI calls for short-circuited checks, got %d", provider.Calls())
	}
}

func TestValidateSpam(t *testing.T) {
	tests := []struct {
		name      string
		verdict   map[string]any
		wantValid bool
	}{
		{"spam", map[string]any{"is_spam": true, "confidence": 0.95, "reasoning": "ad"}, false},
		{"clean", map[string]any{"is_spam": false, "confidence": 0.8, "reasoning": "news"}, true},
		{"overconfident", map[string]any{"is_spam": false, "confidence": 3.0, "reasoning": ""}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := mocks.NewMockProvider(func(string, string) (any, error) { return tt.verdict, nil })
			res := New(provider, Options{SpamDetection: true}).Validate(context.Background(), article(strings.Repeat("word ", 30)))
			if res.IsValid() != tt.wantValid {
				t.Errorf("IsValid() = %v, want %v (%+v)", res.IsValid(), tt.wantValid, res)
			}
			if res.Confidence < 0 || res.Confidence > 1 {
				t.Errorf("Confidence out of range: %v", res.Confidence)
			}
			if provider.Calls() != 1 {
				t.Errorf("Expected one AI call, got %d", provider.Calls())
			}
		})
	}
}

func TestValidateAIFailureIsNotSpam(t *testing.T) {
	res := New(mocks.FailingProvider(), Options{SpamDetection: true}).
		Validate(context.Background(), article(strings.Repeat("word ", 30)))
	if !res.IsValid() {
		t.Errorf("Expected valid result on classifier failure, got %+v", res)
	}
	if res.Confidence != 0 {
		t.Errorf("Expected zero confidence, got %v", res.Confidence)
	}
	if !strings.Contains(res.Message, "failed") {
		t.Errorf("Expected failure note in message, got %q", res.Message)
	}
	if !res.Degraded {
		t.Error("Expected fallback result to be marked degraded")
	}
}

func TestValidateSpamDetectionDisabled(t *testing.T) {
	provider := mocks.FailingProvider()
	res := New(provider, Options{MinLength: 10}).Validate(context.Background(), article("long enough content"))
	if !res.IsValid() {
		t.Errorf("Expected valid result, got %+v", res)
	}
	if provider.Calls() != 0 {
		t.Error("Expected no AI calls when spam detection is disabled")
	}
}

func TestValidateDoesNotMutateArticle(t *testing.T) {
	a := article(strings.Repeat("word ", 30))
	a.Metadata = map[string]any{"k": "v"}
	_ = New(nil, Options{}).Validate(context.Background(), a)
	if len(a.Metadata) != 1 || a.Content != strings.Repeat("word ", 30) {
		t.Error("Validate mutated the article")
	}
}
