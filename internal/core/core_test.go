package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestArticleCloneIsDeep(t *testing.T) {
	published := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	original := Article{
		Title:       "Test Article",
		URL:         "https://example.com/a",
		PublishedAt: &published,
		Tags:        []string{"go"},
		AITopics:    []string{"programming"},
		Metadata:    map[string]any{"k": "v"},
	}

	clone := original.Clone()
	clone.Tags[0] = "rust"
	clone.AITopics[0] = "systems"
	clone.Metadata["k"] = "changed"
	*clone.PublishedAt = published.Add(time.Hour)

	if original.Tags[0] != "go" {
		t.Errorf("Expected original tags untouched, got %v", original.Tags)
	}
	if original.AITopics[0] != "programming" {
		t.Errorf("Expected original topics untouched, got %v", original.AITopics)
	}
	if original.Metadata["k"] != "v" {
		t.Errorf("Expected original metadata untouched, got %v", original.Metadata)
	}
	if !original.PublishedAt.Equal(published) {
		t.Errorf("Expected original publish time untouched, got %v", original.PublishedAt)
	}
}

func TestArticleWithMetadataCopies(t *testing.T) {
	original := Article{URL: "https://example.com"}
	scored := original.WithMetadata(MetaQualityScore, 80)

	if _, ok := original.QualityScore(); ok {
		t.Error("Expected original article to stay unscored")
	}
	score, ok := scored.QualityScore()
	if !ok || score != 80 {
		t.Errorf("Expected quality score 80, got %d (ok=%v)", score, ok)
	}

	// JSON round trips turn ints into float64
	decoded := original.WithMetadata(MetaQualityScore, float64(65))
	if score, _ := decoded.QualityScore(); score != 65 {
		t.Errorf("Expected quality score 65 from float, got %d", score)
	}
}

func TestValidationResultIsValid(t *testing.T) {
	tests := []struct {
		name   string
		result ValidationResult
		want   bool
	}{
		{"clean", ValidationResult{}, true},
		{"empty", ValidationResult{IsEmpty: true}, false},
		{"short", ValidationResult{IsTooShort: true}, false},
		{"spam", ValidationResult{IsSpam: true, Confidence: 0.9}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.IsValid(); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInterestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		profile InterestProfile
		wantErr bool
	}{
		{"defaults", InterestProfile{RelevanceThreshold: 40, BoostFactor: 1.0}, false},
		{"bounds", InterestProfile{RelevanceThreshold: 100, BoostFactor: 2.0}, false},
		{"threshold too high", InterestProfile{RelevanceThreshold: 101, BoostFactor: 1.0}, true},
		{"negative threshold", InterestProfile{RelevanceThreshold: -1, BoostFactor: 1.0}, true},
		{"boost too low", InterestProfile{RelevanceThreshold: 10, BoostFactor: 0.4}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Errorf("Expected validation kind, got %v", err)
			}
		})
	}
}

func TestDigestUserConfigValidate(t *testing.T) {
	cfg := DigestUserConfig{
		UserID:          "u1",
		Email:           "u1@example.com",
		SummaryStyle:    SummaryStyleBrief,
		InterestProfile: InterestProfile{RelevanceThreshold: 30, BoostFactor: 1},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}

	cfg.Email = ""
	err := cfg.Validate()
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("Expected configuration error to be non-retryable")
	}
}

func TestActiveSources(t *testing.T) {
	cfg := DigestUserConfig{Sources: []ContentSourceConfig{
		{URL: "https://a.example/feed", Active: true},
		{URL: "https://b.example/feed", Active: false},
	}}
	active := cfg.ActiveSources()
	if len(active) != 1 || active[0].URL != "https://a.example/feed" {
		t.Errorf("Expected one active source, got %v", active)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), true},
		{"wrapped retryable", fmt.Errorf("stage: %w", Retryable(KindTimeout, "fetch", errors.New("slow"))), true},
		{"validation", NonRetryable(KindValidation, "profile", errors.New("bad")), false},
		{"render", fmt.Errorf("assemble: %w", NonRetryable(KindRender, "html", errors.New("tmpl"))), false},
		{"canceled", fmt.Errorf("run: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := DigestUserConfig{Timezone: "Not/AZone"}
	if cfg.Location() != time.UTC {
		t.Errorf("Expected UTC fallback, got %v", cfg.Location())
	}
}
