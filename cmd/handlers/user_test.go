package handlers

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"periscope/internal/core"
)

func TestParseUserConfigDefaults(t *testing.T) {
	data := []byte(`
user_id: ada
email: ada@example.com
sources:
  - url: https://go.dev/blog/feed.atom
  - url: https://example.com/rss
    name: Example
    active: false
interest_profile:
  keywords: [golang, databases]
`)
	got, err := ParseUserConfig(data)
	if err != nil {
		t.Fatalf("ParseUserConfig() error = %v", err)
	}

	want := core.DigestUserConfig{
		UserID:       "ada",
		Email:        "ada@example.com",
		SummaryStyle: core.SummaryStyleBrief,
		Sources: []core.ContentSourceConfig{
			{URL: "https://go.dev/blog/feed.atom", Name: "https://go.dev/blog/feed.atom", Type: core.SourceTypeRSS, Active: true},
			{URL: "https://example.com/rss", Name: "Example", Type: core.SourceTypeRSS, Active: false},
		},
		InterestProfile: core.InterestProfile{
			Keywords:           []string{"golang", "databases"},
			RelevanceThreshold: DefaultRelevanceThreshold,
			BoostFactor:        1.0,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseUserConfig() mismatch (-want +got):\n%s", diff)
	}
	if n := len(got.ActiveSources()); n != 1 {
		t.Errorf("Expected 1 active source, got %d", n)
	}
}

func TestParseUserConfigExplicitZeroThreshold(t *testing.T) {
	got, err := ParseUserConfig([]byte("user_id: ada\nemail: ada@example.com\ninterest_profile:\n  relevance_threshold: 0\n"))
	if err != nil {
		t.Fatalf("ParseUserConfig() error = %v", err)
	}
	if got.InterestProfile.RelevanceThreshold != 0 {
		t.Errorf("Expected threshold 0 to be kept, got %d", got.InterestProfile.RelevanceThreshold)
	}
}

func TestParseUserConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing user id", "email: ada@example.com\n"},
		{"missing email", "user_id: ada\n"},
		{"unknown style", "user_id: ada\nemail: a@b.c\nsummary_style: haiku\n"},
		{"threshold out of range", "user_id: ada\nemail: a@b.c\ninterest_profile:\n  relevance_threshold: 120\n"},
		{"boost out of range", "user_id: ada\nemail: a@b.c\ninterest_profile:\n  boost_factor: 3\n"},
		{"malformed yaml", "user_id: [ada\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseUserConfig([]byte(tt.yaml)); err == nil {
				t.Errorf("Expected error for %s", tt.name)
			}
		})
	}
}

func TestParseUserConfigErrorsAreNonRetryable(t *testing.T) {
	_, err := ParseUserConfig([]byte("user_id: ada\n"))
	if !errors.Is(err, core.ErrConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
	if core.IsRetryable(err) {
		t.Error("Configuration errors must not be retryable")
	}
}

func TestLoadUserConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ada.yaml")
	if err := os.WriteFile(path, []byte("user_id: ada\nemail: ada@example.com\nsummary_style: detailed\n"), 0644); err != nil {
		t.Fatal(err)
	}
	u, err := LoadUserConfig(path)
	if err != nil {
		t.Fatalf("LoadUserConfig() error = %v", err)
	}
	if u.SummaryStyle != core.SummaryStyleDetailed {
		t.Errorf("Expected detailed style, got %s", u.SummaryStyle)
	}

	if _, err := LoadUserConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
