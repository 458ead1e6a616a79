package topics

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"periscope/internal/core"
	"periscope/test/mocks"
)

var longContent = strings.Repeat("Go generics and the compiler. ", 5)

func TestExtractSkipsShortContent(t *testing.T) {
	provider := mocks.NewMockProvider(func(string, string) (any, error) {
		return map[string]any{"topics": []string{"go"}}, nil
	})
	e := NewExtractor(provider, 5, zerolog.Nop())
	got, degraded := e.Extract(context.Background(), core.Article{Content: strings.Repeat("a", 49)})
	if got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil list, got %v", got)
	}
	if degraded {
		t.Error("Skipping short content is not a failure")
	}
	if provider.Calls() != 0 {
		t.Error("Expected no AI call for short content")
	}
}

func TestExtractCleansAndCaps(t *testing.T) {
	provider := mocks.NewMockProvider(func(string, string) (any, error) {
		return map[string]any{"topics": []string{" Go ", "go", "", "Generics", "\"Compiler\"", "Rust", "WASM", "LLVM"}}, nil
	})
	got, _ := NewExtractor(provider, 5, zerolog.Nop()).Extract(context.Background(), core.Article{Content: longContent})
	want := []string{"Go", "Generics", "Compiler", "Rust", "WASM"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractFailureReturnsEmpty(t *testing.T) {
	got, degraded := NewExtractor(mocks.FailingProvider(), 5, zerolog.Nop()).Extract(context.Background(), core.Article{Content: longContent})
	if got == nil || len(got) != 0 {
		t.Errorf("Expected empty list on failure, got %v", got)
	}
	if !degraded {
		t.Error("Expected failure to be reported as degraded")
	}
}

func TestExtractDefaultLimit(t *testing.T) {
	provider := mocks.NewMockProvider(func(string, string) (any, error) {
		return map[string]any{"topics": []string{"a", "b", "c", "d", "e", "f", "g"}}, nil
	})
	got, degraded := NewExtractor(provider, 0, zerolog.Nop()).Extract(context.Background(), core.Article{Content: longContent})
	if diff := cmp.Diff([]string{"a", "b", "c", "d", "e"}, got); diff != "" {
		t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
	}
	if degraded {
		t.Error("Successful extraction must not be degraded")
	}
}
