package handlers

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"periscope/internal/pipeline"
)

func TestPrintRunSummary(t *testing.T) {
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	s := &pipeline.RunSummary{
		RunID:            "run-7",
		ArticlesFetched:  12,
		ArticlesRelevant: 3,
		Groups:           2,
		Subject:          "Your digest",
		DigestSent:       true,
		ErrorMessages:    []string{"fetch https://broken.example.com: timeout"},
		Stages: []pipeline.StageMetrics{
			{Name: "fetch", ProcessedCount: 12, Start: start, End: start.Add(1500 * time.Millisecond)},
			{Name: "summarize", ProcessedCount: 3, AICalls: 3, Resumed: true, Start: start, End: start},
		},
	}

	var buf bytes.Buffer
	printRunSummary(&buf, s)
	out := buf.String()

	for _, want := range []string{"run-7", "Subject: Your digest", "12 fetched", "fetch", "summarize", "1.5s", "broken.example.com"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q\n%s", want, out)
		}
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}})
	if !strings.Contains(out, "only") {
		t.Errorf("Expected row value in table:\n%s", out)
	}
}

func TestAcquireRunLockIsExclusive(t *testing.T) {
	dir := t.TempDir()
	first, err := acquireRunLock(dir, "ada")
	if err != nil {
		t.Fatalf("acquireRunLock() error = %v", err)
	}

	if _, err := acquireRunLock(dir, "ada"); err == nil {
		t.Error("Expected second lock for the same user to fail")
	}
	other, err := acquireRunLock(dir, "grace")
	if err != nil {
		t.Fatalf("Expected lock for another user, got %v", err)
	}
	_ = other.Unlock()

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	again, err := acquireRunLock(dir, "ada")
	if err != nil {
		t.Fatalf("Expected lock after release, got %v", err)
	}
	_ = again.Unlock()
}
