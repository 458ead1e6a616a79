// Package delivery hands rendered digests to their destination and records
// the outcome.
package delivery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"periscope/internal/cache"
	"periscope/internal/core"
)

// Sender delivers one digest. The bool reports whether it was sent.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) (bool, error)
}

// New returns the sender for method: "file" writes to outputDir, "log"
// only logs.
func New(method, outputDir string, log zerolog.Logger) (Sender, error) {
	switch method {
	case "", "file":
		return NewFileSender(outputDir, log), nil
	case "log":
		return NewLogSender(log), nil
	default:
		return nil, core.NonRetryable(core.KindConfiguration, "delivery",
			fmt.Errorf("unknown delivery method %q", method))
	}
}

// FileSender writes each digest as an .html and a .txt file.
type FileSender struct {
	dir string
	log zerolog.Logger
	now func() time.Time
}

// NewFileSender creates a FileSender writing below dir ("digests" if empty).
func NewFileSender(dir string, log zerolog.Logger) *FileSender {
	if dir == "" {
		dir = "digests"
	}
	return &FileSender{dir: dir, log: log.With().Str("component", "file_sender").Logger(), now: time.Now}
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// BaseName returns the file name stem used for a recipient at t.
func BaseName(to string, t time.Time) string {
	who := unsafeChars.ReplaceAllString(strings.ToLower(to), "_")
	if who == "" {
		who = "digest"
	}
	return fmt.Sprintf("%s_%s", t.UTC().Format("20060102-150405"), who)
}

// Send writes the bodies to disk.
func (s *FileSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return false, fmt.Errorf("failed to create output directory %s: %w", s.dir, err)
	}

	base := filepath.Join(s.dir, BaseName(to, s.now()))
	if err := os.WriteFile(base+".html", []byte(htmlBody), 0644); err != nil {
		return false, fmt.Errorf("failed to write digest file %s.html: %w", base, err)
	}
	text := fmt.Sprintf("To: %s\nSubject: %s\n\n%s", to, subject, textBody)
	if err := os.WriteFile(base+".txt", []byte(text), 0644); err != nil {
		return false, fmt.Errorf("failed to write digest file %s.txt: %w", base, err)
	}

	s.log.Info().Str("to", to).Str("path", base+".html").Msg("digest written")
	return true, nil
}

// LogSender logs the digest instead of sending it.
type LogSender struct {
	log zerolog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log.With().Str("component", "log_sender").Logger()}
}

func (s *LogSender) Send(_ context.Context, to, subject, htmlBody, textBody string) (bool, error) {
	s.log.Info().
		Str("to", to).
		Str("subject", subject).
		Int("html_bytes", len(htmlBody)).
		Int("text_bytes", len(textBody)).
		Msg("digest delivered to log")
	return true, nil
}

// Status records the outcome of delivering one run's digest.
type Status struct {
	RunID   string    `json:"run_id"`
	UserID  string    `json:"user_id"`
	Email   string    `json:"email"`
	Subject string    `json:"subject"`
	Sent    bool      `json:"sent"`
	DryRun  bool      `json:"dry_run"`
	Groups  int       `json:"groups"`
	Error   string    `json:"error,omitempty"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

// StatusKey is the cache key of a run's delivery status.
func StatusKey(runID string) string {
	return "delivery:" + runID
}

// RecordStatus stores the status in c.
func RecordStatus(ctx context.Context, c cache.Cache, st Status, ttl time.Duration) error {
	return cache.SetJSON(ctx, c, StatusKey(st.RunID), st, ttl)
}

// LoadStatus reads a run's delivery status.
func LoadStatus(ctx context.Context, c cache.Cache, runID string) (Status, bool, error) {
	var st Status
	ok, err := cache.GetJSON(ctx, c, StatusKey(runID), &st)
	return st, ok, err
}
