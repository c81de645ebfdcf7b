package status

import (
	"errors"
	"testing"
	"time"
)

func TestLifecycleTransitions(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	record := NewRecord("m-1", "inbox", "a.md", now)
	if record.Status != Pending || record.ProcessedAt != nil {
		t.Fatalf("new record = %#v", record)
	}

	processing, err := record.Start()
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if processing.Status != Processing || processing.ProcessedAt != nil {
		t.Fatalf("processing record = %#v", processing)
	}

	done, err := processing.Complete("ok", now.Add(time.Second))
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if done.Status != Completed || done.Summary != "ok" || done.Error != "" {
		t.Fatalf("completed record = %#v", done)
	}
	if done.ProcessedAt == nil || !done.ProcessedAt.Equal(now.Add(time.Second)) {
		t.Fatalf("processed at = %v", done.ProcessedAt)
	}

	failed, err := processing.Fail(errors.New("boom"), now)
	if err != nil {
		t.Fatalf("Fail error: %v", err)
	}
	if failed.Status != Failed || failed.Error != "boom" || failed.Summary != "" || failed.ProcessedAt == nil {
		t.Fatalf("failed record = %#v", failed)
	}
}

func TestNoBackwardOrSkippedTransitions(t *testing.T) {
	now := time.Now()
	pending := NewRecord("m-1", "inbox", "a.md", now)

	if _, err := pending.Complete("skip", now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending -> completed error = %v", err)
	}
	if _, err := pending.Fail(errors.New("x"), now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending -> failed error = %v", err)
	}

	processing, _ := pending.Start()
	if _, err := processing.Start(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("processing -> processing error = %v", err)
	}

	done, _ := processing.Complete("ok", now)
	for _, to := range States() {
		if done.Status.CanTransition(to) {
			t.Fatalf("completed must be terminal, allowed -> %s", to)
		}
	}
}

func TestParseState(t *testing.T) {
	state, err := ParseState(" Completed ")
	if err != nil || state != Completed {
		t.Fatalf("ParseState = %q, %v", state, err)
	}
	if _, err := ParseState("archived"); err == nil {
		t.Fatal("expected error for unknown state")
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		target  string
		backend Backend
		dsn     string
	}{
		{target: "/var/lib/mailroom/status.db", backend: BackendSQLite, dsn: "/var/lib/mailroom/status.db"},
		{target: "sqlite:///tmp/s.db", backend: BackendSQLite, dsn: "/tmp/s.db"},
		{target: "postgres://u:p@db/mail", backend: BackendPostgres, dsn: "postgres://u:p@db/mail"},
		{target: "postgresql://db/mail", backend: BackendPostgres, dsn: "postgresql://db/mail"},
		{target: "redis://cache:6379/0", backend: BackendRedis, dsn: "redis://cache:6379/0"},
		{target: "rediss://cache:6380", backend: BackendRedis, dsn: "rediss://cache:6380"},
	}

	for _, tt := range tests {
		backend, dsn := ParseTarget(tt.target)
		if backend != tt.backend || dsn != tt.dsn {
			t.Fatalf("ParseTarget(%q) = %s %q, want %s %q", tt.target, backend, dsn, tt.backend, tt.dsn)
		}
	}
}

func TestRedactTarget(t *testing.T) {
	if got := redactTarget(BackendPostgres, "postgres://user:secret@db:5432/mail"); got != "postgres://***@db:5432/mail" {
		t.Fatalf("redacted = %q", got)
	}
	if got := redactTarget(BackendRedis, "redis://cache:6379"); got != "redis://cache:6379" {
		t.Fatalf("redacted = %q", got)
	}
}
