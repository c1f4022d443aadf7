package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestFileLogger_AppendsAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	logger, err := NewFileLoggerWithClock(path, fixedClock{t: time.Unix(0, 0).UTC()})
	if err != nil {
		t.Fatal(err)
	}
	if err := logger.LogSecurityEvent(context.Background(), "sess-1", KindCommandSubmitted, "submitted edit"); err != nil {
		t.Fatal(err)
	}
	if err := logger.LogSecurityEvent(context.Background(), "sess-1", KindCommandExecuted, "executed edit"); err != nil {
		t.Fatal(err)
	}

	records, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Kind != KindCommandSubmitted || records[1].Kind != KindCommandExecuted {
		t.Fatalf("unexpected record order/kinds: %+v", records)
	}
	if records[0].SessionID != "sess-1" {
		t.Fatalf("expected session id propagated, got %q", records[0].SessionID)
	}
}

func TestFileLogger_CorrelationIDFromContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := WithCorrelationID(context.Background(), "corr-abc")
	if err := logger.LogSecurityEvent(ctx, "sess-1", KindBackupCreated, "backup made"); err != nil {
		t.Fatal(err)
	}
	records, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].CorrelationID != "corr-abc" {
		t.Fatalf("expected correlation id propagated, got %+v", records)
	}
}

func TestReadAll_MissingFileReturnsEmpty(t *testing.T) {
	records, err := ReadAll(filepath.Join(t.TempDir(), "missing.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}
