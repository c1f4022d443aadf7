package execindex

import (
	"path/filepath"
	"testing"
	"time"
)

func TestUpsertAndGet_RoundTrips(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	now := time.Now()
	entry := Entry{
		ExecutionID: "exec-1",
		SessionID:   "s1",
		CommandName: "edit",
		State:       "completed",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := idx.Upsert(entry); err != nil {
		t.Fatal(err)
	}

	got, ok, err := idx.Get("exec-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected entry to be found")
	}
	if got.CommandName != "edit" || got.State != "completed" {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestUpsert_UpdatesExistingEntry(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	now := time.Now()
	if err := idx.Upsert(Entry{ExecutionID: "exec-1", State: "pending", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}
	later := now.Add(time.Second)
	if err := idx.Upsert(Entry{ExecutionID: "exec-1", State: "completed", BackupID: "backup-1", CreatedAt: now, UpdatedAt: later}); err != nil {
		t.Fatal(err)
	}

	got, ok, err := idx.Get("exec-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got.State != "completed" || got.BackupID != "backup-1" {
		t.Fatalf("expected updated entry, got %+v", got)
	}
}

func TestListSession_OrdersMostRecentFirst(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	base := time.Now()
	for i, id := range []string{"exec-1", "exec-2", "exec-3"} {
		ts := base.Add(time.Duration(i) * time.Second)
		if err := idx.Upsert(Entry{ExecutionID: id, SessionID: "s1", CommandName: "plan", State: "completed", CreatedAt: ts, UpdatedAt: ts}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := idx.ListSession("s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 || entries[0].ExecutionID != "exec-3" {
		t.Fatalf("expected newest-first ordering, got %+v", entries)
	}
}

func TestGet_UnknownIDReturnsFalse(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	_, ok, err := idx.Get("nope")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected not found")
	}
}
