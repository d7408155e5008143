package audit

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestRecordWritesJournalEntry(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record(KindRunStarted, "run-1", "egg", "seeded demo-1")
	Record(KindStageError, "run-1", "albumen", "boom")

	raw, err := os.ReadFile(filepath.Join(home, "logs", "runs.jsonl"))
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first entry: %v", err)
	}
	if first["kind"] != KindRunStarted {
		t.Fatalf("kind = %#v, want %q", first["kind"], KindRunStarted)
	}
	if first["run_id"] != "run-1" || first["stage"] != "egg" {
		t.Fatalf("unexpected entry: %#v", first)
	}
	if _, ok := first["timestamp"]; !ok {
		t.Fatal("entry missing timestamp")
	}
}

func TestRecordRedactsDetail(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record(KindStageError, "run-2", "music", "minimax rejected Bearer abcdefghijklmnopqrstuvwxyz0123")

	raw, err := os.ReadFile(filepath.Join(home, "logs", "runs.jsonl"))
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if strings.Contains(string(raw), "abcdefghijklmnopqrstuvwxyz0123") {
		t.Fatalf("journal leaked bearer token: %s", raw)
	}
}

func TestJournalAppendOnly(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record(KindRunStarted, "a", "egg", "")
	Record(KindStageReady, "a", "yolk", "3 facts")
	path := filepath.Join(home, "logs", "runs.jsonl")
	info1, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat journal: %v", err)
	}

	Record(KindRunClosed, "a", "done", "")
	info2, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat journal after append: %v", err)
	}
	if info2.Size() <= info1.Size() {
		t.Fatalf("expected journal to grow, before=%d after=%d", info1.Size(), info2.Size())
	}
}

func TestErrorCount(t *testing.T) {
	before := ErrorCount()
	Record(KindStageReady, "x", "graph", "")
	Record(KindStageError, "x", "graph", "bad")
	Record(KindStartupFail, "", "", "E_CONFIG")
	if got := ErrorCount() - before; got != 2 {
		t.Fatalf("ErrorCount delta = %d, want 2", got)
	}
}

func TestRecordMirrorsToDB(t *testing.T) {
	d, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if _, err := d.Exec(`CREATE TABLE run_audit (created_at INTEGER, kind TEXT, run_id TEXT, stage TEXT, detail TEXT);`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	SetDB(d)
	t.Cleanup(func() { SetDB(nil) })

	Record(KindRunPruned, "old-run", "done", "idle for 2h")

	var kind, runID string
	if err := d.QueryRow(`SELECT kind, run_id FROM run_audit`).Scan(&kind, &runID); err != nil {
		t.Fatalf("query run_audit: %v", err)
	}
	if kind != KindRunPruned || runID != "old-run" {
		t.Fatalf("row = (%s, %s), want (%s, old-run)", kind, runID, KindRunPruned)
	}
}
