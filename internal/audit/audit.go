// Package audit keeps an append-only journal of run lifecycle decisions in
// logs/runs.jsonl, optionally mirrored to the SQLite run_audit table.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/lyrebird/internal/shared"
)

// Entry kinds.
const (
	KindRunStarted  = "run_started"
	KindStageReady  = "stage_ready"
	KindStageError  = "stage_error"
	KindRunClosed   = "run_closed"
	KindRunPruned   = "run_pruned"
	KindFallback    = "music_fallback"
	KindStartupFail = "startup_failure"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	RunID     string `json:"run_id,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

var (
	mu         sync.Mutex
	file       *os.File
	db         *sql.DB
	errorCount atomic.Int64
)

// Init opens the journal under homeDir/logs. Calling it twice is a no-op.
func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "runs.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// SetDB mirrors every entry into the run_audit table of d. Pass nil to stop.
func SetDB(d *sql.DB) {
	mu.Lock()
	defer mu.Unlock()
	db = d
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// ErrorCount returns the number of stage_error and startup_failure entries since startup.
func ErrorCount() int64 {
	return errorCount.Load()
}

// Record appends one journal entry. Detail is redacted before it is written.
func Record(kind, runID, stage, detail string) {
	if kind == KindStageError || kind == KindStartupFail {
		errorCount.Add(1)
	}
	detail = shared.Redact(detail)

	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UTC()
	if file != nil {
		b, err := json.Marshal(entry{
			Timestamp: now.Format(time.RFC3339Nano),
			Kind:      kind,
			RunID:     runID,
			Stage:     stage,
			Detail:    detail,
		})
		if err == nil {
			_, _ = file.Write(append(b, '\n'))
		}
	}

	if db != nil {
		_, _ = db.ExecContext(context.Background(), `
			INSERT INTO run_audit (created_at, kind, run_id, stage, detail)
			VALUES (?, ?, ?, ?, ?);
		`, now.UnixNano(), kind, runID, stage, detail)
	}
}
