// ledger.go - Lokales Telemetrie-Journal in SQLite
// Enthält: Ledger, OpenLedger, Sink pro Run, Abfragen für die CLI

package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite-Treiber registrieren
)

// ledgerSchemaVersion wird bei inkompatiblen Schema-Änderungen erhöht
const ledgerSchemaVersion = 1

// Ledger speichert Status, Events und Metriken lokaler Runs.
// SQLite serialisiert Schreiber selbst, WAL lässt Leser parallel zu.
type Ledger struct {
	conn   *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// EventRecord ist ein gespeichertes Event
type EventRecord struct {
	RunID      string         `json:"run_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// MetricRecord ist ein gespeicherter Metrikwert
type MetricRecord struct {
	RunID string  `json:"run_id"`
	Step  int64   `json:"step"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// RunRecord fasst einen Run zusammen
type RunRecord struct {
	RunID     string    `json:"run_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// OpenLedger öffnet oder erstellt das Journal unter path
func OpenLedger(path string) (*Ledger, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}

	l := &Ledger{conn: conn, logger: slog.Default(), now: time.Now}
	if err := l.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize ledger: %w", err)
	}

	return l, nil
}

// Close schließt die Verbindung nach einem WAL-Checkpoint
func (l *Ledger) Close() error {
	_, _ = l.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return l.conn.Close()
}

func (l *Ledger) init() error {
	var version int
	if err := l.conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > ledgerSchemaVersion {
		return fmt.Errorf("ledger schema version %d is newer than supported %d", version, ledgerSchemaVersion)
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		occurred_at TIMESTAMP NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id);

	CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		name TEXT NOT NULL,
		value REAL NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_metrics_run_id ON metrics(run_id);

	PRAGMA user_version = %d;
	`, ledgerSchemaVersion)

	_, err := l.conn.Exec(schema)
	return err
}

// Run legt den Run an und liefert einen Sink, der in das Journal schreibt
func (l *Ledger) Run(ctx context.Context, runID, kind string) (Sink, error) {
	_, err := l.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs (id, kind, created_at) VALUES (?, ?, ?)`,
		runID, kind, l.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("create run %s: %w", runID, err)
	}
	return &ledgerRun{ledger: l, runID: runID}, nil
}

// Runs liefert alle Runs, neueste zuerst
func (l *Ledger) Runs(ctx context.Context) ([]RunRecord, error) {
	rows, err := l.conn.QueryContext(ctx, `SELECT id, kind, status, created_at FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.Kind, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Events liefert die Events eines Runs in Schreibreihenfolge
func (l *Ledger) Events(ctx context.Context, runID string) ([]EventRecord, error) {
	rows, err := l.conn.QueryContext(ctx,
		`SELECT run_id, occurred_at, level, message, metadata FROM events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var (
			e    EventRecord
			meta string
		)
		if err := rows.Scan(&e.RunID, &e.OccurredAt, &e.Level, &e.Message, &meta); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("event metadata: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Metrics liefert die Metriken eines Runs nach Schritt sortiert
func (l *Ledger) Metrics(ctx context.Context, runID string) ([]MetricRecord, error) {
	rows, err := l.conn.QueryContext(ctx,
		`SELECT run_id, step, name, value FROM metrics WHERE run_id = ? ORDER BY step, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []MetricRecord
	for rows.Next() {
		var m MetricRecord
		if err := rows.Scan(&m.RunID, &m.Step, &m.Name, &m.Value); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// ledgerRun schreibt synchron; Fehler werden nur geloggt
type ledgerRun struct {
	ledger *Ledger
	runID  string

	mu     sync.Mutex
	closed bool
}

func (r *ledgerRun) exec(query string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, err := r.ledger.conn.Exec(query, args...); err != nil {
		r.ledger.logger.Warn("ledger write failed", "run_id", r.runID, "error", err)
	}
}

func (r *ledgerRun) Event(level, message string, meta Fields) {
	data, err := json.Marshal(orEmpty(meta))
	if err != nil {
		r.ledger.logger.Warn("ledger metadata", "run_id", r.runID, "error", err)
		data = []byte("{}")
	}
	r.exec(`INSERT INTO events (run_id, occurred_at, level, message, metadata) VALUES (?, ?, ?, ?, ?)`,
		r.runID, r.ledger.now().UTC(), level, message, string(data))
}

func (r *ledgerRun) Status(status, message string, meta Fields) {
	r.exec(`UPDATE runs SET status = ? WHERE id = ?`, status, r.runID)
	r.Event("info", message, Merge(F("kind", "status", "status", status), meta))
}

func (r *ledgerRun) Metrics(step int64, metrics Metrics, _ Fields) {
	if metrics == nil {
		return
	}
	for pair := metrics.Oldest(); pair != nil; pair = pair.Next() {
		r.Metric(step, pair.Key, pair.Value)
	}
}

func (r *ledgerRun) Metric(step int64, name string, value float64) {
	r.exec(`INSERT INTO metrics (run_id, step, name, value) VALUES (?, ?, ?, ?)`, r.runID, step, name, value)
}

// Fortschritt wird nicht gespeichert, die Metriken reichen für die Historie
func (r *ledgerRun) Progress(int, int, float64, string) {}

func (r *ledgerRun) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return ctx.Err()
}
