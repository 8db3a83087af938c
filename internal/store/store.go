package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL; PRAGMA temp_store=MEMORY;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS health_checks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			component TEXT NOT NULL,
			ts DATETIME NOT NULL,
			status TEXT NOT NULL,
			response_time_ms REAL NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			metrics_json TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE TABLE IF NOT EXISTS metric_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			component TEXT NOT NULL,
			metric TEXT NOT NULL,
			ts DATETIME NOT NULL,
			value REAL NOT NULL,
			unit TEXT NOT NULL,
			trend TEXT NOT NULL,
			anomalous INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS baselines (
			component TEXT NOT NULL,
			metric TEXT NOT NULL,
			mean REAL NOT NULL,
			min REAL NOT NULL,
			max REAL NOT NULL,
			count INTEGER NOT NULL,
			updated_ts DATETIME NOT NULL,
			PRIMARY KEY(component, metric)
		);`,
		`CREATE TABLE IF NOT EXISTS alert_events (
			id TEXT PRIMARY KEY,
			ts DATETIME NOT NULL,
			severity TEXT NOT NULL,
			component TEXT NOT NULL,
			message TEXT NOT NULL,
			resolved INTEGER NOT NULL DEFAULT 0,
			escalated INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS recovery_attempts (
			id TEXT PRIMARY KEY,
			ts DATETIME NOT NULL,
			component TEXT NOT NULL,
			action TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL,
			duration_ms REAL NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			attempt INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_health_checks_component_ts ON health_checks(component, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_metric_samples_key_ts ON metric_samples(component, metric, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_component_ts ON alert_events(component, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_resolved ON alert_events(resolved, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_recovery_attempts_component_ts ON recovery_attempts(component, ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}
