package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"vigil/internal/models"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) InsertHealthCheck(ctx context.Context, hc models.HealthCheckResult) error {
	payload, _ := json.Marshal(hc.Metrics)
	_, err := r.db.ExecContext(ctx, `INSERT INTO health_checks (component,ts,status,response_time_ms,error,metrics_json)
		VALUES (?,?,?,?,?,?)`,
		hc.Component, hc.TS.UTC(), string(hc.Status), float64(hc.ResponseTime)/float64(time.Millisecond), hc.Error, string(payload))
	return err
}

// LatestStatuses returns the current status per component, derived from
// the most recent health check row for each.
func (r *Repository) LatestStatuses(ctx context.Context) ([]models.ComponentStatus, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT component, status, ts FROM health_checks
		WHERE id IN (SELECT MAX(id) FROM health_checks GROUP BY component)
		ORDER BY component ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ComponentStatus
	for rows.Next() {
		var cs models.ComponentStatus
		var status string
		if err := rows.Scan(&cs.Component, &status, &cs.CheckedAt); err != nil {
			return nil, err
		}
		cs.Status = models.Status(status)
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (r *Repository) InsertMetricSample(ctx context.Context, s models.MetricSample) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO metric_samples (component,metric,ts,value,unit,trend,anomalous)
		VALUES (?,?,?,?,?,?,?)`,
		s.Component, s.Metric, s.TS.UTC(), s.Value, s.Unit, string(s.Trend), boolInt(s.Anomalous))
	return err
}

// RecentValues returns up to limit most recent values for a (component,
// metric) key, newest first.
func (r *Repository) RecentValues(ctx context.Context, component, metric string, limit int) ([]float64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT value FROM metric_samples
		WHERE component = ? AND metric = ? ORDER BY id DESC LIMIT ?`, component, metric, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]float64, 0, limit)
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *Repository) GetBaseline(ctx context.Context, component, metric string) (models.Baseline, error) {
	var b models.Baseline
	err := r.db.QueryRowContext(ctx, `SELECT component,metric,mean,min,max,count,updated_ts FROM baselines
		WHERE component = ? AND metric = ?`, component, metric).
		Scan(&b.Component, &b.Metric, &b.Mean, &b.Min, &b.Max, &b.Count, &b.UpdatedAt)
	return b, err
}

func (r *Repository) UpsertBaseline(ctx context.Context, b models.Baseline) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO baselines (component,metric,mean,min,max,count,updated_ts)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(component,metric) DO UPDATE SET mean=excluded.mean,min=excluded.min,max=excluded.max,count=excluded.count,updated_ts=excluded.updated_ts`,
		b.Component, b.Metric, b.Mean, b.Min, b.Max, b.Count, b.UpdatedAt.UTC())
	return err
}

func (r *Repository) InsertAlert(ctx context.Context, a models.AlertEvent) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO alert_events (id,ts,severity,component,message,resolved,escalated)
		VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.TS.UTC(), string(a.Severity), a.Component, a.Message, boolInt(a.Resolved), boolInt(a.Escalated))
	return err
}

// ResolveAlerts flips every unresolved alert for exactly one component.
// Alerts belonging to other components are never touched.
func (r *Repository) ResolveAlerts(ctx context.Context, component string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE alert_events SET resolved=1 WHERE component = ? AND resolved = 0`, component)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) UnresolvedAlerts(ctx context.Context, limit int) ([]models.AlertEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,ts,severity,component,message,resolved,escalated FROM alert_events
		WHERE resolved = 0 ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (r *Repository) RecentAlerts(ctx context.Context, since time.Time, limit int) ([]models.AlertEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,ts,severity,component,message,resolved,escalated FROM alert_events
		WHERE ts >= ? ORDER BY ts DESC, id DESC LIMIT ?`, since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (r *Repository) CountAlerts(ctx context.Context, component string, severity models.Severity) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_events WHERE component = ? AND severity = ?`,
		component, string(severity)).Scan(&n)
	return n, err
}

func (r *Repository) InsertRecoveryAttempt(ctx context.Context, a models.RecoveryAttempt) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO recovery_attempts (id,ts,component,action,detail,success,duration_ms,message,attempt)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.TS.UTC(), a.Component, a.Action, a.Detail, boolInt(a.Success), float64(a.Duration)/float64(time.Millisecond), a.Message, a.Attempt)
	return err
}

func (r *Repository) RecentRecoveries(ctx context.Context, limit int) ([]models.RecoveryAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,ts,component,action,detail,success,duration_ms,message,attempt FROM recovery_attempts
		ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RecoveryAttempt
	for rows.Next() {
		var a models.RecoveryAttempt
		var success int
		var durMs float64
		if err := rows.Scan(&a.ID, &a.TS, &a.Component, &a.Action, &a.Detail, &success, &durMs, &a.Message, &a.Attempt); err != nil {
			return nil, err
		}
		a.Success = success != 0
		a.Duration = time.Duration(durMs * float64(time.Millisecond))
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) RecoveryCount(ctx context.Context, component string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recovery_attempts WHERE component = ?`, component).Scan(&n)
	return n, err
}

// MetricSummaries aggregates avg/min/max per (component, metric) key over
// the window starting at since. Output order is fixed so repeated calls
// over the same data are identical.
func (r *Repository) MetricSummaries(ctx context.Context, since time.Time) ([]models.MetricSummary, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT component, metric, AVG(value), MIN(value), MAX(value), COUNT(*)
		FROM metric_samples WHERE ts >= ?
		GROUP BY component, metric ORDER BY component ASC, metric ASC`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MetricSummary
	for rows.Next() {
		var s models.MetricSummary
		if err := rows.Scan(&s.Component, &s.Metric, &s.Avg, &s.Min, &s.Max, &s.Samples); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteOlderThan prunes aged history: checks, samples, recovery attempts
// and resolved alerts. Unresolved alerts are kept regardless of age.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	cut := cutoff.UTC()
	for _, q := range []string{
		`DELETE FROM health_checks WHERE ts < ?`,
		`DELETE FROM metric_samples WHERE ts < ?`,
		`DELETE FROM recovery_attempts WHERE ts < ?`,
		`DELETE FROM alert_events WHERE ts < ? AND resolved = 1`,
	} {
		if _, err := r.db.ExecContext(ctx, q, cut); err != nil {
			return err
		}
	}
	return nil
}

func scanAlerts(rows *sql.Rows) ([]models.AlertEvent, error) {
	var out []models.AlertEvent
	for rows.Next() {
		var a models.AlertEvent
		var severity string
		var resolved, escalated int
		if err := rows.Scan(&a.ID, &a.TS, &severity, &a.Component, &a.Message, &resolved, &escalated); err != nil {
			return nil, err
		}
		a.Severity = models.Severity(severity)
		a.Resolved = resolved != 0
		a.Escalated = escalated != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
