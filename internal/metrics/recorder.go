// Package metrics persists metric samples and maintains the rolling
// baseline used for anomaly detection. The rule set is deliberately
// simple so behavior stays deterministic: relative deviation against the
// observed range, not a statistical score.
package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"vigil/internal/alerts"
	"vigil/internal/models"
	"vigil/internal/store"
)

const (
	// Fraction of the observed range a value may deviate from the mean
	// before it is flagged anomalous.
	anomalyFactor = 0.3

	// Number of recent samples the trend classification looks back on.
	trendWindow = 10
)

type Recorder struct {
	repo   *store.Repository
	alerts *alerts.Manager
	log    *slog.Logger
	keys   keyedMutex
}

func NewRecorder(repo *store.Repository, alerts *alerts.Manager, logger *slog.Logger) *Recorder {
	return &Recorder{repo: repo, alerts: alerts, log: logger}
}

// Record classifies value against the key's baseline and trend history,
// persists the sample, updates the baseline and raises a WARNING alert
// when the value is anomalous. The very first sample for a key is never
// anomalous.
func (r *Recorder) Record(ctx context.Context, component, metric string, value float64, unit string, ts time.Time) (models.MetricSample, error) {
	unlock := r.keys.lock(component + "\x00" + metric)
	defer unlock()

	anomalous := false
	bl, err := r.repo.GetBaseline(ctx, component, metric)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		bl = models.Baseline{Component: component, Metric: metric, Mean: value, Min: value, Max: value, Count: 1}
	case err != nil:
		return models.MetricSample{}, fmt.Errorf("load baseline: %w", err)
	default:
		anomalous = math.Abs(value-bl.Mean) > anomalyFactor*(bl.Max-bl.Min)
		bl.Mean = (bl.Mean*float64(bl.Count) + value) / float64(bl.Count+1)
		bl.Min = math.Min(bl.Min, value)
		bl.Max = math.Max(bl.Max, value)
		bl.Count++
	}
	bl.UpdatedAt = ts.UTC()

	trend, err := r.classifyTrend(ctx, component, metric, value)
	if err != nil {
		r.log.Warn("trend classification", "component", component, "metric", metric, "err", err)
		trend = models.TrendStable
	}

	sample := models.MetricSample{
		Component: component,
		Metric:    metric,
		TS:        ts.UTC(),
		Value:     value,
		Unit:      unit,
		Trend:     trend,
		Anomalous: anomalous,
	}
	if err := r.repo.InsertMetricSample(ctx, sample); err != nil {
		return sample, fmt.Errorf("insert sample: %w", err)
	}
	if err := r.repo.UpsertBaseline(ctx, bl); err != nil {
		return sample, fmt.Errorf("upsert baseline: %w", err)
	}

	if anomalous {
		r.alerts.Raise(ctx, models.SeverityWarning, component,
			fmt.Sprintf("anomalous %s: %.2f%s deviates from baseline %.2f", metric, value, unit, bl.Mean))
	}
	return sample, nil
}

// classifyTrend compares value against the mean of the most recent
// samples for the same key. No history means no trend.
func (r *Recorder) classifyTrend(ctx context.Context, component, metric string, value float64) (models.Trend, error) {
	recent, err := r.repo.RecentValues(ctx, component, metric, trendWindow)
	if err != nil {
		return models.TrendStable, err
	}
	if len(recent) == 0 {
		return models.TrendStable, nil
	}
	var sum float64
	for _, v := range recent {
		sum += v
	}
	mean := sum / float64(len(recent))
	switch {
	case value > mean*1.1:
		return models.TrendIncreasing, nil
	case value < mean*0.9:
		return models.TrendDecreasing, nil
	default:
		return models.TrendStable, nil
	}
}

// keyedMutex serializes writers per (component, metric) key. Distinct
// keys never contend, which is the shared-state partitioning the
// baseline table relies on.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
