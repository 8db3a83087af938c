// Package report builds the periodic operator report: status counts,
// outstanding alerts, metric summaries over the report window and
// rule-derived recommendations. Generation is a pure read of accumulated
// state, so two reports over identical data are identical.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vigil/internal/models"
	"vigil/internal/store"
)

const maxReportAlerts = 50

type Generator struct {
	repo   *store.Repository
	window time.Duration
	log    *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	latest *models.Report
}

func NewGenerator(repo *store.Repository, window time.Duration, logger *slog.Logger) *Generator {
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &Generator{repo: repo, window: window, log: logger, now: time.Now}
}

// Generate assembles a point-in-time report and retains it as the
// latest one for the web API.
func (g *Generator) Generate(ctx context.Context) (models.Report, error) {
	now := g.now().UTC()

	statuses, err := g.repo.LatestStatuses(ctx)
	if err != nil {
		return models.Report{}, fmt.Errorf("load statuses: %w", err)
	}
	counts := map[models.Status]int{}
	for _, cs := range statuses {
		counts[cs.Status]++
	}

	unresolved, err := g.repo.UnresolvedAlerts(ctx, maxReportAlerts)
	if err != nil {
		return models.Report{}, fmt.Errorf("load alerts: %w", err)
	}
	summaries, err := g.repo.MetricSummaries(ctx, now.Add(-g.window))
	if err != nil {
		return models.Report{}, fmt.Errorf("load metric summaries: %w", err)
	}

	rep := models.Report{
		GeneratedAt:      now,
		StatusCounts:     counts,
		Components:       statuses,
		UnresolvedAlerts: unresolved,
		Metrics:          summaries,
		Recommendations:  recommendations(counts, unresolved),
	}

	g.mu.Lock()
	g.latest = &rep
	g.mu.Unlock()
	g.log.Info("report generated",
		"healthy", counts[models.StatusHealthy],
		"degraded", counts[models.StatusDegraded],
		"down", counts[models.StatusDown],
		"unresolved_alerts", len(unresolved))
	return rep, nil
}

// Latest returns the most recently generated report, if any.
func (g *Generator) Latest() (models.Report, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.latest == nil {
		return models.Report{}, false
	}
	return *g.latest, true
}

// recommendations derives short operator hints from simple fixed rules.
// The output order is stable for a given input.
func recommendations(counts map[models.Status]int, unresolved []models.AlertEvent) []string {
	var recs []string
	if n := counts[models.StatusDown] + counts[models.StatusError]; n > 0 {
		recs = append(recs, fmt.Sprintf("CRITICAL: %d component(s) down or erroring - investigate immediately", n))
	}
	if counts[models.StatusDegraded] > counts[models.StatusHealthy] {
		recs = append(recs, "more components degraded than healthy - investigate system load")
	}
	criticals := 0
	for _, a := range unresolved {
		if a.Severity == models.SeverityCritical {
			criticals++
		}
	}
	if criticals > 0 {
		recs = append(recs, fmt.Sprintf("%d unresolved critical alert(s) pending operator review", criticals))
	}
	if len(recs) == 0 {
		recs = append(recs, "all monitored components nominal")
	}
	return recs
}
