// Package alerts records alert events and escalates critical ones to the
// notification sink. The manager itself is stateless: dedup of repeated
// identical alerts within one sweep is the scheduler's job.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vigil/internal/models"
	"vigil/internal/monitoring"
	"vigil/internal/notifier"
	"vigil/internal/store"
)

type Manager struct {
	repo   *store.Repository
	notify notifier.Notifier
	log    *slog.Logger
	now    func() time.Time
}

func NewManager(repo *store.Repository, notify notifier.Notifier, logger *slog.Logger) *Manager {
	return &Manager{repo: repo, notify: notify, log: logger, now: time.Now}
}

// Raise appends an alert event. CRITICAL alerts are marked escalated and
// pushed through the notification sink. A storage failure is logged and
// never blocks escalation.
func (m *Manager) Raise(ctx context.Context, severity models.Severity, component, message string) models.AlertEvent {
	ev := models.AlertEvent{
		ID:        uuid.NewString(),
		TS:        m.now().UTC(),
		Severity:  severity,
		Component: component,
		Message:   message,
		Escalated: severity == models.SeverityCritical,
	}
	if err := m.repo.InsertAlert(ctx, ev); err != nil {
		m.log.Error("insert alert", "component", component, "err", err)
	}
	monitoring.RecordAlert(string(severity))
	if ev.Escalated {
		m.escalate(ctx, ev)
	}
	return ev
}

// Resolve flips the unresolved alerts for one component. Called when a
// subsequent health check reports the component HEALTHY again.
func (m *Manager) Resolve(ctx context.Context, component string) {
	n, err := m.repo.ResolveAlerts(ctx, component)
	if err != nil {
		m.log.Error("resolve alerts", "component", component, "err", err)
		return
	}
	if n > 0 {
		m.log.Info("alerts resolved", "component", component, "count", n)
	}
}

func (m *Manager) escalate(ctx context.Context, ev models.AlertEvent) {
	msg := fmt.Sprintf("CRITICAL [%s] %s", ev.Component, ev.Message)
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		if err = m.notify.Send(ctx, msg); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
		}
	}
	m.log.Warn("escalation notify failed", "component", ev.Component, "err", err)
}
