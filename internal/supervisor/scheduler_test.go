package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vigil/internal/alerts"
	"vigil/internal/config"
	"vigil/internal/metrics"
	"vigil/internal/models"
	"vigil/internal/notifier"
	"vigil/internal/probe"
	"vigil/internal/recovery"
	"vigil/internal/report"
	"vigil/internal/retention"
	"vigil/internal/store"
)

// fakeProber serves scripted statuses and records when each probe finished.
type fakeProber struct {
	mu     sync.Mutex
	status map[string]models.Status
	delay  map[string]time.Duration
	done   map[string]time.Time
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		status: make(map[string]models.Status),
		delay:  make(map[string]time.Duration),
		done:   make(map[string]time.Time),
	}
}

func (p *fakeProber) set(name string, st models.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status[name] = st
}

func (p *fakeProber) Check(ctx context.Context, comp models.Component) models.HealthCheckResult {
	p.mu.Lock()
	st := p.status[comp.Name]
	d := p.delay[comp.Name]
	p.mu.Unlock()
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
	}
	res := models.HealthCheckResult{
		Component:    comp.Name,
		TS:           time.Now().UTC(),
		Status:       st,
		ResponseTime: time.Millisecond,
		Metrics:      map[string]float64{},
	}
	if st == models.StatusDown {
		res.Error = "probe failed"
	}
	p.mu.Lock()
	p.done[comp.Name] = time.Now()
	p.mu.Unlock()
	return res
}

func (p *fakeProber) finishedAt(name string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done[name]
}

type fakeAction struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (a *fakeAction) Type() string { return recovery.ActionRestartProcess }

func (a *fakeAction) Run(context.Context, models.Component, string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.fail {
		return errors.New("restart failed")
	}
	return nil
}

func newTestScheduler(t *testing.T, comps []models.Component, prober Prober, action recovery.Action) (*Scheduler, *store.Repository, *recovery.Executor) {
	t.Helper()
	sqldb, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqldb.Close() })
	require.NoError(t, store.Migrate(sqldb))
	repo := store.NewRepository(sqldb)

	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := alerts.NewManager(repo, notifier.NewConsole(), discard)
	recorder := metrics.NewRecorder(repo, mgr, discard)
	executor := recovery.NewExecutor(repo, mgr, 5, discard, action)
	maint := retention.NewService(repo, 14, discard)
	reporter := report.NewGenerator(repo, 30*time.Minute, discard)

	cfg := config.Config{
		DataDir:             t.TempDir(),
		MaxConcurrentProbes: 4,
		MaxRecoveryAttempts: 5,
		ProbeTimeout:        config.Duration(time.Second),
		ShutdownGrace:       config.Duration(time.Second),
		Thresholds: config.Thresholds{
			CPUHighPct: 80, CPUCriticalPct: 95,
			MemHighPct: 85, MemCriticalPct: 95,
			DiskHighPct: 85, DiskCriticalPct: 95,
			LatencyHighMs: 500, LatencyCriticalMs: 2000,
		},
	}
	s := NewScheduler(cfg, comps, prober, recorder, mgr, executor, repo, probe.NewHost(), reporter, maint, discard)
	return s, repo, executor
}

func componentAlerts(t *testing.T, repo *store.Repository, component string, severity models.Severity) []models.AlertEvent {
	t.Helper()
	all, err := repo.RecentAlerts(context.Background(), time.Now().UTC().Add(-time.Hour), 100)
	require.NoError(t, err)
	var out []models.AlertEvent
	for _, a := range all {
		if a.Component == component && a.Severity == severity {
			out = append(out, a)
		}
	}
	return out
}

func TestTransitionToDownAlertsOnceAndRecoversOnce(t *testing.T) {
	comp := models.Component{Name: "api", Kind: models.KindProcess, PIDFile: "x", RestartCmd: []string{"/bin/true"}}
	prober := newFakeProber()
	action := &fakeAction{fail: true}
	s, repo, executor := newTestScheduler(t, []models.Component{comp}, prober, action)
	ctx := context.Background()

	prober.set("api", models.StatusHealthy)
	s.componentSweep(ctx)

	prober.set("api", models.StatusDown)
	s.componentSweep(ctx)

	require.Len(t, componentAlerts(t, repo, "api", models.SeverityCritical), 1,
		"one transition, one critical alert")
	attempts, err := repo.RecoveryCount(ctx, "api")
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
	require.Equal(t, 1, executor.Attempts("api"))
}

func TestReturnToHealthyResolvesAndResetsCounter(t *testing.T) {
	comp := models.Component{Name: "api", Kind: models.KindProcess, PIDFile: "x", RestartCmd: []string{"/bin/true"}}
	prober := newFakeProber()
	action := &fakeAction{fail: true}
	s, repo, executor := newTestScheduler(t, []models.Component{comp}, prober, action)
	ctx := context.Background()

	prober.set("api", models.StatusHealthy)
	s.componentSweep(ctx)
	prober.set("api", models.StatusDown)
	s.componentSweep(ctx)
	require.Equal(t, 1, executor.Attempts("api"))

	prober.set("api", models.StatusHealthy)
	s.componentSweep(ctx)

	open, err := repo.UnresolvedAlerts(ctx, 100)
	require.NoError(t, err)
	for _, a := range open {
		require.NotEqual(t, "api", a.Component, "all alerts for a recovered component are resolved")
	}
	require.Equal(t, 0, executor.Attempts("api"))
}

func TestStuckDownComponentRetriesEachSweepUntilExhausted(t *testing.T) {
	comp := models.Component{Name: "api", Kind: models.KindProcess, PIDFile: "x", RestartCmd: []string{"/bin/true"}}
	prober := newFakeProber()
	action := &fakeAction{fail: true}
	s, repo, _ := newTestScheduler(t, []models.Component{comp}, prober, action)
	ctx := context.Background()

	prober.set("api", models.StatusDown)
	for i := 0; i < 8; i++ {
		s.componentSweep(ctx)
	}

	attempts, err := repo.RecoveryCount(ctx, "api")
	require.NoError(t, err)
	require.Equal(t, 5, attempts, "attempt cap bounds restart storms")
}

func TestComponentWithoutRecoveryCommandIsNotRecovered(t *testing.T) {
	comp := models.Component{Name: "readonly", Kind: models.KindEndpoint, CheckURL: "http://localhost:1"}
	prober := newFakeProber()
	action := &fakeAction{}
	s, repo, _ := newTestScheduler(t, []models.Component{comp}, prober, action)
	ctx := context.Background()

	prober.set("readonly", models.StatusDown)
	s.componentSweep(ctx)

	attempts, err := repo.RecoveryCount(ctx, "readonly")
	require.NoError(t, err)
	require.Zero(t, attempts)
	require.Len(t, componentAlerts(t, repo, "readonly", models.SeverityCritical), 1)
}

func TestSlowProbeDoesNotDelayOthers(t *testing.T) {
	a := models.Component{Name: "slow", Kind: models.KindEndpoint, CheckURL: "http://localhost:1"}
	b := models.Component{Name: "fast", Kind: models.KindEndpoint, CheckURL: "http://localhost:2"}
	prober := newFakeProber()
	prober.set("slow", models.StatusHealthy)
	prober.set("fast", models.StatusHealthy)
	prober.delay["slow"] = 300 * time.Millisecond

	s, _, _ := newTestScheduler(t, []models.Component{a, b}, prober, &fakeAction{})

	start := time.Now()
	s.componentSweep(context.Background())

	fastDone := prober.finishedAt("fast").Sub(start)
	slowDone := prober.finishedAt("slow").Sub(start)
	require.Less(t, fastDone, 150*time.Millisecond, "fast probe must not wait for the slow one")
	require.GreaterOrEqual(t, slowDone, 300*time.Millisecond)
}

func TestSweepDedupCoalescesIdenticalAlerts(t *testing.T) {
	d := newSweepDedup()
	require.True(t, d.first("api", "status changed HEALTHY -> DOWN"))
	require.False(t, d.first("api", "status changed HEALTHY -> DOWN"))
	require.True(t, d.first("api", "another message"))
	require.True(t, d.first("other", "status changed HEALTHY -> DOWN"))
}

func TestThresholdAlertsOnlyOnBandChange(t *testing.T) {
	s, repo, _ := newTestScheduler(t, nil, newFakeProber(), &fakeAction{})
	ctx := context.Background()

	s.checkComponentThreshold(ctx, "host", "cpu_pct", 50, 80, 95, "host CPU at 50%")
	require.Empty(t, componentAlerts(t, repo, "host", models.SeverityWarning))

	s.checkComponentThreshold(ctx, "host", "cpu_pct", 85, 80, 95, "host CPU at 85%")
	s.checkComponentThreshold(ctx, "host", "cpu_pct", 86, 80, 95, "host CPU at 86%")
	require.Len(t, componentAlerts(t, repo, "host", models.SeverityWarning), 1,
		"staying inside the high band does not re-alert")

	s.checkComponentThreshold(ctx, "host", "cpu_pct", 97, 80, 95, "host CPU at 97%")
	require.Len(t, componentAlerts(t, repo, "host", models.SeverityCritical), 1)

	s.checkComponentThreshold(ctx, "host", "cpu_pct", 40, 80, 95, "host CPU at 40%")
	open, err := repo.UnresolvedAlerts(ctx, 100)
	require.NoError(t, err)
	for _, alert := range open {
		require.NotEqual(t, "host", alert.Component, "returning below thresholds resolves host alerts")
	}
}

func TestSeverityMapping(t *testing.T) {
	require.Equal(t, models.SeverityInfo, severityFor(models.StatusHealthy))
	require.Equal(t, models.SeverityWarning, severityFor(models.StatusDegraded))
	require.Equal(t, models.SeverityCritical, severityFor(models.StatusDown))
	require.Equal(t, models.SeverityCritical, severityFor(models.StatusError))
	require.Equal(t, models.SeverityWarning, severityFor(models.StatusUnknown))
}
