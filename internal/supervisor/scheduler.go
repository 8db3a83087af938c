// Package supervisor owns the periodic control loop: independent jobs
// sweep the monitored components and host resources, react to status
// transitions and drive recovery. Jobs never block one another; each
// runs on its own ticker in its own goroutine.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"vigil/internal/alerts"
	"vigil/internal/config"
	"vigil/internal/metrics"
	"vigil/internal/models"
	"vigil/internal/monitoring"
	"vigil/internal/probe"
	"vigil/internal/recovery"
	"vigil/internal/report"
	"vigil/internal/retention"
	"vigil/internal/store"
)

// hostComponent is the pseudo-component the resource, storage and
// network sweeps record host-level samples under.
const hostComponent = "host"

// Prober performs one health probe. Satisfied by *health.Checker.
type Prober interface {
	Check(ctx context.Context, comp models.Component) models.HealthCheckResult
}

type Scheduler struct {
	cfg        config.Config
	components []models.Component
	prober     Prober
	recorder   *metrics.Recorder
	alerts     *alerts.Manager
	executor   *recovery.Executor
	repo       *store.Repository
	host       *probe.Host
	reporter   *report.Generator
	maint      *retention.Service
	log        *slog.Logger
	now        func() time.Time

	mu            sync.Mutex
	lastStatus    map[string]models.Status
	lastThreshold map[string]models.Severity

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(
	cfg config.Config,
	components []models.Component,
	prober Prober,
	recorder *metrics.Recorder,
	alertMgr *alerts.Manager,
	executor *recovery.Executor,
	repo *store.Repository,
	host *probe.Host,
	reporter *report.Generator,
	maint *retention.Service,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:           cfg,
		components:    components,
		prober:        prober,
		recorder:      recorder,
		alerts:        alertMgr,
		executor:      executor,
		repo:          repo,
		host:          host,
		reporter:      reporter,
		maint:         maint,
		log:           logger,
		now:           time.Now,
		lastStatus:    make(map[string]models.Status),
		lastThreshold: make(map[string]models.Severity),
	}
}

type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context)
}

// Start launches every periodic job. Each job runs once immediately,
// then on its own interval until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	jobs := []job{
		{"component_sweep", s.cfg.ComponentSweepInterval.Std(), s.componentSweep},
		{"resource_sweep", s.cfg.ResourceSweepInterval.Std(), s.resourceSweep},
		{"storage_sweep", s.cfg.StorageSweepInterval.Std(), s.storageSweep},
		{"network_sweep", s.cfg.NetworkSweepInterval.Std(), s.networkSweep},
		{"maintenance", s.cfg.MaintenanceInterval.Std(), s.maint.Run},
		{"reporting", s.cfg.ReportInterval.Std(), s.reportJob},
	}
	for _, j := range jobs {
		s.wg.Add(1)
		go s.runJob(ctx, j)
	}
	s.log.Info("scheduler started", "jobs", len(jobs), "components", len(s.components))
}

// Stop cancels the jobs and waits for in-flight work up to the grace
// period. A recovery command that has already been issued is not
// interrupted; it runs detached from the scheduler context.
func (s *Scheduler) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-time.After(s.cfg.ShutdownGrace.Std()):
		return fmt.Errorf("scheduler shutdown exceeded %s grace period", s.cfg.ShutdownGrace.Std())
	}
}

func (s *Scheduler) runJob(ctx context.Context, j job) {
	defer s.wg.Done()
	s.tick(ctx, j)
	t := time.NewTicker(j.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick(ctx, j)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, j job) {
	start := s.now()
	j.run(ctx)
	monitoring.ObserveSweep(j.name, s.now().Sub(start))
}

// componentSweep probes every component concurrently with bounded
// fan-out. One hanging probe cannot starve the rest: each probe carries
// its own timeout and components are handled independently.
func (s *Scheduler) componentSweep(ctx context.Context) {
	dedup := newSweepDedup()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrentProbes)
	for _, comp := range s.components {
		comp := comp
		g.Go(func() error {
			s.checkComponent(gctx, comp, dedup)
			return nil
		})
	}
	_ = g.Wait()
	s.publishStatusGauges()
}

func (s *Scheduler) checkComponent(ctx context.Context, comp models.Component, dedup *sweepDedup) {
	res := s.prober.Check(ctx, comp)
	monitoring.RecordHealthCheck(string(res.Status))

	// Check row first, sample second: writes for one component within a
	// sweep are totally ordered by timestamp.
	if err := s.repo.InsertHealthCheck(ctx, res); err != nil {
		s.log.Error("insert health check", "component", comp.Name, "err", err)
	}
	if res.ResponseTime > 0 {
		ms := float64(res.ResponseTime) / float64(time.Millisecond)
		if _, err := s.recorder.Record(ctx, comp.Name, "response_time_ms", ms, "ms", res.TS); err != nil {
			s.log.Error("record response time", "component", comp.Name, "err", err)
		}
	}

	s.mu.Lock()
	prev, seen := s.lastStatus[comp.Name]
	s.lastStatus[comp.Name] = res.Status
	s.mu.Unlock()
	if !seen {
		prev = models.StatusUnknown
	}

	if res.Status != prev {
		s.handleTransition(ctx, comp, prev, res, dedup)
	}
	if res.Status == models.StatusDown || res.Status == models.StatusError {
		s.recover(ctx, comp, res)
	}
}

func (s *Scheduler) handleTransition(ctx context.Context, comp models.Component, prev models.Status, res models.HealthCheckResult, dedup *sweepDedup) {
	msg := fmt.Sprintf("status changed %s -> %s", prev, res.Status)
	if res.Error != "" {
		msg += ": " + res.Error
	}
	if dedup.first(comp.Name, msg) {
		s.alerts.Raise(ctx, severityFor(res.Status), comp.Name, msg)
	}

	// A confirmed return to HEALTHY resolves the component's outstanding
	// alerts and re-arms recovery.
	if res.Status == models.StatusHealthy && prev != models.StatusUnknown {
		s.alerts.Resolve(ctx, comp.Name)
		s.executor.ResetAttempts(comp.Name)
	}
}

func (s *Scheduler) recover(ctx context.Context, comp models.Component, res models.HealthCheckResult) {
	if len(comp.RestartCmd) == 0 {
		s.log.Debug("no recovery command configured", "component", comp.Name)
		return
	}
	detail := res.Error
	if _, err := s.executor.Execute(ctx, comp, recovery.ActionRestartProcess, detail); err != nil {
		if err == recovery.ErrExhausted {
			s.log.Debug("recovery exhausted", "component", comp.Name)
			return
		}
		s.log.Warn("recovery attempt failed", "component", comp.Name, "err", err)
	}
}

func (s *Scheduler) reportJob(ctx context.Context) {
	if _, err := s.reporter.Generate(ctx); err != nil {
		s.log.Error("report generation failed", "err", err)
	}
}

func (s *Scheduler) publishStatusGauges() {
	counts := map[models.Status]int{}
	s.mu.Lock()
	for _, st := range s.lastStatus {
		counts[st]++
	}
	s.mu.Unlock()
	for _, st := range []models.Status{models.StatusHealthy, models.StatusDegraded, models.StatusDown, models.StatusError, models.StatusUnknown} {
		monitoring.SetComponentCount(string(st), counts[st])
	}
}

func severityFor(st models.Status) models.Severity {
	switch st {
	case models.StatusHealthy:
		return models.SeverityInfo
	case models.StatusDegraded:
		return models.SeverityWarning
	case models.StatusDown, models.StatusError:
		return models.SeverityCritical
	default:
		return models.SeverityWarning
	}
}

// sweepDedup coalesces identical (component, message) alerts inside one
// sweep so a repeated detector cannot escalate the same condition twice
// in the same cycle. The alert manager itself stays stateless.
type sweepDedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newSweepDedup() *sweepDedup {
	return &sweepDedup{seen: make(map[string]struct{})}
}

func (d *sweepDedup) first(component, message string) bool {
	key := component + "\x00" + message
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}
