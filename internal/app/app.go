package app

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"vigil/internal/alerts"
	"vigil/internal/config"
	"vigil/internal/health"
	"vigil/internal/metrics"
	"vigil/internal/notifier"
	"vigil/internal/probe"
	"vigil/internal/recovery"
	"vigil/internal/report"
	"vigil/internal/retention"
	"vigil/internal/store"
	"vigil/internal/supervisor"
	"vigil/internal/web"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	db        *sql.DB
	scheduler *supervisor.Scheduler
	httpSrv   *http.Server
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	sqldb, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(sqldb); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	repo := store.NewRepository(sqldb)

	sink := buildNotifier(cfg.Notify)
	alertMgr := alerts.NewManager(repo, sink, logger.With("module", "alerts"))
	recorder := metrics.NewRecorder(repo, alertMgr, logger.With("module", "metrics"))
	checker := health.NewChecker(cfg.ProbeTimeout.Std(), logger.With("module", "health"))
	maint := retention.NewService(repo, cfg.RetentionDays, logger.With("module", "retention"))
	registry := cfg.ComponentRegistry()

	restart := recovery.ProcessRestart{Log: logger.With("module", "recovery")}
	executor := recovery.NewExecutor(repo, alertMgr, cfg.MaxRecoveryAttempts, logger.With("module", "recovery"),
		restart,
		recovery.CacheClear{Dir: cfg.CacheDir},
		recovery.StorageCleanup{Retention: maint},
		recovery.DependentRestart{Registry: registry, Restart: restart, Log: logger.With("module", "recovery")},
	)

	reporter := report.NewGenerator(repo, cfg.ReportWindow.Std(), logger.With("module", "report"))
	sched := supervisor.NewScheduler(cfg, registry, checker, recorder, alertMgr, executor,
		repo, probe.NewHost(), reporter, maint, logger.With("module", "supervisor"))
	srv := web.NewServer(repo, reporter, logger.With("module", "web"))

	return &App{
		cfg:       cfg,
		log:       logger,
		db:        sqldb,
		scheduler: sched,
		httpSrv:   &http.Server{Addr: cfg.Addr, Handler: srv.Routes()},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	go func() {
		a.log.Info("http server listening", "addr", a.cfg.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("http server failed", "err", err)
		}
	}()

	a.scheduler.Start(ctx)
	<-ctx.Done()

	stopErr := a.scheduler.Stop()
	if stopErr != nil {
		a.log.Warn("scheduler stop", "err", stopErr)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace.Std())
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	if err := a.db.Close(); err != nil {
		return err
	}
	return stopErr
}

func buildNotifier(cfg config.NotifyConfig) notifier.Notifier {
	var channels []notifier.Notifier
	if cfg.Console {
		channels = append(channels, notifier.NewConsole())
	}
	if cfg.File != "" {
		channels = append(channels, notifier.NewFile(cfg.File))
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, notifier.NewWebhook(cfg.WebhookURL))
	}
	if len(channels) == 0 {
		channels = append(channels, notifier.NewConsole())
	}
	return notifier.NewMulti(channels...)
}
