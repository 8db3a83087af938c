package recovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"vigil/internal/alerts"
	"vigil/internal/models"
	"vigil/internal/notifier"
	"vigil/internal/store"
)

// scriptAction fails or succeeds per call according to its script.
type scriptAction struct {
	name  string
	fail  bool
	calls int
}

func (a *scriptAction) Type() string { return a.name }

func (a *scriptAction) Run(context.Context, models.Component, string) error {
	a.calls++
	if a.fail {
		return errors.New("simulated action failure")
	}
	return nil
}

func newTestExecutor(t *testing.T, maxAttempts int, action Action) (*Executor, *store.Repository) {
	t.Helper()
	sqldb, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqldb.Close() })
	require.NoError(t, store.Migrate(sqldb))
	repo := store.NewRepository(sqldb)

	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := alerts.NewManager(repo, notifier.NewConsole(), discard)
	return NewExecutor(repo, mgr, maxAttempts, discard, action), repo
}

func countExhaustedAlerts(t *testing.T, repo *store.Repository, component string) int {
	t.Helper()
	open, err := repo.UnresolvedAlerts(context.Background(), 100)
	require.NoError(t, err)
	n := 0
	for _, a := range open {
		if a.Component == component && a.Severity == models.SeverityCritical && strings.Contains(a.Message, "exhausted") {
			n++
		}
	}
	return n
}

func TestAttemptCapStopsExecution(t *testing.T) {
	action := &scriptAction{name: ActionRestartProcess, fail: true}
	exec, repo := newTestExecutor(t, 3, action)
	ctx := context.Background()
	comp := models.Component{Name: "feed-fetcher", Kind: models.KindProcess}

	for i := 0; i < 3; i++ {
		_, err := exec.Execute(ctx, comp, ActionRestartProcess, "down")
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrExhausted)
	}

	// Fourth call is skipped entirely.
	_, err := exec.Execute(ctx, comp, ActionRestartProcess, "down")
	require.ErrorIs(t, err, ErrExhausted)
	require.Equal(t, 3, action.calls)

	n, err := repo.RecoveryCount(ctx, "feed-fetcher")
	require.NoError(t, err)
	require.Equal(t, 3, n, "only executed attempts are persisted")

	require.Equal(t, 1, countExhaustedAlerts(t, repo, "feed-fetcher"))

	// Further calls stay exhausted without re-alerting.
	_, err = exec.Execute(ctx, comp, ActionRestartProcess, "down")
	require.ErrorIs(t, err, ErrExhausted)
	require.Equal(t, 1, countExhaustedAlerts(t, repo, "feed-fetcher"))
}

func TestSuccessResetsCounter(t *testing.T) {
	action := &scriptAction{name: ActionRestartProcess, fail: true}
	exec, repo := newTestExecutor(t, 5, action)
	ctx := context.Background()
	comp := models.Component{Name: "categorizer", Kind: models.KindProcess}

	_, err := exec.Execute(ctx, comp, ActionRestartProcess, "")
	require.Error(t, err)
	_, err = exec.Execute(ctx, comp, ActionRestartProcess, "")
	require.Error(t, err)
	require.Equal(t, 2, exec.Attempts("categorizer"))

	action.fail = false
	attempt, err := exec.Execute(ctx, comp, ActionRestartProcess, "")
	require.NoError(t, err)
	require.True(t, attempt.Success)
	require.Equal(t, 3, attempt.Attempt)
	require.Equal(t, 0, exec.Attempts("categorizer"))

	n, err := repo.RecoveryCount(ctx, "categorizer")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestUnknownActionFailsFast(t *testing.T) {
	exec, repo := newTestExecutor(t, 3, &scriptAction{name: ActionRestartProcess})
	ctx := context.Background()

	_, err := exec.Execute(ctx, models.Component{Name: "c"}, "reboot-the-moon", "")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrExhausted)

	n, err := repo.RecoveryCount(ctx, "c")
	require.NoError(t, err)
	require.Zero(t, n, "unknown actions are never persisted")
}

func TestResetAttemptsReArmsExhaustedComponent(t *testing.T) {
	action := &scriptAction{name: ActionRestartProcess, fail: true}
	exec, _ := newTestExecutor(t, 1, action)
	ctx := context.Background()
	comp := models.Component{Name: "image-scraper", Kind: models.KindProcess}

	_, err := exec.Execute(ctx, comp, ActionRestartProcess, "")
	require.Error(t, err)
	_, err = exec.Execute(ctx, comp, ActionRestartProcess, "")
	require.ErrorIs(t, err, ErrExhausted)

	exec.ResetAttempts("image-scraper")
	action.fail = false
	attempt, err := exec.Execute(ctx, comp, ActionRestartProcess, "")
	require.NoError(t, err)
	require.True(t, attempt.Success)
	require.Equal(t, 1, attempt.Attempt)
}

func TestFinalPermittedAttemptRaisesCritical(t *testing.T) {
	action := &scriptAction{name: ActionRestartProcess, fail: true}
	exec, repo := newTestExecutor(t, 2, action)
	ctx := context.Background()
	comp := models.Component{Name: "reporter", Kind: models.KindProcess}

	_, err := exec.Execute(ctx, comp, ActionRestartProcess, "")
	require.Error(t, err)
	_, err = exec.Execute(ctx, comp, ActionRestartProcess, "")
	require.Error(t, err)

	open, oerr := repo.UnresolvedAlerts(ctx, 100)
	require.NoError(t, oerr)
	var warnings, criticals int
	for _, a := range open {
		if a.Component != "reporter" {
			continue
		}
		switch a.Severity {
		case models.SeverityWarning:
			warnings++
		case models.SeverityCritical:
			criticals++
		}
	}
	require.Equal(t, 1, warnings, "first failure is a warning")
	require.Equal(t, 1, criticals, "final permitted attempt escalates")
}
