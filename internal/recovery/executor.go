// Package recovery executes bounded remediation actions against failing
// components and keeps the per-component attempt accounting that
// prevents restart storms.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"vigil/internal/alerts"
	"vigil/internal/models"
	"vigil/internal/monitoring"
	"vigil/internal/store"
)

// ErrExhausted is returned once a component has used up its permitted
// recovery attempts. The state is terminal until a confirmed HEALTHY
// transition resets the counter.
var ErrExhausted = errors.New("recovery attempts exhausted")

type Executor struct {
	repo        *store.Repository
	alerts      *alerts.Manager
	log         *slog.Logger
	maxAttempts int
	actions     map[string]Action
	now         func() time.Time

	mu        sync.Mutex
	attempts  map[string]int
	exhausted map[string]bool
}

func NewExecutor(repo *store.Repository, alertMgr *alerts.Manager, maxAttempts int, logger *slog.Logger, actions ...Action) *Executor {
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	byType := make(map[string]Action, len(actions))
	for _, a := range actions {
		byType[a.Type()] = a
	}
	return &Executor{
		repo:        repo,
		alerts:      alertMgr,
		log:         logger,
		maxAttempts: maxAttempts,
		actions:     byType,
		now:         time.Now,
		attempts:    make(map[string]int),
		exhausted:   make(map[string]bool),
	}
}

// Execute runs one recovery action against a component. At or above the
// attempt cap nothing is executed: the component transitions to the
// exhausted state, which raises exactly one CRITICAL alert, and every
// later call returns ErrExhausted silently.
func (e *Executor) Execute(ctx context.Context, comp models.Component, actionType, detail string) (models.RecoveryAttempt, error) {
	action, ok := e.actions[actionType]
	if !ok {
		return models.RecoveryAttempt{}, fmt.Errorf("unknown recovery action %q", actionType)
	}

	e.mu.Lock()
	prior := e.attempts[comp.Name]
	if prior >= e.maxAttempts {
		first := !e.exhausted[comp.Name]
		e.exhausted[comp.Name] = true
		e.mu.Unlock()
		if first {
			e.alerts.Raise(ctx, models.SeverityCritical, comp.Name,
				fmt.Sprintf("recovery exhausted after %d attempts, manual intervention required", e.maxAttempts))
		}
		return models.RecoveryAttempt{}, ErrExhausted
	}
	e.mu.Unlock()

	start := e.now()
	runErr := action.Run(ctx, comp, detail)
	attempt := models.RecoveryAttempt{
		ID:        uuid.NewString(),
		TS:        start.UTC(),
		Component: comp.Name,
		Action:    actionType,
		Detail:    detail,
		Success:   runErr == nil,
		Duration:  e.now().Sub(start),
		Attempt:   prior + 1,
	}

	e.mu.Lock()
	if runErr == nil {
		attempt.Message = "recovered"
		e.attempts[comp.Name] = 0
		e.exhausted[comp.Name] = false
	} else {
		attempt.Message = runErr.Error()
		e.attempts[comp.Name] = prior + 1
	}
	final := e.attempts[comp.Name] >= e.maxAttempts
	e.mu.Unlock()

	if err := e.repo.InsertRecoveryAttempt(ctx, attempt); err != nil {
		e.log.Error("insert recovery attempt", "component", comp.Name, "err", err)
	}
	monitoring.RecordRecovery(attempt.Success)

	if runErr == nil {
		e.alerts.Raise(ctx, models.SeverityInfo, comp.Name,
			fmt.Sprintf("recovery %s succeeded on attempt %d", actionType, attempt.Attempt))
		return attempt, nil
	}

	sev := models.SeverityWarning
	if final {
		sev = models.SeverityCritical
	}
	e.alerts.Raise(ctx, sev, comp.Name,
		fmt.Sprintf("recovery %s failed (attempt %d/%d): %v", actionType, attempt.Attempt, e.maxAttempts, runErr))
	return attempt, runErr
}

// ResetAttempts clears the counter and the exhausted latch. Called by
// the scheduler on an externally confirmed HEALTHY transition.
func (e *Executor) ResetAttempts(component string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts[component] = 0
	e.exhausted[component] = false
}

// Attempts reports the current consecutive-failure count for a component.
func (e *Executor) Attempts(component string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts[component]
}
