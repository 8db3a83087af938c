package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"vigil/internal/models"
	"vigil/internal/retention"
)

const (
	ActionRestartProcess    = "restart-process"
	ActionClearCache        = "clear-cache"
	ActionCleanupStorage    = "cleanup-storage"
	ActionRestartDependents = "restart-dependent-services"
)

// Action is one named, idempotent remediation. The execution mechanism
// is behind this interface so tests never have to touch the OS.
type Action interface {
	Type() string
	Run(ctx context.Context, comp models.Component, detail string) error
}

// ProcessRestart relaunches a component via its declared recovery
// command. The command is intentionally not bound to the caller's
// context: once issued, a restart must run to completion even during
// supervisor shutdown, otherwise the component is left half-restarted.
type ProcessRestart struct {
	Log *slog.Logger
}

func (ProcessRestart) Type() string { return ActionRestartProcess }

func (a ProcessRestart) Run(_ context.Context, comp models.Component, _ string) error {
	if len(comp.RestartCmd) == 0 {
		return fmt.Errorf("component %q has no recovery command", comp.Name)
	}
	cmd := exec.Command(comp.RestartCmd[0], comp.RestartCmd[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("restart command failed: %w (output: %s)", err, truncate(string(out), 256))
	}
	if a.Log != nil {
		a.Log.Info("restart command completed", "component", comp.Name, "cmd", comp.RestartCmd[0])
	}
	return nil
}

// CacheClear empties a component's cache directory without removing the
// directory itself.
type CacheClear struct {
	Dir string
}

func (CacheClear) Type() string { return ActionClearCache }

func (a CacheClear) Run(_ context.Context, comp models.Component, detail string) error {
	dir := a.Dir
	if detail != "" {
		dir = detail
	}
	if dir == "" {
		return fmt.Errorf("no cache directory configured")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("clear cache entry %s: %w", e.Name(), err)
		}
	}
	return nil
}

// StorageCleanup runs the retention prune immediately, the same routine
// the maintenance job runs on its own schedule.
type StorageCleanup struct {
	Retention *retention.Service
}

func (StorageCleanup) Type() string { return ActionCleanupStorage }

func (a StorageCleanup) Run(ctx context.Context, _ models.Component, _ string) error {
	if a.Retention == nil {
		return fmt.Errorf("retention service not configured")
	}
	return a.Retention.Prune(ctx)
}

// DependentRestart relaunches every component that declares a dependency
// on the failing one.
type DependentRestart struct {
	Registry []models.Component
	Restart  Action
	Log      *slog.Logger
}

func (DependentRestart) Type() string { return ActionRestartDependents }

func (a DependentRestart) Run(ctx context.Context, comp models.Component, detail string) error {
	restarted := 0
	for _, other := range a.Registry {
		if !dependsOn(other, comp.Name) || len(other.RestartCmd) == 0 {
			continue
		}
		if err := a.Restart.Run(ctx, other, detail); err != nil {
			return fmt.Errorf("restart dependent %q: %w", other.Name, err)
		}
		restarted++
	}
	if a.Log != nil {
		a.Log.Info("dependents restarted", "component", comp.Name, "count", restarted)
	}
	return nil
}

func dependsOn(c models.Component, name string) bool {
	for _, dep := range c.DependsOn {
		if dep == name {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
