// Package retention prunes aged history so the store stays bounded. It
// runs on the maintenance schedule and doubles as the cleanup-storage
// recovery action.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vigil/internal/store"
)

type Service struct {
	repo          *store.Repository
	retentionDays int
	log           *slog.Logger
	now           func() time.Time
}

func NewService(repo *store.Repository, days int, logger *slog.Logger) *Service {
	if days <= 0 {
		days = 14
	}
	return &Service{repo: repo, retentionDays: days, log: logger, now: time.Now}
}

// Prune deletes rows older than the retention window.
func (s *Service) Prune(ctx context.Context) error {
	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays)
	if err := s.repo.DeleteOlderThan(ctx, cutoff); err != nil {
		return fmt.Errorf("retention prune: %w", err)
	}
	s.log.Info("retention prune completed", "cutoff", cutoff)
	return nil
}

// Run is the maintenance-job entry point; failures are logged and never
// block the next tick.
func (s *Service) Run(ctx context.Context) {
	if err := s.Prune(ctx); err != nil {
		s.log.Error("retention prune failed", "err", err)
	}
}
