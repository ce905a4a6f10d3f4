// Package history tracks how often consumers were flagged for theft.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/gridwatch/kestrel/internal/domain"
)

// Service answers flag-frequency questions over stored assessments.
// Repeat-offender rules use it to escalate consumers that keep getting
// flagged across uploads.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new flag-history service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// flagKey builds the cache key for a consumer's alert counter. The
// window is part of the key so a lookup never reads a counter bumped
// for a different window.
func flagKey(consumerID string, windowSecs int) string {
	return fmt.Sprintf("flags:%d:%s", windowSecs, consumerID)
}

// GetFlagCount returns the number of theft alerts recorded for a
// consumer within a trailing time window. This is the FlagCountGetter
// signature expected by the rule engine.
//
// The cached counter is the fast path. It can undercount (it only
// sees flags recorded since its window opened), so a zero reads
// through to the repository, which remains the source of truth.
func (s *Service) GetFlagCount(ctx context.Context, tenantID, consumerID string, windowSecs int) (int64, error) {
	if tenantID == "" || consumerID == "" {
		return 0, fmt.Errorf("tenantID and consumerID are required")
	}

	if s.cache != nil {
		count, err := s.cache.GetCounter(ctx, tenantID, flagKey(consumerID, windowSecs))
		if err == nil && count > 0 {
			return count, nil
		}
	}

	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	since := time.Now().Add(-time.Duration(windowSecs) * time.Second)
	count, err := s.repo.CountFlaggedAssessments(ctx, tenantID, consumerID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count flagged assessments: %w", err)
	}
	return count, nil
}

// RecordFlag bumps the cached per-consumer alert counter that
// GetFlagCount consults before falling back to the repository.
func (s *Service) RecordFlag(ctx context.Context, tenantID, consumerID string, window time.Duration) {
	if s.cache == nil {
		return
	}
	key := flagKey(consumerID, int(window.Seconds()))
	// Counter errors are ignored: a cold cache only delays escalation.
	_, _ = s.cache.IncrementCounter(ctx, tenantID, key, window)
}

// GetFlagCountGetter returns a FlagCountGetter function for the rule engine.
func (s *Service) GetFlagCountGetter() func(ctx context.Context, tenantID, consumerID string, windowSecs int) (int64, error) {
	return s.GetFlagCount
}
