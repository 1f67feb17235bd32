package suppression

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

// Service wraps the Suppression Store with the validation and idempotency
// rules the admin API and the webhook ingestion path both rely on.
type Service struct {
	store Store
}

// NewService creates a suppression service backed by the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// LookupSuppression answers the fast in-memory question a Materializer
// pre-filter or Dispatcher late-check asks: is this email currently
// suppressed, and under what status.
func (s *Service) LookupSuppression(email string) domain.EmailStatus {
	return s.store.LookupSuppression(normalizeEmail(email))
}

// Suppress records a new suppression entry, deriving the customer-facing
// EmailStatus from the reason when the caller hasn't already determined one.
func (s *Service) Suppress(ctx context.Context, email string, reason domain.SuppressionReason, source domain.SuppressionSource, dsnCode, dsnDiag, campaignID string) error {
	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}

	entry := &domain.Suppression{
		Email:      email,
		MD5Hash:    "",
		Status:     domain.EmailStatusFor(reason),
		Reason:     reason,
		Source:     source,
		DSNCode:    dsnCode,
		DSNDiag:    dsnDiag,
		CampaignID: campaignID,
		CreatedAt:  time.Now(),
	}
	if reason == domain.ReasonHardBounce || reason == domain.ReasonSoftBounce {
		bounceType := domain.BounceSoft
		if reason == domain.ReasonHardBounce {
			bounceType = domain.BounceHard
		}
		entry.Bounce = domain.BounceInfo{IsBounced: true, BounceType: bounceType, BounceCount: 1}
	}

	return s.store.Suppress(ctx, entry)
}

// Remove deletes a suppression entry.
func (s *Service) Remove(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	return s.store.Remove(ctx, email)
}

// Get returns the durable suppression record for an email, or nil if it
// isn't currently suppressed.
func (s *Service) Get(ctx context.Context, email string) (*domain.Suppression, error) {
	return s.store.Get(ctx, normalizeEmail(email))
}

// List returns suppression entries matching the given filter, for the admin
// listing surface.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]domain.Suppression, int, error) {
	return s.store.List(ctx, filter)
}

// Stats reports aggregate counts by reason and source across all
// suppression entries, plus the in-memory layer's footprint.
type Stats struct {
	Total       int            `json:"total"`
	ByReason    map[string]int `json:"by_reason"`
	BySource    map[string]int `json:"by_source"`
	MemoryBytes uint64         `json:"memory_bytes"`
}

// GetStats computes suppression statistics for the dashboard.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	entries, total, err := s.store.List(ctx, ListFilter{Limit: 0})
	if err != nil {
		return nil, err
	}

	_, memBytes := s.store.Stats()
	stats := &Stats{
		Total:       total,
		ByReason:    make(map[string]int),
		BySource:    make(map[string]int),
		MemoryBytes: memBytes,
	}
	for _, e := range entries {
		stats.ByReason[string(e.Reason)]++
		stats.BySource[string(e.Source)]++
	}
	return stats, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
