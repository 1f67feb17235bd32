package suppression

import (
	"context"

	"github.com/ignite/sparkpost-monitor/internal/domain"
	store "github.com/ignite/sparkpost-monitor/internal/suppression"
)

// Store is the subset of *suppression.Store the service depends on, kept as
// an interface so tests can substitute an in-memory fake.
type Store interface {
	LookupSuppression(email string) domain.EmailStatus
	BounceInfo(email string) (domain.BounceInfo, bool)
	Suppress(ctx context.Context, s *domain.Suppression) error
	Remove(ctx context.Context, email string) error
	Get(ctx context.Context, email string) (*domain.Suppression, error)
	List(ctx context.Context, filter store.ListFilter) ([]domain.Suppression, int, error)
	Stats() (entries int, memoryBytes uint64)
}

// ListFilter re-exports the suppression package's filter type so callers of
// this service don't need to import internal/suppression directly.
type ListFilter = store.ListFilter
