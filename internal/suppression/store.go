package suppression

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

// Repository is the durable backing store a Store hydrates itself from. It
// is implemented by internal/repository/postgres/suppression.go.
type Repository interface {
	Get(ctx context.Context, email string) (*domain.Suppression, error)
	Suppress(ctx context.Context, s *domain.Suppression) error
	Remove(ctx context.Context, email string) error
	List(ctx context.Context, filter ListFilter) ([]domain.Suppression, int, error)
	AllActive(ctx context.Context) ([]domain.Suppression, error)
}

// ListFilter narrows List's result set for the admin surface.
type ListFilter struct {
	Reason domain.SuppressionReason
	Search string
	Limit  int
	Offset int
}

// entry is the in-memory projection of a durable suppression row, indexed
// by MD5 hash for O(1) resolution once the bloom/sorted-array layer
// confirms membership.
type entry struct {
	status EmailStatus
	bounce domain.BounceInfo
}

// EmailStatus is an alias kept local to avoid a stutter at call sites within
// this package; it is exactly domain.EmailStatus.
type EmailStatus = domain.EmailStatus

// Store is the Suppression Store: a two-layer lookup that answers
// LookupSuppression entirely in-memory. It never reads the durable
// repository on a lookup; writes made by other processes since the last
// hydration become visible only after the next Hydrate (see Refresh).
//
// Layer one is a bloom filter: a negative answer is always correct and
// requires no further work. Layer two is a sorted array of MD5 hashes,
// binary-searched to confirm a bloom positive isn't a false one. A
// confirmed positive resolves to its status via an in-memory map built at
// the same hydration pass.
type Store struct {
	repo Repository

	mu     sync.RWMutex
	bloom  *BloomFilter
	sorted []MD5Hash
	byHash map[MD5Hash]entry
}

// NewStore constructs an empty Store. Call Hydrate before serving lookups.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:   repo,
		bloom:  NewBloomFilter(1000),
		byHash: make(map[MD5Hash]entry),
	}
}

// Hydrate reloads the entire in-memory layer from the durable store. It is
// called once at process start and thereafter on a refresh interval (see
// Refresh), so writes made by another process (the admin API, a webhook
// handler on a different instance) become visible here within one interval.
func (s *Store) Hydrate(ctx context.Context) error {
	rows, err := s.repo.AllActive(ctx)
	if err != nil {
		return fmt.Errorf("suppression: hydrate: %w", err)
	}

	bloom := NewBloomFilter(uint64(len(rows)))
	sorted := make([]MD5Hash, 0, len(rows))
	byHash := make(map[MD5Hash]entry, len(rows))

	for _, row := range rows {
		h := MD5HashFromEmail(row.Email)
		bloom.Add(h)
		sorted = append(sorted, h)
		byHash[h] = entry{status: row.Status, bounce: row.Bounce}
	}
	sorted = deduplicateAndSort(sorted)

	s.mu.Lock()
	s.bloom = bloom
	s.sorted = sorted
	s.byHash = byHash
	s.mu.Unlock()
	return nil
}

// Refresh runs Hydrate on the given interval until ctx is cancelled. Run it
// in its own goroutine from process wiring.
func (s *Store) Refresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Hydrate(ctx); err != nil {
				continue
			}
		}
	}
}

// LookupSuppression answers whether email is currently suppressed and, if
// so, under what status. A bloom-filter miss returns EmailActive without
// touching the sorted array or the durable store. A bloom-filter hit is
// confirmed against the sorted array before being trusted, since a bloom
// filter's positives are probabilistic.
func (s *Store) LookupSuppression(email string) EmailStatus {
	h := MD5HashFromEmail(email)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.bloom.MayContain(h) {
		return domain.EmailActive
	}
	if _, found := binarySearch(s.sorted, h); !found {
		return domain.EmailActive
	}
	if e, ok := s.byHash[h]; ok {
		return e.status
	}
	return domain.EmailActive
}

// BounceInfo returns the bounce sub-detail for email, if currently
// suppressed for a bounce reason.
func (s *Store) BounceInfo(email string) (domain.BounceInfo, bool) {
	h := MD5HashFromEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byHash[h]
	if !ok {
		return domain.BounceInfo{}, false
	}
	return e.bounce, true
}

// Suppress records a new suppression in the durable store and folds it into
// the in-memory layer immediately, so a caller doesn't have to wait for the
// next Refresh to see their own write.
func (s *Store) Suppress(ctx context.Context, sup *domain.Suppression) error {
	if err := s.repo.Suppress(ctx, sup); err != nil {
		return err
	}

	h := MD5HashFromEmail(sup.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bloom.Add(h)
	if _, found := binarySearch(s.sorted, h); !found {
		s.sorted = append(s.sorted, h)
		s.sorted = deduplicateAndSort(s.sorted)
	}
	s.byHash[h] = entry{status: sup.Status, bounce: sup.Bounce}
	return nil
}

// Remove deletes a suppression from the durable store and the in-memory
// layer. Bloom filters cannot un-learn a hash, so a stale positive simply
// falls through to a sorted-array miss on the next lookup — correct, just
// one comparison slower than a true negative.
func (s *Store) Remove(ctx context.Context, email string) error {
	if err := s.repo.Remove(ctx, email); err != nil {
		return err
	}

	h := MD5HashFromEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byHash, h)
	if idx, found := binarySearch(s.sorted, h); found {
		s.sorted = append(s.sorted[:idx], s.sorted[idx+1:]...)
	}
	return nil
}

// Get returns the durable suppression record for email, for the admin
// detail view. It always reads through to the repository since the
// in-memory layer doesn't retain the full record (reason, DSN, source).
func (s *Store) Get(ctx context.Context, email string) (*domain.Suppression, error) {
	return s.repo.Get(ctx, email)
}

// List delegates to the durable store for the admin listing surface.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]domain.Suppression, int, error) {
	return s.repo.List(ctx, filter)
}

// Stats reports the in-memory layer's current size, for health/diagnostic
// endpoints.
func (s *Store) Stats() (entries int, memoryBytes uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sorted), s.bloom.MemoryBytes()
}
