package campaign

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
)

// Materializer starts recipient resolution and work-record creation for a
// campaign. Send hands off to it and returns without waiting for it to
// finish; materialization runs until the cursor is exhausted or the
// campaign is aborted.
type Materializer interface {
	Materialize(ctx context.Context, campaignID string) error
}

// Service implements campaign business logic. It coordinates between the
// repository layer and the Materializer. All public methods are safe for
// concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo         Repository
	materializer Materializer
}

// NewService creates a campaign service backed by the given repository and
// Materializer.
func NewService(repo Repository, materializer Materializer) *Service {
	return &Service{repo: repo, materializer: materializer}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, f)
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Campaign, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if input.Subject == "" {
		return nil, fmt.Errorf("subject is required")
	}

	c := &domain.Campaign{
		ID:          uuid.New().String(),
		Name:        input.Name,
		Subject:     input.Subject,
		FromName:    input.FromName,
		FromEmail:   input.FromEmail,
		HTMLContent: input.HTMLContent,
		Status:      domain.CampaignDraft,
	}
	if input.ListID != "" {
		c.ListID = &input.ListID
	}

	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return c, nil
}

// Update modifies mutable campaign fields. Only draft campaigns should be
// edited, but we leave that enforcement to the repository/database.
func (s *Service) Update(ctx context.Context, id string, u UpdateFields) error {
	return s.repo.Update(ctx, id, u)
}

// Delete removes a campaign (only draft/cancelled).
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// Send transitions a campaign to sending and hands off to the Materializer
// in the background. It returns as soon as the status transition commits;
// recipient resolution, suppression filtering, and work-record/batch
// creation all happen asynchronously. A Materializer failure rolls the
// campaign back to draft with stats.error set, rather than to a terminal
// failed state, so the admin surface can retry the send.
func (s *Service) Send(ctx context.Context, campaignID string) error {
	c, err := s.repo.Get(ctx, campaignID)
	if err != nil {
		return err
	}

	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignScheduled {
		return ErrAlreadySending
	}

	if err := s.repo.UpdateStatus(ctx, campaignID, domain.CampaignSending); err != nil {
		return fmt.Errorf("transition to sending: %w", err)
	}

	go func() {
		bgCtx := context.Background()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("campaign materialize panicked", "campaign", campaignID, "panic", r)
				if rbErr := s.repo.RecordSendError(bgCtx, campaignID, fmt.Sprintf("panic: %v", r)); rbErr != nil {
					logger.Warn("campaign rollback failed", "campaign", campaignID, "error", rbErr)
				}
			}
		}()
		if err := s.materializer.Materialize(bgCtx, campaignID); err != nil {
			logger.Warn("campaign materialize failed", "campaign", campaignID, "error", err)
			if rbErr := s.repo.RecordSendError(bgCtx, campaignID, err.Error()); rbErr != nil {
				logger.Warn("campaign rollback failed", "campaign", campaignID, "error", rbErr)
			}
		}
	}()

	return nil
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name        string `json:"name"`
	Subject     string `json:"subject"`
	FromName    string `json:"from_name"`
	FromEmail   string `json:"from_email"`
	HTMLContent string `json:"html_content"`
	ListID      string `json:"list_id"`
}
