// Package api implements the admin HTTP surface: campaign CRUD and send
// control, suppression management, and queue/health inspection. It is the
// thin presentation layer over the service packages; apart from the health
// checks, which ping Postgres and Redis, it never talks to them directly.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/queue"
	svccampaign "github.com/ignite/sparkpost-monitor/internal/service/campaign"
	svcsuppression "github.com/ignite/sparkpost-monitor/internal/service/suppression"
)

// CampaignService is the subset of campaign.Service the admin API drives.
type CampaignService interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, f svccampaign.ListFilter) ([]domain.Campaign, int, error)
	Create(ctx context.Context, input svccampaign.CreateInput) (*domain.Campaign, error)
	Update(ctx context.Context, id string, u svccampaign.UpdateFields) error
	Delete(ctx context.Context, id string) error
	Send(ctx context.Context, campaignID string) error
}

// SuppressionService is the subset of suppression.Service the admin API
// exposes for manual suppression management.
type SuppressionService interface {
	Suppress(ctx context.Context, email string, reason domain.SuppressionReason, source domain.SuppressionSource, dsnCode, dsnDiag, campaignID string) error
	Remove(ctx context.Context, email string) error
	Get(ctx context.Context, email string) (*domain.Suppression, error)
	List(ctx context.Context, filter svcsuppression.ListFilter) ([]domain.Suppression, int, error)
	GetStats(ctx context.Context) (*svcsuppression.Stats, error)
}

// RecipientCounter resolves how many recipients a campaign's list currently
// has, so HandleSendCampaign can project a total without waiting for the
// Materializer to run.
type RecipientCounter interface {
	Count(ctx context.Context, listID string) (int, error)
}

// QueueInspector reports queue depth and control for the admin surface.
type QueueInspector interface {
	Inspect(ctx context.Context) (queue.Counts, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Clean(ctx context.Context) error
}

// RecordStats reports per-campaign Work-Record Store aggregates.
type RecordStats interface {
	GetCampaignStats(ctx context.Context, campaignID string) (domain.CampaignStats, error)
}

// EventCounter answers unique-recipient engagement counts for a campaign,
// the basis of the per-type breakdown HandleCampaignStats reports.
type EventCounter interface {
	UniqueCount(ctx context.Context, campaignID string, eventType domain.EventType) (int, error)
}

// CampaignChecker re-evaluates a single in-flight campaign against the
// Completion Monitor, for the operator-triggered /campaigns/check endpoint.
type CampaignChecker interface {
	Check(ctx context.Context, campaignID string) (bool, error)
}

// InFlightLister lists campaigns currently sending, the candidate set
// HandleCheckCampaigns sweeps when called with no specific campaign id.
type InFlightLister interface {
	ListSending(ctx context.Context) ([]string, error)
}

// Handlers holds every dependency the admin HTTP surface needs. Each field
// is an interface so tests can substitute fakes without a database or Redis.
type Handlers struct {
	campaigns   CampaignService
	suppression SuppressionService
	recipients  RecipientCounter
	queue       QueueInspector
	records     RecordStats
	events      EventCounter
	checker     CampaignChecker
	inflight    InFlightLister
	sendRate    int
}

// NewHandlers wires the admin API against its service-layer dependencies.
// sendRate is the provider plan's requests-per-second budget, used only to
// project an estimated send duration back to the caller of
// POST /campaigns/{id}/send.
func NewHandlers(campaigns CampaignService, suppression SuppressionService, recipients RecipientCounter, q QueueInspector, records RecordStats, events EventCounter, checker CampaignChecker, inflight InFlightLister, sendRate int) *Handlers {
	return &Handlers{
		campaigns:   campaigns,
		suppression: suppression,
		recipients:  recipients,
		queue:       q,
		records:     records,
		events:      events,
		checker:     checker,
		inflight:    inflight,
		sendRate:    sendRate,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// statusFor maps a service-layer sentinel error to the HTTP status the
// admin API should answer with.
func statusFor(err error) int {
	switch err {
	case svccampaign.ErrNotFound, svcsuppression.ErrNotFound:
		return http.StatusNotFound
	case svccampaign.ErrAlreadySending, svccampaign.ErrInvalidTransition, svccampaign.ErrMissingList:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// requestTimeout bounds every handler's work against its dependencies,
// independent of how long the client is willing to wait.
const requestTimeout = 10 * time.Second

func withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}
