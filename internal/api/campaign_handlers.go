package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/sparkpost-monitor/internal/domain"
	svccampaign "github.com/ignite/sparkpost-monitor/internal/service/campaign"
)

// RegisterCampaignRoutes mounts the campaign CRUD and send-control surface.
func (h *Handlers) RegisterCampaignRoutes(r chi.Router) {
	r.Route("/campaigns", func(r chi.Router) {
		r.Get("/", h.HandleListCampaigns)
		r.Post("/", h.HandleCreateCampaign)
		r.Post("/check", h.HandleCheckCampaigns)
		r.Get("/{id}", h.HandleGetCampaign)
		r.Put("/{id}", h.HandleUpdateCampaign)
		r.Delete("/{id}", h.HandleDeleteCampaign)
		r.Post("/{id}/send", h.HandleSendCampaign)
		r.Get("/{id}/stats", h.HandleCampaignStats)
	})
}

func (h *Handlers) HandleListCampaigns(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	f := svccampaign.ListFilter{
		Status: r.URL.Query().Get("status"),
		Search: r.URL.Query().Get("search"),
		Limit:  atoiOr(r.URL.Query().Get("limit"), 50),
		Offset: atoiOr(r.URL.Query().Get("offset"), 0),
	}

	campaigns, total, err := h.campaigns.List(ctx, f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaigns": campaigns,
		"total":     total,
	})
}

func (h *Handlers) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	c, err := h.campaigns.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) HandleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	var input svccampaign.CreateInput
	if err := decodeJSON(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	c, err := h.campaigns.Create(ctx, input)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (h *Handlers) HandleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	var u svccampaign.UpdateFields
	if err := decodeJSON(r, &u); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.campaigns.Update(ctx, chi.URLParam(r, "id"), u); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handlers) HandleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	if err := h.campaigns.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sendRequest is the optional body accepted by POST /campaigns/{id}/send.
// Test mode fields are accepted for forward compatibility with a future
// single-recipient preview send; the current Materializer does not yet
// special-case them.
type sendRequest struct {
	TestMode  bool   `json:"testMode,omitempty"`
	TestEmail string `json:"testEmail,omitempty"`
}

// HandleSendCampaign transitions a draft or scheduled campaign to sending
// and kicks off materialization in the background. It responds with the
// projected recipient count and a rough duration estimate derived from the
// provider's requests-per-second plan; the actual count can differ slightly
// since suppression filtering and dedup happen during materialization.
func (h *Handlers) HandleSendCampaign(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	id := chi.URLParam(r, "id")

	var req sendRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	c, err := h.campaigns.Get(ctx, id)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignScheduled {
		respondError(w, http.StatusBadRequest, "campaign is not in draft or scheduled status")
		return
	}
	if c.ListID == nil || *c.ListID == "" {
		respondError(w, http.StatusBadRequest, "campaign has no recipient list")
		return
	}

	total, err := h.recipients.Count(ctx, *c.ListID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "count recipients: "+err.Error())
		return
	}
	if total == 0 {
		respondError(w, http.StatusBadRequest, "recipient list is empty")
		return
	}

	if _, err := h.queue.Inspect(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "queue unavailable: "+err.Error())
		return
	}

	if err := h.campaigns.Send(ctx, id); err != nil {
		if err == svccampaign.ErrAlreadySending {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	estimatedSeconds := 0
	if h.sendRate > 0 {
		estimatedSeconds = (total + h.sendRate - 1) / h.sendRate
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":                   "sending",
		"totalRecipients":          total,
		"estimatedDurationSeconds": estimatedSeconds,
	})
}

// HandleCampaignStats returns the counters, derived rates, and per-type
// engagement breakdown for a campaign, pulling dispatch-time counters from
// the Campaign Registry and unique-recipient engagement counts from the
// Event Log.
func (h *Handlers) HandleCampaignStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	id := chi.URLParam(r, "id")

	c, err := h.campaigns.Get(ctx, id)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	wrsStats, err := h.records.GetCampaignStats(ctx, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "load work record stats: "+err.Error())
		return
	}

	breakdown := map[string]int{}
	for _, t := range []domain.EventType{domain.EventOpened, domain.EventClicked, domain.EventBounced, domain.EventComplained, domain.EventUnsubscribed} {
		n, err := h.events.UniqueCount(ctx, id, t)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "count events: "+err.Error())
			return
		}
		breakdown[string(t)] = n
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaign":         c,
		"stats":            c.Stats,
		"rates":            c.Rates(),
		"workRecordStats":  wrsStats,
		"uniqueEngagement": breakdown,
	})
}

// HandleCheckCampaigns re-evaluates whether in-flight campaigns are
// actually done, the operator-triggered counterpart to the Completion
// Monitor's periodic sweep. With no body it checks every sending campaign;
// a body of {"campaignId": "..."} checks just that one.
func (h *Handlers) HandleCheckCampaigns(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	var body struct {
		CampaignID string `json:"campaignId,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	ids := []string{}
	if body.CampaignID != "" {
		ids = append(ids, body.CampaignID)
	} else {
		var err error
		ids, err = h.inflight.ListSending(ctx)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	finalized := []string{}
	for _, id := range ids {
		done, err := h.checker.Check(ctx, id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "check "+id+": "+err.Error())
			return
		}
		if done {
			finalized = append(finalized, id)
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"checked":   ids,
		"finalized": finalized,
	})
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
