package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/sparkpost-monitor/internal/domain"
	svcsuppression "github.com/ignite/sparkpost-monitor/internal/service/suppression"
)

// RegisterSuppressionRoutes mounts manual suppression management, used by
// the admin surface alongside the automatic webhook/tracking ingestion
// paths that write to the same store.
func (h *Handlers) RegisterSuppressionRoutes(r chi.Router) {
	r.Route("/suppressions", func(r chi.Router) {
		r.Get("/", h.HandleListSuppressions)
		r.Post("/", h.HandleCreateSuppression)
		r.Get("/stats", h.HandleSuppressionStats)
		r.Get("/{email}", h.HandleGetSuppression)
		r.Delete("/{email}", h.HandleRemoveSuppression)
	})
}

func (h *Handlers) HandleListSuppressions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	f := svcsuppression.ListFilter{
		Reason: domain.SuppressionReason(r.URL.Query().Get("reason")),
		Search: r.URL.Query().Get("search"),
		Limit:  atoiOr(r.URL.Query().Get("limit"), 50),
		Offset: atoiOr(r.URL.Query().Get("offset"), 0),
	}

	entries, total, err := h.suppression.List(ctx, f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"suppressions": entries,
		"total":        total,
	})
}

func (h *Handlers) HandleGetSuppression(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	s, err := h.suppression.Get(ctx, chi.URLParam(r, "email"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s == nil {
		respondError(w, http.StatusNotFound, "not suppressed")
		return
	}
	respondJSON(w, http.StatusOK, s)
}

type createSuppressionRequest struct {
	Email      string                   `json:"email"`
	Reason     domain.SuppressionReason `json:"reason"`
	Source     domain.SuppressionSource `json:"source"`
	DSNCode    string                   `json:"dsnCode,omitempty"`
	DSNDiag    string                   `json:"dsnDiag,omitempty"`
	CampaignID string                   `json:"campaignId,omitempty"`
}

func (h *Handlers) HandleCreateSuppression(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	var req createSuppressionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}
	if req.Source == "" {
		req.Source = domain.SourceManual
	}
	if req.Reason == "" {
		req.Reason = domain.ReasonManual
	}

	if err := h.suppression.Suppress(ctx, req.Email, req.Reason, req.Source, req.DSNCode, req.DSNDiag, req.CampaignID); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "suppressed"})
}

func (h *Handlers) HandleRemoveSuppression(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	if err := h.suppression.Remove(ctx, chi.URLParam(r, "email")); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *Handlers) HandleSuppressionStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	stats, err := h.suppression.GetStats(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
