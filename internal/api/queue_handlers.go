package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterQueueRoutes mounts the operator controls over the Job Queue.
func (h *Handlers) RegisterQueueRoutes(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Get("/", h.HandleQueueInspect)
		r.Post("/pause", h.HandleQueuePause)
		r.Post("/resume", h.HandleQueueResume)
		r.Post("/clean", h.HandleQueueClean)
	})
}

func (h *Handlers) HandleQueueInspect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	counts, err := h.queue.Inspect(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, counts)
}

func (h *Handlers) HandleQueuePause(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	if err := h.queue.Pause(ctx); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (h *Handlers) HandleQueueResume(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	if err := h.queue.Resume(ctx); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// HandleQueueClean discards waiting and delayed jobs. Active (claimed) jobs
// are left alone, so a clean never loses a batch a worker is mid-send on.
func (h *Handlers) HandleQueueClean(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	if err := h.queue.Clean(ctx); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleaned"})
}
