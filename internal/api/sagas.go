package api

import (
	"net/http"
	"time"
)

func (h *Handlers) GetSaga(w http.ResponseWriter, r *http.Request) {
	orderID := extractPathParam(r.URL.Path, "/sagas/")
	s, err := h.sagas.Get(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// GetStuckSagas lists unfinished sagas idle for longer than ?older_than=
// (a Go duration), defaulting to the configured threshold.
func (h *Handlers) GetStuckSagas(w http.ResponseWriter, r *http.Request) {
	olderThan := h.stuckAfter
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			respondError(w, http.StatusBadRequest, "older_than must be a positive duration")
			return
		}
		olderThan = d
	}

	stuck, err := h.sagas.FindStuck(r.Context(), olderThan)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stuck)
}
