package api

import (
	"net/http"
	"strconv"
)

func (h *APIHandler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	entries, err := h.store.ListAudit(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list audit trail")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
