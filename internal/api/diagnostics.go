package api

import (
	"net/http"
	"time"
)

// handleDiagnostics reports the broker's live configuration surface:
// mapping snapshot, access policy and limiter state.
func (h *APIHandler) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	table := h.broker.Table()

	resp := map[string]interface{}{
		"uptime":         time.Since(h.metrics.StartTime()).String(),
		"mappingVersion": table.Version(),
		"mappingCount":   len(table.Entries()),
		"mappingsEmpty":  table.Empty(),
		"accessPolicy":   h.broker.AccessPolicy(),
		"checkAudiences": h.cfg.Federation.CheckAudiences,
	}
	if h.limiter != nil {
		resp["rateLimiter"] = h.limiter.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

type selfCheckRequest struct {
	Audience string `json:"audience"`
}

// handleSelfCheck runs a synthetic exchange for an audience without
// persisting anything. Operators call this after a mapping apply.
func (h *APIHandler) handleSelfCheck(w http.ResponseWriter, r *http.Request) {
	var req selfCheckRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Audience == "" {
		writeError(w, http.StatusBadRequest, "audience is required")
		return
	}

	if err := h.broker.SelfCheck(r.Context(), req.Audience); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"audience": req.Audience,
			"ok":       false,
			"error":    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"audience": req.Audience,
		"ok":       true,
	})
}
