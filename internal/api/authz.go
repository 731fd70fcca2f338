package api

import (
	"net/http"

	"github.com/selim2309/TenantGate/internal/decisionlog"
	"github.com/selim2309/TenantGate/internal/middleware"
	"github.com/selim2309/TenantGate/internal/notify"
	"github.com/selim2309/TenantGate/internal/store"
)

type authzCheckRequest struct {
	SessionToken string `json:"sessionToken"`
	Action       string `json:"action"`
	Resource     string `json:"resource"`
}

type authzCheckResponse struct {
	Allowed bool `json:"allowed"`
}

// handleAuthzCheck evaluates the access policy for an issued credential.
// Storage frontends call this per request; a denied or expired credential
// gets {allowed: false}, never a partial grant.
func (h *APIHandler) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	clientIP := middleware.ClientIP(r)

	var req authzCheckRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionToken == "" || req.Action == "" || req.Resource == "" {
		writeError(w, http.StatusBadRequest, "sessionToken, action and resource are required")
		return
	}

	allowed, err := h.broker.Authorize(r.Context(), req.SessionToken, req.Action, req.Resource)
	if err != nil {
		h.metrics.RecordAuthz(false)
		h.recordDecision(decisionlog.DecisionEntry{
			Decision:   "authz",
			Outcome:    "deny",
			Action:     req.Action,
			Resource:   req.Resource,
			ErrorClass: "InvalidCredential",
			ClientIP:   clientIP,
		}, notify.DecisionEvent{
			EventName:  notify.EventAuthzDeny,
			Action:     req.Action,
			Resource:   req.Resource,
			ErrorClass: "InvalidCredential",
			SourceIP:   clientIP,
		}, store.AuditEntry{
			Action:     req.Action,
			Resource:   req.Resource,
			Outcome:    "deny",
			ErrorClass: "InvalidCredential",
			SourceIP:   clientIP,
		})
		writeError(w, http.StatusUnauthorized, "invalid or expired credential")
		return
	}

	h.metrics.RecordAuthz(allowed)
	outcome := "deny"
	eventName := notify.EventAuthzDeny
	if allowed {
		outcome = "allow"
		eventName = notify.EventAuthzAllow
	}
	h.recordDecision(decisionlog.DecisionEntry{
		Decision: "authz",
		Outcome:  outcome,
		Action:   req.Action,
		Resource: req.Resource,
		ClientIP: clientIP,
	}, notify.DecisionEvent{
		EventName: eventName,
		Action:    req.Action,
		Resource:  req.Resource,
		SourceIP:  clientIP,
	}, store.AuditEntry{
		Action:   req.Action,
		Resource: req.Resource,
		Outcome:  outcome,
		SourceIP: clientIP,
	})

	writeJSON(w, http.StatusOK, authzCheckResponse{Allowed: allowed})
}
