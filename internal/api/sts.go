package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/selim2309/TenantGate/internal/broker"
	"github.com/selim2309/TenantGate/internal/decisionlog"
	"github.com/selim2309/TenantGate/internal/federation"
	"github.com/selim2309/TenantGate/internal/metrics"
	"github.com/selim2309/TenantGate/internal/middleware"
	"github.com/selim2309/TenantGate/internal/notify"
	"github.com/selim2309/TenantGate/internal/schema"
	"github.com/selim2309/TenantGate/internal/store"
)

type exchangeRequest struct {
	Token        string `json:"token"`
	DurationSecs int    `json:"durationSecs"`
}

type exchangeResponse struct {
	AccessKey    string            `json:"accessKey"`
	SecretKey    string            `json:"secretKey"`
	SessionToken string            `json:"sessionToken"`
	Expiration   string            `json:"expiration"`
	Role         string            `json:"role"`
	SessionTags  map[string]string `json:"sessionTags"`
}

// handleExchange is the credential exchange endpoint. Every outcome, allow
// or deny, leaves an audit record and a decision event.
func (h *APIHandler) handleExchange(w http.ResponseWriter, r *http.Request) {
	clientIP := middleware.ClientIP(r)

	if h.limiter != nil && !h.limiter.Allow(clientIP, "") {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req exchangeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		// Fall back to the Authorization header.
		req.Token = bearerToken(r)
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "identity token is required")
		return
	}

	creds, err := h.broker.Exchange(r.Context(), req.Token, req.DurationSecs)
	if err != nil {
		status, class := classifyExchangeError(err)
		h.metrics.RecordExchangeDenied(classToMetric(class))
		h.recordDecision(decisionlog.DecisionEntry{
			Decision:   "exchange",
			Outcome:    "deny",
			ErrorClass: class,
			ClientIP:   clientIP,
		}, notify.DecisionEvent{
			EventName:  notify.EventExchangeDenied,
			ErrorClass: class,
			SourceIP:   clientIP,
		}, store.AuditEntry{
			Action:     "sts:ExchangeToken",
			Outcome:    "denied",
			ErrorClass: class,
			SourceIP:   clientIP,
		})
		writeError(w, status, err.Error())
		return
	}

	h.metrics.RecordExchangeIssued()
	h.recordDecision(decisionlog.DecisionEntry{
		Decision: "exchange",
		Outcome:  "allow",
		Role:     creds.Role,
		Tags:     creds.SessionTags,
		ClientIP: clientIP,
	}, notify.DecisionEvent{
		EventName:   notify.EventExchangeIssued,
		SessionTags: creds.SessionTags,
		SourceIP:    clientIP,
	}, store.AuditEntry{
		Action:   "sts:ExchangeToken",
		Outcome:  "issued",
		SourceIP: clientIP,
		Tags:     creds.SessionTags,
	})

	writeJSON(w, http.StatusCreated, exchangeResponse{
		AccessKey:    creds.AccessKey,
		SecretKey:    creds.SecretKey,
		SessionToken: creds.SessionToken,
		Expiration:   creds.Expiration.UTC().Format(time.RFC3339),
		Role:         creds.Role,
		SessionTags:  creds.SessionTags,
	})
}

// classifyExchangeError maps broker failures onto the error taxonomy: an
// HTTP status plus a stable class name for audit and metrics.
func classifyExchangeError(err error) (status int, class string) {
	var verr *schema.ValidationError
	var uerr *federation.UnmappedAttributeError
	var nerr *broker.NoRoleMatchedError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "ValidationError"
	case errors.As(err, &uerr):
		return http.StatusForbidden, "UnmappedAttributeError"
	case errors.As(err, &nerr):
		// A missing role rule is an operator defect, not a caller error.
		return http.StatusInternalServerError, "NoRoleMatchedError"
	case errors.Is(err, broker.ErrTrustDenied):
		return http.StatusForbidden, "AccessDenied"
	case errors.Is(err, broker.ErrUnauthenticatedDisabled):
		return http.StatusForbidden, "AccessDenied"
	default:
		return http.StatusUnauthorized, "InvalidToken"
	}
}

func classToMetric(class string) string {
	switch class {
	case "ValidationError":
		return metrics.DenialValidation
	case "UnmappedAttributeError":
		return metrics.DenialUnmapped
	case "NoRoleMatchedError":
		return metrics.DenialNoRole
	case "AccessDenied":
		return metrics.DenialTrustPolicy
	default:
		return metrics.DenialOther
	}
}

// recordDecision fans one decision out to the audit trail, the decision
// log, and the event dispatcher. Audit write failures are swallowed; the
// decision itself already happened.
func (h *APIHandler) recordDecision(entry decisionlog.DecisionEntry, event notify.DecisionEvent, audit store.AuditEntry) {
	audit.Time = time.Now().UnixNano()
	h.store.AppendAudit(audit)
	if h.decisions != nil {
		h.decisions.Log(entry)
	}
	if h.notifier != nil {
		h.notifier.Dispatch(event)
	}
}
