package api

import (
	"net/http"
	"time"

	"github.com/selim2309/TenantGate/internal/federation"
	"github.com/selim2309/TenantGate/internal/notify"
	"github.com/selim2309/TenantGate/internal/policy"
	"github.com/selim2309/TenantGate/internal/store"
)

// --- Federation mappings ---

type mappingRequest struct {
	Audience    string `json:"audience"`
	SourceClaim string `json:"sourceClaim"`
	TagKey      string `json:"tagKey"`
}

func (h *APIHandler) handleListMappings(w http.ResponseWriter, _ *http.Request) {
	mappings, err := h.store.ListMappings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list mappings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mappings":      mappings,
		"activeVersion": h.broker.Table().Version(),
	})
}

// handlePutMapping stores a mapping without activating it. The broker
// keeps serving the previous snapshot until apply.
func (h *APIHandler) handlePutMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	m := federation.Mapping{
		Audience:    req.Audience,
		SourceClaim: req.SourceClaim,
		TagKey:      req.TagKey,
	}
	// Validate in isolation before persisting.
	if _, err := federation.NewTable([]federation.Mapping{m}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.PutMapping(m); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store mapping")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *APIHandler) handleDeleteMapping(w http.ResponseWriter, _ *http.Request, audience string) {
	if err := h.store.DeleteMapping(audience); err != nil {
		writeError(w, http.StatusNotFound, "mapping not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleApplyMappings builds a fresh table from the stored mappings and
// swaps it into the broker. In-flight exchanges finish against the old
// snapshot; the next exchange sees the new one.
func (h *APIHandler) handleApplyMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.store.ListMappings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list mappings")
		return
	}
	table, err := federation.NewTable(mappings)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.broker.SetTable(table)

	if h.notifier != nil {
		h.notifier.Dispatch(notify.DecisionEvent{
			EventName: notify.EventMappingApplied,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"applied": len(mappings),
		"version": table.Version(),
	})
}

// --- Roles ---

type roleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Audience    string `json:"audience"`
	// AuthState is "authenticated", "unauthenticated" or "both".
	AuthState string `json:"authState"`
}

func (h *APIHandler) handleListRoles(w http.ResponseWriter, _ *http.Request) {
	roles, err := h.store.ListRoles()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list roles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
}

func (h *APIHandler) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "role name is required")
		return
	}

	var doc policy.Document
	var err error
	switch req.AuthState {
	case "both", "":
		doc, err = policy.BuildTrustPolicies(req.Audience)
	case string(policy.Authenticated), string(policy.Unauthenticated):
		var stmt policy.Statement
		stmt, err = policy.BuildTrustPolicy(req.Audience, policy.AuthState(req.AuthState))
		doc = policy.Document{Version: policy.DocumentVersion, Statement: []policy.Statement{stmt}}
	default:
		writeError(w, http.StatusBadRequest, "authState must be authenticated, unauthenticated or both")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	role := store.Role{
		Name:        req.Name,
		Description: req.Description,
		AuthState:   req.AuthState,
		TrustPolicy: doc,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.PutRole(role); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store role")
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (h *APIHandler) handleGetRole(w http.ResponseWriter, _ *http.Request, name string) {
	role, err := h.store.GetRole(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "role not found")
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (h *APIHandler) handleDeleteRole(w http.ResponseWriter, _ *http.Request, name string) {
	if err := h.store.DeleteRole(name); err != nil {
		writeError(w, http.StatusNotFound, "role not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Identities ---

func (h *APIHandler) handleListIdentities(w http.ResponseWriter, _ *http.Request) {
	identities, err := h.store.ListIdentities()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list identities")
		return
	}
	out := make([]identityResponse, 0, len(identities))
	for _, rec := range identities {
		out = append(out, identityResponse{
			ID:         rec.ID,
			Username:   rec.Username,
			GivenName:  rec.GivenName,
			FamilyName: rec.FamilyName,
			Attributes: rec.Attributes,
			Verified:   rec.Verified,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"identities": out})
}

func (h *APIHandler) handleVerifyIdentity(w http.ResponseWriter, _ *http.Request, id string) {
	if err := h.identity.MarkVerified(id); err != nil {
		writeError(w, http.StatusNotFound, "identity not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) handleDeleteIdentity(w http.ResponseWriter, _ *http.Request, id string) {
	if err := h.store.DeleteIdentity(id); err != nil {
		writeError(w, http.StatusNotFound, "identity not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
