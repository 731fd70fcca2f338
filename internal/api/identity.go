package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/selim2309/TenantGate/internal/identity"
	"github.com/selim2309/TenantGate/internal/schema"
)

type signupRequest struct {
	Username   string            `json:"username"`
	Password   string            `json:"password"`
	GivenName  string            `json:"givenName"`
	FamilyName string            `json:"familyName"`
	Attributes map[string]string `json:"attributes"`
}

type identityResponse struct {
	ID         string            `json:"id"`
	Username   string            `json:"username"`
	GivenName  string            `json:"givenName"`
	FamilyName string            `json:"familyName"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Verified   bool              `json:"verified"`
}

func (h *APIHandler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.identity.Signup(identity.SignupRequest{
		Username:   req.Username,
		Password:   req.Password,
		GivenName:  req.GivenName,
		FamilyName: req.FamilyName,
		Attributes: req.Attributes,
	})
	if err != nil {
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":     "validation failed",
				"attribute": verr.Attribute,
				"reason":    verr.Reason,
			})
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	h.metrics.RecordSignup()
	writeJSON(w, http.StatusCreated, identityResponse{
		ID:         rec.ID,
		Username:   rec.Username,
		GivenName:  rec.GivenName,
		FamilyName: rec.FamilyName,
		Attributes: rec.Attributes,
		Verified:   rec.Verified,
	})
}

type identityLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Audience string `json:"audience"`
}

type identityLoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

func (h *APIHandler) handleIdentityLogin(w http.ResponseWriter, r *http.Request) {
	var req identityLoginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Audience == "" {
		writeError(w, http.StatusBadRequest, "audience is required")
		return
	}

	ttl := h.identityTokenTTL()
	token, _, err := h.identity.Authenticate(req.Username, req.Password, req.Audience, ttl)
	if err != nil {
		h.metrics.RecordLoginFailure()
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, identityLoginResponse{
		Token:     token,
		ExpiresIn: int(ttl.Seconds()),
	})
}

type profileUpdateRequest struct {
	Updates map[string]string `json:"updates"`
}

func (h *APIHandler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing identity token")
		return
	}
	claims, err := h.identity.Tokens().Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid identity token")
		return
	}
	if claims.AuthState != "authenticated" {
		writeError(w, http.StatusForbidden, "guest tokens cannot update a profile")
		return
	}

	var req profileUpdateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.identity.UpdateProfile(claims.Sub, req.Updates)
	if err != nil {
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":     "validation failed",
				"attribute": verr.Attribute,
				"reason":    verr.Reason,
			})
			return
		}
		writeError(w, http.StatusNotFound, "identity not found")
		return
	}

	writeJSON(w, http.StatusOK, identityResponse{
		ID:         rec.ID,
		Username:   rec.Username,
		GivenName:  rec.GivenName,
		FamilyName: rec.FamilyName,
		Attributes: rec.Attributes,
		Verified:   rec.Verified,
	})
}

type oidcLoginRequest struct {
	IDToken  string `json:"idToken"`
	Audience string `json:"audience"`
}

// handleOIDCLogin trades an upstream provider's ID token for an internal
// identity token. The provider's attribute claim becomes a schema
// attribute so that federation mapping treats both populations alike.
func (h *APIHandler) handleOIDCLogin(w http.ResponseWriter, r *http.Request) {
	if h.oidc == nil {
		writeError(w, http.StatusNotFound, "OIDC source not configured")
		return
	}

	var req oidcLoginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Audience == "" {
		writeError(w, http.StatusBadRequest, "audience is required")
		return
	}

	claims, err := h.oidc.Verify(req.IDToken)
	if err != nil {
		h.metrics.RecordLoginFailure()
		writeError(w, http.StatusUnauthorized, "invalid ID token")
		return
	}

	ttl := h.identityTokenTTL()
	token, err := h.identity.IssueFederated(claims.Sub, req.Audience, claims.Attributes, ttl)
	if err != nil {
		writeFederatedIssueError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, identityLoginResponse{
		Token:     token,
		ExpiresIn: int(ttl.Seconds()),
	})
}

type ldapLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Audience string `json:"audience"`
}

func (h *APIHandler) handleLDAPLogin(w http.ResponseWriter, r *http.Request) {
	if h.ldap == nil {
		writeError(w, http.StatusNotFound, "LDAP source not configured")
		return
	}

	var req ldapLoginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Audience == "" {
		writeError(w, http.StatusBadRequest, "audience is required")
		return
	}

	attrs, err := h.ldap.Authenticate(req.Username, req.Password)
	if err != nil {
		h.metrics.RecordLoginFailure()
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	ttl := h.identityTokenTTL()
	token, err := h.identity.IssueFederated("ldap:"+req.Username, req.Audience, attrs, ttl)
	if err != nil {
		writeFederatedIssueError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, identityLoginResponse{
		Token:     token,
		ExpiresIn: int(ttl.Seconds()),
	})
}

// writeFederatedIssueError refuses a federated login whose upstream
// attributes fail schema validation. The value came from the provider, not
// the request body, so this is a 403 rather than a 400: resubmitting the
// same login cannot fix it.
func writeFederatedIssueError(w http.ResponseWriter, err error) {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":     "upstream attribute rejected",
			"attribute": verr.Attribute,
			"reason":    verr.Reason,
		})
		return
	}
	writeError(w, http.StatusInternalServerError, "failed to issue token")
}

func (h *APIHandler) identityTokenTTL() time.Duration {
	secs := h.cfg.Auth.IdentityTokenTTL
	if secs <= 0 {
		secs = 3600
	}
	return time.Duration(secs) * time.Second
}
