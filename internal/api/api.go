package api

import (
	"net/http"
	"strings"

	"github.com/selim2309/TenantGate/internal/broker"
	"github.com/selim2309/TenantGate/internal/config"
	"github.com/selim2309/TenantGate/internal/decisionlog"
	"github.com/selim2309/TenantGate/internal/identity"
	"github.com/selim2309/TenantGate/internal/metrics"
	"github.com/selim2309/TenantGate/internal/notify"
	"github.com/selim2309/TenantGate/internal/ratelimit"
	"github.com/selim2309/TenantGate/internal/store"
)

// OIDCVerifier verifies upstream ID tokens. Satisfied by
// *identity.OIDCSource.
type OIDCVerifier interface {
	Verify(idToken string) (*identity.Claims, error)
}

// LDAPAuthenticator binds against a directory and returns the mapped
// attributes. Satisfied by *identity.LDAPSource.
type LDAPAuthenticator interface {
	Authenticate(username, password string) (map[string]string, error)
}

// APIHandler serves the REST API at /api/v1/.
type APIHandler struct {
	store     *store.Store
	identity  *identity.Service
	broker    *broker.Broker
	metrics   *metrics.Collector
	cfg       *config.Config
	jwt       *JWTService
	notifier  *notify.Dispatcher  // optional
	decisions *decisionlog.Logger // optional
	limiter   *ratelimit.Limiter  // optional
	oidc      OIDCVerifier
	ldap      LDAPAuthenticator
}

func NewAPIHandler(st *store.Store, idsvc *identity.Service, br *broker.Broker, mc *metrics.Collector, cfg *config.Config) *APIHandler {
	return &APIHandler{
		store:    st,
		identity: idsvc,
		broker:   br,
		metrics:  mc,
		cfg:      cfg,
		jwt:      NewJWTService(cfg.Auth.AdminSecretKey),
	}
}

// SetNotifier attaches the decision event dispatcher.
func (h *APIHandler) SetNotifier(d *notify.Dispatcher) { h.notifier = d }

// SetDecisionLog attaches the decision log.
func (h *APIHandler) SetDecisionLog(l *decisionlog.Logger) { h.decisions = l }

// SetLimiter attaches the exchange rate limiter.
func (h *APIHandler) SetLimiter(l *ratelimit.Limiter) { h.limiter = l }

// SetOIDCSource attaches the external OIDC identity source.
func (h *APIHandler) SetOIDCSource(s OIDCVerifier) { h.oidc = s }

// SetLDAPSource attaches the external LDAP identity source.
func (h *APIHandler) SetLDAPSource(s LDAPAuthenticator) { h.ldap = s }

func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	path = strings.TrimSuffix(path, "/")

	// Public surface: signup, logins and the exchange itself.
	switch {
	case path == "/identity/signup" && r.Method == http.MethodPost:
		h.handleSignup(w, r)
		return
	case path == "/identity/login" && r.Method == http.MethodPost:
		h.handleIdentityLogin(w, r)
		return
	case path == "/identity/login/oidc" && r.Method == http.MethodPost:
		h.handleOIDCLogin(w, r)
		return
	case path == "/identity/login/ldap" && r.Method == http.MethodPost:
		h.handleLDAPLogin(w, r)
		return
	case path == "/sts/exchange" && r.Method == http.MethodPost:
		h.handleExchange(w, r)
		return
	case path == "/authz/check" && r.Method == http.MethodPost:
		h.handleAuthzCheck(w, r)
		return
	case path == "/auth/login" && r.Method == http.MethodPost:
		h.handleAdminLogin(w, r)
		return
	}

	// Identity self-service requires an identity token.
	if path == "/identity/profile" && r.Method == http.MethodPut {
		h.handleUpdateProfile(w, r)
		return
	}

	// Everything else is the administrative surface.
	if err := h.authenticateAdmin(r); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	switch {
	case path == "/auth/me" && r.Method == http.MethodGet:
		h.handleMe(w, r)

	case path == "/admin/mappings" && r.Method == http.MethodGet:
		h.handleListMappings(w, r)
	case path == "/admin/mappings" && r.Method == http.MethodPost:
		h.handlePutMapping(w, r)
	case strings.HasPrefix(path, "/admin/mappings/") && r.Method == http.MethodDelete:
		h.handleDeleteMapping(w, r, strings.TrimPrefix(path, "/admin/mappings/"))
	case path == "/admin/mappings/apply" && r.Method == http.MethodPost:
		h.handleApplyMappings(w, r)

	case path == "/admin/roles" && r.Method == http.MethodGet:
		h.handleListRoles(w, r)
	case path == "/admin/roles" && r.Method == http.MethodPost:
		h.handleCreateRole(w, r)
	case strings.HasPrefix(path, "/admin/roles/"):
		name := strings.TrimPrefix(path, "/admin/roles/")
		switch r.Method {
		case http.MethodGet:
			h.handleGetRole(w, r, name)
		case http.MethodDelete:
			h.handleDeleteRole(w, r, name)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}

	case path == "/admin/identities" && r.Method == http.MethodGet:
		h.handleListIdentities(w, r)
	case strings.HasPrefix(path, "/admin/identities/") && strings.HasSuffix(path, "/verify") && r.Method == http.MethodPost:
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/admin/identities/"), "/verify")
		h.handleVerifyIdentity(w, r, id)
	case strings.HasPrefix(path, "/admin/identities/") && r.Method == http.MethodDelete:
		h.handleDeleteIdentity(w, r, strings.TrimPrefix(path, "/admin/identities/"))

	case path == "/admin/audit" && r.Method == http.MethodGet:
		h.handleListAudit(w, r)

	case path == "/admin/diagnostics" && r.Method == http.MethodGet:
		h.handleDiagnostics(w, r)
	case path == "/admin/diagnostics/selfcheck" && r.Method == http.MethodPost:
		h.handleSelfCheck(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}
