package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

type adminLoginRequest struct {
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
}

type adminLoginResponse struct {
	Token string `json:"token"`
}

type meResponse struct {
	User      string `json:"user"`
	AccessKey string `json:"accessKey"`
}

func (h *APIHandler) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.AccessKey != h.cfg.Auth.AdminAccessKey || req.SecretKey != h.cfg.Auth.AdminSecretKey {
		h.metrics.RecordLoginFailure()
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.jwt.Generate("admin", 24*time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, adminLoginResponse{Token: token})
}

func (h *APIHandler) handleMe(w http.ResponseWriter, _ *http.Request) {
	// Mask access key: only show first 4 and last 4 chars
	ak := h.cfg.Auth.AdminAccessKey
	masked := ak
	if len(ak) > 8 {
		masked = ak[:4] + strings.Repeat("*", len(ak)-8) + ak[len(ak)-4:]
	}
	writeJSON(w, http.StatusOK, meResponse{
		User:      "admin",
		AccessKey: masked,
	})
}

func (h *APIHandler) authenticateAdmin(r *http.Request) error {
	auth := r.Header.Get("Authorization")
	if auth != "" {
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth {
			return fmt.Errorf("invalid authorization format")
		}
		_, err := h.jwt.Validate(token)
		return err
	}

	// Fall back to query param (for browser links)
	if token := r.URL.Query().Get("token"); token != "" {
		_, err := h.jwt.Validate(token)
		return err
	}

	return fmt.Errorf("missing authorization")
}

// bearerToken extracts a Bearer token from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == auth {
		return ""
	}
	return token
}
