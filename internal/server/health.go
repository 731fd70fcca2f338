package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/selim2309/TenantGate/internal/broker"
	"github.com/selim2309/TenantGate/internal/store"
)

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

type readyResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func healthHandler(startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(healthResponse{
			Status: "ok",
			Uptime: formatDuration(time.Since(startTime)),
		})
	}
}

func readyHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		_, err := st.ListRoles()
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(readyResponse{
				Status: "not ready",
				Error:  err.Error(),
			})
			return
		}

		json.NewEncoder(w).Encode(readyResponse{Status: "ready"})
	}
}

type federationHealth struct {
	Version   string            `json:"version"`
	Audiences map[string]string `json:"audiences"`
	Healthy   bool              `json:"healthy"`
}

// federationHealthHandler runs the mapping self-check for each configured
// audience. Degraded mappings surface here before tenants hit them.
func federationHealthHandler(br *broker.Broker, audiences []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		resp := federationHealth{
			Version:   br.Table().Version(),
			Audiences: make(map[string]string, len(audiences)),
			Healthy:   true,
		}
		for _, audience := range audiences {
			if err := br.SelfCheck(r.Context(), audience); err != nil {
				resp.Audiences[audience] = err.Error()
				resp.Healthy = false
			} else {
				resp.Audiences[audience] = "ok"
			}
		}

		if !resp.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd%dh%dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
