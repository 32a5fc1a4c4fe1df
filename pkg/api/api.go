// Package api is the HTTP surface of the gateway: the cache endpoints the
// client collaborators call, the stats read, and the bearer-gated audit
// export.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/tollgate-ai/tollgate/pkg/audit"
	"github.com/tollgate-ai/tollgate/pkg/budget"
	"github.com/tollgate-ai/tollgate/pkg/compliance"
	"github.com/tollgate-ai/tollgate/pkg/config"
	"github.com/tollgate-ai/tollgate/pkg/router"
	"github.com/tollgate-ai/tollgate/pkg/savings"
	"github.com/tollgate-ai/tollgate/pkg/tiered"
)

// API wires the pipeline components behind HTTP handlers. Everything is a
// constructed object handed in here, no package-level singletons, so
// tenants and test runs stay isolated.
type API struct {
	manager  *tiered.Manager
	router   *router.Router
	gate     *compliance.Gate
	budget   *budget.Tracker
	savings  *savings.Tracker
	auditLog *audit.Log
	cfgStore *config.Store
}

// New creates the API.
func New(manager *tiered.Manager, rt *router.Router, gate *compliance.Gate, bt *budget.Tracker, sv *savings.Tracker, al *audit.Log, cfgStore *config.Store) *API {
	return &API{
		manager:  manager,
		router:   rt,
		gate:     gate,
		budget:   bt,
		savings:  sv,
		auditLog: al,
		cfgStore: cfgStore,
	}
}

// RegisterRoutes mounts all endpoints.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/cache/get", a.handleCacheGet)
	mux.HandleFunc("/cache/set", a.handleCacheSet)
	mux.HandleFunc("/cache/check", a.handleCacheCheck)
	mux.HandleFunc("/cache/invalidate", a.handleInvalidate)
	mux.HandleFunc("/stats", a.handleStats)
	mux.HandleFunc("/admin/audit-export", a.authenticate(a.handleAuditExport))
}

// authenticate gates admin endpoints on the configured bearer token.
func (a *API) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := a.cfgStore.Get()
		if cfg == nil || cfg.Admin.BearerToken == "" {
			respondError(w, http.StatusServiceUnavailable, "admin_disabled", "Admin API not configured")
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+cfg.Admin.BearerToken {
			respondError(w, http.StatusUnauthorized, "unauthorized", "Invalid admin token")
			return
		}
		next(w, r)
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError keeps the error taxonomy on the wire: a stable machine code
// plus a human message.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}

// namespaceOf reads the tenant namespace header.
func namespaceOf(r *http.Request) string {
	ns := r.Header.Get("X-Namespace")
	if ns == "" {
		return "default"
	}
	return ns
}

// modeOf reads the compliance mode header.
func modeOf(r *http.Request) compliance.Mode {
	return compliance.ParseMode(r.Header.Get("X-Compliance-Mode"))
}
