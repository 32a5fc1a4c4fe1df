package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/tollgate-ai/tollgate/pkg/ai"
	"github.com/tollgate-ai/tollgate/pkg/audit"
	"github.com/tollgate-ai/tollgate/pkg/budget"
	"github.com/tollgate-ai/tollgate/pkg/fingerprint"
	"github.com/tollgate-ai/tollgate/pkg/middleware"
	"github.com/tollgate-ai/tollgate/pkg/provider"
	"github.com/tollgate-ai/tollgate/pkg/router"
	"github.com/tollgate-ai/tollgate/pkg/savings"
	"github.com/tollgate-ai/tollgate/pkg/tier"
)

// cacheRequest is the shared body shape for /cache/get, /cache/set and
// /cache/check. Response, TTL and CostUSD only apply to set.
type cacheRequest struct {
	Provider    string                `json:"provider"`
	Model       string                `json:"model"`
	Messages    []fingerprint.Message `json:"messages"`
	Temperature float64               `json:"temperature"`
	Task        string                `json:"task,omitempty"`
	Response    json.RawMessage       `json:"response,omitempty"`
	TTL         int64                 `json:"ttl,omitempty"`      // seconds; clamped, never rejected
	CostUSD     float64               `json:"cost_usd,omitempty"` // actual origin spend, if the caller knows it
}

// keyOf validates, fingerprints and builds the storage key. Returns a
// wire-ready error string on failure.
func (a *API) keyOf(r *http.Request, req *cacheRequest) (key, fp, ns string, pid provider.ID, err error) {
	pid, err = provider.Parse(req.Provider)
	if err != nil {
		return "", "", "", "", err
	}
	fp, err = fingerprint.Compute(req.Provider, req.Model, req.Messages, req.Temperature)
	if err != nil {
		return "", "", "", "", err
	}
	ns = namespaceOf(r)
	return fingerprint.StorageKey(ns, req.Provider, req.Model, fp), fp, ns, pid, nil
}

func (a *API) handleCacheGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	var req cacheRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	key, fp, ns, pid, err := a.keyOf(r, &req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	cfg := a.cfgStore.Get()
	mode := modeOf(r)

	// Compliance first: if the caller's only provider is blocked, there is
	// no request to serve, but always hand back a path forward.
	decision := a.gate.Filter(mode, []provider.ID{pid})
	if len(decision.Allowed) == 0 {
		middleware.ComplianceBlocks.Inc()
		a.auditLog.Append(audit.Entry{
			Operation: audit.OpCompliance,
			Provider:  req.Provider,
			Model:     req.Model,
			Namespace: ns,
			Outcome:   "blocked",
			LatencyMs: time.Since(start).Milliseconds(),
		})
		respondJSON(w, http.StatusForbidden, map[string]interface{}{
			"error":       "compliance_blocked",
			"blocked":     decision.Blocked,
			"substitutes": decision.Substitutes,
		})
		return
	}

	sourceText := fingerprint.SourceText(req.Messages)
	sector := cfg.Sector(string(mode))
	coldEnabled := cfg.Tiers.Cold.Enabled && a.gate.AllowsApproximate(mode)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		a.savings.RecordLookup(ctx, ns)
	}()

	res, hit := a.manager.Lookup(r.Context(), key, ns, sourceText, sector.SimilarityThreshold, coldEnabled)
	middleware.LookupLatency.Observe(time.Since(start).Seconds())

	if hit {
		middleware.CacheHits.WithLabelValues(res.Tier).Inc()
		a.recordHitSavings(ns, req.Model, sourceText, res.Tier)
		a.auditLog.Append(audit.Entry{
			Operation: audit.OpCacheHit,
			Provider:  req.Provider,
			Model:     req.Model,
			Namespace: ns,
			Outcome:   "hit:" + res.Tier,
			LatencyMs: time.Since(start).Milliseconds(),
		})

		resp := map[string]interface{}{
			"hit":       true,
			"value":     res.Entry.Payload,
			"tier":      res.Tier,
			"age":       int64(time.Since(res.Entry.CreatedAt).Seconds()),
			"namespace": ns,
			"latencyMs": time.Since(start).Milliseconds(),
		}
		if res.Tier == "cold" {
			resp["similarity"] = res.Similarity
		}
		respondJSON(w, http.StatusOK, resp)
		return
	}

	middleware.CacheMisses.Inc()

	// Miss: hand the caller a routing decision so it knows where to send
	// the origin call. Budget exhaustion surfaces here, explicitly.
	task, err := router.ParseTask(req.Task)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	route, err := a.router.Route(r.Context(), task, sourceText, decision.Allowed)
	if err != nil {
		if errors.Is(err, budget.ErrBudgetExceeded) {
			middleware.BudgetRejections.Inc()
			a.auditLog.Append(audit.Entry{
				Operation: audit.OpBudgetBlock,
				Provider:  req.Provider,
				Model:     req.Model,
				Namespace: ns,
				Outcome:   "budget_exceeded",
				LatencyMs: time.Since(start).Milliseconds(),
			})
			respondError(w, http.StatusPaymentRequired, "budget_exceeded", "Daily spend limit reached; origin call blocked")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	if route.Downgraded {
		middleware.RouteDowngrades.Inc()
	}

	a.auditLog.Append(audit.Entry{
		Operation: audit.OpCacheMiss,
		Provider:  string(route.Provider),
		Model:     route.Model,
		Namespace: ns,
		Outcome:   "routed:" + route.TierName,
		LatencyMs: time.Since(start).Milliseconds(),
	})

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"hit":         false,
		"fingerprint": fp,
		"route":       route,
		"latencyMs":   time.Since(start).Milliseconds(),
	})
}

// recordHitSavings books the avoided origin cost for a hit. Runs detached:
// savings accounting must never add latency to a cache hit.
func (a *API) recordHitSavings(ns, model, sourceText, tierName string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		cfg := a.cfgStore.Get()
		tokens, err := ai.CountTokens(model, sourceText)
		if err != nil {
			return
		}
		middleware.RequestTokens.Observe(float64(tokens))
		saved := ai.EstimateCost(tokens, model, cfg.Models)
		if saved <= 0 {
			return
		}

		source := savings.SourceExactCache
		if tierName == "cold" {
			source = savings.SourceSemanticCache
		}
		if err := a.savings.RecordSaving(ctx, ns, saved, source, model); err == nil {
			middleware.SavedUSD.Add(saved)
		}
	}()
}

func (a *API) handleCacheSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	var req cacheRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if len(req.Response) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "response is required")
		return
	}

	key, fp, ns, _, err := a.keyOf(r, &req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	cfg := a.cfgStore.Get()
	sector := cfg.Sector(string(modeOf(r)))

	ttl := cfg.Tiers.Warm.DefaultTTL
	if req.TTL > 0 {
		ttl = time.Duration(req.TTL) * time.Second
	}
	// Clamp to the sector's window, never reject.
	ttl = tier.Bounds{Min: sector.MinTTL, Max: sector.MaxTTL}.Clamp(ttl)

	now := time.Now()
	entry := &tier.Entry{
		Fingerprint:  fp,
		Namespace:    ns,
		Payload:      req.Response,
		CreatedAt:    now,
		LastAccessAt: now,
		AccessCount:  0,
		OriginTier:   "origin",
		SourceText:   fingerprint.SourceText(req.Messages),
	}
	a.manager.WriteBack(r.Context(), key, entry, ttl)

	// The set call is how the gateway learns an origin call happened, so
	// the ledger is fed here: the caller's actual cost when supplied, the
	// token estimate otherwise.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		cost := req.CostUSD
		if cost <= 0 {
			tokens, err := ai.CountTokens(req.Model, entry.SourceText)
			if err != nil {
				return
			}
			cost = ai.EstimateCost(tokens, req.Model, cfg.Models)
		}
		if err := a.budget.RecordSpend(ctx, cost); err != nil {
			return
		}
	}()

	a.auditLog.Append(audit.Entry{
		Operation: audit.OpCacheSet,
		Provider:  req.Provider,
		Model:     req.Model,
		Namespace: ns,
		Outcome:   "stored",
		LatencyMs: time.Since(start).Milliseconds(),
	})

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"cached":      true,
		"fingerprint": fp,
		"ttl":         int64(ttl.Seconds()),
	})
}

func (a *API) handleCacheCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cacheRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	key, _, _, _, err := a.keyOf(r, &req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ttl, cached := a.manager.Check(r.Context(), key)
	resp := map[string]interface{}{"cached": cached}
	if cached {
		resp["ttl"] = int64(ttl.Seconds())
	}
	respondJSON(w, http.StatusOK, resp)
}

// invalidateRequest targets either one key (full request fields) or a
// whole namespace.
type invalidateRequest struct {
	cacheRequest
	Namespace string `json:"namespace,omitempty"`
}

func (a *API) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if req.Namespace != "" {
		deleted := a.manager.InvalidateNamespace(r.Context(), req.Namespace)
		a.auditLog.Append(audit.Entry{
			Operation: audit.OpInvalidate,
			Namespace: req.Namespace,
			Outcome:   "namespace",
		})
		respondJSON(w, http.StatusOK, map[string]interface{}{"invalidated": deleted, "namespace": req.Namespace})
		return
	}

	key, _, ns, _, err := a.keyOf(r, &req.cacheRequest)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	a.manager.Invalidate(r.Context(), key)
	a.auditLog.Append(audit.Entry{
		Operation: audit.OpInvalidate,
		Provider:  req.Provider,
		Model:     req.Model,
		Namespace: ns,
		Outcome:   "key",
	})
	respondJSON(w, http.StatusOK, map[string]interface{}{"invalidated": 1})
}
