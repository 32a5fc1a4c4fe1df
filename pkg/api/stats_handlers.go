package api

import (
	"context"
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/tollgate-ai/tollgate/pkg/audit"
)

// periodWindow maps the wire period values to a lookback window and the
// number of savings-ledger days it spans.
func periodWindow(period string) (time.Duration, int) {
	switch period {
	case "1h":
		return time.Hour, 1
	case "7d":
		return 7 * 24 * time.Hour, 7
	case "30d":
		return 30 * 24 * time.Hour, 30
	default: // 24h
		return 24 * time.Hour, 1
	}
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	window, days := periodWindow(r.URL.Query().Get("period"))
	ns := r.URL.Query().Get("namespace")

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	// Hit rate and latency come from the audit timeline; saved dollars
	// from the savings ledger; quota from the live budget ledger.
	auditStats, err := a.auditLog.GetStats(ctx, audit.Filters{
		Namespace: ns,
		From:      time.Now().Add(-window),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_unavailable", err.Error())
		return
	}

	savedUSD, hits, requests, err := a.savings.SumRange(ctx, ns, days)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_unavailable", err.Error())
		return
	}

	ledger, err := a.budget.Ledger(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_unavailable", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"period":       r.URL.Query().Get("period"),
		"hitRate":      auditStats.HitRate,
		"costSaved":    savedUSD,
		"hitCount":     hits,
		"requestCount": requests,
		"avgLatencyMs": auditStats.AvgLatencyMs,
		"byOperation":  auditStats.ByOperation,
		"quota": map[string]interface{}{
			"period":    ledger.Period,
			"spentUsd":  ledger.TotalSpentUSD,
			"limitUsd":  ledger.DailyLimitUSD,
			"remaining": ledger.Remaining(),
			"callCount": ledger.CallCount,
		},
	})
}

func (a *API) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	filters := audit.Filters{Namespace: q.Get("namespace")}

	if v := q.Get("start_date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "start_date must be YYYY-MM-DD")
			return
		}
		filters.From = t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "end_date must be YYYY-MM-DD")
			return
		}
		filters.To = t.AddDate(0, 0, 1) // inclusive end day
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if q.Get("mode") == "stats" {
		stats, err := a.auditLog.GetStats(ctx, filters)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "store_unavailable", err.Error())
			return
		}
		respondJSON(w, http.StatusOK, stats)
		return
	}

	entries, err := a.auditLog.Export(ctx, filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_unavailable", err.Error())
		return
	}

	if q.Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="audit-export.csv"`)
		cw := csv.NewWriter(w)
		cw.Write([]string{"id", "timestamp", "operation", "provider", "model", "namespace", "outcome", "latency_ms"})
		for _, e := range entries {
			cw.Write([]string{
				e.ID,
				e.Timestamp.Format(time.RFC3339),
				string(e.Operation),
				e.Provider,
				e.Model,
				e.Namespace,
				e.Outcome,
				strconv.FormatInt(e.LatencyMs, 10),
			})
		}
		cw.Flush()
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
