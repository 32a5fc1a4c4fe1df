package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate-ai/tollgate/pkg/audit"
	"github.com/tollgate-ai/tollgate/pkg/budget"
	"github.com/tollgate-ai/tollgate/pkg/cache"
	"github.com/tollgate-ai/tollgate/pkg/compliance"
	"github.com/tollgate-ai/tollgate/pkg/config"
	"github.com/tollgate-ai/tollgate/pkg/embedding"
	"github.com/tollgate-ai/tollgate/pkg/fingerprint"
	"github.com/tollgate-ai/tollgate/pkg/router"
	"github.com/tollgate-ai/tollgate/pkg/savings"
	"github.com/tollgate-ai/tollgate/pkg/tier"
	"github.com/tollgate-ai/tollgate/pkg/tiered"
)

type apiFixture struct {
	mux     *http.ServeMux
	manager *tiered.Manager
	savings *savings.Tracker
}

func newAPIFixture(t *testing.T, dailyLimitUSD float64) *apiFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	client := cache.Wrap(rdb)

	cfg := &config.Config{
		Budget: config.BudgetConfig{DailyLimitUSD: dailyLimitUSD, LedgerTTLDays: 45},
		Tiers: config.TiersConfig{
			Hot:  config.HotTierConfig{MaxEntries: 100, TTL: 5 * time.Minute},
			Warm: config.WarmTierConfig{MinTTL: time.Hour, MaxTTL: 24 * time.Hour, DefaultTTL: 6 * time.Hour},
			Cold: config.ColdTierConfig{Enabled: true, MinTTL: time.Hour, MaxTTL: 7 * 24 * time.Hour, Timeout: time.Second, Threshold: 0.92},
		},
		Models: map[string]float64{
			"gpt-4":         0.03,
			"gpt-4o-mini":   0.00015,
			"claude-sonnet": 0.003,
			"llama-3.1-8b":  0.0,
		},
		Audit: config.AuditConfig{Enabled: true, RetentionDays: 730},
		Admin: config.AdminConfig{BearerToken: "test-admin-token"},
	}
	store := config.NewStore(cfg)

	hot := tier.NewHot(cfg.Tiers.Hot.MaxEntries, cfg.Tiers.Hot.TTL)
	warmBounds := tier.Bounds{Min: cfg.Tiers.Warm.MinTTL, Max: cfg.Tiers.Warm.MaxTTL}
	warm := tier.NewWarm(client, warmBounds)
	cold := tier.NewCold(client, embedding.NewDeterministic(64), tier.ColdConfig{
		Bounds:  tier.Bounds{Min: cfg.Tiers.Cold.MinTTL, Max: cfg.Tiers.Cold.MaxTTL},
		Timeout: cfg.Tiers.Cold.Timeout,
	})
	manager := tiered.New(hot, warm, cold, tiered.Config{WarmBounds: warmBounds})
	t.Cleanup(manager.Close)

	bt := budget.New(client, cfg.Budget.DailyLimitUSD, 0, cfg.Budget.LedgerTTLDays)
	sv := savings.New(client, 90)
	a := New(manager, router.New(bt, cfg.Models), compliance.NewGate(), bt,
		sv, audit.NewLog(client, 0, false), store)

	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	return &apiFixture{mux: mux, manager: manager, savings: sv}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func getBody(messages ...fingerprint.Message) map[string]interface{} {
	return map[string]interface{}{
		"provider":    "openai",
		"model":       "gpt-4",
		"messages":    messages,
		"temperature": 0.7,
	}
}

func TestSetThenGetHits(t *testing.T) {
	f := newAPIFixture(t, 100.0)
	msg := fingerprint.Message{Role: "user", Content: "what is the capital of France"}

	setBody := getBody(msg)
	setBody["response"] = map[string]string{"text": "Paris"}
	w := f.do(t, http.MethodPost, "/cache/set", setBody, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["cached"])

	f.manager.Close() // drain the async write-back

	w = f.do(t, http.MethodPost, "/cache/get", getBody(msg), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, true, resp["hit"])
	assert.Equal(t, "hot", resp["tier"])
	assert.JSONEq(t, `{"text":"Paris"}`, mustJSON(t, resp["value"]))
}

func TestGetMissReturnsRoute(t *testing.T) {
	f := newAPIFixture(t, 100.0)

	body := getBody(fingerprint.Message{Role: "user", Content: "prove this theorem step by step"})
	body["task"] = "reasoning"

	w := f.do(t, http.MethodPost, "/cache/get", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, false, resp["hit"])
	assert.NotEmpty(t, resp["fingerprint"])

	route, ok := resp["route"].(map[string]interface{})
	require.True(t, ok, "a miss carries the routing decision")
	assert.Equal(t, "reasoning", route["tier"])
	assert.Equal(t, "openai", route["provider"])
	assert.Equal(t, "gpt-4", route["model"])
}

func TestLookupCountedInSavings(t *testing.T) {
	f := newAPIFixture(t, 100.0)

	body := getBody(fingerprint.Message{Role: "user", Content: "hello there"})
	w := f.do(t, http.MethodPost, "/cache/get", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The lookup counter is written off the request path under its own
	// deadline; poll until it lands.
	today := time.Now().UTC().Format("2006-01-02")
	require.Eventually(t, func() bool {
		day, err := f.savings.GetDailySavings(context.Background(), "default", today)
		return err == nil && day.RequestCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetBlockedByCompliance(t *testing.T) {
	f := newAPIFixture(t, 100.0)

	body := getBody(fingerprint.Message{Role: "user", Content: "summarize this document"})
	body["provider"] = "deepseek"

	w := f.do(t, http.MethodPost, "/cache/get", body, map[string]string{"X-Compliance-Mode": "fedramp"})
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, "compliance_blocked", resp["error"])
	assert.NotEmpty(t, resp["blocked"])
	assert.NotEmpty(t, resp["substitutes"], "a rejection always names substitutes")
}

func TestGetBudgetExceeded(t *testing.T) {
	// Zero budget: every paid tier is unaffordable, and the caller's
	// provider set does not include the free local tier.
	f := newAPIFixture(t, 0)

	body := getBody(fingerprint.Message{Role: "user", Content: "prove this theorem step by step"})
	body["task"] = "reasoning"

	w := f.do(t, http.MethodPost, "/cache/get", body, nil)
	require.Equal(t, http.StatusPaymentRequired, w.Code, w.Body.String())
	assert.Equal(t, "budget_exceeded", decode(t, w)["error"])
}

func TestGetRejectsInvalidRequest(t *testing.T) {
	f := newAPIFixture(t, 100.0)

	w := f.do(t, http.MethodPost, "/cache/get", getBody(), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := getBody(fingerprint.Message{Role: "user", Content: "hi"})
	body["provider"] = "unknown-llm"
	w = f.do(t, http.MethodPost, "/cache/get", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNamespacesIsolated(t *testing.T) {
	f := newAPIFixture(t, 100.0)
	msg := fingerprint.Message{Role: "user", Content: "what is the capital of France"}

	setBody := getBody(msg)
	setBody["response"] = map[string]string{"text": "Paris"}
	w := f.do(t, http.MethodPost, "/cache/set", setBody, map[string]string{"X-Namespace": "tenant-a"})
	require.Equal(t, http.StatusOK, w.Code)
	f.manager.Close()

	w = f.do(t, http.MethodPost, "/cache/get", getBody(msg), map[string]string{"X-Namespace": "tenant-b"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["hit"], "tenant-b must not see tenant-a's entries")

	w = f.do(t, http.MethodPost, "/cache/get", getBody(msg), map[string]string{"X-Namespace": "tenant-a"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["hit"])
}

func TestCheckEndpoint(t *testing.T) {
	f := newAPIFixture(t, 100.0)
	msg := fingerprint.Message{Role: "user", Content: "what is the capital of France"}

	w := f.do(t, http.MethodPost, "/cache/check", getBody(msg), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["cached"])

	setBody := getBody(msg)
	setBody["response"] = map[string]string{"text": "Paris"}
	f.do(t, http.MethodPost, "/cache/set", setBody, nil)
	f.manager.Close()

	w = f.do(t, http.MethodPost, "/cache/check", getBody(msg), nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, true, resp["cached"])
	assert.Greater(t, resp["ttl"].(float64), 0.0)
}

func TestInvalidateNamespace(t *testing.T) {
	f := newAPIFixture(t, 100.0)
	msg := fingerprint.Message{Role: "user", Content: "what is the capital of France"}

	setBody := getBody(msg)
	setBody["response"] = map[string]string{"text": "Paris"}
	f.do(t, http.MethodPost, "/cache/set", setBody, map[string]string{"X-Namespace": "tenant-a"})
	f.manager.Close()

	w := f.do(t, http.MethodPost, "/cache/invalidate", map[string]interface{}{"namespace": "tenant-a"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/cache/get", getBody(msg), map[string]string{"X-Namespace": "tenant-a"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["hit"])
}

func TestStatsEndpoint(t *testing.T) {
	f := newAPIFixture(t, 100.0)

	w := f.do(t, http.MethodGet, "/stats?period=24h", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)

	quota, ok := resp["quota"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 100.0, quota["limitUsd"])
	assert.Equal(t, 100.0, quota["remaining"])
}

func TestAuditExportRequiresBearer(t *testing.T) {
	f := newAPIFixture(t, 100.0)

	w := f.do(t, http.MethodGet, "/admin/audit-export", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/admin/audit-export", nil,
		map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/admin/audit-export", nil,
		map[string]string{"Authorization": "Bearer test-admin-token"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Contains(t, resp, "entries")
	assert.Contains(t, resp, "count")
}

func TestAuditExportCSV(t *testing.T) {
	f := newAPIFixture(t, 100.0)

	w := f.do(t, http.MethodGet, "/admin/audit-export?format=csv", nil,
		map[string]string{"Authorization": "Bearer test-admin-token"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "id,timestamp,operation")
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
