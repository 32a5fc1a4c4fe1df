package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tollgate-ai/tollgate/pkg/api"
	"github.com/tollgate-ai/tollgate/pkg/audit"
	"github.com/tollgate-ai/tollgate/pkg/budget"
	"github.com/tollgate-ai/tollgate/pkg/cache"
	"github.com/tollgate-ai/tollgate/pkg/compliance"
	"github.com/tollgate-ai/tollgate/pkg/config"
	"github.com/tollgate-ai/tollgate/pkg/embedding"
	"github.com/tollgate-ai/tollgate/pkg/middleware"
	"github.com/tollgate-ai/tollgate/pkg/router"
	"github.com/tollgate-ai/tollgate/pkg/savings"
	"github.com/tollgate-ai/tollgate/pkg/tier"
	"github.com/tollgate-ai/tollgate/pkg/tiered"
	"github.com/tollgate-ai/tollgate/pkg/ttlopt"
)

func main() {
	// 1. Load Config with hot reload
	cfgStore, err := config.LoadAndWatch()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := cfgStore.Get()
	if cfg == nil {
		log.Fatal("Config could not be read")
	}

	// 2. Redis holds the warm tier, the budget ledger and the audit store;
	// the gateway does not start without it.
	if !cfg.Redis.Enabled {
		log.Fatal("Redis must be enabled: the warm tier and budget ledger live there")
	}
	rdb, err := cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Could not connect to Redis: %v", err)
	}
	fmt.Println("✅ Connected to Redis successfully!")

	// 3. Embedding provider for the cold tier
	var embedder embedding.Provider
	if cfg.Embedding.APIKey != "" {
		embedder = embedding.NewHTTP(embedding.HTTPConfig{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    cfg.Embedding.Timeout,
		})
	} else {
		embedder = embedding.NewDeterministic(cfg.Embedding.Dimensions)
		log.Println("⚠️  [EMBED] no embedding credential configured, using the deterministic fallback. " +
			"Semantic matching will only catch exact repeats; do not ship this to production.")
	}

	// 4. Build the three tiers and the manager
	hot := tier.NewHot(cfg.Tiers.Hot.MaxEntries, cfg.Tiers.Hot.TTL)
	warmBounds := tier.Bounds{Min: cfg.Tiers.Warm.MinTTL, Max: cfg.Tiers.Warm.MaxTTL}
	warm := tier.NewWarm(rdb, warmBounds)

	var cold *tier.Cold
	if cfg.Tiers.Cold.Enabled {
		cold = tier.NewCold(rdb, embedder, tier.ColdConfig{
			Bounds:    tier.Bounds{Min: cfg.Tiers.Cold.MinTTL, Max: cfg.Tiers.Cold.MaxTTL},
			Threshold: cfg.Tiers.Cold.Threshold,
			Timeout:   cfg.Tiers.Cold.Timeout,
			MaxScan:   cfg.Tiers.Cold.MaxScan,
		})
		fmt.Printf("✅ Cold tier enabled (provider: %s, threshold: %.2f)\n", cold.ProviderName(), cfg.Tiers.Cold.Threshold)
	}

	manager := tiered.New(hot, warm, cold, tiered.Config{WarmBounds: warmBounds})
	defer manager.Close()
	fmt.Printf("✅ Tiered cache ready (hot cap: %d entries)\n", cfg.Tiers.Hot.MaxEntries)

	// 5. Cost governance: budget breaker, router, compliance gate
	bt := budget.New(rdb, cfg.Budget.DailyLimitUSD, cfg.Budget.ResetHour, cfg.Budget.LedgerTTLDays)
	rt := router.New(bt, cfg.Models)
	gate := compliance.NewGate()
	fmt.Printf("✅ Budget breaker armed: $%.2f/day (reset hour: %02d:00 UTC)\n",
		cfg.Budget.DailyLimitUSD, cfg.Budget.ResetHour)

	// 6. Telemetry: savings ledger and audit log
	sv := savings.New(rdb, cfg.Audit.RetentionDays)
	al := audit.NewLog(rdb,
		time.Duration(cfg.Audit.RetentionDays)*24*time.Hour,
		cfg.Audit.Mode == "immutable")
	defer al.Close()
	if cfg.Audit.Mode == "immutable" {
		fmt.Println("✅ Audit log in immutable mode (failed appends fall back to local log)")
	}

	// 7. Adaptive TTL optimizer, out-of-band against the warm tier
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opt := ttlopt.New(rdb, ttlopt.Config{
		HighWatermark: cfg.Routing.HighWatermark,
		LowWatermark:  cfg.Routing.LowWatermark,
		StaleAge:      cfg.Routing.StaleAge,
		DeleteAge:     cfg.Routing.DeleteAge,
		Bounds:        warmBounds,
		ScanLimit:     cfg.Routing.OptimizerScanLimit,
	})
	go opt.Start(ctx, cfg.Routing.OptimizerInterval)
	fmt.Println("✅ Adaptive TTL optimizer running")

	// 8. HTTP surface
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	gatewayAPI := api.New(manager, rt, gate, bt, sv, al, cfgStore)
	gatewayAPI.RegisterRoutes(mux)
	if cfg.Admin.BearerToken != "" {
		fmt.Println("✅ Audit export enabled at /admin/audit-export")
	}

	// Middleware chain: rate limiter inside, console logger outer-most.
	var handler http.Handler = mux
	handler = middleware.NewRateLimiter(rdb, cfgStore)(handler)
	if cfg.RateLimit.Enabled {
		fmt.Printf("✅ Rate limiting: %.1f req/s (burst: %d)\n", cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	handler = middleware.RequestLogger(handler)

	// 9. Start Server
	fmt.Println("\n🚀 Tollgate Features Active:")
	fmt.Println("   - Metrics:         http://localhost" + cfg.Server.Port + "/metrics")
	fmt.Println("   - Health Check:    http://localhost" + cfg.Server.Port + "/health")
	fmt.Println("   - Cache API:       http://localhost" + cfg.Server.Port + "/cache/*")
	fmt.Println("   - Stats:           http://localhost" + cfg.Server.Port + "/stats")
	fmt.Println("\n📊 Configuration can be hot-reloaded by editing configs/config.yaml")
	fmt.Printf("\n🎯 Server listening on %s\n", cfg.Server.Port)

	if err := http.ListenAndServe(cfg.Server.Port, handler); err != nil {
		log.Fatal("Server failed:", err)
	}
}
