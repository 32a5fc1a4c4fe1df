package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tollgate-ai/tollgate/pkg/audit"
	"github.com/tollgate-ai/tollgate/pkg/cache"
	"github.com/tollgate-ai/tollgate/pkg/config"
	"github.com/tollgate-ai/tollgate/pkg/tier"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "init":
		token, err := generateAdminToken()
		if err != nil {
			log.Fatalf("failed to generate admin token: %v", err)
		}
		if err := writeAdminToken(token); err != nil {
			log.Fatalf("failed to write .env: %v", err)
		}
		fmt.Printf("AdminToken: %s\nSaved to .env (ADMIN_TOKEN).\n", token)
		fmt.Println("Copy it into configs/config.yaml under admin::bearer_token to enable /admin endpoints.")
	case "audit-export":
		cfg := mustLoadConfig()
		rdb := mustRedis(cfg)
		handleAuditExport(cfg, rdb)
	case "audit-stats":
		cfg := mustLoadConfig()
		rdb := mustRedis(cfg)
		handleAuditStats(cfg, rdb)
	case "purge":
		cfg := mustLoadConfig()
		rdb := mustRedis(cfg)
		handlePurge(cfg, rdb)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("tollgate-admin commands:")
	fmt.Println("  init                 Generate admin bearer token and store in .env")
	fmt.Println("  audit-export         Export audit entries")
	fmt.Println("     flags: -namespace -start -end -format (json|csv) -out")
	fmt.Println("  audit-stats          Print aggregate audit stats")
	fmt.Println("     flags: -namespace -start -end")
	fmt.Println("  purge                Drop all cached entries for a namespace")
	fmt.Println("     flags: -namespace (required)")
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func mustRedis(cfg *config.Config) *cache.Client {
	if cfg == nil || !cfg.Redis.Enabled {
		log.Fatal("redis is not enabled in config")
	}
	rdb, err := cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	return rdb
}

func generateAdminToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "admin_" + base64.RawURLEncoding.EncodeToString(b), nil
}

func writeAdminToken(token string) error {
	const envFile = ".env"
	var lines []string

	data, err := os.ReadFile(envFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		lines = []string{fmt.Sprintf("ADMIN_TOKEN=%s", token)}
		return os.WriteFile(envFile, []byte(strings.Join(lines, "\n")+"\n"), 0644)
	}

	lines = strings.Split(string(data), "\n")
	replaced := false
	for i, line := range lines {
		if strings.HasPrefix(line, "ADMIN_TOKEN=") {
			lines[i] = fmt.Sprintf("ADMIN_TOKEN=%s", token)
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, fmt.Sprintf("ADMIN_TOKEN=%s", token))
	}

	content := strings.Join(lines, "\n")
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(envFile, []byte(content), 0644)
}

func auditFilters(fs *flag.FlagSet) (audit.Filters, error) {
	namespace := fs.String("namespace", "", "Filter by namespace")
	start := fs.String("start", "", "Start date (YYYY-MM-DD)")
	end := fs.String("end", "", "End date, inclusive (YYYY-MM-DD)")

	if err := fs.Parse(os.Args[2:]); err != nil {
		return audit.Filters{}, err
	}

	filters := audit.Filters{Namespace: *namespace}
	if *start != "" {
		t, err := time.Parse("2006-01-02", *start)
		if err != nil {
			return audit.Filters{}, fmt.Errorf("bad -start: %w", err)
		}
		filters.From = t
	}
	if *end != "" {
		t, err := time.Parse("2006-01-02", *end)
		if err != nil {
			return audit.Filters{}, fmt.Errorf("bad -end: %w", err)
		}
		filters.To = t.AddDate(0, 0, 1)
	}
	return filters, nil
}

func handleAuditExport(cfg *config.Config, rdb *cache.Client) {
	fs := flag.NewFlagSet("audit-export", flag.ExitOnError)
	format := fs.String("format", "json", "Output format: json or csv")
	out := fs.String("out", "", "Output file (default stdout)")

	filters, err := auditFilters(fs)
	if err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}

	al := audit.NewLog(rdb, time.Duration(cfg.Audit.RetentionDays)*24*time.Hour, cfg.Audit.Mode == "immutable")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := al.Export(ctx, filters)
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}

	dst := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatalf("failed to create %s: %v", *out, err)
		}
		defer f.Close()
		dst = f
	}

	if *format == "csv" {
		cw := csv.NewWriter(dst)
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
		if err := cw.Error(); err != nil {
			log.Fatalf("csv write failed: %v", err)
		}
	} else {
		enc := json.NewEncoder(dst)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			log.Fatalf("json write failed: %v", err)
		}
	}

	fmt.Fprintf(os.Stderr, "Exported %d entries\n", len(entries))
}

func handleAuditStats(cfg *config.Config, rdb *cache.Client) {
	fs := flag.NewFlagSet("audit-stats", flag.ExitOnError)
	filters, err := auditFilters(fs)
	if err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}

	al := audit.NewLog(rdb, time.Duration(cfg.Audit.RetentionDays)*24*time.Hour, cfg.Audit.Mode == "immutable")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := al.GetStats(ctx, filters)
	if err != nil {
		log.Fatalf("stats failed: %v", err)
	}

	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}

func handlePurge(cfg *config.Config, rdb *cache.Client) {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	namespace := fs.String("namespace", "", "Namespace to purge")
	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}
	if *namespace == "" {
		log.Fatal("-namespace is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	warm := tier.NewWarm(rdb, tier.Bounds{Min: cfg.Tiers.Warm.MinTTL, Max: cfg.Tiers.Warm.MaxTTL})
	deleted, err := warm.DeleteNamespace(ctx, *namespace)
	if err != nil {
		log.Fatalf("warm purge failed: %v", err)
	}
	if err := rdb.Del(ctx, "cold:"+*namespace); err != nil {
		log.Fatalf("cold purge failed: %v", err)
	}

	fmt.Printf("Purged namespace %q (%d warm entries)\n", *namespace, deleted)
}
