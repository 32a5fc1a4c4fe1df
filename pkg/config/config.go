package config

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all the configuration for the gateway.
// The structure tags (mapstructure) tell Viper which YAML field maps to which Go struct field.
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Redis     RedisConfig             `mapstructure:"redis"`
	RateLimit RateLimitConfig         `mapstructure:"ratelimit"`
	Budget    BudgetConfig            `mapstructure:"budget"`
	Tiers     TiersConfig             `mapstructure:"tiers"`
	Sectors   map[string]SectorConfig `mapstructure:"sectors"`
	Routing   RoutingConfig           `mapstructure:"routing"`
	Models    map[string]float64      `mapstructure:"models"` // price per 1k input tokens, USD
	Embedding EmbeddingConfig         `mapstructure:"embedding"`
	Audit     AuditConfig             `mapstructure:"audit"`
	Admin     AdminConfig             `mapstructure:"admin"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"requests_per_second"`
	Burst   int     `mapstructure:"burst"`
}

// BudgetConfig caps daily spend. ResetHour is the local wall-clock hour at
// which the daily ledger rolls over (0 = midnight UTC).
type BudgetConfig struct {
	DailyLimitUSD float64 `mapstructure:"daily_limit_usd"`
	ResetHour     int     `mapstructure:"reset_hour"`
	LedgerTTLDays int     `mapstructure:"ledger_ttl_days"`
}

type TiersConfig struct {
	Hot  HotTierConfig  `mapstructure:"hot"`
	Warm WarmTierConfig `mapstructure:"warm"`
	Cold ColdTierConfig `mapstructure:"cold"`
}

type HotTierConfig struct {
	MaxEntries int           `mapstructure:"max_entries"`
	TTL        time.Duration `mapstructure:"ttl"`
}

type WarmTierConfig struct {
	MinTTL     time.Duration `mapstructure:"min_ttl"`
	MaxTTL     time.Duration `mapstructure:"max_ttl"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

type ColdTierConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	MinTTL    time.Duration `mapstructure:"min_ttl"`
	MaxTTL    time.Duration `mapstructure:"max_ttl"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxScan   int           `mapstructure:"max_scan"`
	Threshold float64       `mapstructure:"threshold"`
}

// SectorConfig tunes TTL bounds and similarity matching per compliance
// sector. Sectors that forbid approximate matching get the cold tier
// switched off entirely.
type SectorConfig struct {
	MinTTL              time.Duration `mapstructure:"min_ttl"`
	MaxTTL              time.Duration `mapstructure:"max_ttl"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	ComplianceMode      string        `mapstructure:"compliance_mode"`
}

type RoutingConfig struct {
	// Optimizer watermarks and age thresholds for the warm tier batch job.
	HighWatermark      int64         `mapstructure:"high_watermark"`
	LowWatermark       int64         `mapstructure:"low_watermark"`
	StaleAge           time.Duration `mapstructure:"stale_age"`
	DeleteAge          time.Duration `mapstructure:"delete_age"`
	OptimizerInterval  time.Duration `mapstructure:"optimizer_interval"`
	OptimizerScanLimit int           `mapstructure:"optimizer_scan_limit"`
}

type EmbeddingConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type AuditConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	RetentionDays int    `mapstructure:"retention_days"`
	Mode          string `mapstructure:"mode"` // "immutable" or "best-effort"
}

type AdminConfig struct {
	BearerToken string `mapstructure:"bearer_token"`
}

// Store wraps configuration with thread-safe access and hot-reload updates.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil
	}
	cpy := *s.cfg
	return &cpy
}

func (s *Store) set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// NewStore wraps an already-built Config. Tests use this to avoid touching disk.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.set(cfg)
	return s
}

// LoadAndWatch loads the config and watches for on-disk changes.
func LoadAndWatch() (*Store, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.AddConfigPath("./configs")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	store := &Store{}
	if err := refresh(v, store); err != nil {
		return nil, err
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := refresh(v, store); err != nil {
			log.Printf("[CONFIG] reload failed: %v", err)
		} else {
			log.Printf("[CONFIG] reloaded from %s", e.Name)
		}
	})

	return store, nil
}

// Load preserves the one-shot API: it loads once and does not watch.
func Load() (*Config, error) {
	store, err := LoadAndWatch()
	if err != nil {
		return nil, err
	}
	return store.Get(), nil
}

func refresh(v *viper.Viper, store *Store) error {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return err
	}
	store.set(&cfg)
	return nil
}

// Sector returns the sector config for a compliance mode. Sectors are keyed
// by industry name in the config file, so the lookup matches on their
// compliance_mode field; a config keyed by mode directly works too. When
// no sector declares the mode, warm-tier defaults apply. Matching walks
// sector names in sorted order so two sectors sharing a mode resolve the
// same way on every call.
func (c *Config) Sector(mode string) SectorConfig {
	if s, ok := c.Sectors[mode]; ok {
		return s
	}
	if mode != "" {
		names := make([]string, 0, len(c.Sectors))
		for name := range c.Sectors {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if c.Sectors[name].ComplianceMode == mode {
				return c.Sectors[name]
			}
		}
	}
	return SectorConfig{
		MinTTL:              c.Tiers.Warm.MinTTL,
		MaxTTL:              c.Tiers.Warm.MaxTTL,
		SimilarityThreshold: c.Tiers.Cold.Threshold,
		ComplianceMode:      mode,
	}
}
