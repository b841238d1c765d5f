package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/evansantos/slimclaw/internal/tier"
)

// Config is slimclaw's fully-resolved process configuration: every
// SLIMCLAW_* environment variable, defaulted and validated once at
// startup. A SIGHUP reload swaps Mode, Windowing/Routing/Caching, the
// rate limits and the log level; everything else is fixed for the
// process lifetime.
type Config struct {
	ListenAddr string
	LogLevel   string

	DBDSN string

	VaultEnabled  bool
	VaultPassword string // auto-unlock vault at startup if set

	Mode string // "shadow" | "active" | "disabled"

	Windowing WindowingConfig
	Routing   RoutingConfig
	Caching   CachingConfig

	ProviderTimeoutSecs int

	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitBurst int

	OTelEnabled     bool
	OTelEndpoint    string
	OTelServiceName string

	TemporalEnabled   bool
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string

	PricingRefreshEnabled      bool
	PricingRefreshIntervalSecs int

	CredentialsFile   string
	ShutdownDrainSecs int

	TSDBRetentionHours int

	IdempotencyEnabled    bool
	IdempotencyTTLSecs    int
	IdempotencyMaxEntries int
}

// WindowingConfig mirrors internal/windowing.Config's env-configurable
// fields (§4.2/§4.3).
type WindowingConfig struct {
	Enabled            bool
	MaxMessages        int
	MaxTokens          int
	SummarizeThreshold int
}

// CachingConfig mirrors internal/caching.Config (§4.4).
type CachingConfig struct {
	Enabled           bool
	InjectBreakpoints bool
	MinContentLength  int
}

// RoutingConfig mirrors internal/routing.Config (§4.6-§4.9). Tiers and
// TierProviders have no scalar env-var representation and are instead
// loaded from JSON, falling back to a sane default catalogue.
type RoutingConfig struct {
	Enabled           bool
	AllowDowngrade    bool
	PinnedModels      []string
	MinConfidence     float64
	Tiers             map[string]string
	TierProviders     map[string]string
	ReasoningBudget   int
	OpenRouterHeaders map[string]string
	BudgetWindowMs    int64
	BudgetCeiling     float64

	// FastCandidates is the tier -> candidate-pool map the Router's
	// Latency Tracker picks among for any tier whose Tiers entry is
	// routing.FastVirtualModel. Keyed by tier name, same as Tiers.
	FastCandidates map[string][]string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("SLIMCLAW_LISTEN_ADDR", ":8090"),
		LogLevel:   getEnv("SLIMCLAW_LOG_LEVEL", "info"),
		DBDSN:      getEnv("SLIMCLAW_DB_DSN", "file:/data/slimclaw.sqlite"),

		VaultEnabled:  getEnvBool("SLIMCLAW_VAULT_ENABLED", true),
		VaultPassword: getEnv("SLIMCLAW_VAULT_PASSWORD", ""),

		Mode: getEnv("SLIMCLAW_MODE", "shadow"),

		Windowing: WindowingConfig{
			Enabled:            getEnvBool("SLIMCLAW_WINDOWING_ENABLED", true),
			MaxMessages:        getEnvInt("SLIMCLAW_MAX_MESSAGES", 10),
			MaxTokens:          getEnvInt("SLIMCLAW_MAX_TOKENS", 4000),
			SummarizeThreshold: getEnvInt("SLIMCLAW_SUMMARIZE_THRESHOLD", 8),
		},
		Caching: CachingConfig{
			Enabled:           getEnvBool("SLIMCLAW_CACHING_ENABLED", true),
			InjectBreakpoints: getEnvBool("SLIMCLAW_CACHE_INJECT_BREAKPOINTS", true),
			MinContentLength:  getEnvInt("SLIMCLAW_CACHE_MIN_CONTENT_LENGTH", 1000),
		},
		Routing: RoutingConfig{
			Enabled:           getEnvBool("SLIMCLAW_ROUTING_ENABLED", false),
			AllowDowngrade:    getEnvBool("SLIMCLAW_ROUTING_ALLOW_DOWNGRADE", false),
			PinnedModels:      getEnvStringSlice("SLIMCLAW_PINNED_MODELS", nil),
			MinConfidence:     getEnvFloat("SLIMCLAW_MIN_CONFIDENCE", 0.4),
			Tiers:             getEnvJSONStringMap("SLIMCLAW_TIERS_JSON", defaultTiers()),
			TierProviders:     getEnvJSONStringMap("SLIMCLAW_TIER_PROVIDERS_JSON", defaultTierProviders()),
			ReasoningBudget:   getEnvInt("SLIMCLAW_REASONING_BUDGET", 10_000),
			OpenRouterHeaders: getEnvJSONStringMap("SLIMCLAW_OPENROUTER_HEADERS_JSON", nil),
			BudgetWindowMs:    getEnvInt64("SLIMCLAW_BUDGET_WINDOW_MS", 3_600_000),
			BudgetCeiling:     getEnvFloat("SLIMCLAW_BUDGET_CEILING_USD", 1.0),
			FastCandidates:    getEnvJSONStringSliceMap("SLIMCLAW_FAST_CANDIDATES_JSON", defaultFastCandidates()),
		},

		ProviderTimeoutSecs: getEnvInt("SLIMCLAW_PROVIDER_TIMEOUT_SECS", 30),

		CORSOrigins:    getEnvStringSlice("SLIMCLAW_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("SLIMCLAW_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("SLIMCLAW_RATE_LIMIT_BURST", 120),

		OTelEnabled:     getEnvBool("SLIMCLAW_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("SLIMCLAW_OTEL_ENDPOINT", "localhost:4318"),
		OTelServiceName: getEnv("SLIMCLAW_OTEL_SERVICE_NAME", "slimclaw"),

		TemporalEnabled:   getEnvBool("SLIMCLAW_TEMPORAL_ENABLED", false),
		TemporalHostPort:  getEnv("SLIMCLAW_TEMPORAL_HOST", "localhost:7233"),
		TemporalNamespace: getEnv("SLIMCLAW_TEMPORAL_NAMESPACE", "slimclaw"),
		TemporalTaskQueue: getEnv("SLIMCLAW_TEMPORAL_TASK_QUEUE", "slimclaw-tasks"),

		PricingRefreshEnabled:      getEnvBool("SLIMCLAW_PRICING_REFRESH_ENABLED", true),
		PricingRefreshIntervalSecs: getEnvInt("SLIMCLAW_PRICING_REFRESH_INTERVAL_SECS", 3600),

		CredentialsFile:   getEnv("SLIMCLAW_CREDENTIALS_FILE", defaultCredentialsPath()),
		ShutdownDrainSecs: getEnvInt("SLIMCLAW_SHUTDOWN_DRAIN_SECS", 30),

		TSDBRetentionHours: getEnvInt("SLIMCLAW_TSDB_RETENTION_HOURS", 7*24),

		IdempotencyEnabled:    getEnvBool("SLIMCLAW_IDEMPOTENCY_ENABLED", true),
		IdempotencyTTLSecs:    getEnvInt("SLIMCLAW_IDEMPOTENCY_TTL_SECS", 300),
		IdempotencyMaxEntries: getEnvInt("SLIMCLAW_IDEMPOTENCY_MAX_ENTRIES", 10_000),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("SLIMCLAW_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("SLIMCLAW_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.ProviderTimeoutSecs <= 0 {
		return fmt.Errorf("SLIMCLAW_PROVIDER_TIMEOUT_SECS must be > 0, got %d", c.ProviderTimeoutSecs)
	}
	switch c.Mode {
	case "shadow", "active", "disabled":
	default:
		return fmt.Errorf("SLIMCLAW_MODE must be one of shadow|active|disabled, got %q", c.Mode)
	}
	if c.Routing.MinConfidence < 0 || c.Routing.MinConfidence > 1 {
		return fmt.Errorf("SLIMCLAW_MIN_CONFIDENCE must be in [0,1], got %f", c.Routing.MinConfidence)
	}
	if c.IdempotencyEnabled && c.IdempotencyTTLSecs <= 0 {
		return fmt.Errorf("SLIMCLAW_IDEMPOTENCY_TTL_SECS must be > 0, got %d", c.IdempotencyTTLSecs)
	}
	return nil
}

func defaultTiers() map[string]string {
	return map[string]string{
		tier.Simple.String():    "anthropic/haiku",
		tier.Mid.String():       "anthropic/sonnet",
		tier.Complex.String():   "anthropic/opus-4",
		tier.Reasoning.String(): "anthropic/opus-4",
	}
}

func defaultTierProviders() map[string]string {
	return map[string]string{
		"anthropic/*": "anthropic",
		"openai/*":    "openai",
		"*":           "openrouter",
	}
}

// defaultFastCandidates seeds the simple tier's latency-pick pool; an
// operator only sees this used at all once they opt a tier into
// routing.FastVirtualModel via SLIMCLAW_TIERS_JSON.
func defaultFastCandidates() map[string][]string {
	return map[string][]string{
		tier.Simple.String(): {"anthropic/haiku", "openai/gpt-4o-mini"},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}

func getEnvJSONStringMap(key string, def map[string]string) map[string]string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		return def
	}
	return m
}

func getEnvJSONStringSliceMap(key string, def map[string][]string) map[string][]string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var m map[string][]string
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		return def
	}
	return m
}

func defaultCredentialsPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".slimclaw", "credentials")
	}
	return ""
}
