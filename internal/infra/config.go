package infra

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// PollConfig bounds how jobs of one kind are polled.
type PollConfig struct {
	WarmUp      time.Duration
	Interval    time.Duration
	MaxAttempts int
}

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	JWTSecret          string
	GeoIPDBPath        string
	DefaultLocale      string
	CORSAllowedOrigins []string
	StorageBaseURL     string
	ArtifactAllowlist  []string

	GenerationAPIBaseURL  string
	GenerationAPIKey      string
	GenerationHTTPTimeout time.Duration
	OutfitPolling         PollConfig
	DesignPolling         PollConfig
	FallbackDelay         time.Duration
	DefaultMonthlyLimit   int

	ReconcileInterval  time.Duration
	ReconcileMaxChecks int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:                getEnv("APP_ENV", "development"),
		Port:                  port,
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		GeoIPDBPath:           os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale:         getEnv("DEFAULT_LOCALE", "en"),
		CORSAllowedOrigins:    splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		StorageBaseURL:        getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		GenerationAPIBaseURL:  getEnv("GENERATION_API_BASE_URL", "http://localhost:9090"),
		GenerationAPIKey:      os.Getenv("GENERATION_API_KEY"),
		GenerationHTTPTimeout: time.Second * time.Duration(getEnvInt("GENERATION_HTTP_TIMEOUT_SECONDS", 15)),
		OutfitPolling: PollConfig{
			WarmUp:      time.Millisecond * time.Duration(getEnvInt("OUTFIT_WARMUP_MS", 2000)),
			Interval:    time.Millisecond * time.Duration(getEnvInt("OUTFIT_POLL_INTERVAL_MS", 2000)),
			MaxAttempts: getEnvInt("OUTFIT_MAX_ATTEMPTS", 45),
		},
		DesignPolling: PollConfig{
			WarmUp:      time.Millisecond * time.Duration(getEnvInt("DESIGN_WARMUP_MS", 2000)),
			Interval:    time.Millisecond * time.Duration(getEnvInt("DESIGN_POLL_INTERVAL_MS", 2000)),
			MaxAttempts: getEnvInt("DESIGN_MAX_ATTEMPTS", 30),
		},
		FallbackDelay:       time.Millisecond * time.Duration(getEnvInt("FALLBACK_DELAY_MS", 2000)),
		DefaultMonthlyLimit: getEnvInt("DEFAULT_MONTHLY_LIMIT", 20),
		ReconcileInterval:   time.Second * time.Duration(getEnvInt("RECONCILE_INTERVAL_SECONDS", 60)),
		ReconcileMaxChecks:  getEnvInt("RECONCILE_MAX_CHECKS", 10),
		HTTPReadTimeout:     time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:    time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:     time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:     getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}
	cfg.ArtifactAllowlist = buildAllowlist(cfg.StorageBaseURL, os.Getenv("ARTIFACT_HOST_ALLOWLIST"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	for name, poll := range map[string]PollConfig{"OUTFIT": cfg.OutfitPolling, "DESIGN": cfg.DesignPolling} {
		if poll.MaxAttempts <= 0 || poll.Interval <= 0 || poll.WarmUp < 0 {
			return nil, fmt.Errorf("%s polling must have positive attempts and interval", name)
		}
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// AllowsArtifact reports whether rawURL points at an allowlisted host. An
// empty allowlist accepts any http(s) URL.
func (c *Config) AllowsArtifact(rawURL string) bool {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Hostname() == "" {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if len(c.ArtifactAllowlist) == 0 {
		return true
	}
	host := strings.ToLower(parsed.Hostname())
	for _, allowed := range c.ArtifactAllowlist {
		if host == allowed {
			return true
		}
	}
	return false
}

// buildAllowlist returns the sorted hosts input artifacts may point at: the
// storage host plus any explicit extras.
func buildAllowlist(storageBaseURL, extra string) []string {
	seen := map[string]struct{}{}
	if parsed, err := url.Parse(storageBaseURL); err == nil && parsed.Hostname() != "" {
		seen[strings.ToLower(parsed.Hostname())] = struct{}{}
	}
	for _, host := range splitList(extra) {
		seen[strings.ToLower(host)] = struct{}{}
	}
	hosts := make([]string, 0, len(seen))
	for host := range seen {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
