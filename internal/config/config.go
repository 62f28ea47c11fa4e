package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

var defaultKeywords = []string{
	"login", "secure", "account", "bank", "confirm", "signin", "money", "free", "verify",
}

type Config struct {
	Port        string
	LogLevel    string
	CORSOrigins []string
	AdminToken  string

	TrustedIPs    string
	TrustProxy    bool
	UseCloudflare bool

	ModelPath string

	WhitelistPath       string
	WhitelistMax        int
	WhitelistReloadSpec string

	DefaultThreshold float64
	MaxBatch         int
	BatchWorkers     int
	URLTimeout       time.Duration

	SuspiciousKeywords []string
	SuspiciousWeight   float64

	DNSResolver  string
	DNSTimeout   time.Duration
	DNSCacheSize int
	DNSCacheTTL  time.Duration

	RedisEnabled bool
	RedisHost    string
	RedisPort    string
	RedisDNSTTL  time.Duration
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:                getEnv("PORT", "5000"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		CORSOrigins:         getEnvList("CORS_ORIGINS", []string{"*"}),
		AdminToken:          os.Getenv("ADMIN_TOKEN"),
		TrustedIPs:          getEnv("TRUSTED_IPS", "127.0.0.1,::1,10.0.0.0/8,172.16.0.0/12,192.168.0.0/16"),
		TrustProxy:          getEnvBool("TRUST_PROXY", true),
		UseCloudflare:       getEnvBool("USE_CLOUDFLARE", false),
		ModelPath:           getEnv("MODEL_PATH", "models/url_xgb_model.json"),
		WhitelistPath:       getEnv("WHITELIST_PATH", "raw_datasets/benign-urls.csv"),
		WhitelistReloadSpec: os.Getenv("WHITELIST_RELOAD_SPEC"),
		SuspiciousKeywords:  getEnvList("SUSPICIOUS_KEYWORDS", defaultKeywords),
		DNSResolver:         getEnv("DNS_RESOLVER", "8.8.8.8:53"),
		RedisEnabled:        getEnvBool("REDIS_ENABLED", false),
		RedisHost:           getEnv("REDIS_HOST", "localhost"),
		RedisPort:           getEnv("REDIS_PORT", "6379"),
	}

	var err error
	if cfg.WhitelistMax, err = getEnvInt("WHITELIST_MAX", 30000); err != nil {
		return nil, err
	}
	if cfg.MaxBatch, err = getEnvInt("MAX_BATCH", 100); err != nil {
		return nil, err
	}
	if cfg.BatchWorkers, err = getEnvInt("BATCH_WORKERS", 8); err != nil {
		return nil, err
	}
	if cfg.DNSCacheSize, err = getEnvInt("DNS_CACHE_SIZE", 50000); err != nil {
		return nil, err
	}
	if cfg.DefaultThreshold, err = getEnvFloat("DEFAULT_THRESHOLD", 0.5); err != nil {
		return nil, err
	}
	if cfg.SuspiciousWeight, err = getEnvFloat("SUSPICIOUS_WEIGHT", 2); err != nil {
		return nil, err
	}
	if cfg.URLTimeout, err = getEnvDuration("URL_TIMEOUT", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.DNSTimeout, err = getEnvDuration("DNS_TIMEOUT", time.Second); err != nil {
		return nil, err
	}
	if cfg.DNSCacheTTL, err = getEnvDuration("DNS_CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.RedisDNSTTL, err = getEnvDuration("REDIS_DNS_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the scanner cannot run with.
func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return fmt.Errorf("MODEL_PATH must not be empty")
	}
	if math.IsNaN(c.DefaultThreshold) || c.DefaultThreshold < 0 || c.DefaultThreshold > 1 {
		return fmt.Errorf("DEFAULT_THRESHOLD must be within [0,1], got %v", c.DefaultThreshold)
	}
	if c.MaxBatch <= 0 {
		return fmt.Errorf("MAX_BATCH must be positive, got %d", c.MaxBatch)
	}
	if c.BatchWorkers <= 0 {
		return fmt.Errorf("BATCH_WORKERS must be positive, got %d", c.BatchWorkers)
	}
	if c.WhitelistMax < 0 {
		return fmt.Errorf("WHITELIST_MAX must not be negative, got %d", c.WhitelistMax)
	}
	if c.URLTimeout <= 0 {
		return fmt.Errorf("URL_TIMEOUT must be positive, got %s", c.URLTimeout)
	}
	if c.DNSTimeout <= 0 {
		return fmt.Errorf("DNS_TIMEOUT must be positive, got %s", c.DNSTimeout)
	}
	if c.SuspiciousWeight < 0 {
		return fmt.Errorf("SUSPICIOUS_WEIGHT must not be negative, got %v", c.SuspiciousWeight)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
	return d, nil
}

// getEnvList splits a comma separated variable, dropping blanks and lowercasing.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
