// Package config handles application configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Target page for the daemon
	PageURL string

	// Relay proxy settings. Port 0 binds an OS-assigned ephemeral port on
	// loopback only.
	ProxyPort      int
	ProxyWorkers   int
	ProxyBlockSize int

	// Browser settings
	BrowserExecPath string
	BrowserHeadless bool
	BrowserTimeout  time.Duration

	// Challenge polling
	ChallengePollInterval time.Duration
	ChallengeDeadline     time.Duration

	// Bridge / data source settings
	ChunkSize int
	ChunkWait time.Duration

	// Classifier thresholds. The per-rule weights live with the classifier;
	// the acceptance split is the knob that gets tuned in practice.
	AcceptThreshold    int
	PotentialThreshold int

	// Upstream HTTP settings
	UpstreamTimeout time.Duration
	GlobalProxies   []string
	UTLSDomains     []string
	HostRateLimit   float64 // requests/sec per host, 0 disables

	// Logging
	LogLevel string
	LogJSON  bool

	// Metrics
	MetricsEnabled bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	cfg := &Config{
		PageURL:               getEnvString("PAGE_URL", ""),
		ProxyPort:             getEnvInt("PROXY_PORT", 0),
		ProxyWorkers:          getEnvInt("PROXY_WORKERS", 8),
		ProxyBlockSize:        getEnvInt("PROXY_BLOCK_SIZE", 64*1024),
		BrowserExecPath:       getEnvString("BROWSER_EXEC_PATH", ""),
		BrowserHeadless:       getEnvBool("BROWSER_HEADLESS", true),
		BrowserTimeout:        getEnvDuration("BROWSER_TIMEOUT", 120*time.Second),
		ChallengePollInterval: getEnvDuration("CHALLENGE_POLL_INTERVAL", 500*time.Millisecond),
		ChallengeDeadline:     getEnvDuration("CHALLENGE_DEADLINE", 45*time.Second),
		ChunkSize:             getEnvInt("CHUNK_SIZE", 1<<20),
		ChunkWait:             getEnvDuration("CHUNK_WAIT", 8*time.Second),
		AcceptThreshold:       getEnvInt("ACCEPT_THRESHOLD", 50),
		PotentialThreshold:    getEnvInt("POTENTIAL_THRESHOLD", 30),
		UpstreamTimeout:       getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		GlobalProxies:         getEnvStringSlice("GLOBAL_PROXIES", nil),
		UTLSDomains:           getEnvStringSlice("UTLS_DOMAINS", nil),
		HostRateLimit:         getEnvFloat("HOST_RATE_LIMIT", 0),
		LogLevel:              getEnvString("LOG_LEVEL", "info"),
		LogJSON:               getEnvBool("LOG_JSON", false),
		MetricsEnabled:        getEnvBool("METRICS_ENABLED", true),
	}

	// Legacy single proxy support
	if globalProxy := os.Getenv("GLOBAL_PROXY"); globalProxy != "" && len(cfg.GlobalProxies) == 0 {
		cfg.GlobalProxies = []string{globalProxy}
	}

	return cfg
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true" || val == "1"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		// Try parsing as seconds first
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		// Try parsing as duration string
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultVal
}
