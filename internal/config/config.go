package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	LocalDomain       string // LOCAL_DOMAIN — e.g. https://example.com
	ActorHandle       string // ACTOR_HANDLE — the single local user's username
	ActorDisplayName  string
	ActorSummary      string
	DatabaseURL       string
	RSAPrivateKeyPath string
	RSAPublicKeyPath  string
	Port              string

	// Tunable performance constants (all have sensible defaults; rarely
	// need changing). Mirrors the teacher's AP_CACHE_TTL/AP_FEDERATION_
	// CONCURRENCY block, renamed for the federation-only domain.
	KeyCacheTTL          time.Duration // KEY_CACHE_TTL — public-key cache entry lifetime (default 1h)
	KeyCachePruneEvery   time.Duration // KEY_CACHE_PRUNE_EVERY — sweep interval (default 10m)
	RateLimitWindow      time.Duration // RATE_LIMIT_WINDOW — fixed-window duration (default 1m)
	RateLimitMax         int           // RATE_LIMIT_MAX — max requests admitted per actor per window (default 60)
	RateLimitPruneEvery  time.Duration // RATE_LIMIT_PRUNE_EVERY — stale-entry sweep interval (default 5m)
	DeliveryConcurrency  int           // DELIVERY_CONCURRENCY — parsed (default 10) but not read by the delivery fan-out, whose semaphore size is the fixed deliveryConcurrency constant (10)
	ProfileRefreshOnBoot bool          // PROFILE_REFRESH_ON_BOOT — run the profile hydrator: fetch every follower/followed profile at startup, then every 6h (default true)
}

// Load reads configuration from environment variables. Panics (via os.Exit)
// if required variables (LOCAL_DOMAIN, ACTOR_HANDLE) are missing, matching
// the teacher's fail-fast NOSTR_PRIVATE_KEY check in Load().
func Load() *Config {
	localDomain := os.Getenv("LOCAL_DOMAIN")
	if localDomain == "" {
		fmt.Fprintln(os.Stderr, "ERROR: LOCAL_DOMAIN is not set!")
		fmt.Fprintln(os.Stderr, "Set it to the externally-reachable origin of this server, e.g. https://example.com")
		os.Exit(1)
	}
	handle := os.Getenv("ACTOR_HANDLE")
	if handle == "" {
		fmt.Fprintln(os.Stderr, "ERROR: ACTOR_HANDLE is not set!")
		os.Exit(1)
	}

	displayName := os.Getenv("ACTOR_DISPLAY_NAME")
	if displayName == "" {
		displayName = handle
	}

	return &Config{
		LocalDomain:       localDomain,
		ActorHandle:       handle,
		ActorDisplayName:  displayName,
		ActorSummary:      os.Getenv("ACTOR_SUMMARY"),
		DatabaseURL:       getEnv("DATABASE_URL", "rustresort.db"),
		RSAPrivateKeyPath: getEnv("RSA_PRIVATE_KEY_PATH", "private.pem"),
		RSAPublicKeyPath:  getEnv("RSA_PUBLIC_KEY_PATH", "public.pem"),
		Port:              getEnv("PORT", "8000"),

		KeyCacheTTL:          parseDuration(os.Getenv("KEY_CACHE_TTL"), time.Hour),
		KeyCachePruneEvery:   parseDuration(os.Getenv("KEY_CACHE_PRUNE_EVERY"), 10*time.Minute),
		RateLimitWindow:      parseDuration(os.Getenv("RATE_LIMIT_WINDOW"), time.Minute),
		RateLimitMax:         parseInt(os.Getenv("RATE_LIMIT_MAX"), 60),
		RateLimitPruneEvery:  parseDuration(os.Getenv("RATE_LIMIT_PRUNE_EVERY"), 5*time.Minute),
		DeliveryConcurrency:  parseInt(os.Getenv("DELIVERY_CONCURRENCY"), 10),
		ProfileRefreshOnBoot: getEnv("PROFILE_REFRESH_ON_BOOT", "true") != "false",
	}
}

// URL returns the parsed local domain as a *url.URL.
func (c *Config) URL() *url.URL {
	u, _ := url.Parse(c.LocalDomain)
	return u
}

// BaseURL constructs an absolute URL from a path.
func (c *Config) BaseURL(path string) string {
	return strings.TrimRight(c.LocalDomain, "/") + path
}

// ActorURI is the local actor's canonical AP id.
func (c *Config) ActorURI() string {
	return c.BaseURL("/users/" + c.ActorHandle)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return i
}
