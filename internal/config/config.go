// Package config provides production-grade configuration management for
// xrayguard. Configuration is loaded from environment variables, optionally
// preceded by a .env file, with safe defaults applied where spec.md allows.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// PanelType identifies which control-panel flavor PANEL_TYPE selects.
// Only marzneshin is implemented; the others are recognized so that
// misconfiguration is reported clearly instead of silently no-opping.
type PanelType string

const (
	PanelMarzneshin PanelType = "marzneshin"
	PanelMarzban    PanelType = "marzban"
	PanelRebecca    PanelType = "rebecca"
	PanelPasarguard PanelType = "pasarguard"
)

// Config holds all tunable parameters for the ban-enforcement engine.
// The struct is designed to be loaded once at startup and then shared across
// goroutines as a read-only value, making it inherently thread-safe after
// initialization.
type Config struct {
	// Debug enables verbose (debug-level) logging.
	Debug bool
	// Docs is read from DOCS; no component in this module consults it.
	Docs bool

	// PanelType selects which control panel flavor to talk to. Only
	// PanelMarzneshin is wired end-to-end; the others are accepted as valid
	// values but fail fast at startup with a clear "not supported" error.
	PanelType PanelType
	// SyncWithPanel selects the Limit Resolver mode: panel mode (limits
	// resolved from the panel through a TTL cache) when true, local mode (a
	// durable sqlite table) when false. Node re-listing runs either way.
	SyncWithPanel bool
	// PanelUsername and PanelPassword are submitted to the panel's token
	// endpoint to obtain a bearer token.
	PanelUsername string
	PanelPassword string
	// PanelAddress is the panel's base URL, e.g. "https://panel.example.com".
	PanelAddress string
	// PanelCustomNodes, when non-empty, restricts the fleet to nodes whose
	// name appears in this list. Empty means "all healthy nodes".
	PanelCustomNodes []string
	// PanelNodeReset is how often the fleet supervisor re-lists nodes and
	// respawns stream subscribers.
	PanelNodeReset time.Duration

	// CacheTTL is how long a resolved user limit is cached in panel mode.
	CacheTTL time.Duration
	// MarzneshinServices maps a marzneshin service id to its configured
	// per-service concurrent-IP limit, parsed from MARZNESHIN_SERVICES.
	MarzneshinServices map[int]int
	// DefaultLimit is the concurrent-IP limit the local-mode resolver applies
	// to a user with no entry in its table. In panel mode a user with no
	// service in MarzneshinServices resolves to 0 (no enforcement) instead.
	DefaultLimit int

	// STL ("seen-times limit") and IUL ("imbalance unban level") tune the
	// violation detector's hysteresis/debounce algorithm; see spec.md §4.4.
	STL int
	IUL int
	// BanLastUser selects which of the two candidate observations gets
	// banned once both debounce counts reach STL: the most recent observation
	// for the user when true, the earliest still-present one when false.
	BanLastUser bool
	// Accepted, when set, appends the observation's Accepted field to the
	// ban log line.
	Accepted bool

	// HTTPBindAddress is read from HTTP_BIND_ADDRESS; this module starts no
	// HTTP server and no component consults it.
	HTTPBindAddress string
	// HTTPInsecureSkipVerify is read from HTTP_INSECURE_SKIP_VERIFY but not
	// consulted: the panel client and the log-stream subscriber always
	// disable TLS certificate verification, whatever its value.
	HTTPInsecureSkipVerify bool
	// PanelRequestTimeout bounds a single panel HTTP round trip.
	PanelRequestTimeout time.Duration

	// LimitStorePath is the sqlite database backing the local-mode Limit
	// Resolver's (name -> limit) table.
	LimitStorePath string
	// ExceptedIPStorePath is the sqlite database backing the durable
	// excepted-IP allowlist.
	ExceptedIPStorePath string

	// BanConcurrency bounds how many per-node BanUser RPCs the Ban
	// Dispatcher issues at once for a single ban decision.
	BanConcurrency int
	// BanEndpointPath is the path appended to a node's address:port to
	// reach its ban endpoint.
	BanEndpointPath string
}

// Load reads configuration from environment variables. If a .env file is
// present in the working directory it is loaded first (existing environment
// variables always take precedence); a missing .env file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := &Config{
		Debug:         getEnvBool("DEBUG", false),
		Docs:          getEnvBool("DOCS", false),
		PanelType:     PanelType(getEnv("PANEL_TYPE", string(PanelMarzneshin))),
		SyncWithPanel: getEnvBool("SYNC_WITH_PANEL", true),
		PanelUsername: getEnv("PANEL_USERNAME", ""),
		PanelPassword: getEnv("PANEL_PASSWORD", ""),
		PanelAddress:  getEnv("PANEL_ADDRESS", ""),

		PanelCustomNodes: getEnvList("PANEL_CUSTOM_NODES"),
		PanelNodeReset:   getEnvSeconds("PANEL_NODE_RESET", 300*time.Second),

		CacheTTL:     getEnvSeconds("CACHE_TTL", 3600*time.Second),
		DefaultLimit: getEnvInt("DEFAULT_LIMIT", 0),

		STL: getEnvInt("STL", 5),
		IUL: getEnvInt("IUL", 2),

		BanLastUser: getEnvBool("BAN_LAST_USER", false),
		Accepted:    getEnvBool("ACCEPTED", false),

		HTTPBindAddress:        getEnv("HTTP_BIND_ADDRESS", ":8080"),
		HTTPInsecureSkipVerify: getEnvBool("HTTP_INSECURE_SKIP_VERIFY", true),
		PanelRequestTimeout:    getEnvSeconds("PANEL_REQUEST_TIMEOUT", 30*time.Second),

		LimitStorePath:      getEnv("LIMIT_STORE_PATH", "data/limits.db"),
		ExceptedIPStorePath: getEnv("EXCEPTED_IP_STORE_PATH", "data/excepted_ips.db"),

		BanConcurrency:  getEnvInt("BAN_CONCURRENCY", 8),
		BanEndpointPath: getEnv("BAN_ENDPOINT_PATH", "/api/ban"),
	}

	cfg.MarzneshinServices = parseServices(getEnv("MARZNESHIN_SERVICES", ""))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the handful of fields whose absence is fatal at startup;
// per spec.md §7, "only configuration errors at startup are fatal".
func (c *Config) Validate() error {
	if c.PanelAddress == "" {
		return fmt.Errorf("PANEL_ADDRESS must be set")
	}
	switch c.PanelType {
	case PanelMarzneshin, PanelMarzban, PanelRebecca, PanelPasarguard:
	default:
		return fmt.Errorf("PANEL_TYPE %q is not one of marzneshin, marzban, rebecca, pasarguard", c.PanelType)
	}
	if c.PanelType != PanelMarzneshin {
		return fmt.Errorf("PANEL_TYPE %q is recognized but not implemented; only marzneshin is wired", c.PanelType)
	}
	return nil
}

// parseServices parses the MARZNESHIN_SERVICES "sid:limit,sid:limit,..."
// format into a service-id → limit map. Malformed entries are skipped rather
// than failing startup, matching the reference _parse_services behavior.
func parseServices(raw string) map[int]int {
	limits := make(map[int]int)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return limits
	}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" || !strings.Contains(item, ":") {
			continue
		}
		parts := strings.SplitN(item, ":", 2)
		sid, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		limit, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil {
			continue
		}
		limits[sid] = limit
	}
	return limits
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return time.Duration(n * float64(time.Second))
}

func getEnvList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
