// Package config loads dispatchd configuration from the environment.
//
// A .env file next to the working directory is honored for local runs;
// process environment variables always win. Configuration is read once at
// start-up and validated before anything else is constructed.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Triage provider selection values.
const (
	TriageRules = "rules"
	TriageCloud = "cloud"
)

// Config holds all daemon configuration.
type Config struct {
	// Server settings
	ListenHost string
	ListenPort int
	DBPath     string

	// Logging settings
	LogLevel  string
	LogFormat string

	// Time zone all timestamps are rendered in.
	Timezone string

	// Routing settings
	RoutingOffline     bool          // skip every external routing provider
	RoutingCacheSize   int           // LRU capacity
	RoutingMaxResults  int           // extra candidate routes persisted per plan
	VehicleCandidates  int           // selector cap for vehicles
	AgentCandidates    int           // selector cap for agents
	OpenRouteBackoff   time.Duration // 429 cool-off window
	RoutingTimeout     time.Duration
	OSRMTimeout        time.Duration
	MapboxToken        string
	OpenRouteKey       string
	GraphHopperKey     string
	OSRMHosts          []string

	// Triage settings
	TriageProvider string // "rules" or "cloud"
	AIProvider     string // "openai" or "ollama" when cloud is selected
	AITimeout      time.Duration
	OpenAIKey      string
	OpenAIBase     string
	OpenAIModel    string
	OllamaBaseURL  string
	OllamaModel    string

	// Green-wave settings
	IntersectionsFile string

	// Transport feed settings
	TransportFeedURL string
}

// Load reads configuration from .env (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env file")
	}

	cfg := &Config{
		ListenHost: getString("LISTEN_HOST", "0.0.0.0"),
		ListenPort: getInt("LISTEN_PORT", 8080),
		DBPath:     getString("DB_PATH", "dispatchd.db"),

		LogLevel:  getString("LOG_LEVEL", "info"),
		LogFormat: getString("LOG_FORMAT", "json"),
		Timezone:  getString("TIMEZONE", "America/Argentina/Buenos_Aires"),

		RoutingOffline:    getBool("ROUTING_OFFLINE", false),
		RoutingCacheSize:  getInt("ROUTING_CACHE_SIZE", 128),
		RoutingMaxResults: getInt("ROUTING_MAX_RESULTS", 5),
		VehicleCandidates: getInt("ROUTING_VEHICLE_CANDIDATES", 6),
		AgentCandidates:   getInt("ROUTING_AGENT_CANDIDATES", 4),
		OpenRouteBackoff:  time.Duration(getInt("OPENROUTE_BACKOFF_SECONDS", 120)) * time.Second,
		RoutingTimeout:    time.Duration(getInt("ROUTING_TIMEOUT_SECONDS", 10)) * time.Second,
		OSRMTimeout:       time.Duration(getInt("OSRM_TIMEOUT_SECONDS", 6)) * time.Second,
		MapboxToken:       getString("MAPBOX_API_KEY", ""),
		OpenRouteKey:      getString("OPENROUTE_API_KEY", ""),
		GraphHopperKey:    getString("GRAPHHOPPER_API_KEY", ""),
		OSRMHosts:         getList("OSRM_HOSTS", []string{"https://router.project-osrm.org", "https://routing.openstreetmap.de/routed-car"}),

		TriageProvider: strings.ToLower(getString("TRIAGE_PROVIDER", TriageRules)),
		AIProvider:     strings.ToLower(getString("AI_PROVIDER", "openai")),
		AITimeout:      time.Duration(getInt("AI_TIMEOUT_SECONDS", 20)) * time.Second,
		OpenAIKey:      getString("OPENAI_API_KEY", ""),
		OpenAIBase:     getString("OPENAI_API_BASE", "https://api.openai.com/v1"),
		OpenAIModel:    getString("OPENAI_MODEL", "gpt-4o-mini"),
		OllamaBaseURL:  getString("OLLAMA_BASE_URL", ""),
		OllamaModel:    getString("OLLAMA_MODEL", "gemma:4b"),

		IntersectionsFile: getString("INTERSECTIONS_FILE", ""),
		TransportFeedURL:  getString("TRANSPORT_FEED_URL", "https://api-transporte.buenosaires.gob.ar"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration. A cloud triage selection with
// no usable credentials is a hard configuration error; everything else the
// pipeline can degrade around.
func (c *Config) Validate() error {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("invalid LISTEN_PORT %d", c.ListenPort)
	}
	if c.RoutingCacheSize <= 0 {
		return fmt.Errorf("ROUTING_CACHE_SIZE must be positive, got %d", c.RoutingCacheSize)
	}
	if c.VehicleCandidates <= 0 || c.AgentCandidates <= 0 {
		return fmt.Errorf("candidate caps must be positive")
	}
	switch c.TriageProvider {
	case TriageRules:
	case TriageCloud:
		switch c.AIProvider {
		case "openai":
			if c.OpenAIKey == "" {
				return fmt.Errorf("triage provider 'cloud' selected but OPENAI_API_KEY is not set")
			}
		case "ollama":
			if c.OllamaBaseURL == "" {
				return fmt.Errorf("triage provider 'cloud' selected but OLLAMA_BASE_URL is not set")
			}
		default:
			return fmt.Errorf("unsupported AI_PROVIDER %q", c.AIProvider)
		}
	default:
		return fmt.Errorf("unsupported TRIAGE_PROVIDER %q", c.TriageProvider)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the configured time zone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-numeric environment value")
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-boolean environment value")
		return fallback
	}
	return b
}

func getList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
