package config

import (
	"os"
	"strconv"
	"time"
)

// OasisOptions maps user-friendly oasis names to API base URLs.
var OasisOptions = map[string]string{
	"SE Oasis":     "https://nomad-hzb-se.de/nomad-oasis/api/v1",
	"CE Oasis":     "https://nomad-hzb-ce.de/nomad-oasis/api/v1",
	"Sol-AI Oasis": "https://nomad-sol-ai.de/nomad-oasis/api/v1",
}

// DefaultOasis is used when neither an explicit URL nor an oasis name is given.
const DefaultOasis = "SE Oasis"

// Config holds all client configuration
type Config struct {
	BaseURL   string // explicit API base URL, overrides OasisName
	OasisName string // named oasis instance from OasisOptions

	Token    string // bearer token (NOMAD_CLIENT_ACCESS_TOKEN)
	Username string // fallback credential pair
	Password string

	SectionType string // ELN section type the sample query filters on

	CacheDir     string
	CacheEnabled bool

	// Per-kind cache expiries
	EntriesExpiry time.Duration
	UsersExpiry   time.Duration
	UploadsExpiry time.Duration

	RequestTimeout    time.Duration
	RequestsPerSecond float64

	AttributionFile string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		BaseURL:   getEnv("NOMAD_API_URL", ""),
		OasisName: getEnv("NOMAD_OASIS", ""),

		Token:    getEnv("NOMAD_CLIENT_ACCESS_TOKEN", ""),
		Username: getEnv("NOMAD_USERNAME", ""),
		Password: getEnv("NOMAD_PASSWORD", ""),

		SectionType: getEnv("NOMAD_SECTION_TYPE", "HySprint_Sample"),

		CacheDir:     getEnv("NOMAD_CACHE_DIR", ".nomad_cache"),
		CacheEnabled: getBoolEnv("NOMAD_CACHE_ENABLED", true),

		EntriesExpiry: getDurationEnv("NOMAD_ENTRIES_EXPIRY", 24*time.Hour),
		UsersExpiry:   getDurationEnv("NOMAD_USERS_EXPIRY", 168*time.Hour),
		UploadsExpiry: getDurationEnv("NOMAD_UPLOADS_EXPIRY", 48*time.Hour),

		RequestTimeout:    getDurationEnv("NOMAD_REQUEST_TIMEOUT", 10*time.Second),
		RequestsPerSecond: getFloatEnv("NOMAD_REQUESTS_PER_SECOND", 10),

		AttributionFile: getEnv("NOMAD_ATTRIBUTION_FILE", "nomad_author_attributions.csv"),
	}
}

// ResolveBaseURL returns the API base URL using the precedence:
// explicit BaseURL, then OasisName lookup, then the default oasis.
func (c *Config) ResolveBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	if c.OasisName != "" {
		if url, ok := OasisOptions[c.OasisName]; ok {
			return url
		}
	}
	return OasisOptions[DefaultOasis]
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
