// Package config loads service configuration from the environment and
// operator policy profiles from YAML. Profiles are schema-validated and
// version-gated before anything downstream trusts them.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port         string
	LogLevel     string
	DatabaseURL  string // empty selects the embedded sqlite lite mode
	DataDir      string
	ProfileDir   string
	Profile      string // active profile code
	RedisURL     string // optional, distributed rate limiting
	AuthSecret   string // HMAC secret for API tokens
	OTLPEndpoint string // optional, metrics export
	EventLogPath string // optional, JSON-lines event mirror
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}

	profile := os.Getenv("TIMEVAULT_PROFILE")
	if profile == "" {
		profile = "standard"
	}

	return &Config{
		Port:         port,
		LogLevel:     logLevel,
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DataDir:      dataDir,
		ProfileDir:   os.Getenv("TIMEVAULT_PROFILE_DIR"),
		Profile:      profile,
		RedisURL:     os.Getenv("REDIS_URL"),
		AuthSecret:   os.Getenv("AUTH_SECRET"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		EventLogPath: os.Getenv("TIMEVAULT_EVENT_LOG"),
	}
}
