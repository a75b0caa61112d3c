package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseFile         string        // Path to SQLite database file (default: ./deviceauth.db)
	ChallengeTTL         time.Duration // Challenge lifetime (default: 2m)
	SkewTolerance        time.Duration // Allowed |signing ts - challenge creation| (default: 2m)
	ChallengeTokenSecret string        // HMAC secret for compact challenge tokens; random ephemeral when unset

	AttestationURL      string        // Base URL of the attestation verdict service; empty disables attestation
	AttestationTimeout  time.Duration // Per-call timeout for verdict requests (default: 3s)
	AttestationHardGate bool          // Require a passing verdict on every verification (default: false)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Expired challenge sweep interval (default: 5m)
}

func LoadConfig() Config {
	return Config{
		DatabaseFile:         getEnvOrDefault("DEVICEAUTH_DATABASE_FILE", "deviceauth.db"),
		ChallengeTTL:         getEnvDurationOrDefault("DEVICEAUTH_CHALLENGE_TTL", 2*time.Minute),
		SkewTolerance:        getEnvDurationOrDefault("DEVICEAUTH_SKEW_TOLERANCE", 2*time.Minute),
		ChallengeTokenSecret: os.Getenv("DEVICEAUTH_CHALLENGE_TOKEN_SECRET"),

		AttestationURL:      os.Getenv("DEVICEAUTH_ATTESTATION_URL"),
		AttestationTimeout:  getEnvDurationOrDefault("DEVICEAUTH_ATTESTATION_TIMEOUT", 3*time.Second),
		AttestationHardGate: getEnvBoolOrDefault("DEVICEAUTH_ATTESTATION_HARD_GATE", false),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 5*time.Minute),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are treated as seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
