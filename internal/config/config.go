// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// LLM settings
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AgentModel      string
	SummaryModel    string

	// Engine settings
	MaxAgentSteps     int
	ContextWindow     int
	HighWaterFraction float64
	ShrinkThreshold   int

	// Trigger settings
	TriggerCooldown time.Duration
	SilentSentinel  string
	ScanSchedule    string
	ScanKey         string
	ScanPrompt      string
	NotifySubject   string

	// HTTP rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from the environment. A local .env file is
// applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AgentModel:      getEnv("AGENT_MODEL", "gpt-4o"),
		SummaryModel:    getEnv("SUMMARY_MODEL", "claude-3-5-haiku-20241022"),

		// Engine
		MaxAgentSteps:     getIntEnv("MAX_AGENT_STEPS", 8),
		ContextWindow:     getIntEnv("CONTEXT_WINDOW", 128000),
		HighWaterFraction: getFloatEnv("HIGH_WATER_FRACTION", 0.85),
		ShrinkThreshold:   getIntEnv("SHRINK_THRESHOLD", 10000),

		// Triggers
		TriggerCooldown: getDurationEnv("TRIGGER_COOLDOWN", 120*time.Second),
		SilentSentinel:  getEnv("SILENT_SENTINEL", "NO_REPLY"),
		ScanSchedule:    getEnv("SCAN_SCHEDULE", ""),
		ScanKey:         getEnv("SCAN_KEY", "inbox_scan"),
		ScanPrompt:      getEnv("SCAN_PROMPT", "Scan for anything that needs attention. If nothing does, respond with NO_REPLY."),
		NotifySubject:   getEnv("NOTIFY_SUBJECT", "concierge.notifications"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
