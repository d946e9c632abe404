// Package config provides environment configuration for the chat agent.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the chat agent.
type Config struct {
	// History API
	APIBaseURL  string
	HTTPTimeout time.Duration

	// Live channel
	SocketURL         string
	AckTimeout        time.Duration
	ReconnectAttempts int
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration

	// Identity
	Token     string
	TokenFile string
	JWTSecret string

	// Display API
	ListenAddr string

	// Optional infrastructure; empty disables
	RedisAddr   string
	DatabaseDSN string

	// Logging
	LogLevel string
	Env      string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		APIBaseURL:  getEnv("CHAT_API_URL", "http://localhost:5000/api"),
		HTTPTimeout: getDurationEnv("CHAT_HTTP_TIMEOUT", 15*time.Second),

		SocketURL:         getEnv("CHAT_SOCKET_URL", "ws://localhost:5000/ws"),
		AckTimeout:        getDurationEnv("CHAT_ACK_TIMEOUT", 10*time.Second),
		ReconnectAttempts: getIntEnv("CHAT_RECONNECT_ATTEMPTS", 5),
		ReconnectInitial:  getDurationEnv("CHAT_RECONNECT_INITIAL", time.Second),
		ReconnectMax:      getDurationEnv("CHAT_RECONNECT_MAX", 30*time.Second),

		Token:     getEnv("CHAT_TOKEN", ""),
		TokenFile: getEnv("CHAT_TOKEN_FILE", ""),
		JWTSecret: getEnv("CHAT_JWT_SECRET", ""),

		ListenAddr: getEnv("CHAT_LISTEN_ADDR", ":8081"),

		RedisAddr:   getEnv("REDIS_ADDR", ""),
		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		Env:      getEnv("ENV", "production"),
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

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
