package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	PublicBaseURL  string // externally reachable root for provider callbacks
	AllowedOrigins []string
	LogLevel       string

	// Telephony provider credentials
	ProviderBaseURL   string
	ProviderAccountID string
	ProviderAuthToken string

	// S3 prompt cache and recording archive
	MediaBucket    string
	MediaPublicURL string
	AWSRegion      string

	// Directory service for user and buyer lookups
	DirectoryBaseURL string

	// WebSocket timing
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:              getEnv("PORT", "8080"),
		PublicBaseURL:     getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		AllowedOrigins:    strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ProviderBaseURL:   getEnv("PROVIDER_BASE_URL", "https://api.telephony.example.com"),
		ProviderAccountID: os.Getenv("PROVIDER_ACCOUNT_ID"),
		ProviderAuthToken: os.Getenv("PROVIDER_AUTH_TOKEN"),
		MediaBucket:       os.Getenv("MEDIA_BUCKET"),
		MediaPublicURL:    os.Getenv("MEDIA_PUBLIC_URL"),
		AWSRegion:         getEnv("AWS_REGION", "eu-central-1"),
		DirectoryBaseURL:  os.Getenv("DIRECTORY_BASE_URL"),
	}

	// Parse WebSocket timeouts
	wsReadTimeout, err := strconv.Atoi(getEnv("WS_READ_TIMEOUT", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_READ_TIMEOUT: %w", err)
	}
	config.WSReadTimeout = time.Duration(wsReadTimeout) * time.Second

	wsWriteTimeout, err := strconv.Atoi(getEnv("WS_WRITE_TIMEOUT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 512

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
