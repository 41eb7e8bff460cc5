// Package config provides configuration for the application
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
	Server     ServerConfig
	Logging    LoggingConfig
	CORS       CORSConfig
	JWT        JWTConfig
	Remote     RemoteConfig
	LocalStore LocalStoreConfig
	Cache      CacheConfig
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port int
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	AllowedOrigins []string
}

// JWTConfig holds JWT token configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
	GuestTokenExpiry  time.Duration
	// ExchangeKey authorizes the identity provider's token exchange calls.
	// Empty disables the exchange endpoint.
	ExchangeKey string
}

// RemoteConfig holds the remote document store connection settings
type RemoteConfig struct {
	BaseURL        string
	LegacyBaseURL  string
	APIKey         string
	Timeout        time.Duration
	BatchChunkSize int
	PageSize       int
}

// LocalStoreConfig holds the local persistent store settings
type LocalStoreConfig struct {
	Path          string
	MaxValueBytes int
	MaxTotalBytes int64
}

// CacheConfig holds the memory cache tier settings and per-entity TTLs
type CacheConfig struct {
	MaxEntries     int
	CourseListTTL  time.Duration
	EnrollmentTTL  time.Duration
	ProgressTTL    time.Duration
	CertificateTTL time.Duration
	StatsTTL       time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (optional)
	godotenv.Load()

	cfg := &Config{}

	// Server configuration
	serverPort, err := intEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}
	cfg.Server.Port = serverPort

	// Logging configuration
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info" // default level
	}
	cfg.Logging.Level = logLevel

	// CORS configuration
	corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
	if corsOrigins == "" {
		// Default to allow all origins if not specified (for development)
		cfg.CORS.AllowedOrigins = []string{"*"}
	} else {
		origins := strings.Split(corsOrigins, ",")
		cfg.CORS.AllowedOrigins = make([]string, 0, len(origins))
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, origin)
			}
		}
		if len(cfg.CORS.AllowedOrigins) == 0 {
			cfg.CORS.AllowedOrigins = []string{"*"}
		}
	}

	// JWT configuration
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	cfg.JWT.Secret = jwtSecret

	accessExpiry, err := durationEnv("JWT_ACCESS_TOKEN_EXPIRY", time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.JWT.AccessTokenExpiry = accessExpiry

	// Guest tokens live longer so on-device learning survives a workday
	guestExpiry, err := durationEnv("JWT_GUEST_TOKEN_EXPIRY", 720*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.JWT.GuestTokenExpiry = guestExpiry

	cfg.JWT.ExchangeKey = os.Getenv("AUTH_EXCHANGE_KEY")

	// Remote document store configuration
	remoteBaseURL := os.Getenv("REMOTE_BASE_URL")
	if remoteBaseURL == "" {
		return nil, fmt.Errorf("REMOTE_BASE_URL is required")
	}
	cfg.Remote.BaseURL = strings.TrimRight(remoteBaseURL, "/")

	// Legacy read path, used once on permission-denied (optional)
	cfg.Remote.LegacyBaseURL = strings.TrimRight(os.Getenv("REMOTE_LEGACY_BASE_URL"), "/")
	cfg.Remote.APIKey = os.Getenv("REMOTE_API_KEY")

	remoteTimeout, err := durationEnv("REMOTE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Remote.Timeout = remoteTimeout

	chunkSize, err := intEnv("REMOTE_BATCH_CHUNK_SIZE", 10)
	if err != nil {
		return nil, err
	}
	if chunkSize < 1 {
		return nil, fmt.Errorf("REMOTE_BATCH_CHUNK_SIZE must be positive")
	}
	cfg.Remote.BatchChunkSize = chunkSize

	pageSize, err := intEnv("REMOTE_PAGE_SIZE", 20)
	if err != nil {
		return nil, err
	}
	cfg.Remote.PageSize = pageSize

	// Local persistent store configuration
	localPath := os.Getenv("LOCAL_STORE_PATH")
	if localPath == "" {
		localPath = "qrsafety.db" // default
	}
	cfg.LocalStore.Path = localPath

	maxValueBytes, err := intEnv("LOCAL_STORE_MAX_VALUE_BYTES", 512*1024)
	if err != nil {
		return nil, err
	}
	cfg.LocalStore.MaxValueBytes = maxValueBytes

	maxTotalBytes, err := intEnv("LOCAL_STORE_MAX_TOTAL_BYTES", 32*1024*1024)
	if err != nil {
		return nil, err
	}
	cfg.LocalStore.MaxTotalBytes = int64(maxTotalBytes)

	// Cache tier configuration
	maxEntries, err := intEnv("CACHE_MAX_ENTRIES", 100)
	if err != nil {
		return nil, err
	}
	cfg.Cache.MaxEntries = maxEntries

	cfg.Cache.CourseListTTL, err = durationEnv("CACHE_COURSE_LIST_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.Cache.EnrollmentTTL, err = durationEnv("CACHE_ENROLLMENT_TTL", 3*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.Cache.ProgressTTL, err = durationEnv("CACHE_PROGRESS_TTL", 3*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.Cache.CertificateTTL, err = durationEnv("CACHE_CERTIFICATE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.Cache.StatsTTL, err = durationEnv("CACHE_STATS_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// intEnv reads an integer environment variable with a default
func intEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

// durationEnv reads a duration environment variable with a default
func durationEnv(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}
