// Package config provides configuration management and environment variable handling for the relay
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProductionConfig holds all configuration for the relay process
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Security   SecurityConfig   `json:"security"`
	JWT        JWTConfig        `json:"jwt"`
	WhatsApp   WhatsAppConfig   `json:"whatsapp"`
	Outbox     OutboxConfig     `json:"outbox"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Cache      CacheConfig      `json:"cache"`
	Deployment DeploymentConfig `json:"deployment"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
}

// DSN returns the key/value connection string understood by both pgx and lib/pq
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type ServerConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`
	BodyLimit         int           `json:"body_limit"`
	TrustedProxies    []string      `json:"trusted_proxies"`
	ProxyHeader       string        `json:"proxy_header"`
	EnableCompression bool          `json:"enable_compression"`
}

type SecurityConfig struct {
	// CORS
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	CORSMaxAge       int      `json:"cors_max_age"`

	// Rate Limiting
	GlobalRateLimit int           `json:"global_rate_limit"` // requests per window
	SendRateLimit   int           `json:"send_rate_limit"`   // send requests per window
	RateLimitWindow time.Duration `json:"rate_limit_window"`

	// API Security
	RequireAPIAuth bool     `json:"require_api_auth"`
	APIKeyHeader   string   `json:"api_key_header"`
	AllowedAPIKeys []string `json:"allowed_api_keys"`
}

type JWTConfig struct {
	SecretKey string        `json:"secret_key"`
	Issuer    string        `json:"issuer"`
	Audience  string        `json:"audience"`
	TokenTTL  time.Duration `json:"token_ttl"`
}

type WhatsAppConfig struct {
	SessionName     string        `json:"session_name"`
	AuthPath        string        `json:"auth_path"`     // credential cache directory
	StoreDialect    string        `json:"store_dialect"` // sqlite, postgres
	ClientProvider  string        `json:"client_provider"`
	ClientLogLevel  string        `json:"client_log_level"`
	AutoConnect     bool          `json:"auto_connect"`
	ReconnectDelay  time.Duration `json:"reconnect_delay"`
	BulkSendDelay   time.Duration `json:"bulk_send_delay"`
	SendTimeout     time.Duration `json:"send_timeout"`
	StoreTimeout    time.Duration `json:"store_timeout"`
	ContactsLimit   int           `json:"contacts_limit"`
	BulkMaxMessages int           `json:"bulk_max_messages"`

	// Mock client pacing, used only when ClientProvider is "mock"
	MockPairingDelay time.Duration `json:"mock_pairing_delay"`
}

type OutboxConfig struct {
	Enabled   bool          `json:"enabled"`
	Interval  time.Duration `json:"interval"`
	BatchSize int           `json:"batch_size"`
	LogPath   string        `json:"log_path"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Output     string `json:"output"` // stdout, file, both
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`

	EnableAccessLog bool `json:"enable_access_log"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled         bool          `json:"enabled"`
	Provider        string        `json:"provider"` // redis, memory
	RedisURL        string        `json:"redis_url"`
	RedisDB         int           `json:"redis_db"`
	RedisPrefix     string        `json:"redis_prefix"`
	DefaultTTL      time.Duration `json:"default_ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

type DeploymentConfig struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
	BuildTime   string `json:"build_time"`
}

// IsDevelopment reports whether the relay runs in a local or development environment
func (c DeploymentConfig) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "local"
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load environment variables from .env file
	if err := loadEnvFile(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", ""),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", ""),
			User:            getEnvString("DB_USER", ""),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
		},
		Server: ServerConfig{
			Host:              getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", getEnvInt("PORT", 3001)),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:   getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:         getEnvInt("SERVER_BODY_LIMIT", 4*1024*1024), // 4MB
			TrustedProxies:    getEnvStringSlice("SERVER_TRUSTED_PROXIES", []string{"127.0.0.1"}),
			ProxyHeader:       getEnvString("SERVER_PROXY_HEADER", "X-Real-IP"),
			EnableCompression: getEnvBool("SERVER_ENABLE_COMPRESSION", true),
		},
		Security: SecurityConfig{
			AllowedOrigins:   getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
			AllowedMethods:   getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders:   getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-Request-ID", "X-API-Key"}),
			AllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", false),
			CORSMaxAge:       getEnvInt("CORS_MAX_AGE", 86400),
			GlobalRateLimit:  getEnvInt("GLOBAL_RATE_LIMIT", 600),
			SendRateLimit:    getEnvInt("SEND_RATE_LIMIT", 60),
			RateLimitWindow:  getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
			RequireAPIAuth:   getEnvBool("REQUIRE_API_AUTH", false),
			APIKeyHeader:     getEnvString("API_KEY_HEADER", "X-API-Key"),
			AllowedAPIKeys:   getEnvStringSlice("ALLOWED_API_KEYS", []string{}),
		},
		JWT: JWTConfig{
			SecretKey: getEnvString("JWT_SECRET_KEY", ""),
			Issuer:    getEnvString("JWT_ISSUER", "wa-relay"),
			Audience:  getEnvString("JWT_AUDIENCE", "wa-relay-api"),
			TokenTTL:  getEnvDuration("JWT_TOKEN_TTL", 24*time.Hour),
		},
		WhatsApp: WhatsAppConfig{
			SessionName:      getEnvString("WHATSAPP_SESSION_NAME", "default"),
			AuthPath:         getEnvString("WHATSAPP_AUTH_PATH", "./data/whatsapp-auth"),
			StoreDialect:     getEnvString("WHATSAPP_STORE_DIALECT", "sqlite"),
			ClientProvider:   getEnvString("WHATSAPP_CLIENT_PROVIDER", "whatsmeow"),
			ClientLogLevel:   getEnvString("WHATSAPP_CLIENT_LOG_LEVEL", "INFO"),
			AutoConnect:      getEnvBool("WHATSAPP_AUTO_CONNECT", true),
			ReconnectDelay:   getEnvDuration("WHATSAPP_RECONNECT_DELAY", 5*time.Second),
			BulkSendDelay:    getEnvDuration("WHATSAPP_BULK_DELAY", 1*time.Second),
			SendTimeout:      getEnvDuration("WHATSAPP_SEND_TIMEOUT", 30*time.Second),
			StoreTimeout:     getEnvDuration("WHATSAPP_STORE_TIMEOUT", 5*time.Second),
			ContactsLimit:    getEnvInt("WHATSAPP_CONTACTS_LIMIT", 100),
			BulkMaxMessages:  getEnvInt("WHATSAPP_BULK_MAX_MESSAGES", 500),
			MockPairingDelay: getEnvDuration("WHATSAPP_MOCK_PAIRING_DELAY", 3*time.Second),
		},
		Outbox: OutboxConfig{
			Enabled:   getEnvBool("OUTBOX_ENABLED", false),
			Interval:  getEnvDuration("OUTBOX_INTERVAL", 30*time.Second),
			BatchSize: getEnvInt("OUTBOX_BATCH_SIZE", 50),
			LogPath:   getEnvString("OUTBOX_LOG_PATH", "./data/outbox.log"),
		},
		Logging: LoggingConfig{
			Level:           getEnvString("LOG_LEVEL", "info"),
			Output:          getEnvString("LOG_OUTPUT", "stdout"),
			FilePath:        getEnvString("LOG_FILE_PATH", "./data/relay.log"),
			MaxSize:         getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:      getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:          getEnvInt("LOG_MAX_AGE", 30),
			Compress:        getEnvBool("LOG_COMPRESS", true),
			EnableAccessLog: getEnvBool("LOG_ENABLE_ACCESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:         getEnvBool("CACHE_ENABLED", false),
			Provider:        getEnvString("CACHE_PROVIDER", "redis"),
			RedisURL:        getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:         getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix:     getEnvString("CACHE_REDIS_PREFIX", "wa-relay:"),
			DefaultTTL:      getEnvDuration("CACHE_DEFAULT_TTL", 24*time.Hour),
			CleanupInterval: getEnvDuration("CACHE_CLEANUP_INTERVAL", 30*time.Second),
		},
		Deployment: DeploymentConfig{
			Environment: getEnvString("APP_ENV", "production"),
			Version:     getEnvString("VERSION", "1.0.0"),
			CommitHash:  getEnvString("COMMIT_HASH", "unknown"),
			BuildTime:   getEnvString("BUILD_TIME", "unknown"),
		},
	}

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFile loads environment variables from path if it exists.
// Variables already present in the process environment win.
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// ValidateProductionConfig validates the relay configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	// Session store endpoint and credentials are mandatory
	if cfg.Database.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "DB_USER is required")
	}
	if cfg.Database.Password == "" {
		errors = append(errors, "DB_PASSWORD is required")
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout <= 0 {
		errors = append(errors, "SERVER_READ_TIMEOUT must be positive")
	}
	if cfg.Server.WriteTimeout <= 0 {
		errors = append(errors, "SERVER_WRITE_TIMEOUT must be positive")
	}

	// Validate API authentication
	if cfg.Security.RequireAPIAuth {
		if cfg.JWT.SecretKey == "" && len(cfg.Security.AllowedAPIKeys) == 0 {
			errors = append(errors, "JWT_SECRET_KEY or ALLOWED_API_KEYS is required when REQUIRE_API_AUTH is enabled")
		}
	}
	if cfg.JWT.SecretKey != "" && len(cfg.JWT.SecretKey) < 32 {
		errors = append(errors, "JWT_SECRET_KEY must be at least 32 characters long")
	}

	// Validate WhatsApp configuration
	if strings.TrimSpace(cfg.WhatsApp.SessionName) == "" {
		errors = append(errors, "WHATSAPP_SESSION_NAME is required")
	}
	if !slices.Contains([]string{"whatsmeow", "mock"}, cfg.WhatsApp.ClientProvider) {
		errors = append(errors, "WHATSAPP_CLIENT_PROVIDER must be one of: [whatsmeow mock]")
	}
	if !slices.Contains([]string{"sqlite", "postgres"}, cfg.WhatsApp.StoreDialect) {
		errors = append(errors, "WHATSAPP_STORE_DIALECT must be one of: [sqlite postgres]")
	}
	if cfg.WhatsApp.StoreDialect == "sqlite" && cfg.WhatsApp.AuthPath == "" {
		errors = append(errors, "WHATSAPP_AUTH_PATH is required for the sqlite credential store")
	}
	if cfg.WhatsApp.ReconnectDelay <= 0 {
		errors = append(errors, "WHATSAPP_RECONNECT_DELAY must be positive")
	}
	if cfg.WhatsApp.BulkSendDelay < 0 {
		errors = append(errors, "WHATSAPP_BULK_DELAY must not be negative")
	}
	if cfg.WhatsApp.SendTimeout <= 0 {
		errors = append(errors, "WHATSAPP_SEND_TIMEOUT must be positive")
	}
	if cfg.WhatsApp.StoreTimeout <= 0 {
		errors = append(errors, "WHATSAPP_STORE_TIMEOUT must be positive")
	}
	if cfg.WhatsApp.ContactsLimit <= 0 {
		errors = append(errors, "WHATSAPP_CONTACTS_LIMIT must be positive")
	}
	if cfg.WhatsApp.BulkMaxMessages <= 0 {
		errors = append(errors, "WHATSAPP_BULK_MAX_MESSAGES must be positive")
	}

	// Validate outbox configuration if enabled
	if cfg.Outbox.Enabled {
		if cfg.Outbox.Interval <= 0 {
			errors = append(errors, "OUTBOX_INTERVAL must be positive")
		}
		if cfg.Outbox.BatchSize <= 0 || cfg.Outbox.BatchSize > cfg.WhatsApp.BulkMaxMessages {
			errors = append(errors, "OUTBOX_BATCH_SIZE must be between 1 and WHATSAPP_BULK_MAX_MESSAGES")
		}
	}

	// Validate logging configuration
	validLevels := []string{"debug", "info", "warn", "error"}
	if cfg.Logging.Level != "" && !slices.Contains(validLevels, cfg.Logging.Level) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %v", validLevels))
	}
	validOutputs := []string{"stdout", "file", "both"}
	if !slices.Contains(validOutputs, cfg.Logging.Output) {
		errors = append(errors, fmt.Sprintf("LOG_OUTPUT must be one of: %v", validOutputs))
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.FilePath == "" {
		errors = append(errors, "LOG_FILE_PATH is required when logging to a file")
	}

	// Validate cache configuration if enabled
	if cfg.Cache.Enabled {
		if cfg.Cache.Provider == "redis" && cfg.Cache.RedisURL == "" {
			errors = append(errors, "CACHE_REDIS_URL is required when cache is enabled with redis provider")
		}
	}

	// Return validation errors if any
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}
