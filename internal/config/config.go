package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	Port                string
	Timezone            string
	LogLevel            string

	FolderCacheEnabled  bool
	FolderCacheTimeout  time.Duration
	UserCacheTTL        time.Duration
	IgnoreSubscriptions bool
	UnsubscribeOrphans  bool
	SpecialUseEnabled   bool
	IMAPMaxWorkers      int
	InvalidationPeers   []string
	// InvalidationToken is presented to peers when subscribing to their event stream.
	InvalidationToken   string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("VMAIL_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			logrus.Warn(".env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:         env,
		EncryptionKeyBase64: os.Getenv("VMAIL_ENCRYPTION_KEY_BASE64"),
		DBHost:              getEnvOrDefault("VMAIL_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("VMAIL_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("VMAIL_DB_USER", "vmail"),
		DBPassword:          os.Getenv("VMAIL_DB_PASSWORD"),
		DBName:              getEnvOrDefault("VMAIL_DB_NAME", "vmail"),
		DBSSLMode:           getEnvOrDefault("VMAIL_DB_SSLMODE", "disable"),
		Port:                getEnvOrDefault("PORT", "11764"),
		Timezone:            getEnvOrDefault("TZ", "UTC"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		InvalidationPeers:   splitList(os.Getenv("VMAIL_INVALIDATION_PEERS")),
		InvalidationToken:   os.Getenv("VMAIL_INVALIDATION_TOKEN"),
	}

	var err error
	if config.FolderCacheEnabled, err = getBoolOrDefault("VMAIL_FOLDER_CACHE_ENABLED", true); err != nil {
		return nil, err
	}
	if config.FolderCacheTimeout, err = getDurationOrDefault("VMAIL_FOLDER_CACHE_TIMEOUT", 6*time.Minute); err != nil {
		return nil, err
	}
	if config.UserCacheTTL, err = getDurationOrDefault("VMAIL_USER_CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}
	if config.IgnoreSubscriptions, err = getBoolOrDefault("VMAIL_IGNORE_SUBSCRIPTIONS", false); err != nil {
		return nil, err
	}
	if config.UnsubscribeOrphans, err = getBoolOrDefault("VMAIL_UNSUBSCRIBE_ORPHANS", false); err != nil {
		return nil, err
	}
	if config.SpecialUseEnabled, err = getBoolOrDefault("VMAIL_SPECIAL_USE_ENABLED", true); err != nil {
		return nil, err
	}
	if config.IMAPMaxWorkers, err = getIntOrDefault("VMAIL_IMAP_MAX_WORKERS", 3); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("VMAIL_ENCRYPTION_KEY_BASE64 is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("VMAIL_DB_PASSWORD is required")
	}

	if c.FolderCacheTimeout <= 0 {
		return fmt.Errorf("VMAIL_FOLDER_CACHE_TIMEOUT must be positive")
	}

	if c.UserCacheTTL <= 0 {
		return fmt.Errorf("VMAIL_USER_CACHE_TTL must be positive")
	}

	if c.IMAPMaxWorkers < 1 {
		return fmt.Errorf("VMAIL_IMAP_MAX_WORKERS must be at least 1")
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	for _, peer := range c.InvalidationPeers {
		u, err := url.Parse(peer)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("invalid VMAIL_INVALIDATION_PEERS entry %q: expected a ws:// or wss:// URL", peer)
		}
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUsername, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// ApplyLogLevel sets the global logrus level. Validate has already checked the value.
func (c *Config) ApplyLogLevel() {
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
