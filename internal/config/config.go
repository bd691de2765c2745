package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"spesesync/internal/core"
)

type Config struct {
	// HTTP Server
	Port string `toml:"port"`

	// Database
	SQLiteDBPath string `toml:"sqlite_db_path"`

	// AMQP
	AMQPURL      string `toml:"amqp_url"`
	AMQPExchange string `toml:"amqp_exchange"`
	AMQPQueue    string `toml:"amqp_queue"`

	// Export
	ExportBackend            string `toml:"export_backend"`
	GoogleSpreadsheetID      string `toml:"google_spreadsheet_id"`
	GoogleSheetName          string `toml:"google_sheet_name"`
	GoogleServiceAccountJSON string `toml:"google_service_account_json"`
	GoogleServiceAccountFile string `toml:"google_service_account_file"`

	// Client
	Authority    string        `toml:"authority"`
	AuthorityURL string        `toml:"authority_url"`
	Principal    string        `toml:"principal"`
	Currency     string        `toml:"currency"`
	WindowDays   int           `toml:"window_days"`
	InitTimeout  time.Duration `toml:"init_timeout"`

	// Sessions
	SessionRateLimit float64 `toml:"session_rate_limit"`
	SessionBurst     int     `toml:"session_burst"`
	// TrustedProxies are CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `toml:"trusted_proxies"`

	LogLevel string `toml:"log_level"`
}

var (
	validAuthorities    = []string{"memory", "remote"}
	validExportBackends = []string{"memory", "sheets"}
)

func defaults() Config {
	return Config{
		Port:         "8081",
		SQLiteDBPath: "./data/spese.db",

		AMQPURL:      "",
		AMQPExchange: "spese",
		AMQPQueue:    "ledger_events",

		ExportBackend:   "memory",
		GoogleSheetName: "Ledger",

		Authority:    "memory",
		AuthorityURL: "ws://localhost:8081/ws",
		Principal:    "local",
		Currency:     core.DefaultCurrency,
		WindowDays:   30,
		InitTimeout:  5 * time.Second,

		SessionRateLimit: 20,
		SessionBurst:     40,

		LogLevel: "info",
	}
}

// Load builds the configuration from defaults and environment variables.
func Load() *Config {
	cfg := defaults()
	cfg.applyEnv()
	return &cfg
}

// LoadWithFile layers an optional TOML file between the defaults and the
// environment. An empty path behaves like Load.
func LoadWithFile(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.SQLiteDBPath = getEnv("SQLITE_DB_PATH", c.SQLiteDBPath)

	c.AMQPURL = getEnv("AMQP_URL", c.AMQPURL)
	c.AMQPExchange = getEnv("AMQP_EXCHANGE", c.AMQPExchange)
	c.AMQPQueue = getEnv("AMQP_QUEUE", c.AMQPQueue)

	c.ExportBackend = getEnv("EXPORT_BACKEND", c.ExportBackend)
	c.GoogleSpreadsheetID = getEnv("GOOGLE_SPREADSHEET_ID", c.GoogleSpreadsheetID)
	c.GoogleSheetName = getEnv("GOOGLE_SHEET_NAME", c.GoogleSheetName)
	c.GoogleServiceAccountJSON = getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", c.GoogleServiceAccountJSON)
	c.GoogleServiceAccountFile = getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", getEnv("GOOGLE_APPLICATION_CREDENTIALS", c.GoogleServiceAccountFile))

	c.Authority = getEnv("AUTHORITY", c.Authority)
	c.AuthorityURL = getEnv("AUTHORITY_URL", c.AuthorityURL)
	c.Principal = getEnv("PRINCIPAL", c.Principal)
	c.Currency = strings.ToUpper(getEnv("CURRENCY", c.Currency))
	c.WindowDays = getEnvInt("WINDOW_DAYS", c.WindowDays)
	c.InitTimeout = getEnvDuration("INIT_TIMEOUT", c.InitTimeout)

	c.SessionRateLimit = getEnvFloat("SESSION_RATE_LIMIT", c.SessionRateLimit)
	c.SessionBurst = getEnvInt("SESSION_BURST", c.SessionBurst)
	c.TrustedProxies = getEnvList("TRUSTED_PROXIES", c.TrustedProxies)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Window returns the trailing window length.
func (c *Config) Window() time.Duration {
	return time.Duration(c.WindowDays) * 24 * time.Hour
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if !slices.Contains(validExportBackends, c.ExportBackend) {
		errors = append(errors, fmt.Sprintf("invalid export backend '%s': must be one of %v", c.ExportBackend, validExportBackends))
	}
	if c.ExportBackend == "sheets" {
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets export")
		}
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when using sheets export")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for sheets export")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if !slices.Contains(validAuthorities, c.Authority) {
		errors = append(errors, fmt.Sprintf("invalid authority '%s': must be one of %v", c.Authority, validAuthorities))
	}
	if c.Authority == "remote" {
		if parsedURL, err := url.Parse(c.AuthorityURL); err != nil || c.AuthorityURL == "" {
			errors = append(errors, fmt.Sprintf("invalid authority URL '%s'", c.AuthorityURL))
		} else if parsedURL.Scheme != "ws" && parsedURL.Scheme != "wss" {
			errors = append(errors, fmt.Sprintf("invalid authority URL scheme '%s': must be 'ws' or 'wss'", parsedURL.Scheme))
		}
	}
	if strings.TrimSpace(c.Principal) == "" {
		errors = append(errors, "principal cannot be empty")
	}
	if !core.KnownCurrency(c.Currency) {
		errors = append(errors, fmt.Sprintf("unknown currency '%s'", c.Currency))
	}
	if c.WindowDays < 1 || c.WindowDays > 366 {
		errors = append(errors, fmt.Sprintf("invalid window days %d: must be between 1 and 366", c.WindowDays))
	}
	if c.InitTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid init timeout %v: must be positive", c.InitTimeout))
	}

	if c.SessionRateLimit <= 0 {
		errors = append(errors, fmt.Sprintf("invalid session rate limit %v: must be positive", c.SessionRateLimit))
	}
	if c.SessionBurst < 1 {
		errors = append(errors, fmt.Sprintf("invalid session burst %d: must be at least 1", c.SessionBurst))
	}
	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': must be a CIDR", cidr))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blank items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
