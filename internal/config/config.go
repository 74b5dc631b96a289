package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application
type Config struct {
	AppMode   string
	Port      string
	Database  DatabaseConfig
	JWT       JWTConfig
	Lending   LendingConfig
	Messaging MessagingConfig
	Telegram  TelegramConfig
	Tracing   TracingConfig
	Kiosk     KioskBootstrapConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver     string // mysql | postgres | sqlite
	Host       string
	Port       string
	User       string
	Password   string
	DBName     string
	SSLMode    string
	SQLitePath string
}

// JWTConfig holds staff token configuration
type JWTConfig struct {
	Secret          string
	AccessTokenMins int
}

// LendingConfig holds the lending engine knobs (LENDING_ prefix)
type LendingConfig struct {
	Timezone           string        `envconfig:"TIMEZONE" default:"Asia/Bangkok"`
	EarlyPickupMinutes int           `envconfig:"EARLY_PICKUP_MINUTES" default:"15"`
	AllowAdhoc         bool          `envconfig:"ALLOW_ADHOC" default:"false"`
	AdhocMinutes       int           `envconfig:"ADHOC_MINUTES" default:"60"`
	TxRetries          int           `envconfig:"TX_RETRIES" default:"3"`
	TxTimeout          time.Duration `envconfig:"TX_TIMEOUT" default:"5s"`
	MaterializeCron    string        `envconfig:"MATERIALIZE_CRON" default:"5 0 * * *"`
	OverdueCron        string        `envconfig:"OVERDUE_CRON" default:"*/5 * * * *"`
	RestoreCron        string        `envconfig:"RESTORE_CRON" default:"30 0 * * *"`
	Language           string        `envconfig:"LANGUAGE" default:"th"`

	location *time.Location
}

// Location returns the parsed timezone
func (l LendingConfig) Location() *time.Location {
	if l.location == nil {
		return time.Local
	}
	return l.location
}

// MessagingConfig holds the event broker configuration
type MessagingConfig struct {
	AMQPURL  string
	Exchange string
}

// TelegramConfig holds staff notification configuration
type TelegramConfig struct {
	BotToken    string
	StaffChatID int64
}

// TracingConfig holds OpenTelemetry exporter configuration
type TracingConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

// KioskBootstrapConfig registers a first kiosk on an empty database
type KioskBootstrapConfig struct {
	Code   string
	Secret string
}

// Global config instance
var AppConfig *Config

// Load reads configuration from .env file and environment variables
func Load() (*Config, error) {
	// Load .env file (ignore error if file doesn't exist in production)
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ .env file not found, using environment variables")
	}

	// Get APP_MODE (default to "dev") - trim spaces for Windows compatibility
	appMode := strings.TrimSpace(getEnv("APP_MODE", "dev"))
	if appMode != "dev" && appMode != "prod" {
		return nil, fmt.Errorf("invalid APP_MODE: '%s' (must be 'dev' or 'prod')", appMode)
	}

	lending, err := LoadLendingConfig()
	if err != nil {
		return nil, err
	}

	chatID, _ := strconv.ParseInt(getEnv("TELEGRAM_STAFF_CHAT_ID", "0"), 10, 64)

	config := &Config{
		AppMode:  appMode,
		Port:     getEnv("PORT", "3000"),
		Database: loadDatabaseConfig(appMode),
		JWT:      loadJWTConfig(appMode),
		Lending:  lending,
		Messaging: MessagingConfig{
			AMQPURL:  getEnv("AMQP_URL", ""),
			Exchange: getEnv("AMQP_EXCHANGE", "keycabinet.events"),
		},
		Telegram: TelegramConfig{
			BotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
			StaffChatID: chatID,
		},
		Tracing: TracingConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "keycabinet"),
		},
		Kiosk: KioskBootstrapConfig{
			Code:   getEnv("KIOSK_BOOTSTRAP_CODE", ""),
			Secret: getEnv("KIOSK_BOOTSTRAP_SECRET", ""),
		},
	}

	// Set global config
	AppConfig = config

	log.Printf("✅ Configuration loaded successfully [MODE: %s, DB: %s, TZ: %s]", appMode, config.Database.Driver, lending.Timezone)
	return config, nil
}

// LoadLendingConfig processes LENDING_* variables
func LoadLendingConfig() (LendingConfig, error) {
	var lc LendingConfig
	if err := envconfig.Process("LENDING", &lc); err != nil {
		return lc, fmt.Errorf("invalid lending config: %w", err)
	}

	loc, err := time.LoadLocation(lc.Timezone)
	if err != nil {
		return lc, fmt.Errorf("invalid LENDING_TIMEZONE '%s': %w", lc.Timezone, err)
	}
	lc.location = loc

	if lc.TxRetries < 0 {
		lc.TxRetries = 0
	}
	if lc.AdhocMinutes <= 0 {
		lc.AdhocMinutes = 60
	}
	return lc, nil
}

// loadDatabaseConfig loads database config based on mode
func loadDatabaseConfig(mode string) DatabaseConfig {
	prefix := "DEV_"
	if mode == "prod" {
		prefix = "PROD_"
	}

	driver := strings.ToLower(getEnv("DB_DRIVER", "mysql"))
	defaultPort := "3306"
	if driver == "postgres" {
		defaultPort = "5432"
	}

	return DatabaseConfig{
		Driver:     driver,
		Host:       getEnv(prefix+"DB_HOST", "localhost"),
		Port:       getEnv(prefix+"DB_PORT", defaultPort),
		User:       getEnv(prefix+"DB_USER", "root"),
		Password:   getEnv(prefix+"DB_PASS", ""),
		DBName:     getEnv(prefix+"DB_NAME", "keycabinet"),
		SSLMode:    getEnv(prefix+"DB_SSLMODE", "disable"),
		SQLitePath: getEnv("SQLITE_PATH", "keycabinet.db"),
	}
}

// loadJWTConfig loads JWT config based on mode
func loadJWTConfig(mode string) JWTConfig {
	prefix := "DEV_"
	if mode == "prod" {
		prefix = "PROD_"
	}

	accessMins, _ := strconv.Atoi(getEnv("ACCESS_TOKEN_MINUTES", "480"))

	return JWTConfig{
		Secret:          getEnv(prefix+"JWT_SECRET", "default_secret"),
		AccessTokenMins: accessMins,
	}
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsDev returns true if running in development mode
func (c *Config) IsDev() bool {
	return c.AppMode == "dev"
}

// IsProd returns true if running in production mode
func (c *Config) IsProd() bool {
	return c.AppMode == "prod"
}

// GetAllowedOrigins returns allowed origins for CORS
func (c *Config) GetAllowedOrigins() string {
	origins := getEnv("ALLOWED_ORIGINS", "")
	if origins == "" {
		if c.IsDev() {
			return "*"
		}
		// kiosks are served from the same origin in production
		return "http://localhost"
	}
	return origins
}
