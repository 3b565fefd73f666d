package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultSessionSecret = "panel-dev-secret-change-me"

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Bot      BotConfig
	Session  SessionConfig
	Storage  StorageConfig
	Runner   RunnerConfig
	Tunnel   TunnelConfig
	App      AppConfig
}

type ServerConfig struct {
	Port            string
	AllowedOrigins  []string
	LoginRatePerMin int
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	DSN         string
	Host        string
	Port        int
	User        string
	Password    string
	Name        string
	MaxConns    int
	MinConns    int
	AutoMigrate bool
}

// RedisConfig is optional; an empty Addr keeps the session gate in memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	OTPTTL   time.Duration
}

type BotConfig struct {
	Token   string
	AdminID int64
}

type SessionConfig struct {
	Secret   string
	Lifetime time.Duration
	// Secure marks the cookie HTTPS-only.
	Secure bool
}

type StorageConfig struct {
	DataDir string
}

func (s StorageConfig) BotsDir() string { return filepath.Join(s.DataDir, "bots") }
func (s StorageConfig) LogsDir() string { return filepath.Join(s.DataDir, "logs") }

type RunnerConfig struct {
	Interpreter string
	StopTimeout time.Duration
	ReapEvery   string
}

type TunnelConfig struct {
	Enabled   bool
	Binary    string
	PublicURL string
}

type AppConfig struct {
	Environment string
	Version     string
}

// Load reads the environment and validates everything the server needs.
func Load() (*Config, error) {
	cfg := Read()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Session.Secret == defaultSessionSecret {
		log.Println("[warn] SESSION_SECRET not set, using the development default")
	}

	return cfg, nil
}

// Read builds a Config from .env and the environment without validating it.
func Read() *Config {
	// Load .env file if it exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			AllowedOrigins:  getEnvAsList("ALLOWED_ORIGINS"),
			LoginRatePerMin: getEnvAsInt("LOGIN_RATE_PER_MIN", 10),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			DSN:         getEnv("DB_DSN", ""),
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvAsInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", ""),
			Name:        getEnv("DB_NAME", "botpanel"),
			MaxConns:    getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:    getEnvAsInt("DB_MIN_CONNS", 2),
			AutoMigrate: getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			OTPTTL:   getEnvAsDuration("OTP_TTL", 0),
		},
		Bot: BotConfig{
			Token:   getEnv("BOT_TOKEN", ""),
			AdminID: getEnvAsInt64("ADMIN_ID", 0),
		},
		Session: SessionConfig{
			Secret:   getEnv("SESSION_SECRET", defaultSessionSecret),
			Lifetime: time.Duration(getEnvAsInt("SESSION_DAYS", 7)) * 24 * time.Hour,
			Secure:   getEnvAsBool("SESSION_SECURE", false),
		},
		Storage: StorageConfig{
			DataDir: getEnv("DATA_DIR", "data"),
		},
		Runner: RunnerConfig{
			Interpreter: getEnv("INTERPRETER", "python3"),
			StopTimeout: getEnvAsDuration("STOP_TIMEOUT", 5*time.Second),
			ReapEvery:   getEnv("REAP_SCHEDULE", "@every 30s"),
		},
		Tunnel: TunnelConfig{
			Enabled:   getEnvAsBool("TUNNEL_ENABLED", true),
			Binary:    getEnv("CLOUDFLARED_BIN", "cloudflared"),
			PublicURL: getEnv("PUBLIC_URL", ""),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
		},
	}
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.Bot.Token == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}

	if c.Bot.AdminID == 0 {
		return fmt.Errorf("ADMIN_ID is required")
	}

	if c.Database.DSN == "" && c.Database.Host == "" {
		return fmt.Errorf("DB_DSN or DB_HOST is required")
	}

	if c.Session.Secret == defaultSessionSecret && c.App.Environment == "production" {
		return fmt.Errorf("SESSION_SECRET is required in production")
	}

	if c.Runner.StopTimeout <= 0 {
		return fmt.Errorf("STOP_TIMEOUT must be positive")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.Printf("Warning: Invalid integer for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid boolean for %s, using default: %t", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid duration for %s, using default: %s", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
