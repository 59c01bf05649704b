package config

import (
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Log      Log      `yaml:"log"`
	Server   Server   `yaml:"server"`
	API      API      `yaml:"api"`
	Realtime Realtime `yaml:"realtime"`
	Sync     Sync     `yaml:"sync"`
	Session  Session  `yaml:"session"`
	Redis    Redis    `yaml:"redis"`
}

// Log holds logging configuration
type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// SlogLevel maps the configured level name, defaulting to info
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Server holds the local view API configuration
type Server struct {
	Host         string        `yaml:"host" env:"SERVER_HOST" env-default:"127.0.0.1"`
	Port         string        `yaml:"port" env:"SERVER_PORT" env-default:"3000"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"30s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
}

// Address returns the full server address
func (s Server) Address() string {
	return s.Host + ":" + s.Port
}

// API holds the inbox REST API configuration
type API struct {
	BaseURL string        `yaml:"base_url" env:"INBOX_API_URL" env-default:"http://localhost:8080/api/v1"`
	Timeout time.Duration `yaml:"timeout" env:"INBOX_API_TIMEOUT" env-default:"10s"`
}

// Realtime holds the push channel configuration
type Realtime struct {
	// URL defaults to the API base URL with a ws scheme and /ws path
	URL          string        `yaml:"url" env:"INBOX_WS_URL"`
	BaseDelay    time.Duration `yaml:"base_delay" env:"REALTIME_BASE_DELAY" env-default:"1s"`
	MaxAttempts  int           `yaml:"max_attempts" env:"REALTIME_MAX_ATTEMPTS" env-default:"5"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"REALTIME_DIAL_TIMEOUT" env-default:"10s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"REALTIME_WRITE_TIMEOUT" env-default:"5s"`
}

// Sync holds polling and cache configuration
type Sync struct {
	ActiveInterval time.Duration `yaml:"active_interval" env:"SYNC_ACTIVE_INTERVAL" env-default:"500ms"`
	IdleInterval   time.Duration `yaml:"idle_interval" env:"SYNC_IDLE_INTERVAL" env-default:"1s"`
	TickTimeout    time.Duration `yaml:"tick_timeout" env:"SYNC_TICK_TIMEOUT" env-default:"10s"`
	CacheExpiry    time.Duration `yaml:"cache_expiry" env:"SYNC_CACHE_EXPIRY" env-default:"5m"`
}

// Session backends
const (
	SessionBackendFile  = "file"
	SessionBackendRedis = "redis"
)

// Session holds credential storage configuration
type Session struct {
	Backend string `yaml:"backend" env:"SESSION_BACKEND" env-default:"file"`
	Path    string `yaml:"path" env:"SESSION_PATH" env-default:".neo-inbox/session.json"`
}

// Redis holds Redis configuration for the redis session backend
type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Prefix   string        `yaml:"prefix" env:"REDIS_PREFIX" env-default:"neo-inbox:"`
	TTL      time.Duration `yaml:"ttl" env:"REDIS_SESSION_TTL" env-default:"0s"`
}

// MustLoad loads configuration from environment and panics on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	return cfg
}

// LoadFromFile loads configuration from a YAML file, with environment
// variables taking precedence
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
