package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type GoogleAPIConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
}

type MicrosoftAPIConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Tenant       string `mapstructure:"tenant"`
}

type CalendarConfig struct {
	// TokenEncryptionKey is the base64-encoded 32-byte key used to encrypt
	// stored OAuth tokens.
	TokenEncryptionKey string        `mapstructure:"token_encryption_key"`
	WarmCacheInterval  time.Duration `mapstructure:"warm_cache_interval"`
	WorkerConcurrency  int           `mapstructure:"worker_concurrency"`
}

type AuthConfig struct {
	// ServiceTokenSecret signs the HS256 tokens used by internal callers.
	ServiceTokenSecret string `mapstructure:"service_token_secret"`
}

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	GoogleAPI    GoogleAPIConfig    `mapstructure:"google_api"`
	MicrosoftAPI MicrosoftAPIConfig `mapstructure:"microsoft_api"`
	Calendar     CalendarConfig     `mapstructure:"calendar"`
	Auth         AuthConfig         `mapstructure:"auth"`
}

var (
	instance *Config
	mu       sync.RWMutex
)

// Load reads configuration from the environment (and a local .env file when
// present) and caches it for GetSafe.
func Load() (*Config, error) {
	// .env is optional; environment variables win either way.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 7070)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "tutorspace")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("microsoft_api.tenant", "common")
	v.SetDefault("calendar.warm_cache_interval", 10*time.Minute)
	v.SetDefault("calendar.worker_concurrency", 10)

	// Explicit bindings so AutomaticEnv sees nested keys.
	for _, key := range []string{
		"server.port", "server.log_level", "server.log_format",
		"database.host", "database.port", "database.user",
		"database.password", "database.dbname", "database.sslmode",
		"redis.addr", "redis.password", "redis.db",
		"google_api.client_id", "google_api.client_secret", "google_api.redirect_uri",
		"microsoft_api.client_id", "microsoft_api.client_secret", "microsoft_api.tenant",
		"calendar.token_encryption_key", "calendar.warm_cache_interval", "calendar.worker_concurrency",
		"auth.service_token_secret",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	mu.Lock()
	instance = &cfg
	mu.Unlock()
	return &cfg, nil
}

// GetSafe returns the loaded configuration. The bool reports whether Load
// has run.
func GetSafe() (*Config, bool) {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		return nil, false
	}
	return instance, true
}

// Set replaces the cached configuration. Test hook.
func Set(cfg *Config) {
	mu.Lock()
	instance = cfg
	mu.Unlock()
}
