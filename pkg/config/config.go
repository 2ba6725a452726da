package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Backend names accepted by STORE_BACKEND and IDENTITY_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendREST     = "rest"
	BackendMemory   = "memory"
	BackendLocal    = "local"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Store      StoreConfig
	Identity   IdentityConfig
	Enrollment EnrollmentConfig
	Graduation GraduationConfig
	Metrics    MetricsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Issuer            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StoreConfig selects the record store adapter.
type StoreConfig struct {
	Backend string
	RESTURL string
	APIKey  string
	Timeout time.Duration
}

// IdentityConfig selects the identity provider adapter and its cache.
type IdentityConfig struct {
	Backend      string
	RESTURL      string
	APIKey       string
	Timeout      time.Duration
	CacheEnabled bool
	CacheTTL     time.Duration
}

// EnrollmentConfig tunes master-initiated enrollment.
type EnrollmentConfig struct {
	DefaultPassword string
}

// GraduationConfig tunes batch finalization.
type GraduationConfig struct {
	FinalizeWorkers int
}

type MetricsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Issuer:            v.GetString("JWT_ISSUER"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Store = StoreConfig{
		Backend: strings.ToLower(v.GetString("STORE_BACKEND")),
		RESTURL: v.GetString("STORE_REST_URL"),
		APIKey:  v.GetString("STORE_API_KEY"),
		Timeout: parseDuration(v.GetString("STORE_TIMEOUT"), 0),
	}

	cfg.Identity = IdentityConfig{
		Backend:      strings.ToLower(v.GetString("IDENTITY_BACKEND")),
		RESTURL:      v.GetString("IDENTITY_REST_URL"),
		APIKey:       v.GetString("IDENTITY_API_KEY"),
		Timeout:      parseDuration(v.GetString("IDENTITY_TIMEOUT"), 0),
		CacheEnabled: v.GetBool("ENABLE_IDENTITY_CACHE"),
		CacheTTL:     parseDuration(v.GetString("IDENTITY_CACHE_TTL"), 2*time.Minute),
	}

	cfg.Enrollment = EnrollmentConfig{
		DefaultPassword: v.GetString("ENROLLMENT_DEFAULT_PASSWORD"),
	}

	workers := v.GetInt("GRADUATION_FINALIZE_WORKERS")
	if workers <= 0 {
		workers = 8
	}
	cfg.Graduation = GraduationConfig{FinalizeWorkers: workers}

	cfg.Metrics = MetricsConfig{Enabled: v.GetBool("ENABLE_METRICS")}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "dojo")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "dojo-api")
	v.SetDefault("JWT_EXPIRATION", "1h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORE_BACKEND", BackendPostgres)
	v.SetDefault("STORE_REST_URL", "")
	v.SetDefault("STORE_API_KEY", "")
	v.SetDefault("STORE_TIMEOUT", "")

	v.SetDefault("IDENTITY_BACKEND", BackendLocal)
	v.SetDefault("IDENTITY_REST_URL", "")
	v.SetDefault("IDENTITY_API_KEY", "")
	v.SetDefault("IDENTITY_TIMEOUT", "")
	v.SetDefault("ENABLE_IDENTITY_CACHE", false)
	v.SetDefault("IDENTITY_CACHE_TTL", "2m")

	v.SetDefault("ENROLLMENT_DEFAULT_PASSWORD", "123456")
	v.SetDefault("GRADUATION_FINALIZE_WORKERS", 8)
	v.SetDefault("ENABLE_METRICS", true)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
