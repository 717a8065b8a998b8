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

// Collection backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Profile cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Collections  CollectionsConfig
	Evaluations  EvaluationsConfig
	Gamification GamificationConfig
	Session      SessionConfig
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

// JWTConfig holds the shared secret of the external session layer.
type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CollectionsConfig controls the generic collection API.
type CollectionsConfig struct {
	Backend         string
	DefaultPageSize int
	MaxPageSize     int
	Sources         []string
	NotifyChannel   string
	// RequiredFields maps a source to fields Insert must receive, memory backend only.
	RequiredFields map[string][]string
}

// EvaluationsConfig controls answer-sheet intake and dispatch.
type EvaluationsConfig struct {
	StorageDir        string
	MaxFileSizeBytes  int64
	AllowedMIMEs      []string
	DispatchURL       string
	DispatchTimeout   time.Duration
	WorkerConcurrency int
	WorkerRetries     int
	PollInterval      time.Duration
	PollTimeout       time.Duration
	// FileURLTTL bounds the signed download links handed to the grader.
	FileURLTTL time.Duration
}

// GamificationConfig sets the points awarded after an evaluation.
type GamificationConfig struct {
	CompletionPoints  int
	PerfectScoreBonus int
}

// SessionConfig controls the per-user profile cache.
type SessionConfig struct {
	ProfileCacheBackend string
	ProfileCacheTTL     time.Duration
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
		Secret:     v.GetString("JWT_SECRET"),
		Issuer:     v.GetString("JWT_ISSUER"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Collections = CollectionsConfig{
		Backend:         strings.ToLower(v.GetString("COLLECTION_BACKEND")),
		DefaultPageSize: v.GetInt("COLLECTION_DEFAULT_PAGE_SIZE"),
		MaxPageSize:     v.GetInt("COLLECTION_MAX_PAGE_SIZE"),
		Sources:         splitAndTrim(v.GetString("COLLECTION_SOURCES")),
		NotifyChannel:   v.GetString("COLLECTION_NOTIFY_CHANNEL"),
		RequiredFields:  parseFieldRules(v.GetString("COLLECTION_REQUIRED_FIELDS")),
	}

	maxFileSize := v.GetInt64("EVALUATION_MAX_FILE_SIZE")
	if maxFileSize <= 0 {
		maxFileSize = 10 * 1024 * 1024
	}
	cfg.Evaluations = EvaluationsConfig{
		StorageDir:        v.GetString("EVALUATION_STORAGE_DIR"),
		MaxFileSizeBytes:  maxFileSize,
		AllowedMIMEs:      splitAndTrim(v.GetString("EVALUATION_ALLOWED_MIME_TYPES")),
		DispatchURL:       v.GetString("EVALUATION_DISPATCH_URL"),
		DispatchTimeout:   parseDuration(v.GetString("EVALUATION_DISPATCH_TIMEOUT"), 15*time.Second),
		WorkerConcurrency: v.GetInt("EVALUATION_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("EVALUATION_WORKER_RETRIES"),
		PollInterval:      parseDuration(v.GetString("EVALUATION_POLL_INTERVAL"), 2*time.Second),
		PollTimeout:       parseDuration(v.GetString("EVALUATION_POLL_TIMEOUT"), 10*time.Minute),
		FileURLTTL:        parseDuration(v.GetString("EVALUATION_FILE_URL_TTL"), time.Hour),
	}

	cfg.Gamification = GamificationConfig{
		CompletionPoints:  v.GetInt("GAMIFICATION_COMPLETION_POINTS"),
		PerfectScoreBonus: v.GetInt("GAMIFICATION_PERFECT_SCORE_BONUS"),
	}

	cfg.Session = SessionConfig{
		ProfileCacheBackend: strings.ToLower(v.GetString("PROFILE_CACHE_BACKEND")),
		ProfileCacheTTL:     parseDuration(v.GetString("PROFILE_CACHE_TTL"), 5*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "prepmint")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "prepmint")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("COLLECTION_BACKEND", BackendPostgres)
	v.SetDefault("COLLECTION_DEFAULT_PAGE_SIZE", 20)
	v.SetDefault("COLLECTION_MAX_PAGE_SIZE", 100)
	v.SetDefault("COLLECTION_SOURCES", "users,institutions,tests,evaluations")
	v.SetDefault("COLLECTION_NOTIFY_CHANNEL", "collection_changes")
	v.SetDefault("COLLECTION_REQUIRED_FIELDS", "users:name|email|role;institutions:name;tests:title")

	v.SetDefault("EVALUATION_STORAGE_DIR", "./uploads")
	v.SetDefault("EVALUATION_MAX_FILE_SIZE", 10*1024*1024)
	v.SetDefault("EVALUATION_ALLOWED_MIME_TYPES", "application/pdf,image/jpeg,image/png")
	v.SetDefault("EVALUATION_DISPATCH_URL", "")
	v.SetDefault("EVALUATION_DISPATCH_TIMEOUT", "15s")
	v.SetDefault("EVALUATION_WORKER_CONCURRENCY", 2)
	v.SetDefault("EVALUATION_WORKER_RETRIES", 3)
	v.SetDefault("EVALUATION_POLL_INTERVAL", "2s")
	v.SetDefault("EVALUATION_POLL_TIMEOUT", "10m")
	v.SetDefault("EVALUATION_FILE_URL_TTL", "1h")

	v.SetDefault("GAMIFICATION_COMPLETION_POINTS", 50)
	v.SetDefault("GAMIFICATION_PERFECT_SCORE_BONUS", 25)

	v.SetDefault("PROFILE_CACHE_BACKEND", CacheMemory)
	v.SetDefault("PROFILE_CACHE_TTL", "5m")
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

// parseFieldRules reads "source:a|b;other:c" into a map.
func parseFieldRules(raw string) map[string][]string {
	rules := make(map[string][]string)
	for _, entry := range strings.Split(raw, ";") {
		source, fields, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || strings.TrimSpace(source) == "" {
			continue
		}
		for _, field := range strings.Split(fields, "|") {
			if field = strings.TrimSpace(field); field != "" {
				rules[strings.TrimSpace(source)] = append(rules[strings.TrimSpace(source)], field)
			}
		}
	}
	return rules
}
