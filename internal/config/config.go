package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Refresh token storage backends.
const (
	TokenStoreMySQL = "mysql"
	TokenStoreRedis = "redis"
)

// Config holds application level configuration loaded from environment variables.
type Config struct {
	AppEnv     string
	ServerPort string
	MySQLDSN   string
	RedisAddr  string
	RedisDB    int
	RedisPass  string

	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	BcryptCost         int
	RefreshTokenStore  string
	CookieSecure       bool
	UserCacheTTL       time.Duration
	TokenPurgeInterval time.Duration

	LogLevel  string
	LogFormat string
}

// Load builds Config from environment with sensible defaults.
// A .env file in the working directory is honoured when present.
func Load() *Config {
	_ = godotenv.Load()

	accessSecret := getEnv("ACCESS_TOKEN_SECRET", getEnv("JWT_SECRET", "change-me"))
	appEnv := getEnv("APP_ENV", "development")

	return &Config{
		AppEnv:     appEnv,
		ServerPort: getEnv("SERVER_PORT", "8080"),
		MySQLDSN:   getEnv("MYSQL_DSN", "user:password@tcp(localhost:3306)/portfolio?charset=utf8mb4&parseTime=True&loc=Local"),
		RedisAddr:  getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:    getEnvInt("REDIS_DB", 0),
		RedisPass:  os.Getenv("REDIS_PASSWORD"),

		AccessTokenSecret:  accessSecret,
		RefreshTokenSecret: getEnv("REFRESH_TOKEN_SECRET", accessSecret),
		AccessTokenTTL:     getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:    time.Duration(getEnvInt("REFRESH_TOKEN_EXPIRES_HOURS", 168)) * time.Hour,
		BcryptCost:         getEnvInt("BCRYPT_COST", 10),
		RefreshTokenStore:  strings.ToLower(getEnv("REFRESH_TOKEN_STORE", TokenStoreMySQL)),
		CookieSecure:       getEnvBool("COOKIE_SECURE", appEnv == "production"),
		UserCacheTTL:       getEnvDuration("USER_CACHE_TTL", 5*time.Minute),
		TokenPurgeInterval: getEnvDuration("TOKEN_PURGE_INTERVAL", time.Hour),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

// getEnvDuration accepts Go duration strings ("15m") or plain seconds ("900").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
