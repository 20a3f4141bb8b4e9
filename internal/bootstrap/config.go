package bootstrap

import (
	"os"
	"strconv"
)

type Config struct {
	ServerAddr string
	LogLevel   string
	Version    string

	AuthSecret  []byte
	RequireAuth bool

	StorageRoot string
	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DefaultServerName       string
	DefaultServerMaxClients int
	DefaultServerPassword   string

	InstanceSpeedLimit uint64

	RateRequestsPerSecond float64
	RateBurst             int
}

func LoadConfig() *Config {
	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Version:    getEnv("VERSION", "dev"),

		AuthSecret:  []byte(getEnv("AUTH_SECRET", "change-me-in-production")),
		RequireAuth: getEnv("REQUIRE_AUTH", "false") == "true",

		StorageRoot: getEnv("STORAGE_ROOT", "./files"),
		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		DefaultServerName:       getEnv("DEFAULT_SERVER_NAME", "Accord Server"),
		DefaultServerMaxClients: getEnvInt("DEFAULT_SERVER_MAX_CLIENTS", 64),
		DefaultServerPassword:   getEnv("DEFAULT_SERVER_PASSWORD", ""),

		InstanceSpeedLimit: uint64(getEnvInt("INSTANCE_SPEED_LIMIT", 0)),

		RateRequestsPerSecond: float64(getEnvInt("RATE_REQUESTS_PER_SECOND", 10)),
		RateBurst:             getEnvInt("RATE_BURST", 20),
	}
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
