package config

import (
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID     string
	AccessKey     string
	SecretKey     string
	BucketName    string
	PublicBaseURL string
}

type Config struct {
	GraphBaseURL  string
	MaxWait       time.Duration
	RetryInterval time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
	RateLimitRPS  int

	SocketHost     string
	SocketPort     int
	HealthPort     int
	WorkerPoolSize int

	PostgresURI string
	RedisURI    string
	RendererURL string
	R2          R2

	SecretKey string
}

func LoadConfig() *Config {
	return &Config{
		GraphBaseURL:  getEnv("IG_GRAPH_BASE_URL", "https://graph.instagram.com/v21.0"),
		MaxWait:       getEnvSeconds("IG_MAX_WAIT", 600),
		RetryInterval: getEnvSeconds("IG_RETRY_INTERVAL", 2),
		MaxRetries:    getEnvInt("IG_MAX_RETRIES", 3),
		BackoffBase:   getEnvSeconds("IG_BACKOFF_BASE", 1),
		RateLimitRPS:  getEnvInt("IG_RATE_LIMIT_RPS", 10),

		SocketHost:     getEnv("SOCKET_HOST", "0.0.0.0"),
		SocketPort:     getEnvInt("SOCKET_PORT", 8843),
		HealthPort:     getEnvInt("HEALTH_PORT", 3000),
		WorkerPoolSize: getEnvInt("WORKER_POOL_SIZE", 5),

		PostgresURI: getEnv("POSTGRES_URI", ""),
		RedisURI:    getEnv("REDIS_URI", "127.0.0.1:6379"),
		RendererURL: getEnv("RENDERER_URL", ""),
		R2: R2{
			AccountID:     getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:     getEnv("R2_ACCESS_KEY", ""),
			SecretKey:     getEnv("R2_SECRET_KEY", ""),
			BucketName:    getEnv("R2_BUCKET_NAME", ""),
			PublicBaseURL: getEnv("R2_PUBLIC_BASE_URL", ""),
		},

		SecretKey: getEnv("SECRET_KEY", ""),
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
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Second
}
