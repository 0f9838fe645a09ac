package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	API         APIConfig
	Realtime    RealtimeConfig
	Credentials CredentialsConfig
	Log         LogConfig
	Server      ServerConfig
	Redis       RedisConfig
	JWT         JWTConfig
	RateLimit   RateLimitConfig
	Storage     StorageConfig
	R2          R2Config
	Worker      WorkerConfig
}

type APIConfig struct {
	BaseURL string
	Timeout int // seconds
}

type RealtimeConfig struct {
	URL               string
	ReconnectAttempts int
	ReconnectDelayMs  int
	HandshakeTimeout  int // seconds
}

type CredentialsConfig struct {
	Path string
}

type LogConfig struct {
	Level string
	File  string
}

type ServerConfig struct {
	Port      string
	Env       string
	PublicURL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	UploadPerHour int
}

type StorageConfig struct {
	Dir string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type WorkerConfig struct {
	Concurrency int
}

// Enabled reports whether all credentials needed for R2 are present
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != ""
}

// HTTPTimeout returns the API timeout as a duration
func (c APIConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// ReconnectDelay returns the fixed delay between reconnection attempts
func (c RealtimeConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("api.base_url", "API_BASE_URL")
	_ = viper.BindEnv("api.timeout", "API_TIMEOUT")
	_ = viper.BindEnv("realtime.url", "REALTIME_URL")
	_ = viper.BindEnv("realtime.reconnect_attempts", "REALTIME_RECONNECT_ATTEMPTS")
	_ = viper.BindEnv("realtime.reconnect_delay_ms", "REALTIME_RECONNECT_DELAY_MS")
	_ = viper.BindEnv("realtime.handshake_timeout", "REALTIME_HANDSHAKE_TIMEOUT")
	_ = viper.BindEnv("credentials.path", "CREDENTIALS_PATH")
	_ = viper.BindEnv("log.level", "LOG_LEVEL")
	_ = viper.BindEnv("log.file", "LOG_FILE")
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.public_url", "SERVER_PUBLIC_URL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.upload_per_hour", "RATELIMIT_UPLOAD_PER_HOUR")
	_ = viper.BindEnv("storage.dir", "STORAGE_DIR")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")

	// Client defaults
	viper.SetDefault("api.base_url", "http://localhost:3000")
	viper.SetDefault("api.timeout", 10)
	viper.SetDefault("realtime.url", "")
	viper.SetDefault("realtime.reconnect_attempts", 5)
	viper.SetDefault("realtime.reconnect_delay_ms", 1000)
	viper.SetDefault("realtime.handshake_timeout", 10)
	viper.SetDefault("credentials.path", defaultCredentialsPath())
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", "")

	// Server defaults
	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.public_url", "")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.upload_per_hour", 50)
	viper.SetDefault("storage.dir", "./data")
	viper.SetDefault("worker.concurrency", 4)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		API: APIConfig{
			BaseURL: strings.TrimRight(viper.GetString("api.base_url"), "/"),
			Timeout: viper.GetInt("api.timeout"),
		},
		Realtime: RealtimeConfig{
			URL:               viper.GetString("realtime.url"),
			ReconnectAttempts: viper.GetInt("realtime.reconnect_attempts"),
			ReconnectDelayMs:  viper.GetInt("realtime.reconnect_delay_ms"),
			HandshakeTimeout:  viper.GetInt("realtime.handshake_timeout"),
		},
		Credentials: CredentialsConfig{
			Path: viper.GetString("credentials.path"),
		},
		Log: LogConfig{
			Level: viper.GetString("log.level"),
			File:  viper.GetString("log.file"),
		},
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			PublicURL: viper.GetString("server.public_url"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			UploadPerHour: viper.GetInt("ratelimit.upload_per_hour"),
		},
		Storage: StorageConfig{
			Dir: viper.GetString("storage.dir"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Worker: WorkerConfig{
			Concurrency: viper.GetInt("worker.concurrency"),
		},
	}

	if cfg.Realtime.URL == "" {
		cfg.Realtime.URL = RealtimeURL(cfg.API.BaseURL)
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = "http://localhost:" + cfg.Server.Port
	}

	return cfg, nil
}

// RealtimeURL derives the websocket endpoint from the API base URL.
func RealtimeURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "ws://localhost:3000/ws"
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String()
}

func defaultCredentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".thumbtrack", "token")
	}
	return filepath.Join(home, ".thumbtrack", "token")
}
