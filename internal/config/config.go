package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageBbolt    = "bbolt"
	StoragePostgres = "postgres"
)

type Config struct {
	DBFile      string
	Storage     string
	PostgresDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	APIAddr     string
	AdminAddr   string
	JWTSecret   string
	TokenExpiry time.Duration
	LogLevel    string

	PresenceThreshold time.Duration
	TypingIdle        time.Duration
	SubscriberBuffer  int
	RecentMessages    int
	PageSize          int

	NotifyConcurrency int
	NotifyTimeout     time.Duration

	ResponderURL      string
	ResponderTimeout  time.Duration
	ResponderFallback string
	ResponderID       string
	DefaultStaffID    string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string
}

// Load reads the configuration from the environment, after loading .env if present.
// cliMode relaxes the checks that only matter for the server.
func Load(cliMode bool) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBFile:        getEnv("MEALCHAT_DB", "mealchat.db"),
		Storage:       getEnv("STORAGE", StorageBbolt),
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		APIAddr:   getEnv("API_ADDR", ":8080"),
		AdminAddr: getEnv("ADMIN_ADDR", "localhost:8081"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),

		ResponderURL:      os.Getenv("RESPONDER_URL"),
		ResponderFallback: os.Getenv("RESPONDER_FALLBACK"),
		ResponderID:       getEnv("RESPONDER_ID", "responder"),
		DefaultStaffID:    os.Getenv("DEFAULT_STAFF_ID"),

		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubscriber: getEnv("VAPID_SUBSCRIBER", "mailto:admin@localhost"),
	}

	var err error
	ints := []struct {
		key      string
		fallback int
		dst      *int
	}{
		{"REDIS_DB", 0, &cfg.RedisDB},
		{"SUBSCRIBER_BUFFER", 64, &cfg.SubscriberBuffer},
		{"RECENT_MESSAGES", 200, &cfg.RecentMessages},
		{"PAGE_SIZE", 500, &cfg.PageSize},
		{"NOTIFY_CONCURRENCY", 8, &cfg.NotifyConcurrency},
	}
	for _, v := range ints {
		if *v.dst, err = getEnvInt(v.key, v.fallback); err != nil {
			return nil, err
		}
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"TOKEN_EXPIRY", 12 * time.Hour, &cfg.TokenExpiry},
		{"PRESENCE_THRESHOLD", 30 * time.Second, &cfg.PresenceThreshold},
		{"TYPING_IDLE", time.Second, &cfg.TypingIdle},
		{"NOTIFY_TIMEOUT", 10 * time.Second, &cfg.NotifyTimeout},
		{"RESPONDER_TIMEOUT", 20 * time.Second, &cfg.ResponderTimeout},
	}
	for _, v := range durations {
		if *v.dst, err = getEnvDuration(v.key, v.fallback); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if cliMode {
		return nil
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch c.Storage {
	case StorageBbolt:
		if c.DBFile == "" {
			return fmt.Errorf("MEALCHAT_DB is required for bbolt storage")
		}
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for postgres storage")
		}
	default:
		return fmt.Errorf("STORAGE must be %q or %q, got %q", StorageBbolt, StoragePostgres, c.Storage)
	}

	positive := []struct {
		key string
		ok  bool
	}{
		{"TOKEN_EXPIRY", c.TokenExpiry > 0},
		{"PRESENCE_THRESHOLD", c.PresenceThreshold > 0},
		{"TYPING_IDLE", c.TypingIdle > 0},
		{"SUBSCRIBER_BUFFER", c.SubscriberBuffer > 0},
		{"RECENT_MESSAGES", c.RecentMessages > 0},
		{"PAGE_SIZE", c.PageSize > 0},
		{"NOTIFY_CONCURRENCY", c.NotifyConcurrency > 0},
		{"NOTIFY_TIMEOUT", c.NotifyTimeout > 0},
		{"RESPONDER_TIMEOUT", c.ResponderTimeout > 0},
	}
	for _, p := range positive {
		if !p.ok {
			return fmt.Errorf("%s must be greater than 0", p.key)
		}
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	return nil
}

// PushEnabled reports whether Web Push credentials are configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
