package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

type Config struct {
	Port      string   // PORT (default "8080")
	GinMode   string   // GIN_MODE
	FEOrigins []string // FE_ORIGINS, comma separated (default "http://localhost:3000")

	WebhookURL      string // WEBHOOK_URL (optional, empty = dispatch disabled)
	WebhookUsername string // WEBHOOK_USERNAME (default "Storefront Pulse")
	DisplayTimezone string // DISPLAY_TIMEZONE (default "Asia/Dubai")
	VIPConfigPath   string // VIP_CONFIG (optional TOML file)

	StoreDriver       string        // STORE_DRIVER: memory|redis|sqlite (default memory)
	RedisURL          string        // REDIS_URL (required for redis driver)
	SQLitePath        string        // SQLITE_PATH (default "pulse.db")
	NotificationLimit int           // NOTIFICATION_LIMIT (default 100)
	ActiveWindow      time.Duration // ACTIVE_WINDOW (default 5m)

	DatabaseURL     string // DATABASE_URL (optional, enables operator accounts)
	JWTSecret       string // JWT_SECRET_KEY (optional, empty = no JWT auth)
	DashboardAPIKey string // DASHBOARD_API_KEY (optional)

	ClickHouseHost     string // CLICKHOUSE_HOST (optional, enables the archive)
	ClickHousePort     int    // CLICKHOUSE_NATIVE_PORT (default 9000)
	ClickHouseDB       string // CLICKHOUSE_DB_NAME (default "default")
	ClickHouseUsername string // CLICKHOUSE_USERNAME
	ClickHousePassword string // CLICKHOUSE_PASSWORD

	NATSURL string // NATS_URL (optional, empty = no bus)

	ResendAPIKey   string // RESEND_API_KEY (optional, enables email alerts)
	AlertEmailFrom string // ALERT_EMAIL_FROM (default "alerts@localhost")
	AlertEmailTo   string // ALERT_EMAIL_TO

	SnapshotS3Bucket   string        // SNAPSHOT_S3_BUCKET (optional, enables snapshots)
	SnapshotS3Key      string        // SNAPSHOT_S3_KEY (default "pulse/snapshot.json")
	SnapshotS3Region   string        // SNAPSHOT_S3_REGION (default "us-east-1")
	SnapshotS3Endpoint string        // SNAPSHOT_S3_ENDPOINT (custom endpoint for MinIO)
	SnapshotInterval   time.Duration // SNAPSHOT_INTERVAL (default 5m)
}

func Load() (*Config, error) {
	c := &Config{
		Port:               envOrDefault("PORT", "8080"),
		GinMode:            os.Getenv("GIN_MODE"),
		FEOrigins:          splitList(envOrDefault("FE_ORIGINS", os.Getenv("FE_ORIGIN"))),
		WebhookURL:         os.Getenv("WEBHOOK_URL"),
		WebhookUsername:    envOrDefault("WEBHOOK_USERNAME", "Storefront Pulse"),
		DisplayTimezone:    envOrDefault("DISPLAY_TIMEZONE", "Asia/Dubai"),
		VIPConfigPath:      os.Getenv("VIP_CONFIG"),
		StoreDriver:        strings.ToLower(envOrDefault("STORE_DRIVER", StoreMemory)),
		RedisURL:           os.Getenv("REDIS_URL"),
		SQLitePath:         envOrDefault("SQLITE_PATH", "pulse.db"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET_KEY"),
		DashboardAPIKey:    os.Getenv("DASHBOARD_API_KEY"),
		ClickHouseHost:     os.Getenv("CLICKHOUSE_HOST"),
		ClickHouseDB:       envOrDefault("CLICKHOUSE_DB_NAME", "default"),
		ClickHouseUsername: os.Getenv("CLICKHOUSE_USERNAME"),
		ClickHousePassword: os.Getenv("CLICKHOUSE_PASSWORD"),
		NATSURL:            os.Getenv("NATS_URL"),
		ResendAPIKey:       os.Getenv("RESEND_API_KEY"),
		AlertEmailFrom:     envOrDefault("ALERT_EMAIL_FROM", "alerts@localhost"),
		AlertEmailTo:       os.Getenv("ALERT_EMAIL_TO"),
		SnapshotS3Bucket:   os.Getenv("SNAPSHOT_S3_BUCKET"),
		SnapshotS3Key:      envOrDefault("SNAPSHOT_S3_KEY", "pulse/snapshot.json"),
		SnapshotS3Region:   envOrDefault("SNAPSHOT_S3_REGION", "us-east-1"),
		SnapshotS3Endpoint: os.Getenv("SNAPSHOT_S3_ENDPOINT"),
	}
	if len(c.FEOrigins) == 0 {
		c.FEOrigins = []string{"http://localhost:3000"}
	}

	switch c.StoreDriver {
	case StoreMemory, StoreSQLite:
	case StoreRedis:
		if c.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when STORE_DRIVER=redis")
		}
	default:
		return nil, fmt.Errorf("STORE_DRIVER: unknown driver %q (must be memory, redis or sqlite)", c.StoreDriver)
	}

	var err error
	if c.NotificationLimit, err = intOrDefault("NOTIFICATION_LIMIT", 100); err != nil {
		return nil, err
	}
	if c.NotificationLimit <= 0 {
		return nil, fmt.Errorf("NOTIFICATION_LIMIT must be positive, got %d", c.NotificationLimit)
	}
	if c.ClickHousePort, err = intOrDefault("CLICKHOUSE_NATIVE_PORT", 9000); err != nil {
		return nil, err
	}
	if c.ActiveWindow, err = durationOrDefault("ACTIVE_WINDOW", 5*time.Minute); err != nil {
		return nil, err
	}
	if c.SnapshotInterval, err = durationOrDefault("SNAPSHOT_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}

	return c, nil
}

// AuthEnabled reports whether dashboard reads require credentials.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != "" || c.DashboardAPIKey != ""
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intOrDefault(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func durationOrDefault(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
