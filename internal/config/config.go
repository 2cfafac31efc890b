package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	JWTSecret     string
	CORSOrigin    string
	// Stage engine
	HistoryLimit             int
	AuditLimit               int
	ReleaseLocksOnDisconnect bool
	SendBuffer               int
	MaxUploadBytes           int64
	// Redis role cache, disabled when empty
	RedisURL     string
	RoleCacheTTL time.Duration
	// Meilisearch asset index, disabled when empty
	MeiliURL       string
	MeiliMasterKey string
	// MinIO upload storage, uploads disabled when endpoint is empty
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
	MinIOPublicURL string
}

func Load() Config {
	return Config{
		Addr:          getenv("API_ADDR", ":3000"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		MigrationsDir: getenv("STAGEHAND_MIGRATIONS_DIR", ""),
		JWTSecret:     getenv("STAGEHAND_JWT_SECRET", "stagehand-dev-secret"),
		CORSOrigin:    getenv("STAGEHAND_CORS_ORIGIN", "*"),

		HistoryLimit:             getenvInt("STAGEHAND_HISTORY_LIMIT", 50),
		AuditLimit:               getenvInt("STAGEHAND_AUDIT_LIMIT", 200),
		ReleaseLocksOnDisconnect: getenvBool("STAGEHAND_RELEASE_LOCKS_ON_DISCONNECT", true),
		SendBuffer:               getenvInt("STAGEHAND_SEND_BUFFER", 64),
		MaxUploadBytes:           int64(getenvInt("STAGEHAND_MAX_UPLOAD_BYTES", 100<<20)),

		RedisURL:     getenv("REDIS_URL", ""),
		RoleCacheTTL: getenvDuration("STAGEHAND_ROLE_CACHE_TTL_SECONDS", 60*time.Second),

		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", "stagehand-meili-key"),

		MinIOEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinIOAccessKey: getenv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey: getenv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucket:    getenv("MINIO_BUCKET", "stagehand-assets"),
		MinIOUseSSL:    getenvBool("MINIO_USE_SSL", false),
		MinIOPublicURL: getenv("MINIO_PUBLIC_URL", ""),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvDuration reads a whole number of seconds.
func getenvDuration(key string, fallback time.Duration) time.Duration {
	seconds := getenvInt(key, -1)
	if seconds < 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
