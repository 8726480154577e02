package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/studyengine/pkg/store"
)

// Config is the engine's top-level application configuration, assembled
// from environment variables. It composes store.Config (database-only)
// with the rest of the process's dependencies.
type Config struct {
	Database store.Config

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StatusCacheTTL time.Duration

	S3Bucket   string
	S3Region   string
	S3Endpoint string // non-empty for S3-compatible stores (e.g. MinIO); empty uses AWS defaults

	AdminAddr string

	PodID string // broker worker identity, defaults to hostname

	StoryConfigPath string // optional path to a JSON file of Twine passages, see RegisterStoryPlugins

	RetentionSchedule string // cron expression, e.g. "0 3 * * *"

	AnthropicAPIKey string
	OpenAIAPIKey    string
}

// Load builds a Config from the environment, applying the same production
// defaults store.LoadConfigFromEnv uses for the database block.
func Load() (Config, error) {
	dbCfg, err := store.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("failed to load database config: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	ttl, err := time.ParseDuration(getEnvOrDefault("STATUS_CACHE_TTL", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid STATUS_CACHE_TTL: %w", err)
	}

	podID := os.Getenv("POD_ID")
	if podID == "" {
		if host, err := os.Hostname(); err == nil {
			podID = host
		} else {
			podID = "studyengine-worker"
		}
	}

	cfg := Config{
		Database:          dbCfg,
		RedisAddr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           redisDB,
		StatusCacheTTL:    ttl,
		S3Bucket:          os.Getenv("BLOB_S3_BUCKET"),
		S3Region:          getEnvOrDefault("BLOB_S3_REGION", "us-east-1"),
		S3Endpoint:        os.Getenv("BLOB_S3_ENDPOINT"),
		AdminAddr:         getEnvOrDefault("ADMIN_ADDR", ":8090"),
		PodID:             podID,
		StoryConfigPath:   os.Getenv("STORY_CONFIG_PATH"),
		RetentionSchedule: getEnvOrDefault("RETENTION_SCHEDULE", "0 3 * * *"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
	}

	if strings.TrimSpace(cfg.S3Bucket) == "" {
		return Config{}, fmt.Errorf("BLOB_S3_BUCKET is required")
	}

	return cfg, nil
}

// APIKeyFor resolves the API key for an LLM provider name, for wiring into
// the synthetic worker's per-participant client construction.
func (c Config) APIKeyFor(provider string) string {
	switch strings.ToLower(provider) {
	case "anthropic":
		return c.AnthropicAPIKey
	case "openai":
		return c.OpenAIAPIKey
	default:
		return ""
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
