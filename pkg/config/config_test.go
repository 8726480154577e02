package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		prev, existed := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if existed {
				os.Setenv(k, prev)
			}
		})
	}
}

func TestLoad_RequiresS3Bucket(t *testing.T) {
	clearEnv(t, "BLOB_S3_BUCKET")
	t.Setenv("DB_PASSWORD", "secret")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	clearEnv(t, "REDIS_ADDR", "STATUS_CACHE_TTL", "ADMIN_ADDR", "RETENTION_SCHEDULE")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("BLOB_S3_BUCKET", "studyengine-artifacts")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "studyengine-artifacts", cfg.S3Bucket)
	assert.Equal(t, ":8090", cfg.AdminAddr)
	assert.Equal(t, "0 3 * * *", cfg.RetentionSchedule)
	assert.NotEmpty(t, cfg.PodID)
}

func TestLoad_InvalidRedisDB(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("BLOB_S3_BUCKET", "bucket")
	t.Setenv("REDIS_DB", "not-a-number")
	_, err := Load()
	assert.Error(t, err)
}

func TestAPIKeyFor(t *testing.T) {
	cfg := Config{AnthropicAPIKey: "ant-key", OpenAIAPIKey: "oai-key"}
	assert.Equal(t, "ant-key", cfg.APIKeyFor("anthropic"))
	assert.Equal(t, "ant-key", cfg.APIKeyFor("Anthropic"))
	assert.Equal(t, "oai-key", cfg.APIKeyFor("openai"))
	assert.Equal(t, "", cfg.APIKeyFor("unknown"))
}
