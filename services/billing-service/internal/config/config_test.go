package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"MONGODB_URI", "MONGO_URI", "MONGODB_DB_NAME", "MONGODB_TIMEOUT", "SWEEP_TIMEOUT",
		"ENCRYPTION_KEY", "RABBITMQ_URL", "RABBITMQ_EXCHANGE", "LOG_LEVEL", "LOG_FORMAT",
		"ROUTER_REQUEST_TIMEOUT", "ROUTER_INSECURE_SKIP_VERIFY", "SWEEP_SKIP_ROUTER_REMOVAL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadSweeperConfig_EnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("MONGODB_URI", "mongodb://db:27017")
	t.Setenv("MONGODB_DB_NAME", "portal")

	cfg, err := LoadSweeperConfig("")
	require.NoError(t, err)

	assert.Equal(t, "mongodb://db:27017", cfg.MongoURI)
	assert.Equal(t, "portal", cfg.DatabaseName)
	assert.Equal(t, 10*time.Second, cfg.Routers.RequestTimeout)
	assert.Equal(t, "billing.events", cfg.Exchange)
}

func TestLoadSweeperConfig_LegacyMongoURI(t *testing.T) {
	clearEnv(t)
	t.Setenv("MONGO_URI", "mongodb://legacy:27017")

	cfg, err := LoadSweeperConfig("")
	require.NoError(t, err)
	assert.Equal(t, "mongodb://legacy:27017", cfg.MongoURI)
	assert.Equal(t, "hotspot", cfg.DatabaseName)
}

func TestLoadSweeperConfig_YAMLThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "sweeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mongo_uri: mongodb://yaml:27017
database_name: from_yaml
routers:
  request_timeout: 3s
  skip_removal: true
`), 0o600))

	t.Setenv("MONGODB_DB_NAME", "from_env")

	cfg, err := LoadSweeperConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "mongodb://yaml:27017", cfg.MongoURI)
	assert.Equal(t, "from_env", cfg.DatabaseName)
	assert.Equal(t, 3*time.Second, cfg.Routers.RequestTimeout)
	assert.True(t, cfg.Routers.SkipRemoval)
}

func TestLoadSweeperConfig_MissingFileFallsBackToEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("MONGODB_URI", "mongodb://db:27017")

	cfg, err := LoadSweeperConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "mongodb://db:27017", cfg.MongoURI)
}

func TestLoadSweeperConfig_Validation(t *testing.T) {
	clearEnv(t)

	_, err := LoadSweeperConfig("")
	assert.ErrorContains(t, err, "MONGODB_URI")

	t.Setenv("MONGODB_URI", "mongodb://db:27017")
	t.Setenv("ENCRYPTION_KEY", "short")
	_, err = LoadSweeperConfig("")
	assert.ErrorContains(t, err, "ENCRYPTION_KEY")
}
