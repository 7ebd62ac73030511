package qsdk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()
	oldWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(tempDir))
	t.Cleanup(func() { os.Chdir(oldWd) })
	return tempDir
}

func TestLoadConfig_ProjectConfig(t *testing.T) {
	chdirTemp(t)

	projectConfig := `
baseUrl: http://example.com:3000/
clientId: abc
automationRegion: eu-west
defaultBucket: my-bucket
pollInterval: 2s
`
	require.NoError(t, os.WriteFile("apsflow.yaml", []byte(projectConfig), 0644))

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "http://example.com:3000", cfg.BaseURL)
	assert.Equal(t, "abc", cfg.ClientID)
	assert.Equal(t, "my-bucket", cfg.DefaultBucket)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, "http://example.com:3000/da/eu-west/v3", cfg.AutomationBaseURL())
	assert.Equal(t, "http://example.com:3000/oss/v2", cfg.OSSBaseURL())
	assert.Equal(t, "http://example.com:3000/authentication/v2", cfg.AuthBaseURL())
}

func TestLoadConfig_LocalOverride(t *testing.T) {
	chdirTemp(t)

	projectConfig := `
clientId: abc
defaultBucket: shared-bucket
`
	require.NoError(t, os.WriteFile("apsflow.yaml", []byte(projectConfig), 0644))

	require.NoError(t, os.MkdirAll(ConfigRoot, 0755))
	localConfig := `
clientSecret: s3cret
defaultBucket: my-bucket
`
	require.NoError(t, os.WriteFile(filepath.Join(ConfigRoot, "config.yaml"), []byte(localConfig), 0644))

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "abc", cfg.ClientID)
	assert.Equal(t, "s3cret", cfg.ClientSecret)
	// Local override should win
	assert.Equal(t, "my-bucket", cfg.DefaultBucket)
}

func TestLoadConfig_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "https://developer.api.autodesk.com", cfg.BaseURL)
	assert.Equal(t, "us-east", cfg.AutomationRegion)
	assert.Equal(t, "US", cfg.BucketRegion)
	assert.Equal(t, "transient", cfg.BucketPolicy)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Hour, cfg.Timeout)
	assert.Equal(t, DefaultCallbackURL, cfg.CallbackURL)
	assert.Contains(t, cfg.Scopes, "code:all")
	assert.Equal(t, BackendOSS, cfg.StorageBackend)
}

func TestLoadConfig_Env(t *testing.T) {
	chdirTemp(t)
	t.Setenv("APS_CLIENT_ID", "from-env")
	t.Setenv("APS_SCOPES", "data:read bucket:read")
	t.Setenv("APS_TIMEOUT", "5m")
	t.Setenv("APS_STORAGE_BACKEND", "s3")
	t.Setenv("APS_S3_ENDPOINT", "minio:9000")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.ClientID)
	assert.Equal(t, []string{"data:read", "bucket:read"}, cfg.Scopes)
	assert.Equal(t, 5*time.Minute, cfg.Timeout)
	assert.Equal(t, BackendS3, cfg.StorageBackend)
	assert.Equal(t, "minio:9000", cfg.S3Endpoint)
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	tempDir := chdirTemp(t)

	customConfig := `
clientId: custom
bucketPolicy: persistent
`
	customPath := filepath.Join(tempDir, "custom-config.yaml")
	require.NoError(t, os.WriteFile(customPath, []byte(customConfig), 0644))

	cfg, err := LoadConfig(customPath)
	require.NoError(t, err)

	assert.Equal(t, "custom", cfg.ClientID)
	assert.Equal(t, "persistent", cfg.BucketPolicy)
	assert.Equal(t, customPath, cfg.ConfigFileUsed())
}

func TestConfigValidate(t *testing.T) {
	chdirTemp(t)
	t.Setenv("APS_CLIENT_ID", "")
	t.Setenv("APS_ACCESS_TOKEN", "")
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	err = cfg.Validate()
	assert.True(t, qerr.IsCode(err, qerr.CodeConfiguration), "missing credentials")

	cfg.AccessToken = "tok"
	assert.NoError(t, cfg.Validate())

	cfg.BucketPolicy = "forever"
	assert.True(t, qerr.IsCode(cfg.Validate(), qerr.CodeConfiguration))

	cfg.BucketPolicy = "transient"
	cfg.DefaultBucket = "Not_Valid"
	assert.True(t, qerr.IsCode(cfg.Validate(), qerr.CodeConfiguration))

	cfg.DefaultBucket = ""
	cfg.StorageBackend = "gcs"
	assert.True(t, qerr.IsCode(cfg.Validate(), qerr.CodeConfiguration), "unknown backend")

	cfg.StorageBackend = BackendS3
	assert.True(t, qerr.IsCode(cfg.Validate(), qerr.CodeConfiguration), "s3 without endpoint")

	cfg.S3Endpoint = "localhost:9000"
	assert.NoError(t, cfg.Validate())
}
