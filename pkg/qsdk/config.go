package qsdk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quatton/apsflow/pkg/qart"
	"github.com/quatton/apsflow/pkg/qauth"
	"github.com/quatton/apsflow/pkg/qdm"
	"github.com/quatton/apsflow/pkg/qrunner"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"github.com/spf13/viper"
)

type Config struct {
	BaseURL      string   `mapstructure:"baseUrl"`
	ClientID     string   `mapstructure:"clientId"`
	ClientSecret string   `mapstructure:"clientSecret"`
	CallbackURL  string   `mapstructure:"callbackUrl"`
	Scopes       []string `mapstructure:"scopes"`
	// AccessToken skips the OAuth flows entirely.
	AccessToken string `mapstructure:"accessToken"`

	AutomationRegion string `mapstructure:"automationRegion"`
	DefaultBucket    string `mapstructure:"defaultBucket"`
	BucketRegion     string `mapstructure:"bucketRegion"`
	BucketPolicy     string `mapstructure:"bucketPolicy"`

	// StorageBackend is "oss" (the platform) or "s3" (any S3-compatible store).
	StorageBackend string `mapstructure:"storageBackend"`
	S3Endpoint     string `mapstructure:"s3Endpoint"`
	S3AccessKey    string `mapstructure:"s3AccessKey"`
	S3SecretKey    string `mapstructure:"s3SecretKey"`
	S3Region       string `mapstructure:"s3Region"`
	S3UseSSL       bool   `mapstructure:"s3UseSsl"`
	S3FormUploads  bool   `mapstructure:"s3FormUploads"`
	S3Lifecycle    bool   `mapstructure:"s3Lifecycle"`

	PollInterval      time.Duration `mapstructure:"pollInterval"`
	Timeout           time.Duration `mapstructure:"timeout"`
	HTTPTimeout       time.Duration `mapstructure:"httpTimeout"`
	MaxRetries        int           `mapstructure:"maxRetries"`
	RequestsPerSecond float64       `mapstructure:"requestsPerSecond"`

	RedisAddr    string `mapstructure:"redisAddr"`
	DatabaseURL  string `mapstructure:"databaseUrl"`
	OTLPEndpoint string `mapstructure:"otlpEndpoint"`

	v *viper.Viper // instance-specific viper
}

const (
	EnvPrefix  = "APS"
	ConfigName = "apsflow"
	ConfigRoot = ".apsflow"

	BaseUrlKey           = "baseUrl"
	ClientIdKey          = "clientId"
	ClientSecretKey      = "clientSecret"
	CallbackUrlKey       = "callbackUrl"
	ScopesKey            = "scopes"
	AccessTokenKey       = "accessToken"
	AutomationRegionKey  = "automationRegion"
	DefaultBucketKey     = "defaultBucket"
	BucketRegionKey      = "bucketRegion"
	BucketPolicyKey      = "bucketPolicy"
	StorageBackendKey    = "storageBackend"
	S3EndpointKey        = "s3Endpoint"
	S3AccessKeyKey       = "s3AccessKey"
	S3SecretKeyKey       = "s3SecretKey"
	S3RegionKey          = "s3Region"
	S3UseSslKey          = "s3UseSsl"
	S3FormUploadsKey     = "s3FormUploads"
	S3LifecycleKey       = "s3Lifecycle"
	PollIntervalKey      = "pollInterval"
	TimeoutKey           = "timeout"
	HttpTimeoutKey       = "httpTimeout"
	MaxRetriesKey        = "maxRetries"
	RequestsPerSecondKey = "requestsPerSecond"
	RedisAddrKey         = "redisAddr"
	DatabaseUrlKey       = "databaseUrl"
	OtlpEndpointKey      = "otlpEndpoint"

	DefaultCallbackURL  = "http://localhost:8080/callback"
	DefaultBucketRegion = "US"

	BackendOSS = "oss"
	BackendS3  = "s3"
)

// envNames maps keys to their variables, e.g. clientId -> APS_CLIENT_ID.
var envNames = map[string]string{
	BaseUrlKey:           "BASE_URL",
	ClientIdKey:          "CLIENT_ID",
	ClientSecretKey:      "CLIENT_SECRET",
	CallbackUrlKey:       "CALLBACK_URL",
	ScopesKey:            "SCOPES",
	AccessTokenKey:       "ACCESS_TOKEN",
	AutomationRegionKey:  "REGION",
	DefaultBucketKey:     "BUCKET",
	BucketRegionKey:      "BUCKET_REGION",
	BucketPolicyKey:      "BUCKET_POLICY",
	StorageBackendKey:    "STORAGE_BACKEND",
	S3EndpointKey:        "S3_ENDPOINT",
	S3AccessKeyKey:       "S3_ACCESS_KEY",
	S3SecretKeyKey:       "S3_SECRET_KEY",
	S3RegionKey:          "S3_REGION",
	S3UseSslKey:          "S3_USE_SSL",
	S3FormUploadsKey:     "S3_FORM_UPLOADS",
	S3LifecycleKey:       "S3_LIFECYCLE",
	PollIntervalKey:      "POLL_INTERVAL",
	TimeoutKey:           "TIMEOUT",
	HttpTimeoutKey:       "HTTP_TIMEOUT",
	MaxRetriesKey:        "MAX_RETRIES",
	RequestsPerSecondKey: "REQUESTS_PER_SECOND",
	RedisAddrKey:         "REDIS_ADDR",
	DatabaseUrlKey:       "DATABASE_URL",
	OtlpEndpointKey:      "OTLP_ENDPOINT",
}

// LoadConfig creates a new Config instance with its own viper
// This is the only way to load config (no global state)
func LoadConfig(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, name := range envNames {
		if err := v.BindEnv(key, EnvPrefix+"_"+name); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	} else {
		// Load project config (TRACKED) - apsflow.yaml in current directory
		for _, name := range []string{ConfigName + ".yaml", ConfigName + ".yml", "." + ConfigName + ".yaml"} {
			if _, err := os.Stat(name); err == nil {
				v.SetConfigFile(name)
				if err := v.ReadInConfig(); err == nil {
					break
				}
			}
		}

		// Merge local overrides (UNTRACKED) - .apsflow/config.yaml, which is
		// where client secrets belong
		localConfigPath := filepath.Join(ConfigRoot, "config.yaml")
		if _, err := os.Stat(localConfigPath); err == nil {
			v.SetConfigFile(localConfigPath)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("merging local config: %w", err)
			}
		}
	}

	setDefaults(v)

	cfg := &Config{v: v}
	if err := cfg.Reload(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Reload re-reads every field from the viper instance, e.g. after binding
// command line flags to keys.
func (c *Config) Reload() error {
	v := c.v
	var next Config
	if err := v.Unmarshal(&next); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	// APS_SCOPES="code:all data:read" arrives as a single element
	next.Scopes = strings.Fields(strings.Join(next.Scopes, " "))
	next.BaseURL = strings.TrimRight(next.BaseURL, "/")

	*c = next
	c.v = v
	return nil
}

// Get returns a value from the underlying viper instance
// Useful for CLI flag binding and dynamic config access
func (c *Config) Get(key string) interface{} {
	if c.v == nil {
		return nil
	}
	return c.v.Get(key)
}

// GetString returns a string value from the underlying viper instance
func (c *Config) GetString(key string) string {
	if c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

// Viper returns the underlying viper instance
// Useful for advanced config operations
func (c *Config) Viper() *viper.Viper {
	return c.v
}

func setDefaults(v *viper.Viper) {
	if !v.IsSet(BaseUrlKey) {
		v.SetDefault(BaseUrlKey, qrunner.DefaultHost)
	} else {
		normalized := strings.TrimRight(v.GetString(BaseUrlKey), "/")
		v.Set(BaseUrlKey, normalized)
	}

	v.SetDefault(CallbackUrlKey, DefaultCallbackURL)
	v.SetDefault(ScopesKey, qauth.AutomationScopes)
	v.SetDefault(AutomationRegionKey, qrunner.DefaultRegion)
	v.SetDefault(BucketRegionKey, DefaultBucketRegion)
	v.SetDefault(BucketPolicyKey, string(qart.PolicyTransient))
	v.SetDefault(StorageBackendKey, BackendOSS)
	v.SetDefault(S3LifecycleKey, true)
	v.SetDefault(PollIntervalKey, qrunner.DefaultPollInterval)
	v.SetDefault(TimeoutKey, qrunner.DefaultTimeout)
	v.SetDefault(HttpTimeoutKey, 30*time.Second)
}

// ConfigFileUsed returns the config file that was used (if any)
func (c *Config) ConfigFileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	if c.ClientID == "" && c.AccessToken == "" {
		return qerr.Newf(qerr.CodeConfiguration, "%s or %s is required", ClientIdKey, AccessTokenKey)
	}
	if c.BucketPolicy != "" && !qart.Policy(c.BucketPolicy).Valid() {
		return qerr.Newf(qerr.CodeConfiguration, "invalid %s %q", BucketPolicyKey, c.BucketPolicy)
	}
	if c.DefaultBucket != "" {
		if err := qart.ValidateContainerKey(c.DefaultBucket); err != nil {
			return qerr.New(qerr.CodeConfiguration, fmt.Errorf("%s: %w", DefaultBucketKey, err))
		}
	}
	switch c.StorageBackend {
	case "", BackendOSS:
	case BackendS3:
		if c.S3Endpoint == "" {
			return qerr.Newf(qerr.CodeConfiguration, "%s is required when %s is %q", S3EndpointKey, StorageBackendKey, BackendS3)
		}
	default:
		return qerr.Newf(qerr.CodeConfiguration, "invalid %s %q (want %s or %s)", StorageBackendKey, c.StorageBackend, BackendOSS, BackendS3)
	}
	if c.PollInterval <= 0 {
		return qerr.Newf(qerr.CodeConfiguration, "%s must be positive", PollIntervalKey)
	}
	if c.MaxRetries < 0 {
		return qerr.Newf(qerr.CodeConfiguration, "%s must not be negative", MaxRetriesKey)
	}
	return nil
}

// Endpoint bases derived from BaseURL.

func (c *Config) AuthBaseURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/authentication/v2"
}

func (c *Config) OSSBaseURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/oss/v2"
}

func (c *Config) ProjectBaseURL() string {
	return qdm.ProjectBaseURL(c.BaseURL)
}

func (c *Config) DataBaseURL() string {
	return qdm.DataBaseURL(c.BaseURL)
}

func (c *Config) AutomationBaseURL() string {
	return qrunner.BaseURL(c.BaseURL, c.AutomationRegion)
}
