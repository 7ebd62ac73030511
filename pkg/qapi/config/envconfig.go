package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type EnvConfig struct {
	Port           string `envconfig:"PORT" default:"3000"`
	BaseURL        string `envconfig:"BASE_URL" required:"true"`
	Environment    string `envconfig:"ENVIRONMENT" default:"development"`
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	CallbackSecret string `envconfig:"CALLBACK_SECRET"`
	OTLPEndpoint   string `envconfig:"OTLP_ENDPOINT"`
}

// IsDev reports whether ENVIRONMENT is unset or names a development setup.
func IsDev() bool {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	return env == "development" || env == "dev" || env == ""
}

func ValidateEnv() (*EnvConfig, error) {
	if IsDev() {
		if err := godotenv.Load(); err != nil {
			log.Println("ℹ No .env file found")
		} else {
			log.Println("✓ Loaded .env file")
		}
	}

	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *EnvConfig) Validate() error {
	var errors []string

	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		errors = append(errors, "  ❌ BASE_URL must be a valid URL")
	}

	if c.CallbackSecret != "" && len(c.CallbackSecret) < 16 {
		errors = append(errors, "  ❌ CALLBACK_SECRET must be at least 16 characters")
	}

	if !IsDev() && c.CallbackSecret == "" {
		errors = append(errors, "  ❌ CALLBACK_SECRET is required outside development")
	}

	if len(errors) > 0 {
		return fmt.Errorf("environment validation failed:\n%s", strings.Join(errors, "\n"))
	}
	return nil
}

// CallbackURL returns the public URL the service should post kind
// ("complete" or "progress") callbacks to.
func (c *EnvConfig) CallbackURL(kind string) string {
	u := strings.TrimRight(c.BaseURL, "/") + "/api/workitems/callbacks/" + kind
	if c.CallbackSecret != "" {
		u += "?secret=" + url.QueryEscape(c.CallbackSecret)
	}
	return u
}

func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

func (c *EnvConfig) Print(fmtr func(string, ...interface{})) {
	fmtr("📋 Configuration:\n")
	fmtr("  Environment: %s\n", c.Environment)
	fmtr("  Port: %s\n", c.Port)
	fmtr("  Base URL: %s\n", c.BaseURL)
	fmtr("  Callback Secret: %s\n", MaskSecret(c.CallbackSecret))

	if c.DatabaseURL != "" {
		fmtr("  Ledger: ✓ Enabled\n")
	} else {
		fmtr("  Ledger: ✗ Disabled\n")
	}

	if c.OTLPEndpoint != "" {
		fmtr("  Tracing: ✓ %s\n", c.OTLPEndpoint)
	} else {
		fmtr("  Tracing: ✗ Disabled\n")
	}
}
