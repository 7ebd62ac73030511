package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "<not set>", MaskSecret(""))
	assert.Equal(t, "***", MaskSecret("short"))
	assert.Equal(t, "abcd...wxyz", MaskSecret("abcdefghijklmnopqrstuvwxyz"))
}

func TestValidate(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")

	cfg := EnvConfig{BaseURL: "not a url"}
	err := cfg.Validate()
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "BASE_URL")
		assert.Contains(t, err.Error(), "CALLBACK_SECRET is required")
	}

	cfg = EnvConfig{BaseURL: "https://hooks.example.com", CallbackSecret: "0123456789abcdef"}
	assert.NoError(t, cfg.Validate())
}

func TestCallbackURL(t *testing.T) {
	cfg := EnvConfig{BaseURL: "https://hooks.example.com/", CallbackSecret: "s3cr3t&x"}
	assert.Equal(t, "https://hooks.example.com/api/workitems/callbacks/complete?secret=s3cr3t%26x", cfg.CallbackURL("complete"))

	cfg.CallbackSecret = ""
	assert.Equal(t, "https://hooks.example.com/api/workitems/callbacks/progress", cfg.CallbackURL("progress"))
}
