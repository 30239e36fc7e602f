package authbridge

import (
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authbridge/password"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = "c2VjcmV0LXNlY3JldC1zZWNyZXQtc2VjcmV0LXNlY3JldA=="
	return cfg
}

func TestDefaultConfigNeedsSecret(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "Secret") {
		t.Fatalf("expected missing secret error, got %v", err)
	}
	cfg = validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"refresh shorter than access": func(c *Config) { c.JWT.RefreshTTL = time.Minute },
		"prefix with colon":           func(c *Config) { c.Session.RedisPrefix = "a:b" },
		"zero iterations":             func(c *Config) { c.Password.LegacyIterations = 0 },
		"iterations above ceiling": func(c *Config) {
			c.Password.LegacyIterations = password.MaxIterations + 1
		},
		"skew too large": func(c *Config) { c.TOTP.Skew = 9 },
		"login limit without cooldown": func(c *Config) {
			c.Security.MaxLoginAttempts = 5
			c.Security.LoginCooldownDuration = 0
		},
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestBuilderRejectsMissingCollaborators(t *testing.T) {
	if _, err := New().WithConfig(validConfig()).Build(); err == nil {
		t.Fatalf("expected build without redis to fail")
	}
}
