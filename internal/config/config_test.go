package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_UsesInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "DRAFT_SERVICE_INTERNAL_API_KEY")
	setEnvWithCleanup(t, "INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DraftServiceAPIKey != "alias-only-key" {
		t.Fatalf("expected DraftServiceAPIKey from alias env var, got %q", cfg.DraftServiceAPIKey)
	}
}

func TestLoadConfig_DraftServiceKeyTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DRAFT_SERVICE_INTERNAL_API_KEY", "primary-key")
	setEnvWithCleanup(t, "INTERNAL_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DraftServiceAPIKey != "primary-key" {
		t.Fatalf("expected DraftServiceAPIKey to prioritize DRAFT_SERVICE_INTERNAL_API_KEY, got %q", cfg.DraftServiceAPIKey)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SIGNATURE_TOLERANCE_SECONDS")
	unsetEnvWithCleanup(t, "DEAD_LETTER_RETRY_THRESHOLD")
	unsetEnvWithCleanup(t, "RETRY_WORKER_SCHEDULE")
	unsetEnvWithCleanup(t, "RETRY_INITIAL_DELAY_MINUTES")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SignatureToleranceSeconds != 300 {
		t.Fatalf("expected default SignatureToleranceSeconds 300, got %d", cfg.SignatureToleranceSeconds)
	}
	if cfg.DeadLetterRetryThreshold != 3 {
		t.Fatalf("expected default DeadLetterRetryThreshold 3, got %d", cfg.DeadLetterRetryThreshold)
	}
	if cfg.RetryWorkerSchedule != "*/2 * * * *" {
		t.Fatalf("expected default RetryWorkerSchedule, got %q", cfg.RetryWorkerSchedule)
	}
	if cfg.RetryInitialDelayMinutes != 2 {
		t.Fatalf("expected default RetryInitialDelayMinutes 2, got %d", cfg.RetryInitialDelayMinutes)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9191")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9191" {
		t.Fatalf("expected PORT to override ServerPort, got %q", cfg.ServerPort)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
