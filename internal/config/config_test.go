package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FINISH_POLICY", "")
	t.Setenv("JOIN_TOKEN_LENGTH", "")
	t.Setenv("AUTO_FINISH_CRON", "")

	cfg := Load()

	if cfg.FinishPolicy != FinishPolicyRecompute {
		t.Errorf("FinishPolicy = %q, want %q", cfg.FinishPolicy, FinishPolicyRecompute)
	}
	if cfg.JoinTokenLength != 6 {
		t.Errorf("JoinTokenLength = %d, want 6", cfg.JoinTokenLength)
	}
	if cfg.AutoFinishCron != "" {
		t.Errorf("AutoFinishCron = %q, want empty", cfg.AutoFinishCron)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FINISH_POLICY", "REJECT")
	t.Setenv("AUTO_MIGRATE", "true")
	t.Setenv("QUESTION_CACHE_TTL_SECONDS", "30")
	t.Setenv("VIOLATION_WRITE_TIMEOUT_MS", "250")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, ,http://b.test")

	cfg := Load()

	if cfg.FinishPolicy != FinishPolicyReject {
		t.Errorf("FinishPolicy = %q, want %q", cfg.FinishPolicy, FinishPolicyReject)
	}
	if !cfg.AutoMigrate {
		t.Error("AutoMigrate = false, want true")
	}
	if cfg.QuestionCacheTTL != 30*time.Second {
		t.Errorf("QuestionCacheTTL = %v, want 30s", cfg.QuestionCacheTTL)
	}
	if cfg.ViolationWriteTimeout != 250*time.Millisecond {
		t.Errorf("ViolationWriteTimeout = %v, want 250ms", cfg.ViolationWriteTimeout)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %v, want 2 entries", cfg.AllowedOrigins)
	}
}

func TestGetEnvDurationRejectsGarbage(t *testing.T) {
	t.Setenv("SOME_DURATION", "abc")
	if got := getEnvDuration("SOME_DURATION", time.Minute, time.Second); got != time.Minute {
		t.Errorf("getEnvDuration = %v, want fallback", got)
	}
	t.Setenv("SOME_DURATION", "-3")
	if got := getEnvDuration("SOME_DURATION", time.Minute, time.Second); got != time.Minute {
		t.Errorf("getEnvDuration = %v, want fallback", got)
	}
}
