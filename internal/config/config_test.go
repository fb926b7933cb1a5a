package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())

	if got := cfg.GetPipeline().Strategy; got != "llm" {
		t.Errorf("pipeline.strategy = %q, want llm", got)
	}
	if got := cfg.GetOpenAI().ModelName; got != "gpt-4o-mini" {
		t.Errorf("openai.model_name = %q, want gpt-4o-mini", got)
	}

	quota := cfg.GetQuota()
	if quota.MaxEmails != 300 || quota.MaxClassifications != 300 || quota.MaxExtractions != 30 {
		t.Errorf("quota = %+v, want 300/300/30", quota)
	}

	scan := cfg.GetScan()
	if scan.CallDelay != 100*time.Millisecond || scan.RefreshMargin != 5*time.Minute {
		t.Errorf("scan durations = %v/%v, want 100ms/5m", scan.CallDelay, scan.RefreshMargin)
	}
	if scan.MinConfidence != 40 || scan.DefaultBackfillMonths != 12 {
		t.Errorf("scan = %+v", scan)
	}

	retry := cfg.GetRetry()
	if retry.Attempts != 3 || retry.Delay != time.Second || retry.MaxDelay != 8*time.Second {
		t.Errorf("retry = %+v, want 3 attempts 1s..8s", retry)
	}

	if got := cfg.GetStore().Type; got != "memory" {
		t.Errorf("store.type = %q, want memory", got)
	}
	if got := cfg.GetNotify().Type; got != "none" {
		t.Errorf("notify.type = %q, want none", got)
	}
	if got := cfg.GetServer().ListenAddress; got != "0.0.0.0:8080" {
		t.Errorf("server.listen_address = %q", got)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("TOOL_SCANNER_QUOTA_MAX_EXTRACTIONS", "5")
	t.Setenv("TOOL_SCANNER_STORE_TYPE", "sqlite")
	t.Setenv("TOOL_SCANNER_OAUTH_GOOGLE_CLIENT_ID", "google-id")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := cfg.GetQuota().MaxExtractions; got != 5 {
		t.Errorf("MaxExtractions = %d, want 5", got)
	}
	if got := cfg.GetStore().Type; got != "sqlite" {
		t.Errorf("store.type = %q, want sqlite", got)
	}
	if got := cfg.GetOAuth().Google.ClientID; got != "google-id" {
		t.Errorf("google client id = %q, want google-id", got)
	}
}
