package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(tmp, "state"))
	return tmp
}

func TestLoadDefaults(t *testing.T) {
	tmp := isolate(t)
	settings, err := Load(GlobalFlags{Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "json" || settings.Timeout != 10*time.Second {
		t.Fatalf("unexpected output defaults: %+v", settings)
	}
	if settings.Retry.InitialDelay != time.Second || settings.Retry.MaxDelay != 30*time.Second || settings.Retry.MaxRetries != 3 {
		t.Fatalf("unexpected retry defaults: %+v", settings.Retry)
	}
	if settings.ApprovalTTL != 5*time.Minute || settings.RateLimit != 20 || settings.RateWindow != time.Minute {
		t.Fatalf("unexpected safety defaults: %+v", settings)
	}
	if settings.MaxPlanSteps != 5 || settings.MaxInputLength != 2000 {
		t.Fatalf("unexpected limits: steps=%d input=%d", settings.MaxPlanSteps, settings.MaxInputLength)
	}
	if !settings.AuditEnabled || settings.AuditPath != filepath.Join(tmp, "state", "swapguard", "audit.db") {
		t.Fatalf("unexpected audit settings: enabled=%v path=%s", settings.AuditEnabled, settings.AuditPath)
	}
}

func TestLoadTrustClientID(t *testing.T) {
	tmp := isolate(t)
	settings, err := Load(GlobalFlags{Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.TrustClientID {
		t.Fatal("client id header must not be trusted by default")
	}

	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  trust_client_header: true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	settings, err = Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !settings.TrustClientID {
		t.Fatal("expected file setting to enable the header")
	}

	t.Setenv("SWAPGUARD_TRUST_CLIENT_ID", "false")
	settings, err = Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.TrustClientID {
		t.Fatal("expected env to override the file")
	}
}

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := isolate(t)
	configPath := filepath.Join(tmp, "config.yaml")
	body := `output: plain
retry:
  max_retries: 1
  initial_delay: 250ms
approval:
  ttl: 2m
rate_limit:
  requests: 5
  window: 10s
rpc:
  Base: https://file.example/base
`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SWAPGUARD_OUTPUT", "json")
	t.Setenv("SWAPGUARD_MAX_RETRIES", "4")
	t.Setenv("SWAPGUARD_RATE_LIMIT_REQUESTS", "7")
	t.Setenv("SWAPGUARD_RPC_ARBITRUM", "https://env.example/arb")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Retries: 5}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retry.MaxRetries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retry.MaxRetries)
	}
	if settings.RateLimit != 7 || settings.RateWindow != 10*time.Second {
		t.Fatalf("expected env rate limit over file, got %d/%s", settings.RateLimit, settings.RateWindow)
	}
	if settings.Retry.InitialDelay != 250*time.Millisecond || settings.ApprovalTTL != 2*time.Minute {
		t.Fatalf("expected file durations, got %s/%s", settings.Retry.InitialDelay, settings.ApprovalTTL)
	}
	if settings.RPCOverrides["base"] != "https://file.example/base" || settings.RPCOverrides["arbitrum"] != "https://env.example/arb" {
		t.Fatalf("unexpected rpc overrides: %#v", settings.RPCOverrides)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	isolate(t)
	_, err := Load(GlobalFlags{JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadRejectsBadFileDuration(t *testing.T) {
	tmp := isolate(t)
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("approval:\n  ttl: soon\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1}); err == nil {
		t.Fatal("expected invalid duration to fail")
	}
}

func TestLoadNormalizesOutOfRangeValues(t *testing.T) {
	isolate(t)
	t.Setenv("SWAPGUARD_JITTER_FACTOR", "3")
	t.Setenv("SWAPGUARD_MAX_PLAN_STEPS", "0")
	t.Setenv("SWAPGUARD_MAX_DELAY", "1ms")
	t.Setenv("SWAPGUARD_OTEL_ENDPOINT", "collector:4317")
	settings, err := Load(GlobalFlags{Retries: -1, EnableTools: "checkBalance, swapTokens", NoAudit: true})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Retry.JitterFactor != 0.1 || settings.MaxPlanSteps != 5 {
		t.Fatalf("expected defaults for out of range values, got %+v", settings)
	}
	if settings.Retry.MaxDelay != settings.Retry.InitialDelay {
		t.Fatalf("max delay must not undercut initial delay, got %s", settings.Retry.MaxDelay)
	}
	if len(settings.EnableTools) != 2 || settings.EnableTools[1] != "swapTokens" || settings.AuditEnabled {
		t.Fatalf("unexpected flag values: tools=%v audit=%v", settings.EnableTools, settings.AuditEnabled)
	}
	if !settings.Telemetry.Enabled || settings.Telemetry.Endpoint != "collector:4317" || settings.Telemetry.ServiceName != "swapguard" {
		t.Fatalf("unexpected telemetry settings: %+v", settings.Telemetry)
	}
}
