package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ggonzalez94/swapguard/internal/approval"
	"github.com/ggonzalez94/swapguard/internal/injection"
	"github.com/ggonzalez94/swapguard/internal/logging"
	"github.com/ggonzalez94/swapguard/internal/plan"
	"github.com/ggonzalez94/swapguard/internal/ratelimit"
	"github.com/ggonzalez94/swapguard/internal/recovery"
	"github.com/ggonzalez94/swapguard/internal/telemetry"
)

const envPrefix = "SWAPGUARD_"

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	EnableTools    string
	Timeout        string
	Retries        int
	ClientID       string
	LogLevel       string
	NoAudit        bool
}

type Settings struct {
	OutputMode       string
	SelectFields     []string
	ResultsOnly      bool
	EnableCommands   []string
	EnableTools      []string
	Timeout          time.Duration
	Retry            recovery.Config
	ApprovalTTL      time.Duration
	RateLimit        int
	RateWindow       time.Duration
	MaxPlanSteps     int
	MaxInputLength   int
	ClientID         string
	AuditEnabled     bool
	AuditPath        string
	AuditLockPath    string
	ServerAddr       string
	TrustClientID    bool
	BroadcasterURL   string
	WalletAddress    string
	RPCOverrides     map[string]string
	Log              logging.Config
	Telemetry        telemetry.Config
	ShutdownDeadline time.Duration
}

type fileConfig struct {
	Output  string   `yaml:"output"`
	Timeout string   `yaml:"timeout"`
	Tools   []string `yaml:"enable_tools"`
	Retry   struct {
		InitialDelay string   `yaml:"initial_delay"`
		MaxDelay     string   `yaml:"max_delay"`
		MaxRetries   *int     `yaml:"max_retries"`
		Multiplier   *float64 `yaml:"multiplier"`
		JitterFactor *float64 `yaml:"jitter_factor"`
	} `yaml:"retry"`
	Approval struct {
		TTL string `yaml:"ttl"`
	} `yaml:"approval"`
	RateLimit struct {
		Requests *int   `yaml:"requests"`
		Window   string `yaml:"window"`
	} `yaml:"rate_limit"`
	Plan struct {
		MaxSteps *int `yaml:"max_steps"`
	} `yaml:"plan"`
	Input struct {
		MaxLength *int `yaml:"max_length"`
	} `yaml:"input"`
	Audit struct {
		Enabled  *bool  `yaml:"enabled"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"audit"`
	Server struct {
		Addr              string `yaml:"addr"`
		TrustClientHeader *bool  `yaml:"trust_client_header"`
	} `yaml:"server"`
	Broadcaster struct {
		URL    string `yaml:"url"`
		URLEnv string `yaml:"url_env"`
	} `yaml:"broadcaster"`
	Wallet struct {
		Address string `yaml:"address"`
	} `yaml:"wallet"`
	RPC       map[string]string `yaml:"rpc"`
	Log       *logging.Config   `yaml:"log"`
	Telemetry *telemetry.Config `yaml:"telemetry"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	normalize(&settings)
	return settings, nil
}

func defaultSettings() (Settings, error) {
	auditPath, lockPath, err := defaultAuditPaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:       "json",
		Timeout:          10 * time.Second,
		Retry:            recovery.DefaultConfig(),
		ApprovalTTL:      approval.DefaultTTL,
		RateLimit:        ratelimit.DefaultRequests,
		RateWindow:       ratelimit.DefaultWindow,
		MaxPlanSteps:     plan.DefaultMaxSteps,
		MaxInputLength:   injection.DefaultMaxLength,
		AuditEnabled:     true,
		AuditPath:        auditPath,
		AuditLockPath:    lockPath,
		ServerAddr:       "127.0.0.1:8480",
		RPCOverrides:     map[string]string{},
		Log:              logging.Config{Level: "warn"},
		Telemetry:        telemetry.Config{ServiceName: "swapguard"},
		ShutdownDeadline: 10 * time.Second,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	if v := os.Getenv(envPrefix + "CONFIG"); v != "" {
		return v, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "swapguard", "config.yaml"), nil
}

func defaultAuditPaths() (string, string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".local", "state")
	}
	dir := filepath.Join(base, "swapguard")
	return filepath.Join(dir, "audit.db"), filepath.Join(dir, "audit.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if len(cfg.Tools) > 0 {
		settings.EnableTools = cfg.Tools
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"timeout", cfg.Timeout, &settings.Timeout},
		{"retry.initial_delay", cfg.Retry.InitialDelay, &settings.Retry.InitialDelay},
		{"retry.max_delay", cfg.Retry.MaxDelay, &settings.Retry.MaxDelay},
		{"approval.ttl", cfg.Approval.TTL, &settings.ApprovalTTL},
		{"rate_limit.window", cfg.RateLimit.Window, &settings.RateWindow},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	if cfg.Retry.MaxRetries != nil {
		settings.Retry.MaxRetries = *cfg.Retry.MaxRetries
	}
	if cfg.Retry.Multiplier != nil {
		settings.Retry.Multiplier = *cfg.Retry.Multiplier
	}
	if cfg.Retry.JitterFactor != nil {
		settings.Retry.JitterFactor = *cfg.Retry.JitterFactor
	}
	if cfg.RateLimit.Requests != nil {
		settings.RateLimit = *cfg.RateLimit.Requests
	}
	if cfg.Plan.MaxSteps != nil {
		settings.MaxPlanSteps = *cfg.Plan.MaxSteps
	}
	if cfg.Input.MaxLength != nil {
		settings.MaxInputLength = *cfg.Input.MaxLength
	}
	if cfg.Audit.Enabled != nil {
		settings.AuditEnabled = *cfg.Audit.Enabled
	}
	if cfg.Audit.Path != "" {
		settings.AuditPath = cfg.Audit.Path
	}
	if cfg.Audit.LockPath != "" {
		settings.AuditLockPath = cfg.Audit.LockPath
	}
	if cfg.Server.Addr != "" {
		settings.ServerAddr = cfg.Server.Addr
	}
	if cfg.Server.TrustClientHeader != nil {
		settings.TrustClientID = *cfg.Server.TrustClientHeader
	}
	if cfg.Broadcaster.URL != "" {
		settings.BroadcasterURL = cfg.Broadcaster.URL
	}
	if cfg.Broadcaster.URLEnv != "" {
		settings.BroadcasterURL = os.Getenv(cfg.Broadcaster.URLEnv)
	}
	if cfg.Wallet.Address != "" {
		settings.WalletAddress = cfg.Wallet.Address
	}
	for chain, url := range cfg.RPC {
		settings.RPCOverrides[strings.ToLower(strings.TrimSpace(chain))] = url
	}
	if cfg.Log != nil {
		if cfg.Log.Level != "" {
			settings.Log.Level = cfg.Log.Level
		}
		settings.Log.Pretty = cfg.Log.Pretty
	}
	if cfg.Telemetry != nil {
		service := settings.Telemetry.ServiceName
		settings.Telemetry = *cfg.Telemetry
		if settings.Telemetry.ServiceName == "" {
			settings.Telemetry.ServiceName = service
		}
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv(envPrefix + "OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv(envPrefix + "ENABLE_TOOLS"); v != "" {
		settings.EnableTools = splitList(v)
	}
	envDuration(envPrefix+"TIMEOUT", &settings.Timeout)
	envDuration(envPrefix+"INITIAL_DELAY", &settings.Retry.InitialDelay)
	envDuration(envPrefix+"MAX_DELAY", &settings.Retry.MaxDelay)
	envDuration(envPrefix+"APPROVAL_TTL", &settings.ApprovalTTL)
	envDuration(envPrefix+"RATE_LIMIT_WINDOW", &settings.RateWindow)
	envInt(envPrefix+"MAX_RETRIES", &settings.Retry.MaxRetries)
	envInt(envPrefix+"RATE_LIMIT_REQUESTS", &settings.RateLimit)
	envInt(envPrefix+"MAX_PLAN_STEPS", &settings.MaxPlanSteps)
	envInt(envPrefix+"MAX_INPUT_LENGTH", &settings.MaxInputLength)
	if v := os.Getenv(envPrefix + "BACKOFF_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			settings.Retry.Multiplier = f
		}
	}
	if v := os.Getenv(envPrefix + "JITTER_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			settings.Retry.JitterFactor = f
		}
	}
	if v := os.Getenv(envPrefix + "NO_AUDIT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.AuditEnabled = !b
		}
	}
	if v := os.Getenv(envPrefix + "AUDIT_PATH"); v != "" {
		settings.AuditPath = v
	}
	if v := os.Getenv(envPrefix + "AUDIT_LOCK_PATH"); v != "" {
		settings.AuditLockPath = v
	}
	if v := os.Getenv(envPrefix + "ADDR"); v != "" {
		settings.ServerAddr = v
	}
	if v := os.Getenv(envPrefix + "TRUST_CLIENT_ID"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.TrustClientID = b
		}
	}
	if v := os.Getenv(envPrefix + "BROADCASTER_URL"); v != "" {
		settings.BroadcasterURL = v
	}
	if v := os.Getenv(envPrefix + "WALLET"); v != "" {
		settings.WalletAddress = v
	}
	if v := os.Getenv(envPrefix + "CLIENT_ID"); v != "" {
		settings.ClientID = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		settings.Log.Level = v
	}
	if v := os.Getenv(envPrefix + "LOG_PRETTY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.Log.Pretty = b
		}
	}
	if v := os.Getenv(envPrefix + "OTEL_ENDPOINT"); v != "" {
		settings.Telemetry.Enabled = true
		settings.Telemetry.Endpoint = v
	}
	if v := os.Getenv(envPrefix + "OTEL_INSECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.Telemetry.Insecure = b
		}
	}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" || !strings.HasPrefix(key, envPrefix+"RPC_") {
			continue
		}
		chain := strings.ToLower(strings.TrimPrefix(key, envPrefix+"RPC_"))
		if chain != "" {
			settings.RPCOverrides[chain] = value
		}
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = splitList(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly

	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitList(flags.EnableCommands)
	}
	if strings.TrimSpace(flags.EnableTools) != "" {
		settings.EnableTools = splitList(flags.EnableTools)
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retry.MaxRetries = flags.Retries
	}
	if strings.TrimSpace(flags.ClientID) != "" {
		settings.ClientID = strings.TrimSpace(flags.ClientID)
	}
	if flags.LogLevel != "" {
		settings.Log.Level = flags.LogLevel
	}
	if flags.NoAudit {
		settings.AuditEnabled = false
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	return nil
}

func normalize(settings *Settings) {
	defaults := recovery.DefaultConfig()
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retry.MaxRetries < 0 {
		settings.Retry.MaxRetries = 0
	}
	if settings.Retry.InitialDelay <= 0 {
		settings.Retry.InitialDelay = defaults.InitialDelay
	}
	if settings.Retry.MaxDelay < settings.Retry.InitialDelay {
		settings.Retry.MaxDelay = settings.Retry.InitialDelay
	}
	if settings.Retry.Multiplier < 1 {
		settings.Retry.Multiplier = defaults.Multiplier
	}
	if settings.Retry.JitterFactor < 0 || settings.Retry.JitterFactor > 1 {
		settings.Retry.JitterFactor = defaults.JitterFactor
	}
	if settings.ApprovalTTL <= 0 {
		settings.ApprovalTTL = approval.DefaultTTL
	}
	if settings.RateLimit <= 0 {
		settings.RateLimit = ratelimit.DefaultRequests
	}
	if settings.RateWindow <= 0 {
		settings.RateWindow = ratelimit.DefaultWindow
	}
	if settings.MaxPlanSteps <= 0 {
		settings.MaxPlanSteps = plan.DefaultMaxSteps
	}
	if settings.MaxInputLength <= 0 {
		settings.MaxInputLength = injection.DefaultMaxLength
	}
	settings.Log.Service = "swapguard"
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
