package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBindings maps config keys to the bare environment variable names the
// core recognises. These are bound without a prefix: the host runtime
// exports them exactly as named.
var envBindings = map[string]string{
	"kill_switch":                           "KILL_SWITCH",
	"kill_switch_confirm_code":              "KILL_SWITCH_CONFIRM_CODE",
	"lockdown_mode":                         "LOCKDOWN_MODE",
	"lockdown_network_allowlist":            "LOCKDOWN_NETWORK_ALLOWLIST",
	"hitl_mode":                             "HITL_MODE",
	"budget.daily_cost_limit_usd":           "DAILY_COST_LIMIT_USD",
	"budget.per_run_cost_limit_usd":         "PER_RUN_COST_LIMIT_USD",
	"budget.tokens_per_run_limit":           "TOKENS_PER_RUN_LIMIT",
	"budget.tool_calls_per_run_limit":       "TOOL_CALLS_PER_RUN_LIMIT",
	"budget.warning_threshold":              "BUDGET_WARNING_THRESHOLD",
	"budget.auto_downgrade":                 "BUDGET_AUTO_DOWNGRADE",
	"budget.hard_stop":                      "BUDGET_HARD_STOP",
	"rate_limit.messages_per_user_capacity": "RATE_LIMIT_MESSAGES_PER_USER",
	"rate_limit.messages_per_ip_capacity":   "RATE_LIMIT_MESSAGES_PER_IP",
	"rate_limit.messages_global_capacity":   "RATE_LIMIT_MESSAGES_GLOBAL",
	"rate_limit.tool_calls_per_run":         "RATE_LIMIT_TOOL_CALLS_PER_RUN",
	"rate_limit.tool_calls_per_min_capacity": "RATE_LIMIT_TOOL_CALLS_PER_MIN",
	"rate_limit.llm_per_minute_capacity":    "RATE_LIMIT_LLM_PER_MINUTE",
	"rate_limit.llm_per_hour_capacity":      "RATE_LIMIT_LLM_PER_HOUR",
	"workspace_root":                        "WORKSPACE_ROOT",
	"server.addr":                           "CONTROL_ADDR",
}

// InitViper wires the config file search and environment bindings onto a
// fresh viper instance.
func InitViper(v *viper.Viper, configFile string) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		v.SetConfigFile(found)
	} else {
		v.SetConfigName("clawguard")
		v.SetConfigType("yaml")
	}

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	setDefaults(v)
}

// findConfigFile searches the working directory and /etc/clawguard for a
// clawguard.yaml/.yml. An explicit extension is required so the binary
// itself is never matched.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{".", filepath.Join(home, ".clawguard"), "/etc/clawguard"}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "clawguard"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// setDefaults applies the built-in defaults (spec §6 table).
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8642")
	v.SetDefault("server.log_level", "info")

	v.SetDefault("kill_switch", false)
	v.SetDefault("kill_switch_confirm_code", "CONFIRM_DEACTIVATE")
	v.SetDefault("lockdown_mode", false)
	v.SetDefault("hitl_mode", "selective")

	v.SetDefault("budget.daily_cost_limit_usd", 10.0)
	v.SetDefault("budget.per_run_cost_limit_usd", 1.0)
	v.SetDefault("budget.tokens_per_run_limit", 100_000)
	v.SetDefault("budget.tool_calls_per_run_limit", 100)
	v.SetDefault("budget.warning_threshold", 0.7)
	v.SetDefault("budget.auto_downgrade", true)
	v.SetDefault("budget.hard_stop", true)

	v.SetDefault("rate_limit.messages_per_user_capacity", 60.0)
	v.SetDefault("rate_limit.messages_per_ip_capacity", 100.0)
	v.SetDefault("rate_limit.messages_global_capacity", 1000.0)
	v.SetDefault("rate_limit.tool_calls_per_run", 100)
	v.SetDefault("rate_limit.tool_calls_per_min_capacity", 30.0)
	v.SetDefault("rate_limit.llm_per_minute_capacity", 20.0)
	v.SetDefault("rate_limit.llm_per_hour_capacity", 500.0)

	v.SetDefault("workspace_root", defaultWorkspaceRoot())
	v.SetDefault("quarantine_ttl", time.Hour)
}

func defaultWorkspaceRoot() string {
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// Load reads the config file (if any), applies environment overrides and
// defaults, and validates the result.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	InitViper(v, configFile)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// A missing explicit file is an error; a missing search-path
			// file means env-only configuration.
			if configFile != "" || !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// The allowlist env var is a comma-separated string; a YAML list
	// reads back as "" here and keeps the unmarshalled value.
	if raw := v.GetString("lockdown_network_allowlist"); raw != "" {
		cfg.LockdownNetworkAllowlist = splitCommaList(raw)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
