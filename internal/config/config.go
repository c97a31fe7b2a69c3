// Package config loads the security core configuration from an optional
// YAML file plus the environment variables the core recognises at init.
package config

import (
	"time"

	"github.com/clawguard/clawguard/internal/domain/ratelimit"
)

// ServerConfig configures the admin/control HTTP listener.
type ServerConfig struct {
	// Addr is the listen address for the control surface.
	Addr string `yaml:"addr" mapstructure:"addr" validate:"required"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

// BudgetConfig carries the default cost budget limits.
type BudgetConfig struct {
	DailyCostLimitUSD    float64 `yaml:"daily_cost_limit_usd" mapstructure:"daily_cost_limit_usd" validate:"gte=0"`
	PerRunCostLimitUSD   float64 `yaml:"per_run_cost_limit_usd" mapstructure:"per_run_cost_limit_usd" validate:"gte=0"`
	TokensPerRunLimit    int64   `yaml:"tokens_per_run_limit" mapstructure:"tokens_per_run_limit" validate:"gte=0"`
	ToolCallsPerRunLimit int     `yaml:"tool_calls_per_run_limit" mapstructure:"tool_calls_per_run_limit" validate:"gte=0"`
	WarningThreshold     float64 `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"gt=0,lte=1"`
	AutoDowngrade        bool    `yaml:"auto_downgrade" mapstructure:"auto_downgrade"`
	HardStop             bool    `yaml:"hard_stop" mapstructure:"hard_stop"`
}

// RateLimitConfig carries the bucket size overrides.
type RateLimitConfig struct {
	MessagesPerUserCapacity float64 `yaml:"messages_per_user_capacity" mapstructure:"messages_per_user_capacity" validate:"gt=0"`
	MessagesPerIPCapacity   float64 `yaml:"messages_per_ip_capacity" mapstructure:"messages_per_ip_capacity" validate:"gt=0"`
	MessagesGlobalCapacity  float64 `yaml:"messages_global_capacity" mapstructure:"messages_global_capacity" validate:"gt=0"`
	ToolCallsPerRun         int     `yaml:"tool_calls_per_run" mapstructure:"tool_calls_per_run" validate:"gt=0"`
	ToolCallsPerMinCapacity float64 `yaml:"tool_calls_per_min_capacity" mapstructure:"tool_calls_per_min_capacity" validate:"gt=0"`
	LLMPerMinuteCapacity    float64 `yaml:"llm_per_minute_capacity" mapstructure:"llm_per_minute_capacity" validate:"gt=0"`
	LLMPerHourCapacity      float64 `yaml:"llm_per_hour_capacity" mapstructure:"llm_per_hour_capacity" validate:"gt=0"`
}

// Config is the full configuration of the security core.
type Config struct {
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// KillSwitch activates the kill switch at boot.
	KillSwitch bool `yaml:"kill_switch" mapstructure:"kill_switch"`
	// KillSwitchConfirmCode deactivates the kill switch.
	KillSwitchConfirmCode string `yaml:"kill_switch_confirm_code" mapstructure:"kill_switch_confirm_code" validate:"required,min=8"`

	// LockdownMode enables lockdown at boot.
	LockdownMode bool `yaml:"lockdown_mode" mapstructure:"lockdown_mode"`
	// LockdownNetworkAllowlist overrides the built-in allowlist.
	LockdownNetworkAllowlist []string `yaml:"lockdown_network_allowlist" mapstructure:"lockdown_network_allowlist"`

	// HITLMode is off, selective, or full.
	HITLMode string `yaml:"hitl_mode" mapstructure:"hitl_mode" validate:"oneof=off selective full"`

	Budget    BudgetConfig    `yaml:"budget" mapstructure:"budget"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// WorkspaceRoot is the directory agent writes are unrestricted in.
	WorkspaceRoot string `yaml:"workspace_root" mapstructure:"workspace_root"`

	// QuarantineTTL is how long quarantined content is retained.
	QuarantineTTL time.Duration `yaml:"quarantine_ttl" mapstructure:"quarantine_ttl" validate:"gt=0"`
}

// RateLimiterConfig converts the overrides into the limiter's config,
// keeping the built-in refill rates.
func (c *Config) RateLimiterConfig() ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	cfg.MessagesPerUser.Capacity = c.RateLimit.MessagesPerUserCapacity
	cfg.MessagesPerIP.Capacity = c.RateLimit.MessagesPerIPCapacity
	cfg.MessagesGlobal.Capacity = c.RateLimit.MessagesGlobalCapacity
	cfg.ToolCallsPerRun = c.RateLimit.ToolCallsPerRun
	cfg.ToolCallsPerMin.Capacity = c.RateLimit.ToolCallsPerMinCapacity
	cfg.LLMPerMinute.Capacity = c.RateLimit.LLMPerMinuteCapacity
	cfg.LLMPerHour.Capacity = c.RateLimit.LLMPerHourCapacity
	return cfg
}
