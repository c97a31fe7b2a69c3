package control

import (
	"log/slog"
	"strings"
	"sync"
)

// DefaultNetworkAllowlist is the lockdown-mode outbound allowlist on a
// fresh install: known-safe API hosts only.
var DefaultNetworkAllowlist = []string{
	"api.anthropic.com",
	"api.openai.com",
	"generativelanguage.googleapis.com",
	"api.github.com",
	"pypi.org",
	"registry.npmjs.org",
}

// LockdownConfig is a snapshot of the lockdown posture.
type LockdownConfig struct {
	Enabled                  bool     `json:"enabled"`
	ExternalCommsConfirm     bool     `json:"external_comms_confirm"`
	WritesDeletesConfirm     bool     `json:"writes_deletes_confirm"`
	ShellBrowserDeny         bool     `json:"shell_browser_deny"`
	OutboundNetworkAllowlist []string `json:"outbound_network_allowlist"`
}

// LockdownOptions selects which restrictions to enable. Nil fields keep
// the restrictive default (all restrictions on, built-in allowlist).
type LockdownOptions struct {
	ExternalCommsConfirm     *bool
	WritesDeletesConfirm     *bool
	ShellBrowserDeny         *bool
	OutboundNetworkAllowlist []string
}

// Lockdown is the process-wide lockdown posture.
type Lockdown struct {
	mu     sync.RWMutex
	config LockdownConfig
	logger *slog.Logger
}

// NewLockdown creates a disabled lockdown with the default allowlist.
func NewLockdown(logger *slog.Logger) *Lockdown {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lockdown{
		config: LockdownConfig{
			ExternalCommsConfirm:     true,
			WritesDeletesConfirm:     true,
			ShellBrowserDeny:         true,
			OutboundNetworkAllowlist: append([]string(nil), DefaultNetworkAllowlist...),
		},
		logger: logger,
	}
}

// Enable turns lockdown on, applying any option overrides.
func (l *Lockdown) Enable(opts LockdownOptions) {
	l.mu.Lock()
	l.config.Enabled = true
	if opts.ExternalCommsConfirm != nil {
		l.config.ExternalCommsConfirm = *opts.ExternalCommsConfirm
	}
	if opts.WritesDeletesConfirm != nil {
		l.config.WritesDeletesConfirm = *opts.WritesDeletesConfirm
	}
	if opts.ShellBrowserDeny != nil {
		l.config.ShellBrowserDeny = *opts.ShellBrowserDeny
	}
	if opts.OutboundNetworkAllowlist != nil {
		l.config.OutboundNetworkAllowlist = normalizeDomains(opts.OutboundNetworkAllowlist)
	}
	cfg := l.config
	l.mu.Unlock()

	l.logger.Warn("lockdown enabled",
		"external_comms_confirm", cfg.ExternalCommsConfirm,
		"writes_deletes_confirm", cfg.WritesDeletesConfirm,
		"shell_browser_deny", cfg.ShellBrowserDeny,
		"allowlist_size", len(cfg.OutboundNetworkAllowlist),
	)
}

// Disable turns lockdown off. Restriction flags and allowlist are kept
// for the next Enable.
func (l *Lockdown) Disable() {
	l.mu.Lock()
	l.config.Enabled = false
	l.mu.Unlock()
	l.logger.Info("lockdown disabled")
}

// IsEnabled reports whether lockdown is on.
func (l *Lockdown) IsEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.Enabled
}

// Config returns a snapshot of the lockdown configuration.
func (l *Lockdown) Config() LockdownConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg := l.config
	cfg.OutboundNetworkAllowlist = append([]string(nil), l.config.OutboundNetworkAllowlist...)
	return cfg
}

// AddToAllowlist adds domains to the outbound allowlist.
func (l *Lockdown) AddToAllowlist(domains []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, domain := range normalizeDomains(domains) {
		if !containsDomain(l.config.OutboundNetworkAllowlist, domain) {
			l.config.OutboundNetworkAllowlist = append(l.config.OutboundNetworkAllowlist, domain)
		}
	}
}

// RemoveFromAllowlist removes domains from the outbound allowlist.
func (l *Lockdown) RemoveFromAllowlist(domains []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	remove := make(map[string]bool, len(domains))
	for _, domain := range normalizeDomains(domains) {
		remove[domain] = true
	}
	kept := l.config.OutboundNetworkAllowlist[:0]
	for _, domain := range l.config.OutboundNetworkAllowlist {
		if !remove[domain] {
			kept = append(kept, domain)
		}
	}
	l.config.OutboundNetworkAllowlist = kept
}

// IsDomainAllowed reports whether domain (or a parent domain) is on the
// allowlist. Matching is case-insensitive and suffix-based, so
// "api.github.com" allows "uploads.api.github.com".
func (l *Lockdown) IsDomainAllowed(domain string) bool {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	if domain == "" {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, allowed := range l.config.OutboundNetworkAllowlist {
		if domain == allowed || strings.HasSuffix(domain, "."+allowed) {
			return true
		}
	}
	return false
}

func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, domain := range domains {
		domain = strings.ToLower(strings.TrimSpace(strings.TrimSuffix(domain, ".")))
		if domain != "" {
			out = append(out, domain)
		}
	}
	return out
}

func containsDomain(list []string, domain string) bool {
	for _, d := range list {
		if d == domain {
			return true
		}
	}
	return false
}
