package policy

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/clawguard/clawguard/internal/domain/guard"
)

// Priority bands for the built-in rule set. Higher bands evaluate first.
const (
	bandKillSwitch   = 10000
	bandAbsoluteDeny = 9000
	bandBudget       = 8500
	bandLockdown     = 8000
	bandConfirm      = 5000
	bandAllow        = 1000
)

// Tool classification sets. Membership is by exact tool name, lowercased.
var (
	shellTools    = toolSet("exec", "bash", "shell", "command", "terminal")
	browserTools  = toolSet("browser", "browse", "playwright", "puppeteer")
	sendTools     = toolSet("message", "send", "email", "sms", "post", "tweet", "slack", "discord")
	uploadTools   = toolSet("upload", "put_object", "attach")
	writeTools    = toolSet("write", "file_write", "edit", "file_edit", "append", "save")
	readOnlyTools = toolSet("read", "file_read", "cat", "ls", "list", "glob", "grep", "search", "get", "stat", "head", "tail")
	fetchTools    = toolSet("fetch", "web_fetch", "http_get", "download")
	canvasTools   = toolSet("canvas", "image", "draw", "render", "screenshot")
	outputTools   = toolSet("print", "echo", "say", "reply", "respond", "note")
)

// destructiveCommandRe flags shell commands that destroy data even when
// the risk flags were not derived upstream.
var destructiveCommandRe = regexp.MustCompile(`(?i)\brm\s+-[a-z]*[rf]|\bdrop\s+(?:table|database)\b|\bdelete\s+from\b|\btruncate\s+table\b|\bmkfs\b|\bdd\s+if=`)

func toolSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

func toolIn(set map[string]bool, tool string) bool {
	return set[strings.ToLower(tool)]
}

// commandParam pulls a shell command string out of the parameters.
func commandParam(ctx *Context) string {
	for _, key := range []string{"command", "cmd", "script"} {
		if v, ok := ctx.What.Parameters[key].(string); ok {
			return v
		}
	}
	return ""
}

// targetHosts collects every host the action references: explicit domain,
// explicit IP, and the URL's host.
func targetHosts(ctx *Context) []string {
	var hosts []string
	if ctx.Where.Domain != "" {
		hosts = append(hosts, ctx.Where.Domain)
	}
	if ctx.Where.IP != "" {
		hosts = append(hosts, ctx.Where.IP)
	}
	if ctx.Where.URL != "" {
		if host := guard.HostFromURL(ctx.Where.URL); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

func anyHost(ctx *Context, pred func(string) bool) bool {
	for _, host := range targetHosts(ctx) {
		if pred(host) {
			return true
		}
	}
	return false
}

// insideWorkspace reports whether path is under the workspace root. An
// unset root treats nothing as inside.
func insideWorkspace(env *Env, path string) bool {
	if env.WorkspaceRoot == "" || path == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	root := filepath.Clean(env.WorkspaceRoot)
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func isDestructive(ctx *Context) bool {
	if ctx.Risk.IsDestructive {
		return true
	}
	if cmd := commandParam(ctx); cmd != "" && destructiveCommandRe.MatchString(cmd) {
		return true
	}
	action := strings.ToLower(ctx.What.Action)
	return action == "delete" || action == "remove" || action == "drop" || action == "destroy"
}

// builtinRules returns the full built-in rule table in band order.
// Within a band, declaration order is the tie-break.
func builtinRules() []Rule {
	return []Rule{
		// ---- Kill switch (10000) -------------------------------------
		{
			ID: "kill-switch", Name: "Kill switch", Priority: bandKillSwitch,
			Condition: func(env *Env, ctx *Context) bool { return env.KillSwitch.IsActive() },
			Decision:  KindDeny, Reason: "kill switch active: all agent actions are disabled",
		},

		// ---- Absolute denies (9000) ----------------------------------
		{
			ID: "deny-secret-print", Name: "Secret in output", Priority: bandAbsoluteDeny,
			Condition: func(env *Env, ctx *Context) bool {
				return ctx.Risk.AccessesSecrets && toolIn(outputTools, ctx.What.Tool)
			},
			Decision: KindDeny, Reason: "refusing to print secret material",
		},
		{
			ID: "deny-secret-send", Name: "Secret exfiltration", Priority: bandAbsoluteDeny,
			Condition: func(env *Env, ctx *Context) bool {
				return ctx.Risk.AccessesSecrets && ctx.Risk.SendsData
			},
			Decision: KindDeny, Reason: "refusing to send secret material externally",
		},
		{
			// Metadata endpoints sit inside the link-local range; matching
			// them before the generic private-range rule keeps the reason
			// specific.
			ID: "deny-cloud-metadata", Name: "Cloud metadata endpoint", Priority: bandAbsoluteDeny,
			Condition: func(env *Env, ctx *Context) bool {
				return anyHost(ctx, guard.IsMetadataHost)
			},
			Decision: KindDeny, Reason: "target is a cloud metadata endpoint (SSRF protection)",
		},
		{
			ID: "deny-ssrf-hostname", Name: "SSRF blocked hostname", Priority: bandAbsoluteDeny,
			Condition: func(env *Env, ctx *Context) bool {
				return anyHost(ctx, guard.IsBlockedHostname)
			},
			Decision: KindDeny, Reason: "target hostname is blocked (SSRF protection)",
		},
		{
			ID: "deny-ssrf-private-ip", Name: "SSRF private range", Priority: bandAbsoluteDeny,
			Condition: func(env *Env, ctx *Context) bool {
				return anyHost(ctx, guard.IsPrivateIP)
			},
			Decision: KindDeny, Reason: "target address is in a private range (SSRF protection)",
		},

		// ---- Budget (8500) -------------------------------------------
		{
			ID: "deny-tool-call-budget", Name: "Tool call budget", Priority: bandBudget,
			Condition: func(env *Env, ctx *Context) bool {
				return ctx.Budget.ToolCallsLimit > 0 && ctx.Budget.ToolCallsUsed >= ctx.Budget.ToolCallsLimit
			},
			Decision: KindDeny, Reason: "tool call budget for this run is exhausted",
		},
		{
			ID: "deny-cost-budget", Name: "Cost budget", Priority: bandBudget,
			Condition: func(env *Env, ctx *Context) bool {
				return ctx.Budget.CostLimitUSD > 0 && ctx.Budget.CostUSD >= ctx.Budget.CostLimitUSD
			},
			Decision: KindDeny, Reason: "cost budget for this run is exhausted",
		},

		// ---- Lockdown (8000) -----------------------------------------
		{
			ID: "lockdown-shell-browser", Name: "Lockdown: shell/browser", Priority: bandLockdown,
			Condition: func(env *Env, ctx *Context) bool {
				cfg := env.Lockdown.Config()
				return cfg.Enabled && cfg.ShellBrowserDeny &&
					(toolIn(shellTools, ctx.What.Tool) || toolIn(browserTools, ctx.What.Tool))
			},
			Decision: KindDeny, Reason: "lockdown mode denies shell and browser tools",
		},
		{
			ID: "lockdown-network-allowlist", Name: "Lockdown: network allowlist", Priority: bandLockdown,
			Condition: func(env *Env, ctx *Context) bool {
				cfg := env.Lockdown.Config()
				if !cfg.Enabled {
					return false
				}
				hosts := targetHosts(ctx)
				if len(hosts) == 0 {
					return false
				}
				for _, host := range hosts {
					if !env.Lockdown.IsDomainAllowed(host) {
						return true
					}
				}
				return false
			},
			Decision: KindDeny, Reason: "lockdown mode denies network targets outside the allowlist",
		},
		{
			ID: "lockdown-external-comms", Name: "Lockdown: external comms", Priority: bandLockdown,
			Condition: func(env *Env, ctx *Context) bool {
				cfg := env.Lockdown.Config()
				return cfg.Enabled && cfg.ExternalCommsConfirm && ctx.Risk.SendsData
			},
			Decision: KindRequireConfirmation, RequiresPreview: true,
			Reason:          "lockdown mode requires confirmation for external communication",
			PreviewTemplate: "Lockdown: confirm sending data externally via %s",
		},
		{
			ID: "lockdown-destructive", Name: "Lockdown: writes/deletes", Priority: bandLockdown,
			Condition: func(env *Env, ctx *Context) bool {
				cfg := env.Lockdown.Config()
				return cfg.Enabled && cfg.WritesDeletesConfirm && isDestructive(ctx)
			},
			Decision: KindRequireConfirmation, RequiresPreview: true,
			Reason:          "lockdown mode requires confirmation for destructive actions",
			PreviewTemplate: "Lockdown: confirm destructive action %s",
		},

		// ---- Confirmations (5000) ------------------------------------
		{
			ID: "confirm-external-send", Name: "External message", Priority: bandConfirm,
			Condition: func(env *Env, ctx *Context) bool {
				return toolIn(sendTools, ctx.What.Tool)
			},
			Decision: KindRequireConfirmation, RequiresPreview: true,
			Reason:          "sending an external message requires confirmation",
			PreviewTemplate: "Send external message via %s",
		},
		{
			ID: "confirm-file-write-outside", Name: "Write outside workspace", Priority: bandConfirm,
			Condition: func(env *Env, ctx *Context) bool {
				return toolIn(writeTools, ctx.What.Tool) && ctx.Where.FilePath != "" &&
					!insideWorkspace(env, ctx.Where.FilePath)
			},
			Decision: KindRequireConfirmation, RequiresPreview: true,
			Reason:          "writing outside the workspace requires confirmation",
			PreviewTemplate: "Write file outside workspace: %s",
		},
		{
			ID: "confirm-destructive", Name: "Destructive action", Priority: bandConfirm,
			Condition: func(env *Env, ctx *Context) bool { return isDestructive(ctx) },
			Decision:  KindRequireConfirmation, RequiresPreview: true,
			Reason:          "destructive actions require confirmation",
			PreviewTemplate: "Confirm destructive action %s",
		},
		{
			ID: "confirm-shell", Name: "Shell command", Priority: bandConfirm,
			Condition: func(env *Env, ctx *Context) bool { return toolIn(shellTools, ctx.What.Tool) },
			Decision:  KindRequireConfirmation, RequiresPreview: true,
			Reason:          "shell commands require confirmation",
			PreviewTemplate: "Run shell command: %s",
		},
		{
			ID: "confirm-browser", Name: "Browser automation", Priority: bandConfirm,
			Condition: func(env *Env, ctx *Context) bool { return toolIn(browserTools, ctx.What.Tool) },
			Decision:  KindRequireConfirmation, RequiresPreview: true,
			Reason:          "browser automation requires confirmation",
			PreviewTemplate: "Drive browser: %s",
		},
		{
			ID: "confirm-config-change", Name: "Configuration change", Priority: bandConfirm,
			Condition: func(env *Env, ctx *Context) bool { return ctx.Risk.ModifiesConfig },
			Decision:  KindRequireConfirmation, RequiresPreview: true,
			Reason:          "configuration changes require confirmation",
			PreviewTemplate: "Change configuration via %s",
		},
		{
			ID: "confirm-upload", Name: "Upload", Priority: bandConfirm,
			Condition: func(env *Env, ctx *Context) bool { return toolIn(uploadTools, ctx.What.Tool) },
			Decision:  KindRequireConfirmation, RequiresPreview: true,
			Reason:          "uploads require confirmation",
			PreviewTemplate: "Upload data via %s",
		},

		// ---- Allows (1000) -------------------------------------------
		{
			ID: "allow-read-only", Name: "Read-only tool", Priority: bandAllow,
			Condition: func(env *Env, ctx *Context) bool { return toolIn(readOnlyTools, ctx.What.Tool) },
			Decision:  KindAllow, Reason: "read-only tools are allowed",
		},
		{
			ID: "allow-workspace-write", Name: "Workspace write", Priority: bandAllow,
			Condition: func(env *Env, ctx *Context) bool {
				return toolIn(writeTools, ctx.What.Tool) && insideWorkspace(env, ctx.Where.FilePath)
			},
			Decision: KindAllow, Reason: "writes inside the workspace are allowed",
		},
		{
			ID: "allow-public-fetch", Name: "Public web fetch", Priority: bandAllow,
			Condition: func(env *Env, ctx *Context) bool {
				if !toolIn(fetchTools, ctx.What.Tool) {
					return false
				}
				hosts := targetHosts(ctx)
				if len(hosts) == 0 {
					return false
				}
				for _, host := range hosts {
					if guard.CheckHost(host).Blocked {
						return false
					}
				}
				return true
			},
			Decision: KindAllow, Reason: "fetching public web content is allowed",
		},
		{
			ID: "allow-canvas", Name: "Canvas/image tool", Priority: bandAllow,
			Condition: func(env *Env, ctx *Context) bool { return toolIn(canvasTools, ctx.What.Tool) },
			Decision:  KindAllow, Reason: "canvas and image tools are allowed",
		},
	}
}
