package redact

import "regexp"

// Pattern describes one secret class the redactor can find and rewrite.
// Patterns are compiled once at package init; a compilation failure panics,
// taking the process down before any unredacted string can be logged.
type Pattern struct {
	// Name identifies the secret class (e.g., "openai_api_key").
	Name string
	// Regexp matches occurrences of the secret.
	Regexp *regexp.Regexp
	// Replacement is the token substituted for every match.
	Replacement string
	// Severity classifies how damaging a leak of this class is.
	Severity Severity
}

// Severity classifies the impact of a leaked secret.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank orders severities for max-comparison.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Max returns the more severe of s and other.
func (s Severity) Max(other Severity) Severity {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

// mustPattern builds a Pattern, panicking on an invalid expression.
func mustPattern(name, expr, replacement string, severity Severity) Pattern {
	return Pattern{
		Name:        name,
		Regexp:      regexp.MustCompile(expr),
		Replacement: replacement,
		Severity:    severity,
	}
}

// defaultPatterns is the built-in secret pattern table, applied in
// declaration order. More specific prefixes (sk-ant-) come before their
// generic cousins (sk-) so the replacement token names the right provider.
//
// Go's regexp has no look-around, so the generic high-entropy patterns are
// anchored on a nearby keyword instead. A false positive costs a mangled
// log line; a false negative costs a leaked credential. The table leans
// toward the former.
var defaultPatterns = []Pattern{
	// Model provider keys
	mustPattern("anthropic_api_key", `\bsk-ant-[A-Za-z0-9_-]{20,}`, "[ANTHROPIC_KEY_REDACTED]", SeverityCritical),
	mustPattern("openai_api_key", `\bsk-(?:proj-)?[A-Za-z0-9_-]{20,}`, "[OPENAI_KEY_REDACTED]", SeverityCritical),
	mustPattern("huggingface_token", `\bhf_[A-Za-z0-9]{30,}\b`, "[HUGGINGFACE_TOKEN_REDACTED]", SeverityHigh),
	mustPattern("google_api_key", `\bAIza[A-Za-z0-9_-]{35}\b`, "[GOOGLE_KEY_REDACTED]", SeverityCritical),

	// Cloud credentials
	mustPattern("aws_access_key_id", `\b(?:AKIA|ASIA|ABIA|ACCA)[A-Z0-9]{16}\b`, "[AWS_ACCESS_KEY_REDACTED]", SeverityCritical),
	mustPattern("aws_secret_access_key", `(?i)aws[a-z0-9_ .-]{0,20}(?:key|secret)[a-z_ ]{0,10}[:=]\s*["']?[A-Za-z0-9/+=]{40}["']?`, "[AWS_SECRET_KEY_REDACTED]", SeverityCritical),
	mustPattern("azure_storage_key", `(?i)AccountKey=[A-Za-z0-9+/=]{60,}`, "[AZURE_STORAGE_KEY_REDACTED]", SeverityCritical),
	mustPattern("gcp_service_account", `"private_key_id"\s*:\s*"[a-f0-9]{40}"`, "[GCP_KEY_ID_REDACTED]", SeverityCritical),
	mustPattern("digitalocean_token", `\bdop_v1_[a-f0-9]{64}\b`, "[DIGITALOCEAN_TOKEN_REDACTED]", SeverityCritical),

	// Source forges and package registries
	mustPattern("github_token", `\bgh[pousr]_[A-Za-z0-9]{36,255}\b`, "[GITHUB_TOKEN_REDACTED]", SeverityCritical),
	mustPattern("github_fine_grained_pat", `\bgithub_pat_[A-Za-z0-9_]{22,255}\b`, "[GITHUB_PAT_REDACTED]", SeverityCritical),
	mustPattern("gitlab_token", `\bglpat-[A-Za-z0-9_-]{20,}\b`, "[GITLAB_TOKEN_REDACTED]", SeverityCritical),
	mustPattern("npm_token", `\bnpm_[A-Za-z0-9]{36}\b`, "[NPM_TOKEN_REDACTED]", SeverityHigh),
	mustPattern("pypi_token", `\bpypi-AgEIcHlwaS5vcmc[A-Za-z0-9_-]{20,}`, "[PYPI_TOKEN_REDACTED]", SeverityHigh),

	// SaaS tokens
	mustPattern("slack_token", `\bxox[baprs]-[A-Za-z0-9-]{10,}\b`, "[SLACK_TOKEN_REDACTED]", SeverityHigh),
	mustPattern("slack_webhook", `hooks\.slack\.com/services/T[A-Za-z0-9_/]+`, "[SLACK_WEBHOOK_REDACTED]", SeverityHigh),
	mustPattern("stripe_key", `\b[sr]k_(?:live|test)_[A-Za-z0-9]{20,}\b`, "[STRIPE_KEY_REDACTED]", SeverityCritical),
	mustPattern("sendgrid_key", `\bSG\.[A-Za-z0-9_-]{22}\.[A-Za-z0-9_-]{43}\b`, "[SENDGRID_KEY_REDACTED]", SeverityHigh),
	mustPattern("twilio_key", `\bSK[a-f0-9]{32}\b`, "[TWILIO_KEY_REDACTED]", SeverityHigh),
	mustPattern("shopify_token", `\bshp(?:at|ca|pa|ss)_[a-fA-F0-9]{32}\b`, "[SHOPIFY_TOKEN_REDACTED]", SeverityHigh),
	mustPattern("discord_bot_token", `\b[MN][A-Za-z0-9_-]{23,25}\.[A-Za-z0-9_-]{6}\.[A-Za-z0-9_-]{27,}\b`, "[DISCORD_TOKEN_REDACTED]", SeverityHigh),
	mustPattern("telegram_bot_token", `\b\d{8,10}:AA[A-Za-z0-9_-]{33}\b`, "[TELEGRAM_TOKEN_REDACTED]", SeverityHigh),
	mustPattern("vault_token", `\bhvs\.[A-Za-z0-9_-]{24,}\b`, "[VAULT_TOKEN_REDACTED]", SeverityCritical),
	mustPattern("age_secret_key", `\bAGE-SECRET-KEY-1[A-Z0-9]{58}\b`, "[AGE_KEY_REDACTED]", SeverityCritical),

	// Key material blocks
	mustPattern("private_key_block", `-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP |ENCRYPTED )?PRIVATE KEY(?: BLOCK)?-----(?s:.)*?-----END (?:RSA |EC |DSA |OPENSSH |PGP |ENCRYPTED )?PRIVATE KEY(?: BLOCK)?-----`, "[PRIVATE_KEY_REDACTED]", SeverityCritical),
	mustPattern("pgp_message_block", `-----BEGIN PGP MESSAGE-----(?s:.)*?-----END PGP MESSAGE-----`, "[PGP_MESSAGE_REDACTED]", SeverityMedium),

	// Database and broker URLs with credentials
	mustPattern("postgres_url", `\bpostgres(?:ql)?://[^\s/:@"']+:[^\s/@"']+@[^\s"']+`, "[POSTGRES_URL_REDACTED]", SeverityCritical),
	mustPattern("mysql_url", `\bmysql://[^\s/:@"']+:[^\s/@"']+@[^\s"']+`, "[MYSQL_URL_REDACTED]", SeverityCritical),
	mustPattern("mongodb_url", `\bmongodb(?:\+srv)?://[^\s/:@"']+:[^\s/@"']+@[^\s"']+`, "[MONGODB_URL_REDACTED]", SeverityCritical),
	mustPattern("redis_url", `\brediss?://[^\s/:@"']*:[^\s/@"']+@[^\s"']+`, "[REDIS_URL_REDACTED]", SeverityHigh),
	mustPattern("amqp_url", `\bamqps?://[^\s/:@"']+:[^\s/@"']+@[^\s"']+`, "[AMQP_URL_REDACTED]", SeverityHigh),
	mustPattern("url_basic_auth", `\b[a-z][a-z0-9+.-]*://[^\s/:@"']+:[^\s/@"']+@`, "[URL_CREDENTIALS_REDACTED]@", SeverityHigh),

	// Auth headers
	mustPattern("jwt", `\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{5,}\b`, "[JWT_REDACTED]", SeverityHigh),
	mustPattern("bearer_token", `(?i)\bbearer\s+[A-Za-z0-9._~+/-]{16,}=*`, "[BEARER_TOKEN_REDACTED]", SeverityHigh),
	mustPattern("basic_auth_header", `(?i)\bbasic\s+[A-Za-z0-9+/]{16,}={0,2}`, "[BASIC_AUTH_REDACTED]", SeverityHigh),

	// Keyword-anchored assignments. The whole match is replaced, key
	// included, so re-running the redactor finds nothing to rewrite.
	mustPattern("password_assignment", `(?i)\b(?:password|passwd|pwd)\b["']?\s*[:=]\s*["']?[^\s"']{8,}["']?`, "[PASSWORD_REDACTED]", SeverityHigh),
	mustPattern("secret_assignment", `(?i)\b(?:secret|api[_-]?key|apikey|auth[_-]?token|access[_-]?token|client[_-]?secret|private[_-]?key)\b["']?\s*[:=]\s*["']?[^\s"']{8,}["']?`, "[SECRET_REDACTED]", SeverityHigh),
}
