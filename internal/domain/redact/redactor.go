// Package redact rewrites strings to remove secrets before they reach
// logs, audit records, or LLM-bound prompts.
package redact

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// sensitiveEnvKeyPattern selects environment variable names whose values
// are treated as secrets by RedactEnvVars.
var sensitiveEnvKeyPattern = regexp.MustCompile(`(?i)KEY|SECRET|TOKEN|PASSWORD|AUTH|CREDENTIAL|PRIVATE|API`)

// minEnvValueLength is the shortest env value RedactEnvVars will match.
// Shorter values ("true", "8080") would shred unrelated text.
const minEnvValueLength = 8

// Finding reports one matched secret pattern.
type Finding struct {
	// Pattern is the name of the matched pattern.
	Pattern string `json:"pattern"`
	// Count is how many occurrences were rewritten.
	Count int `json:"count"`
	// Severity is the pattern's severity.
	Severity Severity `json:"severity"`
}

// Result is the outcome of one Redact call.
type Result struct {
	// Redacted is the input with every matched secret replaced.
	Redacted string `json:"redacted"`
	// SecretsFound lists the patterns that matched, in table order.
	SecretsFound []Finding `json:"secrets_found,omitempty"`
	// WasRedacted is true iff any pattern matched.
	WasRedacted bool `json:"was_redacted"`
}

// Redactor applies the secret pattern table to strings. It is stateless
// and safe for concurrent use; all patterns are compiled at package init.
type Redactor struct {
	patterns []Pattern
}

// NewRedactor returns a Redactor using the built-in pattern table.
func NewRedactor() *Redactor {
	return &Redactor{patterns: defaultPatterns}
}

// Patterns returns the pattern table (read-only by convention).
func (r *Redactor) Patterns() []Pattern {
	return r.patterns
}

// Redact replaces every secret match with its pattern's replacement token.
// Patterns are applied in declaration order; each pattern replaces all of
// its occurrences globally. Redact is idempotent on its own output.
func (r *Redactor) Redact(s string) Result {
	result := Result{Redacted: s}
	if s == "" {
		return result
	}

	for _, p := range r.patterns {
		count := 0
		result.Redacted = p.Regexp.ReplaceAllStringFunc(result.Redacted, func(string) string {
			count++
			return p.Replacement
		})
		if count > 0 {
			result.SecretsFound = append(result.SecretsFound, Finding{
				Pattern:  p.Name,
				Count:    count,
				Severity: p.Severity,
			})
			result.WasRedacted = true
		}
	}
	return result
}

// ContainsSecrets reports whether any pattern matches s.
func (r *Redactor) ContainsSecrets(s string) bool {
	if s == "" {
		return false
	}
	for _, p := range r.patterns {
		if p.Regexp.MatchString(s) {
			return true
		}
	}
	return false
}

// DetectSeverity returns the highest severity among patterns matching s,
// or SeverityNone when nothing matches.
func (r *Redactor) DetectSeverity(s string) Severity {
	severity := SeverityNone
	if s == "" {
		return severity
	}
	for _, p := range r.patterns {
		if severity.rank() >= p.Severity.rank() {
			continue
		}
		if p.Regexp.MatchString(s) {
			severity = severity.Max(p.Severity)
		}
	}
	return severity
}

// RedactEnvVars replaces occurrences of sensitive environment variable
// values in s. A variable is sensitive when its name matches
// sensitiveEnvKeyPattern and its value is at least minEnvValueLength long.
// Longer values are substituted first so that one value being a prefix of
// another cannot leave a suffix behind.
func (r *Redactor) RedactEnvVars(s string, env map[string]string) string {
	if s == "" || len(env) == 0 {
		return s
	}

	type envSecret struct {
		key   string
		value string
	}
	var secrets []envSecret
	for key, value := range env {
		if len(value) < minEnvValueLength {
			continue
		}
		if !sensitiveEnvKeyPattern.MatchString(key) {
			continue
		}
		secrets = append(secrets, envSecret{key: key, value: value})
	}
	sort.Slice(secrets, func(i, j int) bool {
		if len(secrets[i].value) != len(secrets[j].value) {
			return len(secrets[i].value) > len(secrets[j].value)
		}
		return secrets[i].key < secrets[j].key
	})

	for _, sec := range secrets {
		marker := "[" + strings.ToUpper(sec.key) + "_REDACTED]"
		s = strings.ReplaceAll(s, sec.value, marker)
	}
	return s
}

// SafeStringify marshals v to JSON and redacts the result. Values that
// cannot be marshalled fall back to fmt formatting; the output is always
// redacted, never raw.
func (r *Redactor) SafeStringify(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return r.Redact(fmt.Sprintf("%v", v)).Redacted
	}
	return r.Redact(string(data)).Redacted
}
