// Package sanitize redacts secrets and PII from tool output before it is
// logged, persisted, or fed back into an LLM conversation.
package sanitize

import (
	"regexp"
	"strings"
)

// DefaultMaxLen is the size guard applied before sanitized content enters a
// conversation.
const DefaultMaxLen = 5 * 1024

// TruncateSuffix marks content cut by the size guard.
const TruncateSuffix = "…[truncated]"

type pattern struct {
	category string
	re       *regexp.Regexp
	// replacement may reference capture groups; the placeholder itself must
	// never re-match the pattern so that sanitization is idempotent.
	replacement string
}

// Ordering matters: structural multi-part patterns (private key blocks,
// JWTs, connection URLs) run before the generic key=value forms.
var basePatterns = []pattern{
	{"private_key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`), "[PRIVATE_KEY_REDACTED]"},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}`), "[JWT_REDACTED]"},
	{"db_url", regexp.MustCompile(`\b((?:postgres|postgresql|mysql|mongodb(?:\+srv)?|redis|amqp)://[^:/\s]+:)([^@\s\[\]]+)@`), "${1}[PASSWORD_REDACTED]@"},
	{"aws_secret", regexp.MustCompile(`(?i)\b(aws_secret_access_key["']?\s*[:=]\s*["']?)[A-Za-z0-9/+=]{40}`), "${1}[AWS_SECRET_REDACTED]"},
	{"aws_access_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), "[AWS_ACCESS_KEY_REDACTED]"},
	{"bearer", regexp.MustCompile(`(?i)\b(bearer\s+)[A-Za-z0-9_\-.~+/]{16,}=*`), "${1}[TOKEN_REDACTED]"},
	{"api_key", regexp.MustCompile(`(?i)\b(api[_-]?key["']?\s*[:=]\s*["']?)[A-Za-z0-9_-]{16,}`), "${1}[API_KEY_REDACTED]"},
	{"api_key", regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}\b`), "[API_KEY_REDACTED]"},
	{"token", regexp.MustCompile(`(?i)\b((?:access[_-]|auth[_-]|refresh[_-])?token["']?\s*[:=]\s*["']?)[A-Za-z0-9_\-.]{16,}`), "${1}[TOKEN_REDACTED]"},
	{"password", regexp.MustCompile(`(?i)\b(passw(?:or)?d["']?\s*[:=]\s*["']?)[^\s"'\[\]]+`), "${1}[PASSWORD_REDACTED]"},
	{"secret", regexp.MustCompile(`(?i)\b(secret["']?\s*[:=]\s*["']?)[^\s"'\[\]]{8,}`), "${1}[SECRET_REDACTED]"},
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[EMAIL_REDACTED]"},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN_REDACTED]"},
	{"credit_card", regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{4}\b`), "[CARD_REDACTED]"},
	{"phone", regexp.MustCompile(`\b\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`), "[PHONE_REDACTED]"},
}

var ipPattern = pattern{"ip", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[IP_REDACTED]"}

// Redaction summarizes matches of one category in a sanitized string.
type Redaction struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Result carries sanitized text plus the redactions applied to produce it.
type Result struct {
	Text       string      `json:"text"`
	Redactions []Redaction `json:"redactions,omitempty"`
}

// Sanitizer applies the redaction pattern list. The zero value is not
// usable; construct with New.
type Sanitizer struct {
	patterns []pattern
	maxLen   int
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithIPRedaction also redacts IPv4 addresses (off by default).
func WithIPRedaction() Option {
	return func(s *Sanitizer) { s.patterns = append(s.patterns, ipPattern) }
}

// WithMaxLen overrides the truncation cap applied by Truncate.
func WithMaxLen(n int) Option {
	return func(s *Sanitizer) {
		if n > 0 {
			s.maxLen = n
		}
	}
}

// New builds a sanitizer with the default pattern set.
func New(opts ...Option) *Sanitizer {
	s := &Sanitizer{
		patterns: append([]pattern(nil), basePatterns...),
		maxLen:   DefaultMaxLen,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sanitize redacts every configured pattern. Sanitize is idempotent:
// sanitizing already-sanitized text returns it unchanged with no redactions.
func (s *Sanitizer) Sanitize(text string) Result {
	if text == "" {
		return Result{}
	}
	res := Result{Text: text}
	for _, p := range s.patterns {
		matches := p.re.FindAllStringIndex(res.Text, -1)
		if len(matches) == 0 {
			continue
		}
		replaced := p.re.ReplaceAllString(res.Text, p.replacement)
		if replaced == res.Text {
			// Placeholder already in place; nothing actually changed.
			continue
		}
		res.Text = replaced
		res.Redactions = append(res.Redactions, Redaction{Category: p.category, Count: len(matches)})
	}
	return res
}

// HasSecrets reports whether any pattern would redact text.
func (s *Sanitizer) HasSecrets(text string) bool {
	if text == "" {
		return false
	}
	for _, p := range s.patterns {
		if p.re.MatchString(text) && p.re.ReplaceAllString(text, p.replacement) != text {
			return true
		}
	}
	return false
}

// Truncate applies the size guard: content longer than the cap is cut with
// a visible suffix. Applied after Sanitize, before conversation append.
func (s *Sanitizer) Truncate(text string) string {
	if len(text) <= s.maxLen {
		return text
	}
	return text[:s.maxLen] + TruncateSuffix
}

// sensitiveKeys are map keys whose values are redacted wholesale.
var sensitiveKeys = []string{"password", "passwd", "secret", "token", "api_key", "apikey", "credential", "private_key"}

// SanitizeMap recursively sanitizes a structured value. Values under keys
// that name credentials are replaced entirely.
func (s *Sanitizer) SanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if keyIsSensitive(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = s.sanitizeValue(v)
	}
	return out
}

func (s *Sanitizer) sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return s.Sanitize(val).Text
	case map[string]any:
		return s.SanitizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = s.sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

func keyIsSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveKeys {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
