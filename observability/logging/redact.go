package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"component": {},
	"method":    {},
	"path":      {},
	"status":    {},
	"requestid": {},
	"ledger":    {},
	"operation": {},
	"token":     {},
}

var (
	bearerPattern = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-_=]+\.[A-Za-z0-9\-_=]+\.?[A-Za-z0-9\-_.+/=]*`)
	secretPattern = regexp.MustCompile(`(?i)((?:secret|password|api[_-]?key|access[_-]?key)\s*[=:]\s*)[^\s,;&]+`)
)

// IsAllowlisted reports whether the provided key is exempt from automatic redaction.
func IsAllowlisted(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := redactionAllowlist[normalized]
	return ok
}

// MaskField returns an attribute that hides value unless key is allowlisted.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// Redact masks bearer tokens and key=value secrets embedded in free text such
// as upstream error bodies.
func Redact(text string) string {
	if text == "" {
		return text
	}
	out := bearerPattern.ReplaceAllString(text, "${1}"+RedactedValue)
	return secretPattern.ReplaceAllString(out, "${1}"+RedactedValue)
}
