package logging

import (
	"regexp"
	"strings"
)

const (
	// MaxQueryLogLength is the maximum length of a query to log.
	// Constraint literal lists can be very long.
	MaxQueryLogLength = 200
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// postgres:// and sqlserver:// URLs with user:pass@host
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)

	// Snowflake DSNs have no scheme: user:pass@account/db/schema
	dsnPattern = regexp.MustCompile(`(^|\s)[^:/\s@]+:[^@\s]+@([^/\s]+)`)

	// Private key material passed through Snowflake key-pair auth
	privateKeyPattern = regexp.MustCompile(`(?i)(private_?key|privatekey)=[^&\s]+`)
)

// sensitiveFields are credential field names whose values are never logged.
var sensitiveFields = map[string]struct{}{
	"password":    {},
	"private_key": {},
	"token":       {},
}

// SanitizeConnectionString removes sensitive data from connection strings.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = privateKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	if !strings.Contains(sanitized, "://") {
		sanitized = dsnPattern.ReplaceAllString(sanitized, "${1}"+RedactedText+"@${2}")
	}
	return sanitized
}

// SanitizeError sanitizes error messages that might contain sensitive data.
// Drivers echo DSNs in some connection errors.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	sanitized := passwordPattern.ReplaceAllString(errStr, "${1}="+RedactedText)
	sanitized = privateKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return sanitized
}

// SanitizeQuery truncates and sanitizes a SQL query for logging.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	sanitized := TruncateString(query, MaxQueryLogLength)
	return passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
}

// SanitizeFields returns a copy of credential fields with secrets redacted.
func SanitizeFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if _, secret := sensitiveFields[strings.ToLower(k)]; secret && v != "" {
			out[k] = RedactedText
			continue
		}
		out[k] = v
	}
	return out
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
