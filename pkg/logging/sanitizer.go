package logging

import (
	"regexp"
)

const (
	// MaxQueryLogLength is the maximum length of a layer query in logs.
	MaxQueryLogLength = 200
	// RedactedText replaces sensitive values.
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// user:pass@host in connection URLs
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)

	// Single-quoted literals, with '' escapes. Layer queries are
	// user-authored and their literals may carry personal data.
	literalPattern = regexp.MustCompile(`'(?:[^']|'')*'`)
)

// SanitizeConnectionString removes credentials from a connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError renders err without credentials. Use it for database errors
// that end up in logs or client-facing validation messages.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeConnectionString(err.Error())
}

// SanitizeQuery masks string literals and truncates a layer query for logging.
// Truncation happens after masking so a cut never exposes half a literal.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	masked := literalPattern.ReplaceAllString(query, "'?'")
	return TruncateString(masked, MaxQueryLogLength)
}

// TruncateString truncates s to maxLen bytes and appends an ellipsis if cut.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
