package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Keys that carry public vault data and never need masking.
var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"operation": {},
	"module":    {},
	"round":     {},
	"caller":    {},
	"method":    {},
	"path":      {},
	"status":    {},
}

// IsAllowlisted reports whether key is exempt from redaction.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// RedactionAllowlist returns the allowlisted keys in sorted order.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskField returns a slog.Attr that redacts value unless key is allowlisted.
// Signing keys, bearer tokens and DSNs go through here before being logged.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskDSN hides the credentials of a database connection string while
// keeping the host visible.
func MaskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	return dsn[:scheme+3] + RedactedValue + dsn[at:]
}
