package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Keys that carry ledger identifiers or request metadata and are safe to log
// verbatim. Everything else passed through MaskField is redacted.
var redactionAllowlist = map[string]struct{}{
	"service":    {},
	"env":        {},
	"error":      {},
	"reason":     {},
	"component":  {},
	"op":         {},
	"token":      {},
	"ilk":        {},
	"route":      {},
	"method":     {},
	"status":     {},
	"request_id": {},
}

// IsAllowlisted reports whether key may be logged without redaction.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns an attribute that hides value unless key is allowlisted.
// Empty values pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskDSN keeps the scheme, host and path of a database DSN and drops its
// credentials and query. Values that do not parse as URLs are fully masked.
func MaskDSN(key, dsn string) slog.Attr {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return slog.String(key, dsn)
	}
	u, err := url.Parse(dsn)
	if err != nil || (u.Host == "" && u.Opaque == "" && u.Path == "") {
		return slog.String(key, RedactedValue)
	}
	if u.User != nil {
		u.User = url.User("redacted")
	}
	u.RawQuery = ""
	return slog.String(key, u.String())
}
