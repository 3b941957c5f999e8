package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// plainKeys never carry secrets and are logged verbatim.
var plainKeys = map[string]struct{}{
	"service":  {},
	"env":      {},
	"endpoint": {},
	"module":   {},
	"op":       {},
	"key":      {},
	"error":    {},
	"reason":   {},
}

// MaskField returns an attribute that hides value unless key is known to be
// safe. Empty values are kept so missing configuration stays visible.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	if _, ok := plainKeys[strings.ToLower(strings.TrimSpace(key))]; ok {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskHeaders renders exporter headers as a log group with every value
// masked. Header names are sorted for stable output.
func MaskHeaders(name string, headers map[string]string) slog.Attr {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, MaskField(k, headers[k]))
	}
	return slog.Group(name, attrs...)
}
