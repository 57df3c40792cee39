package agent

import (
	"strings"

	"github.com/quailyquaily/turnstile/internal/strutil"
)

// LogOptions gates what the engine's structured logs include beyond
// event names and identifiers.
type LogOptions struct {
	// IncludeParams logs tool parameters on dispatch (sanitized).
	IncludeParams bool
	// IncludeResults logs tool results (truncated).
	IncludeResults bool

	// RedactKeys are parameter/header keys whose values never reach the
	// log; matching ignores case and treats '-' and '_' as equal.
	RedactKeys []string

	// MaxFieldBytes truncates logged payload fields, UTF-8 safe.
	MaxFieldBytes int
}

func DefaultLogOptions() LogOptions {
	return LogOptions{
		RedactKeys: []string{
			"api_key",
			"authorization",
			"cookie",
			"set_cookie",
			"token",
			"access_token",
			"refresh_token",
			"secret",
			"password",
			"private_key",
		},
		MaxFieldBytes: 2048,
	}
}

func normalizeLogKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.ReplaceAll(k, "-", "_")
}

func shouldRedactKey(key string, redact []string) bool {
	norm := normalizeLogKey(key)
	if norm == "" {
		return false
	}
	for _, r := range redact {
		rn := normalizeLogKey(r)
		if rn == "" {
			continue
		}
		// A prefixed variant of a sensitive key (x_api_key, http_cookie)
		// is just as sensitive as the bare key.
		if norm == rn || strings.HasSuffix(norm, "_"+rn) {
			return true
		}
	}
	return false
}

// sanitizeParams returns a copy of params safe to log: redacted keys
// replaced, string values truncated, nested values flattened to their
// JSON-ish string form.
func sanitizeParams(params map[string]any, opts LogOptions) map[string]any {
	if len(params) == 0 {
		return nil
	}
	maxBytes := opts.MaxFieldBytes
	if maxBytes <= 0 {
		maxBytes = 2048
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if shouldRedactKey(k, opts.RedactKeys) {
			out[k] = "[redacted]"
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = strutil.TruncateUTF8(s, maxBytes)
			continue
		}
		out[k] = v
	}
	return out
}
