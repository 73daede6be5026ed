package logging

import "strings"

// sensitiveKeys lists field names that must never reach a log sink in full,
// per spec.md §9 "Sensitive-data logging". Matching is case-insensitive and
// by substring so "api_token", "bearer_token", and "TAKServerPassword" all
// match without enumerating every plugin's config field names.
var sensitiveKeys = []string{
	"password", "passwd", "secret", "token", "bearer", "apikey", "api_key",
	"credential", "certificate", "cert_pem", "private_key", "client_cert",
}

// Mask returns a copy of fields with sensitive values replaced by a short
// hash-free prefix+suffix redaction, never the full secret. This mirrors the
// teacher's stated masking-helper requirement without depending on a crypto
// hash — a prefix/suffix reveal is enough to correlate log lines without
// reconstructing the credential.
func Mask(fields Fields) Fields {
	if len(fields) == 0 {
		return fields
	}
	out := make(Fields, len(fields))
	for k, v := range fields {
		if isSensitiveKey(k) {
			out[k] = maskValue(v)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lk := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lk, s) {
			return true
		}
	}
	return false
}

// maskValue reduces a string secret to "abcd…wxyz"; values under 8 chars are
// fully redacted since a short prefix+suffix would leak the whole thing.
func maskValue(v interface{}) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return "***"
	}
	if len(s) < 8 {
		return "***"
	}
	return s[:4] + "…" + s[len(s)-4:]
}
