package logger

import (
	"strings"
)

// MaskToken truncates a signing token for logging. Tokens are bearer
// credentials; only a short prefix ever reaches the logs.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "[REDACTED]"
	}
	return token[:8] + "..."
}

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com")
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[invalid-email]"
	}

	username := parts[0]
	domain := parts[1]

	if len(username) > 1 {
		username = string(username[0]) + strings.Repeat("*", len(username)-1)
	}

	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

// SanitizeSigningPath masks the token segment of public signing URLs so
// request logs never carry a full bearer token.
func SanitizeSigningPath(path string) string {
	const prefix = "/orders/sign/"
	idx := strings.Index(path, prefix)
	if idx == -1 {
		return path
	}

	rest := path[idx+len(prefix):]
	token := rest
	var suffix string
	if slash := strings.Index(rest, "/"); slash != -1 {
		token = rest[:slash]
		suffix = rest[slash:]
	}

	return path[:idx+len(prefix)] + MaskToken(token) + suffix
}

// SanitizeQueryString checks if a query string contains sensitive parameters
// and returns true if the whole query should be redacted in logs.
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := []string{
		"password", "token", "secret", "api_key", "apikey", "email", "auth",
	}

	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
