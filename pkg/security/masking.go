package security

import (
	"regexp"
	"strings"
)

var (
	// Patterns for sensitive data
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|token|password|auth)(["\s:=]+)["']?([a-zA-Z0-9_-]{8,})["']?`)
	walletPattern = regexp.MustCompile(`0x[a-fA-F0-9]{40}`)
)

// MaskString masks emails, credentials and EVM addresses in s
func MaskString(s string) string {
	s = emailPattern.ReplaceAllStringFunc(s, MaskEmail)
	s = apiKeyPattern.ReplaceAllString(s, "$1$2***REDACTED***")
	s = walletPattern.ReplaceAllStringFunc(s, MaskAddress)
	return s
}

// MaskEmail masks an email address
func MaskEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***.***"
	}

	local := parts[0]
	domain := parts[1]

	maskedLocal := maskPartial(local, 2)
	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		return maskedLocal + "@" + maskPartial(domainParts[0], 1) + "." + domainParts[len(domainParts)-1]
	}
	return maskedLocal + "@" + maskPartial(domain, 2)
}

// MaskAddress shows the first 6 and last 4 characters of a deposit address
func MaskAddress(addr string) string {
	if len(addr) < 12 {
		return "****"
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// MaskAPIKey masks an API key showing only first 4 chars
func MaskAPIKey(key string) string {
	if len(key) < 4 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", len(key)-4)
}

func maskPartial(s string, showChars int) string {
	if len(s) <= showChars {
		return strings.Repeat("*", len(s))
	}
	return s[:showChars] + strings.Repeat("*", len(s)-showChars)
}
