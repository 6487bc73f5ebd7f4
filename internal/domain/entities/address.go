package entities

import "strings"

// EqualAddress compares two chain addresses case-insensitively
func EqualAddress(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// NormalizeAddress returns the case-normalized form used as a map key
func NormalizeAddress(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}
