package utils

import "strings"

const maskedSecret = "*****"

// MaskSecret hides a credential for logging. Long values keep their first
// four characters so keys can still be told apart.
func MaskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) < 12:
		return maskedSecret
	default:
		return s[:4] + strings.Repeat("*", 5)
	}
}
