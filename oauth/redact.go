package oauth

import "fmt"

const redactPrefixLength = 4

// Redact returns the loggable form of a secret: a short prefix plus the
// character count. Client secrets and tokens must never be logged any other
// way.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= redactPrefixLength {
		return fmt.Sprintf("...(%d chars)", len(secret))
	}
	return fmt.Sprintf("%s...(%d chars)", secret[:redactPrefixLength], len(secret))
}
