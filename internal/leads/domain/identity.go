package domain

import "strings"

// NormalizeEmail lowercases and trims an email address for use as a stable
// deduplication key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IdentityKey derives the stable per-lead deduplication key. A submitted
// external id wins over the email; the key is immutable once assigned to a
// lead.
func IdentityKey(externalID, email string) string {
	if id := strings.TrimSpace(externalID); id != "" {
		return id
	}
	return NormalizeEmail(email)
}
