// Package fingerprint computes the deterministic identifiers the dispatch
// pipeline uses as its idempotency keys: per-recipient work-record
// fingerprints and per-chunk batch ids.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// hashLen is the number of hex characters kept from the SHA-256 digest,
// matching the wire contract's email_{24-hex-hash} format.
const hashLen = 24

// NormalizeEmail lowercases and trims an email address. All fingerprinting,
// suppression lookups, and work-record keys operate on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Recipient computes the stable fingerprint for a (campaignId, email) pair:
// sha256(campaignId + ":" + normalizedEmail), truncated to 24 hex chars and
// prefixed with "email_".
// The same inputs always produce the same fingerprint, across nodes and
// restarts, so it doubles as the work-record primary key and the queue job
// id for that recipient.
func Recipient(campaignID, email string) string {
	normalized := NormalizeEmail(email)
	sum := sha256.Sum256([]byte(campaignID + ":" + normalized))
	return "email_" + hex.EncodeToString(sum[:])[:hashLen]
}

// Batch computes the deterministic id for one materialization chunk.
// Re-materializing the same campaign from the same chunk index yields the
// same batch id, so the queue's job-id deduplication makes re-enqueue safe.
func Batch(campaignID string, chunkIndex int) string {
	return fmt.Sprintf("batch_%s_%d", campaignID, chunkIndex)
}
