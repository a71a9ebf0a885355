package config

import (
	"os"
	"strings"
)

// StrictPhotoHashVerify recomputes the sha256 of every uploaded photo and
// rejects uploads whose payload does not match the client-declared fileHash.
//
// Set via env:
// - STRICT_PHOTO_HASH_VERIFY=true
func StrictPhotoHashVerify() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_PHOTO_HASH_VERIFY")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// ForceManualReviewFor overrides the client-requested conflict strategy with
// MANUAL for the given record kind, parking every conflicting write for a
// supervisor instead of auto-resolving it.
//
// Set via env:
// - MANUAL_REVIEW_KINDS="HARVEST,GATE_LOG"
//
// Kind keys are case-insensitive.
func ForceManualReviewFor(kind string) bool {
	kind = strings.ToUpper(strings.TrimSpace(kind))
	if kind == "" {
		return false
	}
	raw := os.Getenv("MANUAL_REVIEW_KINDS")
	if strings.TrimSpace(raw) == "" {
		return false
	}
	for _, part := range strings.Split(raw, ",") {
		if strings.ToUpper(strings.TrimSpace(part)) == kind {
			return true
		}
	}
	return false
}
