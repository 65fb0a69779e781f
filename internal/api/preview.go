package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// previewKeyLen is the truncated hex length of a preview key, per
// spec.md §4.10: HMAC_SHA256(secret, lead.id)[:24].
const previewKeyLen = 24

// PreviewKey derives the stable, non-reversible key the preview/sample
// dossier endpoints use in place of a lead's raw ID.
func PreviewKey(secret, leadID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(leadID))
	sum := hex.EncodeToString(mac.Sum(nil))
	return sum[:previewKeyLen]
}
