package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// sign computes the hex-encoded HMAC-SHA256 of body under secret, used as
// the X-Signature header value (§4.10) so a receiver can verify authenticity.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
