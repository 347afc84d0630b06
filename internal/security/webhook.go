package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignWebhook computes the lowercase hex HMAC-SHA256 of the raw request
// body. Any rewrite of the body between signer and verifier (re-encoding,
// key reordering) breaks the signature, so both sides hash exact bytes.
func SignWebhook(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook compares in constant time.
func VerifyWebhook(secret, body []byte, signature string) bool {
	expected := SignWebhook(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
