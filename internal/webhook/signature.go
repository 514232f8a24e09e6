package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SignaturePrefix precedes the hex digest in GitHub and Bitbucket signature headers.
const SignaturePrefix = "sha256="

// Sign returns the "sha256=<hex>" HMAC of payload under secret.
func Sign(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC compares a signature header against the expected HMAC in
// constant time. Headers of the wrong length or without the prefix simply
// fail the comparison.
func VerifyHMAC(payload []byte, signature string, secret []byte) bool {
	if signature == "" || len(secret) == 0 {
		return false
	}
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// VerifyToken compares a shared token header against the secret in constant time.
func VerifyToken(token string, secret []byte) bool {
	if token == "" || len(secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), secret) == 1
}
