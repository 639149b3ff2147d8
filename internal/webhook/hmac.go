package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the body signature on signed deliveries.
const SignatureHeader = "X-Macrogw-Signature-256"

// ErrSignature is returned for any signature mismatch. It carries no detail.
var ErrSignature = errors.New("webhook signature verification failed")

// Sign returns the "sha256=<hex>" signature of body.
func Sign(body []byte, secret string) string {
	return "sha256=" + hex.EncodeToString(computeMAC(body, secret))
}

// Verify checks a signature in "sha256=<hex>" or plain hex form using a
// constant-time comparison.
func Verify(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return ErrSignature
	}

	actual, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return ErrSignature
	}
	if subtle.ConstantTimeCompare(computeMAC(body, secret), actual) != 1 {
		return ErrSignature
	}
	return nil
}

func computeMAC(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
