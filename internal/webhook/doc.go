// Package webhook delivers job outcomes to caller-supplied outbound webhooks.
//
// A delivery is a single HTTP POST of a JSON document. Deliveries are never
// retried; a transport error or a non-2xx response is returned to the caller,
// which logs it and moves on.
//
// # Signing
//
// When a signing secret is configured every delivery carries an HMAC-SHA256
// signature of the raw body:
//
//	X-Macrogw-Signature-256: sha256=<hex>
//
// Receivers verify it with the same secret (see Verify).
package webhook
