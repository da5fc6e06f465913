// Package replycache remembers replies to POST requests by their
// Idempotency-Key header so a retried request gets the original answer
// instead of being executed twice.
package replycache
