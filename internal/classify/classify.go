// Package classify maps raw marketplace failures onto a closed taxonomy with
// retry hints. Classification is best-effort pattern matching over the error
// chain and message; it never fails, and anything unrecognizable lands in
// KindUnknown with the original message preserved for diagnostics.
package classify

import (
	"context"
	"errors"
	"strings"
)

// Kind is the classification of a sync failure
type Kind string

const (
	KindRateLimit        Kind = "RATE_LIMIT"        // platform throttling
	KindInvalidData      Kind = "INVALID_DATA"      // payload rejected by platform
	KindTimeout          Kind = "TIMEOUT"           // network/call timeout
	KindAlreadyExists    Kind = "ALREADY_EXISTS"    // duplicate remote resource
	KindPermissionDenied Kind = "PERMISSION_DENIED" // auth/scopes insufficient
	KindUnknown          Kind = "UNKNOWN"           // unclassifiable
)

// Class carries the classification outcome for a failed sync stage
type Class struct {
	Kind      Kind
	Message   string // original error message, verbatim
	Retryable bool
	Backoff   bool // retry only after backing off (rate limits)
}

// Hint is a human-readable description of what the caller should do next
func (c Class) Hint() string {
	switch c.Kind {
	case KindRateLimit:
		return "retryable, backoff"
	case KindInvalidData:
		return "terminal, needs data fix"
	case KindTimeout:
		return "retryable"
	case KindAlreadyExists:
		return "terminal, needs reconciliation"
	case KindPermissionDenied:
		return "terminal, needs reauth"
	default:
		return "terminal, diagnostic only"
	}
}

// Classify categorizes an error. A nil error classifies as KindUnknown with an
// empty message; callers are expected to classify only actual failures.
func Classify(err error) Class {
	if err == nil {
		return Class{Kind: KindUnknown}
	}

	c := Class{Message: err.Error()}
	msg := strings.ToLower(c.Message)

	// Typed errors first: a wrapped deadline error is a timeout no matter
	// what its message says.
	if errors.Is(err, context.DeadlineExceeded) {
		c.Kind = KindTimeout
		c.Retryable = true
		return c
	}

	switch {
	case strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "throttl") ||
		strings.Contains(msg, "quota exceeded"):
		c.Kind = KindRateLimit
		c.Retryable = true
		c.Backoff = true

	case strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection reset"):
		c.Kind = KindTimeout
		c.Retryable = true

	case strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "duplicate"):
		c.Kind = KindAlreadyExists

	case strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "insufficient scope") ||
		strings.Contains(msg, "invalid token") ||
		strings.Contains(msg, "access denied"):
		c.Kind = KindPermissionDenied

	case strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "validation") ||
		strings.Contains(msg, "rejected") ||
		strings.Contains(msg, "malformed") ||
		strings.Contains(msg, "missing required"):
		c.Kind = KindInvalidData

	default:
		c.Kind = KindUnknown
	}

	return c
}
