package providerclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"
)

// ErrorKind is the closed-set classification of every way a provider send
// can fail: a six-way taxonomy plus the breaker's own circuit_open signal.
type ErrorKind string

const (
	KindRateLimit     ErrorKind = "rate_limit"
	KindServiceError  ErrorKind = "service_error"
	KindNetworkError  ErrorKind = "network_error"
	KindClientError   ErrorKind = "client_error"
	KindInvalidEmail  ErrorKind = "invalid_email"
	KindCircuitOpen   ErrorKind = "circuit_open"
	KindUnknown       ErrorKind = "unknown"
)

// Retryable reports whether the dispatcher should release the work record
// and let the queue retry the batch, rather than marking it permanently
// failed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimit, KindServiceError, KindNetworkError:
		return true
	default:
		return false
	}
}

// CountsAsBreakerFailure reports whether this error kind should count
// toward tripping the circuit breaker. Client errors (other than rate
// limiting) are the recipient's fault, not the provider's, so they must not
// trip the breaker.
func (k ErrorKind) CountsAsBreakerFailure() bool {
	switch k {
	case KindServiceError, KindNetworkError, KindRateLimit:
		return true
	default:
		return false
	}
}

// ClassifiedError pairs a classified kind with the underlying cause.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify maps a provider call's error into the dispatch pipeline's error
// taxonomy. It recognizes the breaker's own ErrOpenState / ErrTooManyRequests,
// then falls back to HTTP status code (when the underlying SDK error
// exposes one) and network-level errors (context deadline, DNS, connection
// refused), split further into a client/invalid-email distinction the
// sending pipeline needs to decide retry vs. permanent failure.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return KindCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetworkError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetworkError
	}

	if status, ok := httpStatus(err); ok {
		return classifyStatus(status)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid") && strings.Contains(msg, "email"):
		return KindInvalidEmail
	case strings.Contains(msg, "throttl") || strings.Contains(msg, "rate exceeded") || strings.Contains(msg, "too many requests"):
		return KindRateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return KindNetworkError
	}

	return KindUnknown
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status >= 500:
		return KindServiceError
	case status >= 400:
		return KindClientError
	default:
		return KindUnknown
	}
}

// httpStatusError is implemented by SDK error types that carry an HTTP
// status code (the AWS SDK v2's smithy response errors do).
type httpStatusError interface {
	HTTPStatusCode() int
}

func httpStatus(err error) (int, bool) {
	var hs httpStatusError
	if errors.As(err, &hs) {
		return hs.HTTPStatusCode(), true
	}
	return 0, false
}
