package providerclient

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
)

func TestClassifyCircuitOpen(t *testing.T) {
	if got := Classify(gobreaker.ErrOpenState); got != KindCircuitOpen {
		t.Fatalf("expected KindCircuitOpen, got %s", got)
	}
	if got := Classify(gobreaker.ErrTooManyRequests); got != KindCircuitOpen {
		t.Fatalf("expected KindCircuitOpen, got %s", got)
	}
}

func TestClassifyContextErrors(t *testing.T) {
	if got := Classify(context.DeadlineExceeded); got != KindNetworkError {
		t.Fatalf("expected KindNetworkError, got %s", got)
	}
	if got := Classify(context.Canceled); got != KindNetworkError {
		t.Fatalf("expected KindNetworkError, got %s", got)
	}
}

func TestClassifyMessageHeuristics(t *testing.T) {
	cases := map[string]ErrorKind{
		"invalid email address":        KindInvalidEmail,
		"rate exceeded for account":    KindRateLimit,
		"too many requests":            KindRateLimit,
		"connection refused by server": KindNetworkError,
		"no such host":                 KindNetworkError,
		"something unexpected":         KindUnknown,
	}
	for msg, want := range cases {
		if got := Classify(errors.New(msg)); got != want {
			t.Errorf("Classify(%q) = %s, want %s", msg, got, want)
		}
	}
}

func TestErrorKindRetryable(t *testing.T) {
	retryable := []ErrorKind{KindRateLimit, KindServiceError, KindNetworkError}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("%s should be retryable", k)
		}
	}
	notRetryable := []ErrorKind{KindClientError, KindInvalidEmail, KindCircuitOpen, KindUnknown}
	for _, k := range notRetryable {
		if k.Retryable() {
			t.Errorf("%s should not be retryable", k)
		}
	}
}

func TestErrorKindCountsAsBreakerFailure(t *testing.T) {
	if KindInvalidEmail.CountsAsBreakerFailure() {
		t.Fatalf("invalid email is a recipient fault, must not trip the breaker")
	}
	if KindClientError.CountsAsBreakerFailure() {
		t.Fatalf("client errors must not trip the breaker")
	}
	if !KindServiceError.CountsAsBreakerFailure() {
		t.Fatalf("service errors must count toward the breaker")
	}
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	ce := &ClassifiedError{Kind: KindNetworkError, Err: cause}
	if !errors.Is(ce, cause) {
		t.Fatalf("expected errors.Is to unwrap to cause")
	}
}
