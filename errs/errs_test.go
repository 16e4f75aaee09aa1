package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestErrorFormattingIncludesRetryAndFieldDetail(t *testing.T) {
	err := New(
		"crm",
		CodeRateLimited,
		WithMessage("interaction log throttled"),
		WithRetryAfter(2*time.Second),
		WithCause(errors.New("crm http 429")),
	)

	out := err.Error()
	if !strings.Contains(out, "source=crm") {
		t.Fatalf("expected source marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=rate_limited") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "retry_after=2s") {
		t.Fatalf("expected retry-after hint in error string: %s", out)
	}
	if !strings.Contains(out, "cause=\"crm http 429\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestValidationCarriesFieldDetail(t *testing.T) {
	err := Validation("scheduling", "slot", "start must precede end", "slot already booked")
	if err.Code != CodeValidation {
		t.Fatalf("expected validation code, got %q", err.Code)
	}
	if err.Field != "slot" {
		t.Fatalf("expected field slot, got %q", err.Field)
	}
	out := err.Error()
	if !strings.Contains(out, "field=slot") {
		t.Fatalf("expected field marker in error string: %s", out)
	}
	if !strings.Contains(out, "\"slot already booked\"") {
		t.Fatalf("expected field messages in error string: %s", out)
	}
}

func TestRetryableCodes(t *testing.T) {
	cases := map[Code]bool{
		CodeUnavailable: true,
		CodeRateLimited: true,
		CodeTimeout:     true,
		CodeCircuitOpen: true,
		CodeAuth:        false,
		CodeValidation:  false,
		CodeConfig:      false,
		CodeNotFound:    false,
	}
	for code, want := range cases {
		err := New("store", code)
		if got := Retryable(err); got != want {
			t.Fatalf("Retryable(%s) = %v, want %v", code, got, want)
		}
	}
	if Retryable(errors.New("plain")) {
		t.Fatal("plain errors must not be considered retryable")
	}
}

func TestCodeOfUnwrapsNestedCauses(t *testing.T) {
	inner := New("cache", CodeNotFound)
	wrapped := fmt.Errorf("lookup failed: %w", inner)
	if got := CodeOf(wrapped); got != CodeNotFound {
		t.Fatalf("expected not_found through wrapping, got %q", got)
	}
	if !IsNotFound(wrapped) {
		t.Fatal("IsNotFound should see through fmt.Errorf wrapping")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Code]int{
		CodeUnavailable: http.StatusServiceUnavailable,
		CodeCircuitOpen: http.StatusServiceUnavailable,
		CodeRateLimited: http.StatusTooManyRequests,
		CodeAuth:        http.StatusUnauthorized,
		CodeValidation:  http.StatusBadRequest,
		CodeTimeout:     http.StatusGatewayTimeout,
		CodeNotFound:    http.StatusNotFound,
		CodeConfig:      http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := HTTPStatus(New("api", code)); got != want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", code, got, want)
		}
	}
	if got := HTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Fatalf("plain errors should map to 500, got %d", got)
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}
