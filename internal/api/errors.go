package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Kind classifies a failed API call. The set is closed; anything that fits
// no other bucket is KindUnknown.
type Kind string

const (
	KindAuth         Kind = "auth"
	KindValidation   Kind = "validation"
	KindRateLimit    Kind = "rate_limit"
	KindConnectivity Kind = "connectivity"
	KindServer       Kind = "server"
	KindUnknown      Kind = "unknown"
)

func parseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindAuth, KindValidation, KindRateLimit, KindConnectivity, KindServer, KindUnknown:
		return k, true
	}
	return "", false
}

// Error is returned by every Client call that fails after the request was
// built. Status is 0 when no response was received.
type Error struct {
	Kind    Kind
	Status  int
	Method  string
	Path    string
	Message string

	// RetryAfter is the suggested wait for KindRateLimit errors.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s error on %s %s: %s", e.Kind, e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf(
		"%s error (%d) on %s %s: %s",
		e.Kind, e.Status, e.Method, e.Path, e.Message,
	)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or "" if err is not (and does not wrap)
// an *Error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsAuth reports whether err (or any error in its chain) is an auth-kind
// API error.
func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

// errorResponse is the error body shape used by the backend. Kind is
// optional; when present it overrides status-based classification.
type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// classify derives the Kind from an explicit kind in the body or, failing
// that, from the status code alone. A 403 that is really a business rule
// must say so with kind "validation".
func classify(status int, body []byte) (Kind, string) {
	var resp errorResponse
	msg := ""
	if json.Unmarshal(body, &resp) == nil {
		msg = resp.Message
		if msg == "" {
			msg = resp.Error
		}
		if k, ok := parseKind(resp.Kind); ok {
			return k, msg
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == 0:
		return KindConnectivity, msg
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth, msg
	case status == http.StatusTooManyRequests:
		return KindRateLimit, msg
	case status >= 500:
		return KindServer, msg
	case status >= 400:
		return KindValidation, msg
	}
	return KindUnknown, msg
}

// transportError wraps a failure to get any response at all.
func transportError(method, path string, err error) *Error {
	return &Error{
		Kind:    KindConnectivity,
		Method:  method,
		Path:    path,
		Message: err.Error(),
		Err:     err,
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ...
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
