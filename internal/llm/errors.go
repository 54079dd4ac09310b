package llm

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrorClass categorizes a raw transport/provider error for the retry
// taxonomy in §4.7.
type ErrorClass string

const (
	ClassNetwork    ErrorClass = "network"    // refused/DNS/transport timeout
	ClassParse      ErrorClass = "parse"      // malformed response body
	ClassNotFound   ErrorClass = "not_found"  // HTTP 404, model not found
	ClassServerErr  ErrorClass = "server"     // HTTP 500
	ClassRetryLater ErrorClass = "retry_later" // HTTP 503
	ClassAbort      ErrorClass = "abort"      // user cancel
	ClassOther      ErrorClass = "other"
)

// ProviderError is the structured error every concrete Client wraps raw
// transport/HTTP failures into, mirroring the reference provider's
// wrapError construction (status code + message extracted from the
// provider's JSON error payload where available).
type ProviderError struct {
	Class      ErrorClass
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Class)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// ClassifyError determines the ErrorClass of a raw error the way the
// reference provider's isRetryableError does: string-matching over the
// error text, with context.Canceled/DeadlineExceeded checked first.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ClassOther
	}
	if errors.Is(err, context.Canceled) {
		return ClassAbort
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassNetwork
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found") || strings.Contains(msg, "model_not_found"):
		return ClassNotFound
	case strings.Contains(msg, "503") || strings.Contains(msg, "service unavailable") || strings.Contains(msg, "overloaded"):
		return ClassRetryLater
	case strings.Contains(msg, "500") || strings.Contains(msg, "internal server error"):
		return ClassServerErr
	case strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "dns") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "eof"):
		return ClassNetwork
	case strings.Contains(msg, "invalid character") ||
		strings.Contains(msg, "unexpected end of json") ||
		strings.Contains(msg, "json:"):
		return ClassParse
	default:
		return ClassOther
	}
}

// ShouldRetry and Backoff implement the §4.7 retry taxonomy table. 503 is
// deliberately NOT retried: the spec names this an open gap ("should retry
// ... currently a known gap") rather than a resolved behavior, and DESIGN.md
// records the decision not to guess a fix.
func ShouldRetry(class ErrorClass) bool {
	switch class {
	case ClassNetwork, ClassParse:
		return true
	default:
		return false
	}
}

// Backoff returns the delay before retrying after failed attempt N
// (0-indexed, as passed by the send/stream retry loops) for class.
func Backoff(class ErrorClass, attempt int) time.Duration {
	switch class {
	case ClassNetwork:
		return time.Duration(1<<uint(attempt)) * time.Second
	case ClassParse:
		return time.Duration(1+attempt) * time.Second
	default:
		return 0
	}
}

// AttemptTimeout returns the per-attempt timeout: base 30s + 10s per attempt
// (attempt is 0-indexed, matching §4.7/§5).
func AttemptTimeout(attempt int) time.Duration {
	return 30*time.Second + time.Duration(10*attempt)*time.Second
}

// MaxAttempts is the default number of send/stream attempts before a
// transport error is surfaced as turn-fatal.
const MaxAttempts = 3

// CannedInterruptedResponse is returned (not an error) when the client
// observes an abort/user-cancel instead of retrying.
const CannedInterruptedResponse = "[Request interrupted by user]"

// statusCodeFromMessage extracts a leading HTTP status code embedded in a
// provider error message of the form "HTTP 404: ...". Nothing in this module
// calls it at present.
func statusCodeFromMessage(msg string) (int, bool) {
	msg = strings.TrimSpace(msg)
	if !strings.HasPrefix(msg, "HTTP ") {
		return 0, false
	}
	fields := strings.Fields(msg)
	if len(fields) < 2 {
		return 0, false
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}
	return code, true
}
