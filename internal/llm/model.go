package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcpharvest/internal/retry"
)

// Request is a single completion call.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	Model       string
}

// Response is the normalized completion returned by every backend.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
}

// Model is implemented by every backend and by the decorators around them.
type Model interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// ErrorKind classifies gateway failures.
type ErrorKind string

const (
	KindTimeout   ErrorKind = "timeout"
	KindRateLimit ErrorKind = "rate_limit"
	KindAuth      ErrorKind = "auth"
	KindBackend   ErrorKind = "backend"
)

// GatewayError is returned once a call has failed for good.
type GatewayError struct {
	Backend     string
	Kind        ErrorKind
	Attempts    int
	MaxAttempts int
	Permanent   bool // stopped early on a non-retryable error
	Err         error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s %s error after %d attempt(s): %v", e.Backend, e.Kind, e.Attempts, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Exhausted reports whether the call used up its retry budget, as opposed to
// stopping early on a non-retryable error or a cancelled context.
func (e *GatewayError) Exhausted() bool {
	return !e.Permanent && e.Attempts >= e.MaxAttempts
}

// Classify maps an error to its gateway kind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case retry.IsAuthError(err):
		return KindAuth
	case retry.IsRateLimitError(err):
		return KindRateLimit
	case containsTimeout(err):
		return KindTimeout
	default:
		return KindBackend
	}
}

func containsTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return retryContains(err.Error(), "timeout")
}
