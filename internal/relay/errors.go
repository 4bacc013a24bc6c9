package relay

import (
	"context"
	"errors"

	"github.com/HelloWorldSungin/claude-strategist/internal/cache"
	"github.com/HelloWorldSungin/claude-strategist/internal/executor"
)

// Rejection classes. Execution failures use the executor's classes.
var (
	ErrAuthorization       = errors.New("not authorized")
	ErrRateLimited         = errors.New("spawn rate limit exceeded")
	ErrConcurrencyLimited  = errors.New("constrained task already running")
	ErrValidation          = errors.New("invalid request")
	ErrExecutorUnavailable = errors.New("no executor configured for class")
)

// Classify maps err to a stable reason usable as a metrics label.
func Classify(err error) string {
	var ioErr *cache.StateIOError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAuthorization):
		return "authorization"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrConcurrencyLimited):
		return "concurrency_limited"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrExecutorUnavailable):
		return "unavailable"
	case errors.Is(err, executor.ErrTimeout):
		return "timeout"
	case errors.Is(err, executor.ErrExit):
		return "exit"
	case errors.Is(err, executor.ErrTransport):
		return "transport"
	case errors.Is(err, executor.ErrCanceled), errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &ioErr):
		return "state_io"
	default:
		return "internal"
	}
}

// Retryable reports whether a failure is transient. Rejections are never
// retried automatically.
func Retryable(err error) bool {
	switch Classify(err) {
	case "timeout", "exit", "transport":
		return true
	}
	return false
}
