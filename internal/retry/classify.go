package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
)

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// ShouldRetry reports whether a failure is worth another attempt.
// Timeouts, cancellations, transport failures, rate limits and server
// errors are retryable. Other client errors and unrecognized failures are
// not.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		if status := sc.HTTPStatus(); status != 0 {
			return retryableStatus(status)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return false
}

func retryableStatus(status int) bool {
	switch {
	case status == http.StatusServiceUnavailable:
		return true
	case status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

// AbortUnlessRetryable is an OnRetry hook that stops retrying as soon as a
// failure is classified as permanent.
func AbortUnlessRetryable(_ int, err error) error {
	if !ShouldRetry(err) {
		return err
	}
	return nil
}
