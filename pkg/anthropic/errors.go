package anthropic

import (
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
)

// IsRetryable reports whether err is an API error that may succeed on a
// later attempt: timeouts, rate limiting, overload, or a server failure.
func IsRetryable(err error) bool {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	}
	return false
}
