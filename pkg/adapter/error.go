package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransportError is the normalized failure an adapter surfaces when a
// provider call produces no usable completion. Provider names the
// backend and Status carries the HTTP code when the provider sent one;
// Throttled marks rate limiting reported without a status code.
type TransportError struct {
	Provider  string
	Status    int
	Throttled bool
	Err       error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "transport error"
	}
	provider := e.Provider
	if provider == "" {
		provider = "transport"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", provider, e.Err)
	}
	return fmt.Sprintf("%s: status %d", provider, e.Status)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether a fresh attempt against the same backend
// can still succeed. The gateway deadlines each attempt separately, so
// an expired attempt deadline is worth retrying; a cancellation means
// the caller is tearing the cycle down and a retry would only delay
// that.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var terr *TransportError
	if errors.As(err, &terr) {
		switch {
		case terr.Throttled:
			return true
		case terr.Status == 429:
			return true
		case terr.Status >= 500 && terr.Status <= 599:
			return true
		}
	}
	return false
}
