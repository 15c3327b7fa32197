// Package netutil classifies network failures of Bot API calls.
package netutil

import (
	"errors"
	"net"
	"syscall"
)

// ShouldRetry reports whether err is a transient network failure worth
// another attempt: a timeout, a failed dial, or a connection refused or
// reset by the peer. API errors and cancellations are final.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}
