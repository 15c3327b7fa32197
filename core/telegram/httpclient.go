package telegram

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/m3rciful/holdingbot/core/telegram/netutil"
)

// Bot API client limits. Responses of long polls arrive within the poll
// timeout, so the client timeout stays above the largest one we configure.
const (
	apiDialTimeout   = 5 * time.Second
	apiHeaderTimeout = 5 * time.Second
	apiClientTimeout = 30 * time.Second
	apiRetries       = 3
	apiRetryStep     = 2 * time.Second
)

var errBodyNotReplayable = errors.New("telegram: request body cannot be replayed")

// BuildHTTPClient returns the client used for Bot API calls. Dial failures
// and timeouts are retried with a linearly growing pause.
func BuildHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: apiDialTimeout, KeepAlive: 30 * time.Second}
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   apiDialTimeout,
		ResponseHeaderTimeout: apiHeaderTimeout,
	}
	return &http.Client{
		Timeout:   apiClientTimeout,
		Transport: &retryTransport{base: base, maxRetries: apiRetries, backoff: apiRetryStep},
	}
}

type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.base
	if next == nil {
		next = http.DefaultTransport
	}

	resp, err := next.RoundTrip(req)
	for n := 1; err != nil && n <= t.maxRetries && netutil.ShouldRetry(err); n++ {
		if werr := pause(req, t.backoff*time.Duration(n)); werr != nil {
			return nil, werr
		}
		again, rerr := rewind(req)
		if rerr != nil {
			return nil, errors.Join(err, rerr)
		}
		resp, err = next.RoundTrip(again)
	}
	return resp, err
}

// rewind clones req with a fresh body for another attempt.
func rewind(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, errBodyNotReplayable
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}

func pause(req *http.Request, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-timer.C:
		return nil
	}
}
