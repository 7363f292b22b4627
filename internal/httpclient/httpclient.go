package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// maxBody caps how much of any provider response is read.
const maxBody = 1 << 20

// Default returns a client on a copy of net/http's default transport. It sets no
// request timeout; callers bound a fetch through its context.
func Default() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	tr.MaxIdleConnsPerHost = 8
	return &http.Client{Transport: tr}
}

// ForFamily returns a client whose dialer only uses the given address family
// ("ipv4" or "ipv6"); anything else behaves like Default.
func ForFamily(family string) *http.Client {
	// Same dialer settings as http.DefaultTransport.
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	network := ""
	switch family {
	case "ipv4":
		network = "tcp4"
	case "ipv6":
		network = "tcp6"
	}
	c := Default()
	tr := c.Transport.(*http.Transport)
	tr.DialContext = func(ctx context.Context, n, addr string) (net.Conn, error) {
		if network != "" {
			n = network
		}
		return dialer.DialContext(ctx, n, addr)
	}
	return c
}

// Get fetches url and returns the body of a 2xx response. Non-2xx responses are
// reported as *HTTPError.
func Get(ctx context.Context, client *http.Client, url, ua string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return body, nil
}

// HTTPError represents an HTTP error response
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	if e.Status != "" {
		return e.Status
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// StatusCode returns the status of an *HTTPError anywhere in err's chain, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// Outcome labels a fetch result for metrics: ok, http_<status>, canceled or error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case StatusCode(err) != 0:
		return "http_" + strconv.Itoa(StatusCode(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}
