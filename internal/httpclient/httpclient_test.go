package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGet_OK(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		w.Write([]byte("203.0.113.9"))
	}))
	defer srv.Close()

	body, err := Get(context.Background(), srv.Client(), srv.URL, "TestAgent/1.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "203.0.113.9" {
		t.Errorf("unexpected body %q", body)
	}
	if gotUA != "TestAgent/1.0" {
		t.Errorf("expected user agent to be sent, got %q", gotUA)
	}
}

func TestGet_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := Get(context.Background(), srv.Client(), srv.URL, "")
	if StatusCode(err) != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d (%v)", StatusCode(err), err)
	}
}

func TestOutcome(t *testing.T) {
	wrapped := fmt.Errorf("ipapi.co: %w", &HTTPError{StatusCode: http.StatusTooManyRequests})
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{wrapped, "http_429"},
		{&HTTPError{StatusCode: 503}, "http_503"},
		{fmt.Errorf("fetch: %w", context.Canceled), "canceled"},
		{errors.New("connection refused"), "error"},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
	if StatusCode(wrapped) != http.StatusTooManyRequests {
		t.Errorf("expected wrapped status 429, got %d", StatusCode(wrapped))
	}
}

func TestGet_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Get(ctx, srv.Client(), srv.URL, "")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestForFamily_KeepsDefaults(t *testing.T) {
	c := ForFamily("ipv4")
	if c.Timeout != 0 {
		t.Errorf("expected no client timeout, got %v", c.Timeout)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatal("expected an *http.Transport")
	}
	if tr.ResponseHeaderTimeout != 0 {
		t.Errorf("expected no response header timeout, got %v", tr.ResponseHeaderTimeout)
	}
	if tr.DialContext == nil {
		t.Error("expected a family dialer")
	}
	if tr == http.DefaultTransport {
		t.Error("expected a copy of the default transport")
	}
}
