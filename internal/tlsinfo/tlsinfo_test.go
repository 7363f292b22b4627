package tlsinfo

import (
	"crypto/tls"
	"net/http/httptest"
	"testing"
)

func TestVersionLabel(t *testing.T) {
	tests := []struct {
		in   uint16
		want string
	}{
		{tls.VersionTLS10, "TLS 1.0"},
		{tls.VersionTLS12, "TLS 1.2"},
		{tls.VersionTLS13, "TLS 1.3"},
		{0x0999, ""},
	}
	for _, tt := range tests {
		if got := VersionLabel(tt.in); got != tt.want {
			t.Errorf("VersionLabel(%#x) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProtocolLabel(t *testing.T) {
	tests := map[string]string{
		"HTTP/2.0": "HTTP/2",
		"HTTP/1.1": "HTTP/1.1",
		"http/3.0": "HTTP/3",
	}
	for in, want := range tests {
		if got := ProtocolLabel(in); got != want {
			t.Errorf("ProtocolLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFromRequest(t *testing.T) {
	plain := httptest.NewRequest("GET", "http://example.com/", nil)
	if p, v := FromRequest(plain); p != "" || v != "" {
		t.Errorf("expected empty labels for plain request, got %q %q", p, v)
	}

	secure := httptest.NewRequest("GET", "https://example.com/", nil)
	secure.TLS.Version = tls.VersionTLS13
	secure.Proto = "HTTP/2.0"
	p, v := FromRequest(secure)
	if p != "HTTP/2" || v != "TLS 1.3" {
		t.Errorf("unexpected labels %q %q", p, v)
	}
}

func TestInferFromScheme(t *testing.T) {
	if p, v := InferFromScheme(true); p != "HTTP/2" || v != "TLS 1.2+" {
		t.Errorf("secure inference = %q %q", p, v)
	}
	if p, v := InferFromScheme(false); p != "HTTP/1.1" || v != "None" {
		t.Errorf("plain inference = %q %q", p, v)
	}
}
