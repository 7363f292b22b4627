package tlsinfo

import (
	"crypto/tls"
	"net/http"
	"strings"
)

// VersionLabel renders a negotiated TLS version the way edge runtimes report it ("TLS 1.3").
// Unknown versions yield "".
func VersionLabel(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	}
	return ""
}

// ProtocolLabel normalises a request protocol string ("HTTP/2.0" -> "HTTP/2").
func ProtocolLabel(proto string) string {
	p := strings.ToUpper(strings.TrimSpace(proto))
	switch p {
	case "HTTP/2.0", "HTTP/2":
		return "HTTP/2"
	case "HTTP/3.0", "HTTP/3":
		return "HTTP/3"
	}
	return p
}

// FromRequest returns the protocol and TLS labels of a request. Both are empty for
// plain-text requests, where nothing about the client's edge connection is known.
func FromRequest(r *http.Request) (httpProtocol, tlsVersion string) {
	if r.TLS == nil {
		return "", ""
	}
	return ProtocolLabel(r.Proto), VersionLabel(r.TLS.Version)
}

// InferFromScheme guesses transport labels when nothing was measured: a page served over
// https implies a modern stack.
func InferFromScheme(secure bool) (httpProtocol, tlsVersion string) {
	if secure {
		return "HTTP/2", "TLS 1.2+"
	}
	return "HTTP/1.1", "None"
}
