// Package trace reads the key=value diagnostic page Cloudflare serves at /cdn-cgi/trace.
package trace

import (
	"context"
	"errors"
	"strings"

	"github.com/gustycube/ip-sentinel/internal/provider"
	"github.com/gustycube/ip-sentinel/internal/tlsinfo"
)

var ErrNoPairs = errors.New("trace response has no key=value pairs")

// Info is the transport view of the caller. Colo is empty when the trace did not name one.
type Info struct {
	HTTP        string `json:"http"`
	TLS         string `json:"tls"`
	VisitScheme string `json:"visitScheme,omitempty"`
	Colo        string `json:"colo,omitempty"`
	Inferred    bool   `json:"inferred"`
}

// Parse splits newline-delimited key=value lines on the first '='. Lines with an empty
// key or value are skipped.
func Parse(body string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(body, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func FromPairs(p map[string]string) Info {
	return Info{
		HTTP:        or(p["http"], "HTTP/1.1"),
		TLS:         or(p["tls"], "Unknown"),
		VisitScheme: or(p["visit_scheme"], "https"),
		Colo:        p["colo"],
	}
}

// Infer is the fallback when no trace could be read.
func Infer(secure bool) Info {
	h, t := tlsinfo.InferFromScheme(secure)
	return Info{HTTP: h, TLS: t, Inferred: true}
}

// Fetch reads the trace endpoint. It always returns a usable Info; the error only
// reports why the inferred fallback was used.
func Fetch(ctx context.Context, f provider.Fetcher, url string, secure bool) (Info, error) {
	body, err := f.Fetch(ctx, url)
	if err != nil {
		return Infer(secure), err
	}
	pairs := Parse(string(body))
	if len(pairs) == 0 {
		return Infer(secure), ErrNoPairs
	}
	return FromPairs(pairs), nil
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
