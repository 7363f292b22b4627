// Package snapshot derives the connection metadata the edge knows about a caller.
package snapshot

import (
	"math"
	"strconv"
	"strings"
)

// Literal fallbacks for every field of a Connection.
const (
	DefaultIP           = "127.0.0.1"
	DefaultCountry      = "UNK"
	DefaultCity         = "Unknown"
	DefaultRegion       = ""
	DefaultISP          = "ISP N/A"
	DefaultASN          = "N/A"
	DefaultColo         = "UNK"
	DefaultTimezone     = "UTC"
	DefaultHTTPProtocol = "HTTP/2"
	DefaultTLSVersion   = "TLS 1.3"
	DefaultUserAgent    = ""
)

// Connection is the per-request snapshot embedded into the dashboard page.
// It is built once by Derive and never mutated afterwards.
type Connection struct {
	IP           string  `json:"ip"`
	Country      string  `json:"country"`
	City         string  `json:"city"`
	Region       string  `json:"region"`
	ISP          string  `json:"isp"`
	ASN          string  `json:"asn"`
	Latitude     float64 `json:"lat"`
	Longitude    float64 `json:"lon"`
	Colo         string  `json:"colo"`
	Timezone     string  `json:"timezone"`
	HTTPProtocol string  `json:"httpProtocol"`
	TLSVersion   string  `json:"tlsVersion"`
	UserAgent    string  `json:"userAgent"`
}

// EdgeMeta is the raw metadata an edge runtime exposes for a request. Every field may be
// empty; coordinates are kept as text because edges deliver them as header strings.
type EdgeMeta struct {
	ConnectingIP   string
	ForwardedFor   string
	Country        string
	City           string
	Region         string
	ASOrganization string
	ASN            string
	Latitude       string
	Longitude      string
	Colo           string
	Timezone       string
	HTTPProtocol   string
	TLSVersion     string
	UserAgent      string
}

// Derive applies the field policy: edge value when present and non-empty, literal default
// otherwise. Nothing is validated beyond emptiness.
func Derive(m EdgeMeta) Connection {
	c := Connection{
		IP:           firstNonEmpty(m.ConnectingIP, firstForwarded(m.ForwardedFor), DefaultIP),
		Country:      or(m.Country, DefaultCountry),
		City:         or(m.City, DefaultCity),
		Region:       or(m.Region, DefaultRegion),
		ISP:          or(m.ASOrganization, DefaultISP),
		ASN:          DefaultASN,
		Latitude:     coordinate(m.Latitude),
		Longitude:    coordinate(m.Longitude),
		Colo:         or(m.Colo, DefaultColo),
		Timezone:     or(m.Timezone, DefaultTimezone),
		HTTPProtocol: or(m.HTTPProtocol, DefaultHTTPProtocol),
		TLSVersion:   or(m.TLSVersion, DefaultTLSVersion),
		UserAgent:    or(m.UserAgent, DefaultUserAgent),
	}
	if asn := strings.TrimSpace(m.ASN); asn != "" {
		c.ASN = "AS" + strings.TrimPrefix(strings.ToUpper(asn), "AS")
	}
	return c
}

// IsPlaceholder reports whether ip carries no real address yet.
func IsPlaceholder(ip string) bool {
	switch strings.TrimSpace(ip) {
	case "", "Loading...", "...":
		return true
	}
	return false
}

func firstForwarded(xff string) string {
	first, _, _ := strings.Cut(xff, ",")
	return strings.TrimSpace(first)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func or(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func coordinate(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
