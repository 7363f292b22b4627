package provider

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

var ErrNoIP = errors.New("response carries no ip address")

// Geo is the canonical payload of the primary geo lane.
type Geo struct {
	IP      string `json:"ip"`
	City    string `json:"city"`
	Country string `json:"country"`
	Colo    string `json:"colo,omitempty"`
	ISP     string `json:"isp"`
	ASN     string `json:"asn,omitempty"`
}

// Loc renders the "city, country" line shown next to the address.
func (g Geo) Loc() string {
	return g.City + ", " + g.Country
}

// IPSBGeo is the response of api.ip.sb/geoip.
type IPSBGeo struct {
	IP           string      `json:"ip"`
	City         string      `json:"city"`
	Country      string      `json:"country"`
	RegionCode   string      `json:"region_code"`
	Organization string      `json:"organization"`
	ISP          string      `json:"isp"`
	ASN          interface{} `json:"asn"`
}

func (r IPSBGeo) Geo() Geo {
	return Geo{
		IP:      r.IP,
		City:    r.City,
		Country: or(r.Country, "Unknown"),
		Colo:    or(r.RegionCode, "N/A"),
		ISP:     or(r.Organization, or(r.ISP, "Unknown")),
		ASN:     or(scalar(r.ASN), "0"),
	}
}

// IPAPICo is the response of ipapi.co/json.
type IPAPICo struct {
	IP          string `json:"ip"`
	City        string `json:"city"`
	CountryName string `json:"country_name"`
	Org         string `json:"org"`
	ASN         string `json:"asn"`
	Error       bool   `json:"error"`
	Reason      string `json:"reason"`
}

func (r IPAPICo) Geo() Geo {
	return Geo{
		IP:      r.IP,
		City:    r.City,
		Country: r.CountryName,
		ISP:     r.Org,
		ASN:     strings.TrimPrefix(r.ASN, "AS"),
	}
}

func DecodeIPSBGeo(b []byte) (Geo, error) {
	var r IPSBGeo
	if err := json.Unmarshal(b, &r); err != nil {
		return Geo{}, err
	}
	if strings.TrimSpace(r.IP) == "" {
		return Geo{}, ErrNoIP
	}
	return r.Geo(), nil
}

func DecodeIPAPICoGeo(b []byte) (Geo, error) {
	r, err := decodeIPAPICo(b)
	if err != nil {
		return Geo{}, err
	}
	return r.Geo(), nil
}

func decodeIPAPICo(b []byte) (IPAPICo, error) {
	var r IPAPICo
	if err := json.Unmarshal(b, &r); err != nil {
		return r, err
	}
	// ipapi.co answers rate limiting with 200 and an error body.
	if r.Error {
		return r, fmt.Errorf("ipapi.co: %s", or(r.Reason, "error"))
	}
	if strings.TrimSpace(r.IP) == "" {
		return r, ErrNoIP
	}
	return r, nil
}

// validIP accepts anything netip can parse, including zoned IPv6.
func validIP(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrNoIP
	}
	if _, err := netip.ParseAddr(s); err != nil {
		return "", fmt.Errorf("not an ip address: %q", truncate(s, 40))
	}
	return s, nil
}

func scalar(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return fmt.Sprint(t)
	}
}

func or(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
