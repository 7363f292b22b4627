package snapshot

import (
	"net/http"
	"strings"

	"github.com/gustycube/ip-sentinel/internal/tlsinfo"
)

// EdgeSource extracts edge metadata from an inbound request.
type EdgeSource interface {
	Meta(r *http.Request) EdgeMeta
}

// Header names used by HeaderSource. Cloudflare sends the CF-IP* family when visitor
// location headers are enabled; ASN and organisation are commonly added by a transform rule.
const (
	HeaderConnectingIP = "CF-Connecting-IP"
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderCountry      = "CF-IPCountry"
	HeaderCity         = "CF-IPCity"
	HeaderRegion       = "CF-Region"
	HeaderLatitude     = "CF-IPLatitude"
	HeaderLongitude    = "CF-IPLongitude"
	HeaderTimezone     = "CF-Timezone"
	HeaderASN          = "CF-ASN"
	HeaderASOrg        = "CF-AS-Organization"
	HeaderRay          = "CF-Ray"
)

// HeaderSource reads edge metadata from request headers and the connection state.
type HeaderSource struct{}

func (HeaderSource) Meta(r *http.Request) EdgeMeta {
	h := r.Header
	proto, tlsVersion := tlsinfo.FromRequest(r)
	return EdgeMeta{
		ConnectingIP:   h.Get(HeaderConnectingIP),
		ForwardedFor:   h.Get(HeaderForwardedFor),
		Country:        h.Get(HeaderCountry),
		City:           h.Get(HeaderCity),
		Region:         h.Get(HeaderRegion),
		ASOrganization: h.Get(HeaderASOrg),
		ASN:            h.Get(HeaderASN),
		Latitude:       h.Get(HeaderLatitude),
		Longitude:      h.Get(HeaderLongitude),
		Colo:           coloFromRay(h.Get(HeaderRay)),
		Timezone:       h.Get(HeaderTimezone),
		HTTPProtocol:   proto,
		TLSVersion:     tlsVersion,
		UserAgent:      r.UserAgent(),
	}
}

// coloFromRay takes the data-center code from a ray ID such as "8c1f2a3b4c5d6e7f-SJC".
func coloFromRay(ray string) string {
	i := strings.LastIndexByte(ray, '-')
	if i < 0 || i == len(ray)-1 {
		return ""
	}
	return strings.ToUpper(ray[i+1:])
}
