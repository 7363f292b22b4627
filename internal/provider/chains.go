package provider

import "github.com/gustycube/ip-sentinel/internal/config"

// Chains holds the ordered provider list of every lane.
type Chains struct {
	Geo      []Provider[Geo]
	Domestic []Provider[string]
	Foreign  []Provider[string]
	IPv4     []Provider[string]
	IPv6     []Provider[string]
	Trace    string
	Risk     string
}

// ChainsFrom builds the stock chains over the configured endpoints.
func ChainsFrom(p config.Providers) Chains {
	return Chains{
		Geo: []Provider[Geo]{
			{Name: "ip.sb", URL: p.IPSB, Decode: DecodeIPSBGeo},
			{Name: "ipapi.co", URL: p.IPAPICo, Decode: DecodeIPAPICoGeo},
		},
		Domestic: []Provider[string]{
			{Name: "ipip.net", URL: p.IPIPNet, Decode: DecodeIPIPNet},
			{Name: "useragentinfo", URL: p.UserAgentInfo, Decode: DecodeJSONIP},
			{Name: "ipapi.co", URL: p.IPAPICo, Decode: DecodeIPAPICoIP},
		},
		Foreign: []Provider[string]{
			{Name: "ipify", URL: p.Ipify, Decode: DecodeTextIP},
		},
		IPv4: []Provider[string]{
			{Name: "ipify-v4", URL: p.IpifyV4, Decode: DecodeJSONIP},
		},
		IPv6: []Provider[string]{
			{Name: "ipify-v6", URL: p.IpifyV6, Decode: DecodeJSONIP},
		},
		Trace: p.Trace,
		Risk:  p.IPAPIIs,
	}
}
