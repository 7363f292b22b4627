// Package risk reads abuse, proxy and hosting signals for an address from ipapi.is.
package risk

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Flags are the boolean classifications the provider reports.
type Flags struct {
	Proxy      bool `json:"proxy"`
	VPN        bool `json:"vpn"`
	Tor        bool `json:"tor"`
	Datacenter bool `json:"datacenter"`
	Abuser     bool `json:"abuser"`
	Bogon      bool `json:"bogon"`
	Mobile     bool `json:"mobile"`
	Crawler    bool `json:"crawler"`
}

// Set lists the raised flags in display order.
func (f Flags) Set() []string {
	var out []string
	add := func(on bool, name string) {
		if on {
			out = append(out, name)
		}
	}
	add(f.Proxy, "proxy")
	add(f.VPN, "vpn")
	add(f.Tor, "tor")
	add(f.Datacenter, "datacenter")
	add(f.Abuser, "abuser")
	add(f.Bogon, "bogon")
	add(f.Mobile, "mobile")
	add(f.Crawler, "crawler")
	return out
}

type ASN struct {
	Number   int    `json:"number"`
	Org      string `json:"org"`
	Type     string `json:"type"`
	Route    string `json:"route"`
	Registry string `json:"registry"`
}

type Company struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
	Type   string `json:"type"`
}

type Location struct {
	City      string  `json:"city"`
	State     string  `json:"state"`
	Country   string  `json:"country"`
	Timezone  string  `json:"timezone"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Report is the normalized risk view of one address.
type Report struct {
	IP                 string   `json:"ip"`
	AbuserScoreCompany int      `json:"abuserScoreCompany"`
	AbuserScoreASN     int      `json:"abuserScoreAsn"`
	Flags              Flags    `json:"flags"`
	ASN                ASN      `json:"asn"`
	Company            Company  `json:"company"`
	Location           Location `json:"location"`
}

// ElevatedScore is the abuser score above which a score is shown as bad.
const ElevatedScore = 20

// LowRisk holds when the address is neither a known proxy nor hosted in a data center.
func (r Report) LowRisk() bool {
	return !r.Flags.Proxy && !r.Flags.Datacenter
}

// TrustScore starts at 100 and loses 20 for each of vpn, proxy and datacenter.
func (r Report) TrustScore() int {
	s := 100
	for _, on := range []bool{r.Flags.VPN, r.Flags.Proxy, r.Flags.Datacenter} {
		if on {
			s -= 20
		}
	}
	return s
}

func (r Report) Verdict() string {
	if r.TrustScore() > 80 {
		return "SECURE"
	}
	return "CAUTION"
}

// LocalTime renders now in the report's timezone as HH:MM, or "Unknown".
func (r Report) LocalTime(now time.Time) string {
	if r.Location.Timezone == "" {
		return "Unknown"
	}
	loc, err := time.LoadLocation(r.Location.Timezone)
	if err != nil {
		return "Unknown"
	}
	return now.In(loc).Format("15:04")
}

func (r Report) MapLink() string {
	return fmt.Sprintf("https://www.google.com/maps/search/?api=1&query=%s,%s",
		strconv.FormatFloat(r.Location.Latitude, 'f', -1, 64),
		strconv.FormatFloat(r.Location.Longitude, 'f', -1, 64))
}

var numeric = regexp.MustCompile(`[0-9.]+`)

// NormalizeScore maps a provider score ("0.0039 (Low)", 0.42, "87.5%") onto 0..100.
// Values at or below 1 are fractions. Anything unreadable is 0.
func NormalizeScore(v interface{}) int {
	var f float64
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	default:
		m := numeric.FindString(fmt.Sprint(t))
		if m == "" {
			return 0
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(m), 64)
		if err != nil {
			return 0
		}
		f = n
	}
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f <= 1 {
		f *= 100
	}
	return int(math.Min(100, math.Round(f)))
}

// ipapiIs is the subset of the api.ipapi.is response the dashboard reads.
type ipapiIs struct {
	IP           string `json:"ip"`
	RIR          string `json:"rir"`
	IsBogon      bool   `json:"is_bogon"`
	IsMobile     bool   `json:"is_mobile"`
	IsCrawler    bool   `json:"is_crawler"`
	IsDatacenter bool   `json:"is_datacenter"`
	IsTor        bool   `json:"is_tor"`
	IsProxy      bool   `json:"is_proxy"`
	IsVPN        bool   `json:"is_vpn"`
	IsAbuser     bool   `json:"is_abuser"`
	Company      *struct {
		Name        string      `json:"name"`
		AbuserScore interface{} `json:"abuser_score"`
		Domain      string      `json:"domain"`
		Type        string      `json:"type"`
	} `json:"company"`
	ASN *struct {
		ASN         int         `json:"asn"`
		AbuserScore interface{} `json:"abuser_score"`
		Route       string      `json:"route"`
		Org         string      `json:"org"`
		Type        string      `json:"type"`
		RIR         string      `json:"rir"`
	} `json:"asn"`
	Location *struct {
		Country   string  `json:"country"`
		State     string  `json:"state"`
		City      string  `json:"city"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Timezone  string  `json:"timezone"`
	} `json:"location"`
	Error string `json:"error"`
}

// Decode reads an api.ipapi.is response.
func Decode(b []byte) (Report, error) {
	var raw ipapiIs
	if err := json.Unmarshal(b, &raw); err != nil {
		return Report{}, err
	}
	if raw.Error != "" {
		return Report{}, fmt.Errorf("ipapi.is: %s", raw.Error)
	}
	r := Report{
		IP: raw.IP,
		Flags: Flags{
			Proxy:      raw.IsProxy,
			VPN:        raw.IsVPN,
			Tor:        raw.IsTor,
			Datacenter: raw.IsDatacenter,
			Abuser:     raw.IsAbuser,
			Bogon:      raw.IsBogon,
			Mobile:     raw.IsMobile,
			Crawler:    raw.IsCrawler,
		},
	}
	if c := raw.Company; c != nil {
		r.AbuserScoreCompany = NormalizeScore(c.AbuserScore)
		r.Company = Company{Name: c.Name, Domain: c.Domain, Type: c.Type}
	}
	if a := raw.ASN; a != nil {
		r.AbuserScoreASN = NormalizeScore(a.AbuserScore)
		registry := a.RIR
		if registry == "" {
			registry = raw.RIR
		}
		r.ASN = ASN{Number: a.ASN, Org: a.Org, Type: a.Type, Route: a.Route, Registry: registry}
	}
	if l := raw.Location; l != nil {
		r.Location = Location{
			City:      l.City,
			State:     l.State,
			Country:   l.Country,
			Timezone:  l.Timezone,
			Latitude:  l.Latitude,
			Longitude: l.Longitude,
		}
	}
	return r, nil
}
