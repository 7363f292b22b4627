package snapshot

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerive_Defaults(t *testing.T) {
	c := Derive(EdgeMeta{})

	assert.Equal(t, "127.0.0.1", c.IP)
	assert.Equal(t, "UNK", c.Country)
	assert.Equal(t, "Unknown", c.City)
	assert.Equal(t, "", c.Region)
	assert.Equal(t, "ISP N/A", c.ISP)
	assert.Equal(t, "N/A", c.ASN)
	assert.Equal(t, 0.0, c.Latitude)
	assert.Equal(t, 0.0, c.Longitude)
	assert.Equal(t, "UNK", c.Colo)
	assert.Equal(t, "UTC", c.Timezone)
	assert.Equal(t, "HTTP/2", c.HTTPProtocol)
	assert.Equal(t, "TLS 1.3", c.TLSVersion)
	assert.Equal(t, "", c.UserAgent)
}

func TestDerive_WhitespaceCountsAsEmpty(t *testing.T) {
	c := Derive(EdgeMeta{City: "  ", Colo: "\t", ConnectingIP: " "})
	assert.Equal(t, "Unknown", c.City)
	assert.Equal(t, "UNK", c.Colo)
	assert.Equal(t, "127.0.0.1", c.IP)
}

func TestDerive_IPPrecedence(t *testing.T) {
	testCases := []struct {
		meta EdgeMeta
		want string
		msg  string
	}{
		{EdgeMeta{ConnectingIP: "198.51.100.7", ForwardedFor: "203.0.113.1"}, "198.51.100.7", "connecting IP wins"},
		{EdgeMeta{ForwardedFor: "203.0.113.1, 10.0.0.1"}, "203.0.113.1", "first forwarded entry"},
		{EdgeMeta{ForwardedFor: " , 10.0.0.1"}, "127.0.0.1", "empty first forwarded entry"},
		{EdgeMeta{}, "127.0.0.1", "literal default"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, Derive(tc.meta).IP, tc.msg)
	}
}

func TestDerive_PresentValues(t *testing.T) {
	c := Derive(EdgeMeta{
		Country:        "DE",
		City:           "Frankfurt",
		Region:         "Hesse",
		ASOrganization: "Example Carrier",
		ASN:            "64500",
		Latitude:       "50.11",
		Longitude:      "8.68",
		Colo:           "FRA",
		Timezone:       "Europe/Berlin",
		HTTPProtocol:   "HTTP/3",
		TLSVersion:     "TLS 1.2",
		UserAgent:      "curl/8.0",
	})

	assert.Equal(t, "DE", c.Country)
	assert.Equal(t, "Frankfurt", c.City)
	assert.Equal(t, "Hesse", c.Region)
	assert.Equal(t, "Example Carrier", c.ISP)
	assert.Equal(t, "AS64500", c.ASN)
	assert.InDelta(t, 50.11, c.Latitude, 1e-9)
	assert.InDelta(t, 8.68, c.Longitude, 1e-9)
	assert.Equal(t, "FRA", c.Colo)
	assert.Equal(t, "Europe/Berlin", c.Timezone)
	assert.Equal(t, "HTTP/3", c.HTTPProtocol)
	assert.Equal(t, "TLS 1.2", c.TLSVersion)
	assert.Equal(t, "curl/8.0", c.UserAgent)
}

func TestDerive_ASNAlreadyPrefixed(t *testing.T) {
	assert.Equal(t, "AS13335", Derive(EdgeMeta{ASN: "as13335"}).ASN)
}

func TestDerive_BadCoordinates(t *testing.T) {
	c := Derive(EdgeMeta{Latitude: "north", Longitude: ""})
	assert.Equal(t, 0.0, c.Latitude)
	assert.Equal(t, 0.0, c.Longitude)

	for _, v := range []string{"NaN", "nan", "Inf", "-Inf", "+Infinity", "1e999"} {
		c := Derive(EdgeMeta{Latitude: v, Longitude: v})
		assert.Equal(t, 0.0, c.Latitude, v)
		assert.Equal(t, 0.0, c.Longitude, v)
	}
}

func TestHeaderSource_Meta(t *testing.T) {
	r := httptest.NewRequest("GET", "https://sentinel.example/", nil)
	r.TLS.Version = tls.VersionTLS13
	r.Proto = "HTTP/2.0"
	r.Header.Set(HeaderCountry, "JP")
	r.Header.Set(HeaderRay, "8c1f2a3b4c5d6e7f-nrt")
	r.Header.Set("User-Agent", "Mozilla/5.0")

	m := HeaderSource{}.Meta(r)
	assert.Equal(t, "JP", m.Country)
	assert.Equal(t, "NRT", m.Colo)
	assert.Equal(t, "HTTP/2", m.HTTPProtocol)
	assert.Equal(t, "TLS 1.3", m.TLSVersion)
	assert.Equal(t, "Mozilla/5.0", m.UserAgent)
}

func TestColoFromRay(t *testing.T) {
	assert.Equal(t, "SJC", coloFromRay("abc-SJC"))
	assert.Equal(t, "", coloFromRay("abc-"))
	assert.Equal(t, "", coloFromRay("noseparator"))
}

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, IsPlaceholder(""))
	assert.True(t, IsPlaceholder("Loading..."))
	assert.False(t, IsPlaceholder("192.0.2.1"))
}

func TestExtract(t *testing.T) {
	doc := `<html><head><script>var x = 1;</script>
<script type="application/json" id="cf-data">{"ip":"192.0.2.44","country":"NL","lat":52.3}</script>
</head><body></body></html>`

	c, err := Extract(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.44", c.IP)
	assert.Equal(t, "NL", c.Country)
	assert.InDelta(t, 52.3, c.Latitude, 1e-9)
}

func TestExtract_Missing(t *testing.T) {
	_, err := Extract(strings.NewReader("<html><body>nothing</body></html>"))
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestPageSource_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<script id="cf-data" type="application/json">{"ip":"198.51.100.20"}</script>`))
	}))
	defer srv.Close()

	c, err := PageSource{URL: srv.URL, Client: srv.Client()}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.20", c.IP)
}
