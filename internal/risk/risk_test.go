package risk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustycube/ip-sentinel/internal/logging"
	"github.com/gustycube/ip-sentinel/internal/provider"
)

func TestNormalizeScore(t *testing.T) {
	testCases := []struct {
		in   interface{}
		want int
	}{
		{nil, 0},
		{0.42, 42},
		{"0.42", 42},
		{"87.5%", 88},
		{"87.5", 88},
		{"0.0039 (Low)", 0},
		{"0.0061 (Elevated)", 1},
		{1.0, 100},
		{"1", 100},
		{0.0, 0},
		{250, 100},
		{"250", 100},
		{"n/a", 0},
		{"", 0},
		{"1.2.3", 0},
		{1e-05, 0},
		{-3.0, 0},
		{true, 0},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, NormalizeScore(tc.in), "NormalizeScore(%#v)", tc.in)
	}
}

const sample = `{
  "ip": "203.0.113.50",
  "rir": "APNIC",
  "is_bogon": false,
  "is_mobile": false,
  "is_crawler": false,
  "is_datacenter": true,
  "is_tor": false,
  "is_proxy": false,
  "is_vpn": true,
  "is_abuser": false,
  "company": {"name": "Example Hosting", "abuser_score": "0.0039 (Low)", "domain": "example.net", "type": "hosting"},
  "asn": {"asn": 64510, "abuser_score": "0.25 (High)", "route": "203.0.113.0/24", "org": "Example Hosting Ltd", "type": "hosting"},
  "location": {"country": "Singapore", "state": "Central", "city": "Singapore", "latitude": 1.29, "longitude": 103.85, "timezone": "Asia/Singapore"}
}`

func TestDecode(t *testing.T) {
	r, err := Decode([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "203.0.113.50", r.IP)
	assert.Equal(t, 0, r.AbuserScoreCompany)
	assert.Equal(t, 25, r.AbuserScoreASN)
	assert.Equal(t, []string{"vpn", "datacenter"}, r.Flags.Set())
	assert.Equal(t, 64510, r.ASN.Number)
	assert.Equal(t, "APNIC", r.ASN.Registry)
	assert.Equal(t, "Example Hosting", r.Company.Name)
	assert.Equal(t, "Asia/Singapore", r.Location.Timezone)
	assert.False(t, r.LowRisk())
	assert.Equal(t, 60, r.TrustScore())
	assert.Equal(t, "CAUTION", r.Verdict())
	assert.Equal(t, "https://www.google.com/maps/search/?api=1&query=1.29,103.85", r.MapLink())
}

func TestDecode_MissingSections(t *testing.T) {
	r, err := Decode([]byte(`{"ip":"192.0.2.1"}`))
	require.NoError(t, err)
	assert.Equal(t, 0, r.AbuserScoreCompany)
	assert.Equal(t, 0, r.AbuserScoreASN)
	assert.True(t, r.LowRisk())
	assert.Equal(t, 100, r.TrustScore())
	assert.Equal(t, "SECURE", r.Verdict())

	_, err = Decode([]byte(`{"error":"Invalid IP Address"}`))
	assert.Error(t, err)
}

func TestLocalTime(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, "20:30", Report{Location: Location{Timezone: "Asia/Singapore"}}.LocalTime(now))
	assert.Equal(t, "Unknown", Report{}.LocalTime(now))
	assert.Equal(t, "Unknown", Report{Location: Location{Timezone: "Mars/Olympus"}}.LocalTime(now))
}

func TestQueryURL(t *testing.T) {
	u, err := QueryURL("https://api.ipapi.is", "2001:db8::1")
	require.NoError(t, err)
	assert.Equal(t, "https://api.ipapi.is?q=2001%3Adb8%3A%3A1", u)

	u, err = QueryURL("https://risk.example/lookup?key=abc", "192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, "https://risk.example/lookup?key=abc&q=192.0.2.1", u)
}

func TestEnricher_CachesAndShares(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	f := provider.FetchFunc(func(ctx context.Context, url string) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte(sample), nil
	})
	e := NewEnricher(f, "https://api.ipapi.is", 16, time.Minute, logging.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := e.Lookup(context.Background(), "203.0.113.50")
			assert.NoError(t, err)
			assert.Equal(t, 25, r.AbuserScoreASN)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	_, err := e.Lookup(context.Background(), "203.0.113.50")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEnricher_FailureNotCached(t *testing.T) {
	var calls int32
	f := provider.FetchFunc(func(ctx context.Context, url string) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("boom")
	})
	e := NewEnricher(f, "https://api.ipapi.is", 16, time.Minute, nil)

	_, err := e.Lookup(context.Background(), "192.0.2.1")
	assert.Error(t, err)
	_, err = e.Lookup(context.Background(), "192.0.2.1")
	assert.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
