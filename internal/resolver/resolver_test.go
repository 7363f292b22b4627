package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustycube/ip-sentinel/internal/httpclient"
	"github.com/gustycube/ip-sentinel/internal/logging"
	"github.com/gustycube/ip-sentinel/internal/provider"
	"github.com/gustycube/ip-sentinel/internal/risk"
	"github.com/gustycube/ip-sentinel/internal/snapshot"
)

// recorder is a Fetcher answering from a fixed table and remembering the call order.
type recorder struct {
	mu      sync.Mutex
	calls   []string
	answers map[string]string
}

func (r *recorder) Fetch(ctx context.Context, url string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, url)
	r.mu.Unlock()
	body, ok := r.answers[url]
	if !ok {
		return nil, errors.New("unreachable: " + url)
	}
	return []byte(body), nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func ipChain(urls ...string) []provider.Provider[string] {
	var out []provider.Provider[string]
	for _, u := range urls {
		out = append(out, provider.Provider[string]{Name: u, URL: u, Decode: provider.DecodeJSONIP})
	}
	return out
}

func TestFirstSuccess_StopsAtFirstSuccess(t *testing.T) {
	f := &recorder{answers: map[string]string{
		"p2": `{"ip":"192.0.2.2"}`,
		"p3": `{"ip":"192.0.2.3"}`,
	}}

	ip, winner, attempts, err := FirstSuccess(context.Background(), f, ipChain("p1", "p2", "p3"))
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.2", ip)
	assert.Equal(t, "p2", winner)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []string{"p1", "p2"}, f.seen(), "no third attempt after a success")
}

func TestFirstSuccess_ReportsEachFailure(t *testing.T) {
	limited := provider.FetchFunc(func(ctx context.Context, url string) ([]byte, error) {
		switch url {
		case "p1":
			return nil, &httpclient.HTTPError{StatusCode: http.StatusTooManyRequests}
		case "p2":
			return nil, errors.New("connection reset")
		}
		return []byte(`{"ip":"192.0.2.3"}`), nil
	})

	outcomes := map[string]string{}
	ip, winner, _, err := firstSuccess(context.Background(), limited, ipChain("p1", "p2", "p3"), func(name string, err error) {
		outcomes[name] = httpclient.Outcome(err)
	})
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.3", ip)
	assert.Equal(t, "p3", winner)
	assert.Equal(t, map[string]string{"p1": "http_429", "p2": "error"}, outcomes)
}

func TestFirstSuccess_DecodeFailureAdvances(t *testing.T) {
	f := &recorder{answers: map[string]string{
		"p1": `{"ip":""}`,
		"p2": `not json`,
		"p3": `{"ip":"192.0.2.3"}`,
	}}
	ip, winner, attempts, err := FirstSuccess(context.Background(), f, ipChain("p1", "p2", "p3"))
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.3", ip)
	assert.Equal(t, "p3", winner)
	assert.Equal(t, 3, attempts)
}

func TestFirstSuccess_Exhausted(t *testing.T) {
	f := &recorder{answers: map[string]string{}}
	_, winner, attempts, err := FirstSuccess(context.Background(), f, ipChain("d1", "d2", "d3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, "", winner)
	assert.Equal(t, 3, attempts)
	for _, name := range []string{"d1", "d2", "d3"} {
		assert.Contains(t, err.Error(), name)
	}
	assert.Equal(t, []string{"d1", "d2", "d3"}, f.seen())
}

func TestFirstSuccess_EmptyChain(t *testing.T) {
	_, _, attempts, err := FirstSuccess(context.Background(), &recorder{}, ipChain())
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 0, attempts)
}

func TestFirstSuccess_Cancelled(t *testing.T) {
	f := &recorder{answers: map[string]string{"p1": `{"ip":"192.0.2.1"}`}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, _, err := FirstSuccess(ctx, f, ipChain("p1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.seen())
}

func TestAddress_SettlesOnce(t *testing.T) {
	a := &Address{Source: SourceDomestic, Status: StatusPending}
	assert.True(t, a.settle("192.0.2.1", "p1", nil))
	assert.False(t, a.settle("", "", errors.New("late failure")))
	assert.Equal(t, StatusOK, a.Status)
	assert.Equal(t, "192.0.2.1", a.IP)

	e := &Address{Source: SourceForeign, Status: StatusPending}
	assert.True(t, e.settle("", "", errors.New("down")))
	assert.False(t, e.settle("192.0.2.9", "p1", nil))
	assert.Equal(t, StatusError, e.Status)
	assert.Equal(t, "", e.IP)
}

func TestAddress_RiskAttachedOnce(t *testing.T) {
	a := &Address{Status: StatusOK, IP: "192.0.2.1"}
	assert.True(t, a.attachRisk(risk.Report{AbuserScoreASN: 10}))
	assert.False(t, a.attachRisk(risk.Report{AbuserScoreASN: 90}))
	assert.Equal(t, 10, a.Risk.AbuserScoreASN)
}

func TestBoard_ClosedDropsWrites(t *testing.T) {
	b := NewBoard(SourceDomestic)
	b.Close()
	b.Close()

	assert.False(t, b.settle(SourceDomestic, "192.0.2.1", "p1", nil))
	a, ok := b.Snapshot().Address(SourceDomestic)
	require.True(t, ok)
	assert.Equal(t, StatusPending, a.Status)

	_, open := <-b.Updates()
	assert.False(t, open)
}

func TestBoard_TraceColoWins(t *testing.T) {
	b := NewBoard()
	b.trace(traceInfo("HKG"))
	b.geo(provider.Geo{IP: "192.0.2.1", City: "Hong Kong", Country: "HK", Colo: "N/A", ISP: "x"}, "ip.sb")
	assert.Equal(t, "HKG", b.Snapshot().Display.Colo)

	b2 := NewBoard()
	b2.geo(provider.Geo{IP: "192.0.2.1", Colo: "13"}, "ip.sb")
	assert.Equal(t, "13", b2.Snapshot().Display.Colo)
	b2.trace(traceInfo("NRT"))
	assert.Equal(t, "NRT", b2.Snapshot().Display.Colo)
}

// stack builds a fake provider fleet behind one httptest server.
func stack(t *testing.T, handlers map[string]http.HandlerFunc) (*httptest.Server, *hits) {
	h := &hits{n: map[string]int{}}
	mux := http.NewServeMux()
	for path, fn := range handlers {
		path, fn := path, fn
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			h.add(path)
			fn(w, r)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, h
}

type hits struct {
	mu sync.Mutex
	n  map[string]int
}

func (h *hits) add(p string) {
	h.mu.Lock()
	h.n[p]++
	h.mu.Unlock()
}

func (h *hits) get(p string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n[p]
}

func body(s string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(s)) }
}

func status(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(code) }
}

func chainsFor(base string) provider.Chains {
	return provider.Chains{
		Geo: []provider.Provider[provider.Geo]{
			{Name: "ip.sb", URL: base + "/ipsb", Decode: provider.DecodeIPSBGeo},
			{Name: "ipapi.co", URL: base + "/ipapico", Decode: provider.DecodeIPAPICoGeo},
		},
		Domestic: []provider.Provider[string]{
			{Name: "ipip.net", URL: base + "/ipip", Decode: provider.DecodeIPIPNet},
			{Name: "useragentinfo", URL: base + "/uai", Decode: provider.DecodeJSONIP},
			{Name: "ipapi.co", URL: base + "/ipapico", Decode: provider.DecodeIPAPICoIP},
		},
		Foreign: []provider.Provider[string]{{Name: "ipify", URL: base + "/ipify", Decode: provider.DecodeTextIP}},
		IPv4:    []provider.Provider[string]{{Name: "ipify-v4", URL: base + "/v4", Decode: provider.DecodeJSONIP}},
		IPv6:    []provider.Provider[string]{{Name: "ipify-v6", URL: base + "/v6", Decode: provider.DecodeJSONIP}},
		Trace:   base + "/trace",
		Risk:    base + "/risk",
	}
}

func waitDone(t *testing.T, b *Board) Snapshot {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, open := <-b.Updates():
			if !open {
				return b.Snapshot()
			}
		case <-timeout:
			t.Fatal("pipeline did not settle")
		}
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	srv, h := stack(t, map[string]http.HandlerFunc{
		"/ipsb":    body(`{"ip":"203.0.113.7","city":"Osaka","country":"Japan","region_code":"27","organization":"Example KK","asn":64500}`),
		"/ipapico": body(`{"ip":"203.0.113.99"}`),
		"/ipip":    status(http.StatusBadGateway),
		"/uai":     body(`{"ip":"203.0.113.8"}`),
		"/ipify":   body("203.0.113.9"),
		"/v4":      body(`{"ip":"203.0.113.9"}`),
		"/v6":      status(http.StatusServiceUnavailable),
		"/trace":   body("colo=KIX\nhttp=http/2\ntls=TLSv1.3\nvisit_scheme=https\n"),
		"/risk":    body(`{"ip":"x","is_vpn":true,"asn":{"asn":64500,"abuser_score":"0.42"}}`),
	})

	f := provider.NewHTTP(srv.Client(), "test")
	p := &Pipeline{
		Chains:  chainsFor(srv.URL),
		Fetcher: f,
		Risk:    risk.NewEnricher(f, srv.URL+"/risk", 16, time.Minute, logging.Nop()),
		Delays:  Delays{Domestic: 10 * time.Millisecond, Foreign: 20 * time.Millisecond, Edge: 30 * time.Millisecond},
		Log:     logging.Nop(),
	}
	s := waitDone(t, p.Run(context.Background()))

	assert.True(t, s.Done)
	assert.Equal(t, "203.0.113.7", s.Display.IP)
	assert.Equal(t, "Osaka, Japan", s.Display.Loc)
	assert.Equal(t, "KIX", s.Display.Colo)
	assert.Equal(t, "http/2", s.Display.HTTP)
	assert.Equal(t, StatusOK, s.Display.Status)

	dom, _ := s.Address(SourceDomestic)
	assert.Equal(t, StatusOK, dom.Status)
	assert.Equal(t, "203.0.113.8", dom.IP)
	assert.Equal(t, "useragentinfo", dom.Provider)
	assert.Equal(t, 0, h.get("/ipapico"), "third domestic provider must not be tried")

	foreign, _ := s.Address(SourceForeign)
	assert.Equal(t, "203.0.113.9", foreign.IP)
	require.NotNil(t, foreign.Risk)
	assert.Equal(t, 42, foreign.Risk.AbuserScoreASN)

	edge, _ := s.Address(SourceEdge)
	assert.Equal(t, StatusOK, edge.Status)
	assert.Equal(t, "203.0.113.7", edge.IP)

	v6, _ := s.Address(SourceIPv6)
	assert.Equal(t, StatusError, v6.Status)

	// foreign and ipv4 share an address, so three distinct lookups cover four lanes
	assert.Equal(t, 3, h.get("/risk"))
}

func TestPipeline_ExhaustedLaneEndsInError(t *testing.T) {
	srv, _ := stack(t, map[string]http.HandlerFunc{
		"/ipsb":    status(http.StatusInternalServerError),
		"/ipapico": status(http.StatusTooManyRequests),
		"/ipip":    status(http.StatusInternalServerError),
		"/uai":     body("garbage"),
		"/ipify":   status(http.StatusInternalServerError),
		"/v4":      status(http.StatusInternalServerError),
		"/v6":      status(http.StatusInternalServerError),
		"/trace":   status(http.StatusForbidden),
	})
	p := &Pipeline{
		Chains:  chainsFor(srv.URL),
		Fetcher: provider.NewHTTP(srv.Client(), ""),
		Secure:  true,
	}
	s := waitDone(t, p.Run(context.Background()))

	assert.Equal(t, "Error", s.Display.IP)
	assert.Equal(t, StatusError, s.Display.Status)
	assert.Equal(t, "HTTP/2", s.Display.HTTP)
	assert.Equal(t, "TLS 1.2+", s.Display.TLS)
	assert.True(t, s.Display.TraceInferred)
	for _, a := range s.Addresses {
		assert.Equal(t, StatusError, a.Status, a.Source)
		assert.Nil(t, a.Risk)
	}
}

func TestPipeline_EdgeLaneGatedOnSnapshot(t *testing.T) {
	f := &recorder{answers: map[string]string{}}
	release := make(chan struct{})
	p := &Pipeline{
		Chains:  chainsFor("mem:"),
		Fetcher: f,
		Snapshot: func(ctx context.Context) (snapshot.Connection, error) {
			<-release
			return snapshot.Connection{IP: "198.51.100.1", Colo: "AMS"}, nil
		},
	}
	b := p.Run(context.Background())

	time.Sleep(50 * time.Millisecond)
	edge, _ := b.Snapshot().Address(SourceEdge)
	assert.Equal(t, StatusPending, edge.Status)

	close(release)
	s := waitDone(t, b)
	edge, _ = s.Address(SourceEdge)
	assert.Equal(t, StatusOK, edge.Status)
	assert.Equal(t, "198.51.100.1", edge.IP)
	require.NotNil(t, s.Edge)
	assert.Equal(t, "AMS", s.Edge.Colo)
}

func TestPipeline_EdgeLanePlaceholderStaysPending(t *testing.T) {
	p := &Pipeline{
		Chains:  chainsFor("mem:"),
		Fetcher: &recorder{answers: map[string]string{}},
		Snapshot: func(ctx context.Context) (snapshot.Connection, error) {
			return snapshot.Connection{IP: "Loading..."}, nil
		},
	}
	s := waitDone(t, p.Run(context.Background()))
	edge, _ := s.Address(SourceEdge)
	assert.Equal(t, StatusPending, edge.Status)
}

func TestPipeline_EdgeSnapshotFailure(t *testing.T) {
	p := &Pipeline{
		Chains:  chainsFor("mem:"),
		Fetcher: &recorder{answers: map[string]string{}},
		Snapshot: func(ctx context.Context) (snapshot.Connection, error) {
			return snapshot.Connection{}, snapshot.ErrNoSnapshot
		},
	}
	s := waitDone(t, p.Run(context.Background()))
	edge, _ := s.Address(SourceEdge)
	assert.Equal(t, StatusError, edge.Status)
}

func TestPipeline_CancelDropsLateUpdates(t *testing.T) {
	block := provider.FetchFunc(func(ctx context.Context, url string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{Chains: chainsFor("mem:"), Fetcher: block}
	b := p.Run(ctx)
	cancel()

	s := waitDone(t, b)
	assert.False(t, s.Done)
	for _, a := range s.Addresses {
		assert.Equal(t, StatusPending, a.Status)
	}
	assert.False(t, b.settle(SourceForeign, "192.0.2.1", "late", nil))
}
