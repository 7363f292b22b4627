package resolver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gustycube/ip-sentinel/internal/httpclient"
	"github.com/gustycube/ip-sentinel/internal/logging"
	"github.com/gustycube/ip-sentinel/internal/metrics"
	"github.com/gustycube/ip-sentinel/internal/provider"
	"github.com/gustycube/ip-sentinel/internal/risk"
	"github.com/gustycube/ip-sentinel/internal/snapshot"
	"github.com/gustycube/ip-sentinel/internal/trace"
)

// Delays hold the start offsets of the delayed lanes.
type Delays struct {
	Domestic time.Duration
	Foreign  time.Duration
	Edge     time.Duration
}

// SnapshotFunc produces the connection snapshot the edge lane reuses.
type SnapshotFunc func(ctx context.Context) (snapshot.Connection, error)

// Pipeline wires the lanes together. The zero value of every optional field is usable:
// nil IPv4/IPv6 fall back to Fetcher, nil Risk disables enrichment, and nil Snapshot makes
// the edge lane reuse the primary geo address.
type Pipeline struct {
	Chains   provider.Chains
	Fetcher  provider.Fetcher
	IPv4     provider.Fetcher
	IPv6     provider.Fetcher
	Risk     *risk.Enricher
	Snapshot SnapshotFunc
	Delays   Delays
	// Secure selects the inferred transport labels when the trace cannot be read.
	Secure bool
	Log    *logging.Logger

	failLog rate.Sometimes
}

// Run starts every lane and returns the board they write to. The board is closed once
// all lanes have settled or ctx is cancelled, whichever comes first.
func (p *Pipeline) Run(ctx context.Context) *Board {
	if p.Log == nil {
		p.Log = logging.Nop()
	}
	p.failLog = rate.Sometimes{First: 3, Interval: 10 * time.Second}

	b := NewBoard(AddressSources...)
	stop := context.AfterFunc(ctx, b.Close)

	var wg sync.WaitGroup
	snap := newFuture()

	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	if p.Snapshot != nil {
		spawn(func() {
			c, err := p.Snapshot(ctx)
			if err != nil {
				p.Log.Warnw("edge snapshot unavailable", "err", err)
			} else {
				b.setEdge(c)
			}
			snap.resolve(c, err)
		})
	}

	spawn(func() { p.geoLane(ctx, b, snap) })
	spawn(func() { p.traceLane(ctx, b) })
	spawn(func() {
		p.addressLane(ctx, b, &wg, SourceDomestic, p.Delays.Domestic, p.Fetcher, p.Chains.Domestic)
	})
	spawn(func() {
		p.addressLane(ctx, b, &wg, SourceForeign, p.Delays.Foreign, p.Fetcher, p.Chains.Foreign)
	})
	spawn(func() { p.edgeLane(ctx, b, &wg, snap) })
	spawn(func() {
		p.addressLane(ctx, b, &wg, SourceIPv4, 0, or(p.IPv4, p.Fetcher), p.Chains.IPv4)
	})
	spawn(func() {
		p.addressLane(ctx, b, &wg, SourceIPv6, 0, or(p.IPv6, p.Fetcher), p.Chains.IPv6)
	})

	go func() {
		wg.Wait()
		stop()
		b.finish()
		b.Close()
	}()
	return b
}

func (p *Pipeline) geoLane(ctx context.Context, b *Board, snap *future) {
	g, winner, _, err := firstSuccess(ctx, p.Fetcher, p.Chains.Geo, p.attemptFailed("geo"))
	if ctx.Err() != nil {
		return
	}
	p.observe("geo", winner, err)
	if err != nil {
		b.geoFailed(err)
	} else {
		b.geo(g, winner)
	}
	if p.Snapshot == nil {
		snap.resolve(snapshot.Connection{IP: g.IP, City: g.City, Country: g.Country, ISP: g.ISP}, err)
	}
}

func (p *Pipeline) traceLane(ctx context.Context, b *Board) {
	info, err := trace.Fetch(ctx, p.Fetcher, p.Chains.Trace, p.Secure)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.Log.Debugw("trace unavailable, inferring transport", "err", err)
	}
	b.trace(info)
}

func (p *Pipeline) addressLane(ctx context.Context, b *Board, wg *sync.WaitGroup, src Source, delay time.Duration, f provider.Fetcher, chain []provider.Provider[string]) {
	if !sleep(ctx, delay) {
		return
	}
	ip, winner, _, err := firstSuccess(ctx, f, chain, p.attemptFailed(string(src)))
	if ctx.Err() != nil {
		return
	}
	p.observe(string(src), winner, err)
	if b.settle(src, ip, winner, err) && err == nil {
		p.enrich(ctx, b, wg, src, ip)
	}
}

// edgeLane never fetches: it waits for the snapshot and reuses its address.
func (p *Pipeline) edgeLane(ctx context.Context, b *Board, wg *sync.WaitGroup, snap *future) {
	if !sleep(ctx, p.Delays.Edge) {
		return
	}
	select {
	case <-snap.done:
	case <-ctx.Done():
		return
	}
	if snap.err != nil {
		metrics.LaneResults.WithLabelValues(string(SourceEdge), string(StatusError)).Inc()
		b.settle(SourceEdge, "", "", snap.err)
		return
	}
	if snapshot.IsPlaceholder(snap.conn.IP) {
		return
	}
	metrics.LaneResults.WithLabelValues(string(SourceEdge), string(StatusOK)).Inc()
	if b.settle(SourceEdge, snap.conn.IP, "snapshot", nil) {
		p.enrich(ctx, b, wg, SourceEdge, snap.conn.IP)
	}
}

func (p *Pipeline) enrich(ctx context.Context, b *Board, wg *sync.WaitGroup, src Source, ip string) {
	if p.Risk == nil || snapshot.IsPlaceholder(ip) {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.riskLoading(src, true)
		r, err := p.Risk.Lookup(ctx, ip)
		if err != nil {
			b.riskLoading(src, false)
			return
		}
		b.attachRisk(src, r)
	}()
}

// attemptFailed counts one failed provider of lane, labelled by how it failed.
func (p *Pipeline) attemptFailed(lane string) func(string, error) {
	return func(name string, err error) {
		metrics.ProviderAttempts.WithLabelValues(lane, name, httpclient.Outcome(err)).Inc()
		if code := httpclient.StatusCode(err); code == http.StatusTooManyRequests {
			p.Log.Debugw("provider rate limited", "lane", lane, "provider", name)
		}
	}
}

func (p *Pipeline) observe(lane, winner string, err error) {
	if err == nil {
		metrics.ProviderAttempts.WithLabelValues(lane, winner, httpclient.Outcome(nil)).Inc()
	}
	status := StatusOK
	if err != nil {
		status = StatusError
		p.failLog.Do(func() {
			p.Log.Warnw("lane failed", "lane", lane, "err", err)
		})
	}
	metrics.LaneResults.WithLabelValues(lane, string(status)).Inc()
}

type future struct {
	once sync.Once
	done chan struct{}
	conn snapshot.Connection
	err  error
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

func (f *future) resolve(c snapshot.Connection, err error) {
	f.once.Do(func() {
		f.conn, f.err = c, err
		close(f.done)
	})
}

func or(f, def provider.Fetcher) provider.Fetcher {
	if f != nil {
		return f
	}
	return def
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
