package latency

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/net/publicsuffix"

	"github.com/gustycube/ip-sentinel/internal/config"
	"github.com/gustycube/ip-sentinel/internal/httpclient"
	"github.com/gustycube/ip-sentinel/internal/logging"
	"github.com/gustycube/ip-sentinel/internal/metrics"
	"github.com/gustycube/ip-sentinel/internal/robots"
)

type Target struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// TargetsFrom converts configured targets, naming unnamed ones after their registrable domain.
func TargetsFrom(in []config.Target) []Target {
	out := make([]Target, 0, len(in))
	for _, t := range in {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			name = Label(t.URL)
		}
		out = append(out, Target{Name: name, URL: t.URL})
	}
	return out
}

// Label returns the eTLD+1 of rawURL's host, or the host itself.
func Label(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	host := u.Hostname()
	if apex, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return apex
	}
	return host
}

// Sample is the published state of one target.
type Sample struct {
	Target      string `json:"target"`
	URL         string `json:"url"`
	RoundTripMs *int   `json:"roundTripMs"`
	History     Window `json:"history"`
	Blocked     bool   `json:"blocked,omitempty"`
}

func (s Sample) Class() Class {
	return Classify(s.RoundTripMs)
}

type Options struct {
	Client   *http.Client
	UA       string
	Interval time.Duration
	Stagger  time.Duration
	// Robots, when set, is consulted once per target while its start delay runs.
	Robots *robots.Cache
	Log    *logging.Logger
}

// Prober runs one probing goroutine per target.
type Prober struct {
	opts    Options
	units   []*Unit
	updates chan struct{}

	mu        sync.Mutex
	started   bool
	startedAt time.Time
	wg        sync.WaitGroup
}

func New(targets []Target, opts Options) *Prober {
	if opts.Client == nil {
		opts.Client = httpclient.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}
	p := &Prober{opts: opts, updates: make(chan struct{}, 1)}
	for i, t := range targets {
		p.units = append(p.units, &Unit{
			p:      p,
			index:  i,
			target: t,
			sample: Sample{Target: t.Name, URL: t.URL},
			done:   make(chan struct{}),
		})
	}
	return p
}

// Start launches the units and returns immediately.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.startedAt = time.Now()
	for _, u := range p.units {
		uctx, cancel := context.WithCancel(ctx)
		u.mu.Lock()
		u.cancel = cancel
		u.mu.Unlock()
		p.wg.Add(1)
		go func(u *Unit) {
			defer p.wg.Done()
			u.run(uctx)
		}(u)
	}
}

// Stop tears every unit down and waits for their goroutines.
func (p *Prober) Stop() {
	p.mu.Lock()
	for _, u := range p.units {
		if cancel := u.cancelFunc(); cancel != nil {
			cancel()
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Prober) Units() []*Unit {
	return p.units
}

func (p *Prober) Samples() []Sample {
	out := make([]Sample, len(p.units))
	for i, u := range p.units {
		out[i] = u.Sample()
	}
	return out
}

// Active counts units that are still probing.
func (p *Prober) Active() int {
	n := 0
	for _, u := range p.units {
		if u.running() {
			n++
		}
	}
	return n
}

// Updates signals, coalesced, that some sample changed.
func (p *Prober) Updates() <-chan struct{} {
	return p.updates
}

func (p *Prober) notify() {
	select {
	case p.updates <- struct{}{}:
	default:
	}
}

// Unit probes a single target until stopped.
type Unit struct {
	p      *Prober
	index  int
	target Target
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	sample Sample
}

func (u *Unit) Sample() Sample {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := u.sample
	if s.RoundTripMs != nil {
		v := *s.RoundTripMs
		s.RoundTripMs = &v
	}
	return s
}

// Stop cancels this unit's timer and waits for its goroutine to exit.
func (u *Unit) Stop() {
	cancel := u.cancelFunc()
	if cancel == nil {
		return
	}
	cancel()
	<-u.done
}

func (u *Unit) cancelFunc() context.CancelFunc {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cancel
}

func (u *Unit) running() bool {
	select {
	case <-u.done:
		return false
	default:
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cancel != nil && !u.sample.Blocked
}

func (u *Unit) run(ctx context.Context) {
	defer close(u.done)
	opts := u.p.opts

	t := time.NewTimer(u.p.startedAt.Add(time.Duration(u.index) * opts.Stagger).Sub(time.Now()))
	defer t.Stop()

	if opts.Robots != nil && !opts.Robots.AllowedURL(ctx, u.target.URL) {
		metrics.RobotsBlocks.Inc()
		opts.Log.Infow("probe target disallowed by robots.txt", "target", u.target.Name)
		u.mu.Lock()
		u.sample.Blocked = true
		u.mu.Unlock()
		u.p.notify()
		return
	}

	select {
	case <-t.C:
	case <-ctx.Done():
		return
	}

	ticker := backoff.NewTicker(backoff.WithContext(backoff.NewConstantBackOff(opts.Interval), ctx))
	defer ticker.Stop()
	for range ticker.C {
		if ctx.Err() != nil {
			return
		}
		u.probe(ctx)
	}
}

func (u *Unit) probe(ctx context.Context) {
	opts := u.p.opts
	ctx, span := otel.Tracer("sentinel/latency").Start(ctx, "probe")
	defer span.End()
	span.SetAttributes(attribute.String("target", u.target.Name))

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cacheBust(u.target.URL, start), nil)
	if err != nil {
		span.RecordError(err)
		return
	}
	if opts.UA != "" {
		req.Header.Set("User-Agent", opts.UA)
	}
	resp, err := opts.Client.Do(req)
	if err == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
	}
	if ctx.Err() != nil {
		return
	}
	ms := int(time.Since(start).Milliseconds())
	u.record(ms)
	metrics.ProbeLatency.WithLabelValues(u.target.Name).Observe(float64(ms))
}

func (u *Unit) record(ms int) {
	u.mu.Lock()
	v := ms
	u.sample.RoundTripMs = &v
	u.sample.History.Push(ms)
	u.mu.Unlock()
	u.p.notify()
}

// cacheBust appends t=<unix ms> so every probe misses intermediate caches.
func cacheBust(raw string, now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	u, err := url.Parse(raw)
	if err != nil {
		return raw + "?t=" + ts
	}
	q := u.Query()
	q.Set("t", ts)
	u.RawQuery = q.Encode()
	return u.String()
}
