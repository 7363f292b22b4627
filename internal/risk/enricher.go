package risk

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gustycube/ip-sentinel/internal/logging"
	"github.com/gustycube/ip-sentinel/internal/metrics"
	"github.com/gustycube/ip-sentinel/internal/provider"
)

// Enricher performs best-effort risk lookups. Reports are cached per address, and
// concurrent lookups of the same address share one request.
type Enricher struct {
	fetcher provider.Fetcher
	base    string
	cache   *expirable.LRU[string, Report]
	log     *logging.Logger

	mu       sync.Mutex
	inflight map[string]*call
}

type call struct {
	done chan struct{}
	r    Report
	err  error
}

func NewEnricher(f provider.Fetcher, base string, size int, ttl time.Duration, log *logging.Logger) *Enricher {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Enricher{
		fetcher:  f,
		base:     base,
		cache:    expirable.NewLRU[string, Report](size, nil, ttl),
		log:      log,
		inflight: make(map[string]*call),
	}
}

// Lookup returns the report for ip. Failures are never retried by the Enricher.
func (e *Enricher) Lookup(ctx context.Context, ip string) (Report, error) {
	if r, ok := e.cache.Get(ip); ok {
		metrics.RiskLookups.WithLabelValues("cached").Inc()
		return r, nil
	}

	e.mu.Lock()
	if c, ok := e.inflight[ip]; ok {
		e.mu.Unlock()
		select {
		case <-c.done:
			return c.r, c.err
		case <-ctx.Done():
			return Report{}, ctx.Err()
		}
	}
	c := &call{done: make(chan struct{})}
	e.inflight[ip] = c
	e.mu.Unlock()

	c.r, c.err = e.fetch(ctx, ip)
	if c.err == nil {
		e.cache.Add(ip, c.r)
	}

	e.mu.Lock()
	delete(e.inflight, ip)
	e.mu.Unlock()
	close(c.done)

	return c.r, c.err
}

func (e *Enricher) fetch(ctx context.Context, ip string) (Report, error) {
	ctx, span := otel.Tracer("sentinel/risk").Start(ctx, "Lookup")
	defer span.End()
	span.SetAttributes(attribute.String("ip", ip))

	u, err := QueryURL(e.base, ip)
	if err != nil {
		metrics.RiskLookups.WithLabelValues("error").Inc()
		return Report{}, err
	}
	p := provider.Provider[Report]{Name: "ipapi.is", URL: u, Decode: Decode}
	r, err := p.Fetch(ctx, e.fetcher)
	if err != nil {
		metrics.RiskLookups.WithLabelValues("error").Inc()
		span.RecordError(err)
		e.log.Debugw("risk lookup failed", "ip", ip, "err", err)
		return Report{}, err
	}
	if r.IP == "" {
		r.IP = ip
	}
	metrics.RiskLookups.WithLabelValues("ok").Inc()
	return r, nil
}

// QueryURL appends q=<ip> to the provider base URL.
func QueryURL(base, ip string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("risk provider url: %w", err)
	}
	q := u.Query()
	q.Set("q", ip)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
