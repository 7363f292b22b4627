package resolver

import (
	"sync"

	"github.com/gustycube/ip-sentinel/internal/provider"
	"github.com/gustycube/ip-sentinel/internal/risk"
	"github.com/gustycube/ip-sentinel/internal/snapshot"
	"github.com/gustycube/ip-sentinel/internal/trace"
)

// Source names the vantage point an address was obtained from.
type Source string

const (
	SourceDomestic Source = "domestic"
	SourceForeign  Source = "foreign"
	SourceEdge     Source = "edge"
	SourceIPv4     Source = "ipv4"
	SourceIPv6     Source = "ipv6"
)

// AddressSources is the display order of the address lanes.
var AddressSources = []Source{SourceDomestic, SourceForeign, SourceEdge, SourceIPv4, SourceIPv6}

type Status string

const (
	StatusPending Status = "pending"
	StatusOK      Status = "ok"
	StatusError   Status = "error"
)

// Address is the state of one address lane.
type Address struct {
	Source      Source       `json:"source"`
	IP          string       `json:"ip,omitempty"`
	Status      Status       `json:"status"`
	Provider    string       `json:"provider,omitempty"`
	Err         string       `json:"error,omitempty"`
	Risk        *risk.Report `json:"risk,omitempty"`
	RiskLoading bool         `json:"-"`
}

// settle moves a pending address to ok or error. Any later call is refused.
func (a *Address) settle(ip, prov string, err error) bool {
	if a.Status != StatusPending {
		return false
	}
	if err != nil {
		a.Status = StatusError
		a.Err = err.Error()
		return true
	}
	a.Status = StatusOK
	a.IP = ip
	a.Provider = prov
	return true
}

// attachRisk sets the report once.
func (a *Address) attachRisk(r risk.Report) bool {
	if a.Risk != nil {
		return false
	}
	a.Risk = &r
	a.RiskLoading = false
	return true
}

// Display is the record fed by the primary geo lane and the trace lane.
type Display struct {
	IP          string `json:"ip"`
	Loc         string `json:"loc"`
	Colo        string `json:"colo"`
	ISP         string `json:"isp"`
	Country     string `json:"country,omitempty"`
	ASN         string `json:"asn"`
	HTTP        string `json:"http"`
	TLS         string `json:"tls"`
	VisitScheme string `json:"visitScheme"`
	Status      Status `json:"status"`
	Provider    string `json:"provider,omitempty"`
	Err         string `json:"error,omitempty"`

	TraceInferred bool `json:"traceInferred"`
	coloFromTrace bool
}

func newDisplay() Display {
	return Display{
		IP:          "Loading...",
		Loc:         "Loading...",
		Colo:        "...",
		ISP:         "...",
		ASN:         "...",
		HTTP:        "...",
		TLS:         "...",
		VisitScheme: "...",
		Status:      StatusPending,
	}
}

func (d *Display) applyGeo(g provider.Geo, prov string) {
	d.IP = g.IP
	d.Loc = g.Loc()
	d.ISP = g.ISP
	d.Country = g.Country
	if g.ASN != "" {
		d.ASN = g.ASN
	}
	if g.Colo != "" && !d.coloFromTrace {
		d.Colo = g.Colo
	}
	d.Status = StatusOK
	d.Provider = prov
}

func (d *Display) failGeo(err error) {
	d.IP = "Error"
	d.Status = StatusError
	d.Err = err.Error()
}

func (d *Display) applyTrace(i trace.Info) {
	d.HTTP = i.HTTP
	d.TLS = i.TLS
	if i.VisitScheme != "" {
		d.VisitScheme = i.VisitScheme
	}
	if i.Colo != "" {
		d.Colo = i.Colo
		d.coloFromTrace = true
	}
	d.TraceInferred = i.Inferred
}

// Snapshot is a copy of the board at one point in time.
type Snapshot struct {
	Display   Display              `json:"display"`
	Addresses []Address            `json:"addresses"`
	Edge      *snapshot.Connection `json:"edge,omitempty"`
	Done      bool                 `json:"done"`
}

// Address returns the lane for src, if the board has it.
func (s Snapshot) Address(src Source) (Address, bool) {
	for _, a := range s.Addresses {
		if a.Source == src {
			return a, true
		}
	}
	return Address{}, false
}

// Board owns all dashboard state. Writers are the lane goroutines; every accepted
// change is announced on Updates. Once closed, writes are dropped.
type Board struct {
	mu        sync.Mutex
	display   Display
	addresses map[Source]*Address
	order     []Source
	edge      *snapshot.Connection
	closed    bool
	done      bool

	updates chan struct{}
}

func NewBoard(sources ...Source) *Board {
	b := &Board{
		display:   newDisplay(),
		addresses: make(map[Source]*Address, len(sources)),
		updates:   make(chan struct{}, 1),
	}
	for _, s := range sources {
		if _, dup := b.addresses[s]; dup {
			continue
		}
		b.addresses[s] = &Address{Source: s, Status: StatusPending}
		b.order = append(b.order, s)
	}
	return b
}

// Updates delivers a coalesced signal after each change. It is closed with the board.
func (b *Board) Updates() <-chan struct{} {
	return b.updates
}

func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{Display: b.display, Done: b.done}
	for _, src := range b.order {
		a := *b.addresses[src]
		if a.Risk != nil {
			r := *a.Risk
			a.Risk = &r
		}
		s.Addresses = append(s.Addresses, a)
	}
	if b.edge != nil {
		c := *b.edge
		s.Edge = &c
	}
	return s
}

// mutate applies fn under the lock and notifies when it reports a change.
func (b *Board) mutate(fn func() bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	if !fn() {
		return false
	}
	select {
	case b.updates <- struct{}{}:
	default:
	}
	return true
}

func (b *Board) settle(src Source, ip, prov string, err error) bool {
	return b.mutate(func() bool {
		a, ok := b.addresses[src]
		return ok && a.settle(ip, prov, err)
	})
}

func (b *Board) riskLoading(src Source, loading bool) {
	b.mutate(func() bool {
		a, ok := b.addresses[src]
		if !ok || a.Risk != nil || a.RiskLoading == loading {
			return false
		}
		a.RiskLoading = loading
		return true
	})
}

func (b *Board) attachRisk(src Source, r risk.Report) bool {
	return b.mutate(func() bool {
		a, ok := b.addresses[src]
		return ok && a.attachRisk(r)
	})
}

func (b *Board) geo(g provider.Geo, prov string) {
	b.mutate(func() bool {
		b.display.applyGeo(g, prov)
		return true
	})
}

func (b *Board) geoFailed(err error) {
	b.mutate(func() bool {
		b.display.failGeo(err)
		return true
	})
}

func (b *Board) trace(i trace.Info) {
	b.mutate(func() bool {
		b.display.applyTrace(i)
		return true
	})
}

func (b *Board) setEdge(c snapshot.Connection) {
	b.mutate(func() bool {
		b.edge = &c
		return true
	})
}

func (b *Board) finish() {
	b.mutate(func() bool {
		b.done = true
		return true
	})
}

// Close drops every later write and closes Updates. Safe to call more than once.
func (b *Board) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.updates)
}
