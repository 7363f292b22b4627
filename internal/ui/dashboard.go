// Package ui renders the probe dashboard for a terminal.
package ui

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/gustycube/ip-sentinel/internal/fingerprint"
	"github.com/gustycube/ip-sentinel/internal/latency"
	"github.com/gustycube/ip-sentinel/internal/resolver"
	"github.com/gustycube/ip-sentinel/internal/risk"
)

// View is everything one frame shows.
type View struct {
	Board       resolver.Snapshot
	Samples     []latency.Sample
	Fingerprint *fingerprint.Record
}

func (v View) pending() bool {
	if v.Board.Display.Status == resolver.StatusPending {
		return true
	}
	for _, a := range v.Board.Addresses {
		if a.Status == resolver.StatusPending || a.RiskLoading {
			return true
		}
	}
	return false
}

type Dashboard struct {
	Title   string
	Footer  string
	Palette Palette
	Mask    bool
	Spinner *Spinner
	// Now is used for the risk local time; defaults to time.Now.
	Now func() time.Time
}

func (d *Dashboard) Render(v View) string {
	var buf bytes.Buffer
	p := d.Palette

	fmt.Fprintf(&buf, "%s\n", paint(p.Accent, d.Title))
	// Commands that skip the resolver pass an empty board.
	if len(v.Board.Addresses) > 0 {
		buf.WriteString("\n")
		d.renderConnection(&buf, v.Board.Display)
		buf.WriteString("\n")
		d.renderAddresses(&buf, v.Board.Addresses)
	}
	if r, src := primaryRisk(v.Board.Addresses); r != nil {
		buf.WriteString("\n")
		d.renderRisk(&buf, src, *r)
	}
	if len(v.Samples) > 0 {
		buf.WriteString("\n")
		d.renderLatency(&buf, v.Samples)
	}
	if v.Fingerprint != nil {
		buf.WriteString("\n")
		d.renderFingerprint(&buf, *v.Fingerprint)
	}
	if d.Footer != "" {
		fmt.Fprintf(&buf, "\n%s\n", paint(p.Muted, d.Footer))
	}
	return buf.String()
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	if len(header) > 0 {
		t.SetHeader(header)
	}
	t.SetAutoWrapText(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return t
}

func (d *Dashboard) ip(s string) string {
	if d.Mask {
		return MaskIP(s)
	}
	return s
}

// cell shows a spinner for placeholders and the value otherwise.
func (d *Dashboard) cell(pending bool, v string) string {
	if pending {
		return paint(d.Palette.Muted, d.Spinner.Frame())
	}
	return v
}

func (d *Dashboard) renderConnection(w io.Writer, disp resolver.Display) {
	p := d.Palette
	pending := disp.Status == resolver.StatusPending
	ip := d.cell(pending, paint(p.Accent, d.ip(disp.IP)))
	if disp.Status == resolver.StatusError {
		ip = paint(p.Bad, disp.IP)
	}
	traceNote := ""
	if disp.TraceInferred {
		traceNote = paint(p.Muted, " (inferred)")
	}
	tracePending := disp.HTTP == "..."

	t := newTable(w)
	t.Append([]string{"IP", ip})
	t.Append([]string{"Location", d.cell(pending, disp.Loc)})
	t.Append([]string{"ISP", d.cell(pending, disp.ISP)})
	t.Append([]string{"ASN", d.cell(disp.ASN == "...", disp.ASN)})
	t.Append([]string{"Colo", d.cell(disp.Colo == "...", disp.Colo)})
	t.Append([]string{"HTTP", d.cell(tracePending, disp.HTTP+traceNote)})
	t.Append([]string{"TLS", d.cell(tracePending, disp.TLS+traceNote)})
	t.Append([]string{"Scheme", d.cell(disp.VisitScheme == "...", disp.VisitScheme)})
	t.Render()
}

func (d *Dashboard) renderAddresses(w io.Writer, addrs []resolver.Address) {
	t := newTable(w, "Source", "Address", "Provider", "Risk")
	for _, a := range addrs {
		row := []string{strings.ToUpper(string(a.Source)), "", a.Provider, ""}
		switch a.Status {
		case resolver.StatusPending:
			row[1] = d.cell(true, "")
		case resolver.StatusError:
			row[1] = d.failure(a.Source)
		default:
			row[1] = d.ip(a.IP)
			row[3] = d.riskSummary(a)
		}
		t.Append(row)
	}
	t.Render()
}

// failure is what a lane shows once every provider failed.
func (d *Dashboard) failure(src resolver.Source) string {
	if src == resolver.SourceIPv4 || src == resolver.SourceIPv6 {
		return paint(d.Palette.Muted, "N/A")
	}
	return paint(d.Palette.Bad, "Connection Failed")
}

func (d *Dashboard) riskSummary(a resolver.Address) string {
	p := d.Palette
	if a.RiskLoading {
		return d.cell(true, "")
	}
	if a.Risk == nil {
		return ""
	}
	r := a.Risk
	label := paint(p.Good, "low risk")
	if !r.LowRisk() {
		label = paint(p.Warn, "proxy/hosting")
	}
	if flags := r.Flags.Set(); len(flags) > 0 {
		label += " " + paint(p.Muted, strings.Join(flags, ","))
	}
	return label
}

// primaryRisk picks the first address with a report, in lane order.
func primaryRisk(addrs []resolver.Address) (*risk.Report, resolver.Source) {
	for _, a := range addrs {
		if a.Risk != nil {
			return a.Risk, a.Source
		}
	}
	return nil, ""
}

func (d *Dashboard) score(v int) string {
	s := strconv.Itoa(v) + "%"
	if v > risk.ElevatedScore {
		return paint(d.Palette.Bad, s)
	}
	return paint(d.Palette.Good, s)
}

func (d *Dashboard) renderRisk(w io.Writer, src resolver.Source, r risk.Report) {
	p := d.Palette
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	verdict := paint(p.Good, r.Verdict())
	if r.Verdict() != "SECURE" {
		verdict = paint(p.Warn, r.Verdict())
	}
	asn := "AS" + strconv.Itoa(r.ASN.Number)
	if r.ASN.Org != "" {
		asn += " " + r.ASN.Org
	}
	place := strings.Trim(strings.Join([]string{r.Location.City, r.Location.State, r.Location.Country}, ", "), ", ")

	t := newTable(w, "Risk ("+string(src)+")", "")
	t.Append([]string{"Trust", fmt.Sprintf("%d %s", r.TrustScore(), verdict)})
	t.Append([]string{"Abuser score (company)", d.score(r.AbuserScoreCompany)})
	t.Append([]string{"Abuser score (ASN)", d.score(r.AbuserScoreASN)})
	t.Append([]string{"ASN", asn})
	if r.ASN.Type != "" || r.ASN.Registry != "" {
		t.Append([]string{"Network", strings.Trim(r.ASN.Type+" "+r.ASN.Registry, " ")})
	}
	if r.Company.Name != "" {
		t.Append([]string{"Company", r.Company.Name})
	}
	t.Append([]string{"Location", place})
	t.Append([]string{"Local time", r.LocalTime(now())})
	t.Append([]string{"Map", paint(p.Muted, r.MapLink())})
	t.Render()
}

func (d *Dashboard) renderLatency(w io.Writer, samples []latency.Sample) {
	t := newTable(w, "Target", "RTT", "History")
	for _, s := range samples {
		rtt := d.cell(true, "")
		switch {
		case s.Blocked:
			rtt = paint(d.Palette.Muted, "robots.txt")
		case s.RoundTripMs != nil:
			rtt = d.classPaint(s.Class(), fmt.Sprintf("%dms", *s.RoundTripMs))
		}
		t.Append([]string{s.Target, rtt, d.classPaint(s.Class(), Sparkline(s.History.Values()))})
	}
	t.Render()
}

func (d *Dashboard) classPaint(c latency.Class, s string) string {
	switch c {
	case latency.ClassGood:
		return paint(d.Palette.Good, s)
	case latency.ClassWarn:
		return paint(d.Palette.Warn, s)
	case latency.ClassPoor:
		return paint(d.Palette.Bad, s)
	}
	return paint(d.Palette.Muted, s)
}

func (d *Dashboard) renderFingerprint(w io.Writer, f fingerprint.Record) {
	t := newTable(w, "Fingerprint", "")
	t.Append([]string{"User agent", f.UserAgent})
	t.Append([]string{"Language", f.Language})
	t.Append([]string{"Platform", f.Platform})
	t.Append([]string{"Cores", f.Cores})
	t.Append([]string{"Memory", f.Memory})
	t.Append([]string{"Cookies", f.Cookies})
	t.Append([]string{"Screen", f.Screen})
	t.Append([]string{"Canvas", f.CanvasHash})
	t.Append([]string{"GPU", f.GPU})
	t.Render()
}

// Watch redraws whenever the board or the prober changes, and on spinner ticks while
// anything is still resolving. It returns when ctx is done.
func (d *Dashboard) Watch(ctx context.Context, c *Console, view func() View, board, probes <-chan struct{}) {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	c.Draw(d.Render(view()))
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-board:
			if !ok {
				board = nil
			}
		case <-probes:
		case <-tick.C:
			if !view().pending() {
				continue
			}
		}
		c.Draw(d.Render(view()))
	}
}
