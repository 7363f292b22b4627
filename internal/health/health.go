// Package health serves the liveness, readiness and status endpoints next to /metrics.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/gustycube/ip-sentinel/internal/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the outcome of one component check. Counts carries per-state tallies
// such as lanes by status or probe targets by activity.
type Check struct {
	Name    string         `json:"name"`
	Status  Status         `json:"status"`
	Ready   bool           `json:"ready"`
	Message string         `json:"message,omitempty"`
	Counts  map[string]int `json:"counts,omitempty"`
	TookMs  int64          `json:"took_ms"`
}

// Checker reports on one component. A check with Ready false holds back /ready.
type Checker interface {
	Check(ctx context.Context) Check
}

// Report is the body of /health and /ready.
type Report struct {
	Status   Status            `json:"status"`
	Ready    bool              `json:"ready"`
	Time     time.Time         `json:"time"`
	Checks   []Check           `json:"checks"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type entry struct {
	name    string
	checker Checker
}

type Handler struct {
	mu       sync.RWMutex
	checks   []entry
	metadata map[string]string
	serving  bool
	log      *logging.Logger
}

func NewHandler(log *logging.Logger) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{metadata: make(map[string]string), log: log}
}

// Register adds or replaces the checker called name. Checks run in registration order.
func (h *Handler) Register(name string, c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.checks {
		if h.checks[i].name == name {
			h.checks[i].checker = c
			return
		}
	}
	h.checks = append(h.checks, entry{name, c})
}

func (h *Handler) Annotate(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metadata[key] = value
}

// SetServing marks whether the binary is doing its job: the edge listener accepting,
// or a probe command running.
func (h *Handler) SetServing(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.serving = v
}

// Report runs every checker. The result is ready when serving and no check holds it back.
func (h *Handler) Report(ctx context.Context) Report {
	h.mu.RLock()
	checks := append([]entry(nil), h.checks...)
	meta := make(map[string]string, len(h.metadata))
	for k, v := range h.metadata {
		meta[k] = v
	}
	serving := h.serving
	h.mu.RUnlock()

	rep := Report{Status: StatusHealthy, Ready: serving, Time: time.Now().UTC(), Checks: []Check{}, Metadata: meta}
	for _, e := range checks {
		start := time.Now()
		c := e.checker.Check(ctx)
		c.Name = e.name
		c.TookMs = time.Since(start).Milliseconds()
		rep.Checks = append(rep.Checks, c)

		switch {
		case c.Status == StatusUnhealthy:
			rep.Status = StatusUnhealthy
		case c.Status == StatusDegraded && rep.Status == StatusHealthy:
			rep.Status = StatusDegraded
		}
		if !c.Ready {
			rep.Ready = false
		}
	}
	if rep.Status == StatusUnhealthy {
		rep.Ready = false
	}
	return rep
}

func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	rep := h.Report(ctx)
	code := http.StatusOK
	if rep.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	h.write(w, code, rep)
}

func (h *Handler) ServeReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	rep := h.Report(ctx)
	code := http.StatusOK
	if !rep.Ready {
		code = http.StatusServiceUnavailable
	}
	h.write(w, code, rep)
}

func (h *Handler) ServeLive(w http.ResponseWriter, r *http.Request) {
	h.write(w, http.StatusOK, map[string]interface{}{"alive": true, "time": time.Now().UTC()})
}

func (h *Handler) write(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Debugw("health response write failed", "err", err)
	}
}

// Pinger is satisfied by the Redis theme store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker pings the theme preference store. It never holds back readiness.
type StoreChecker struct {
	addr   string
	pinger Pinger
}

func NewStoreChecker(addr string, p Pinger) *StoreChecker {
	return &StoreChecker{addr: addr, pinger: p}
}

func (c *StoreChecker) Check(ctx context.Context) Check {
	if err := c.pinger.Ping(ctx); err != nil {
		return Check{Status: StatusDegraded, Ready: true, Message: fmt.Sprintf("theme store %s: %v", c.addr, err)}
	}
	return Check{Status: StatusHealthy, Ready: true, Message: "theme store " + c.addr + " reachable"}
}

// LaneCounts tallies address lanes by state.
type LaneCounts struct {
	OK      int
	Failed  int
	Pending int
}

// LaneChecker reports the resolver board. It is ready once no lane is pending and
// degraded when every lane failed.
type LaneChecker struct {
	counts func() LaneCounts
}

func NewLaneChecker(counts func() LaneCounts) *LaneChecker {
	return &LaneChecker{counts: counts}
}

func (c *LaneChecker) Check(ctx context.Context) Check {
	n := c.counts()
	chk := Check{
		Status:  StatusHealthy,
		Ready:   n.Pending == 0,
		Message: fmt.Sprintf("%d ok, %d failed, %d pending", n.OK, n.Failed, n.Pending),
		Counts:  map[string]int{"ok": n.OK, "failed": n.Failed, "pending": n.Pending},
	}
	if n.Pending == 0 && n.OK == 0 && n.Failed > 0 {
		chk.Status = StatusDegraded
		chk.Message = "every address lane failed"
	}
	return chk
}

// ProberChecker reports the latency probe units.
type ProberChecker struct {
	active func() int
	total  int
}

func NewProberChecker(active func() int, total int) *ProberChecker {
	return &ProberChecker{active: active, total: total}
}

func (c *ProberChecker) Check(ctx context.Context) Check {
	n := c.active()
	chk := Check{
		Status:  StatusHealthy,
		Ready:   true,
		Message: fmt.Sprintf("%d/%d probe targets active", n, c.total),
		Counts:  map[string]int{"active": n, "stopped": c.total - n},
	}
	if c.total > 0 && n == 0 {
		chk.Status = StatusDegraded
		chk.Ready = false
		chk.Message = "no active probe targets"
	}
	return chk
}
