package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"time"

	"github.com/urfave/cli"
	"golang.org/x/net/publicsuffix"

	"github.com/gustycube/ip-sentinel/internal/config"
	"github.com/gustycube/ip-sentinel/internal/fingerprint"
	"github.com/gustycube/ip-sentinel/internal/health"
	"github.com/gustycube/ip-sentinel/internal/httpclient"
	"github.com/gustycube/ip-sentinel/internal/latency"
	"github.com/gustycube/ip-sentinel/internal/logging"
	"github.com/gustycube/ip-sentinel/internal/metrics"
	"github.com/gustycube/ip-sentinel/internal/output"
	"github.com/gustycube/ip-sentinel/internal/provider"
	"github.com/gustycube/ip-sentinel/internal/resolver"
	"github.com/gustycube/ip-sentinel/internal/risk"
	"github.com/gustycube/ip-sentinel/internal/robots"
	"github.com/gustycube/ip-sentinel/internal/snapshot"
	"github.com/gustycube/ip-sentinel/internal/telemetry"
	"github.com/gustycube/ip-sentinel/internal/theme"
	"github.com/gustycube/ip-sentinel/internal/ui"
)

// env is what every command shares once flags and config are resolved.
type env struct {
	cfg    *config.Config
	log    *logging.Logger
	client *http.Client
	health *health.Handler

	themeStore theme.Store
	closers    []func() error
	shutdown   telemetry.Shutdown
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	if path := c.GlobalString("config"); path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	} else {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}
	cfg.LoadFromEnv()

	flags := map[string]interface{}{
		"ua":               c.GlobalString("ua"),
		"edge_url":         c.GlobalString("edge-url"),
		"output_format":    c.GlobalString("format"),
		"mask_ip":          c.GlobalBool("mask"),
		"respect_robots":   c.GlobalBool("respect-robots"),
		"ping_interval_ms": c.GlobalInt("ping-interval-ms"),
		"theme_store":      c.GlobalString("theme-store"),
		"theme_path":       c.GlobalString("theme-path"),
		"redis_addr":       c.GlobalString("redis-addr"),
		"log_level":        c.GlobalString("log-level"),
		"otel_endpoint":    c.GlobalString("otel-endpoint"),
	}
	if c.GlobalIsSet("otel-insecure") {
		flags["otel_insecure"] = c.GlobalBool("otel-insecure")
	}
	cfg.MergeWithFlags(flags)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.NewExitError(err.Error(), 2)
	}
	log := logging.New(cfg.LogLevel)

	shutdown, err := telemetry.Init(context.Background(), telemetry.Options{
		Endpoint: cfg.OTELEndpoint,
		Service:  cfg.OTELService,
		Version:  version,
		Insecure: cfg.OTELInsecure,
		Role:     "probe",
	})
	if err != nil {
		log.Warnw("otel init failed", "err", err)
		shutdown = func(context.Context) error { return nil }
	}

	client := httpclient.Default()
	// Cookies count as enabled when the client keeps a jar.
	if jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List}); err == nil {
		client.Jar = jar
	}

	e := &env{cfg: cfg, log: log, client: client, health: health.NewHandler(log), shutdown: shutdown}
	e.health.Annotate("role", "probe")
	e.health.Annotate("version", version)
	return e, nil
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.shutdown(context.Background())
	e.log.Sync()
}

// serveMetrics starts the operational endpoints when --metrics-addr is given.
func (e *env) serveMetrics(c *cli.Context) {
	addr := c.GlobalString("metrics-addr")
	if addr == "" {
		return
	}
	go metrics.ServeWithHealth(addr, e.health, e.log)
	e.log.Infow("metrics and health server started", "addr", addr)
}

func (e *env) theme() (theme.Store, error) {
	if e.themeStore != nil {
		return e.themeStore, nil
	}
	var store theme.Store
	switch e.cfg.ThemeStore {
	case "memory":
		store = theme.NewMemory()
	case "redis":
		rs, err := theme.NewRedis(e.cfg.RedisAddr, e.cfg.ThemeKey)
		if err != nil {
			return nil, fmt.Errorf("redis theme store: %w", err)
		}
		e.closers = append(e.closers, rs.Close)
		e.health.Register("theme_store", health.NewStoreChecker(e.cfg.RedisAddr, rs))
		store = rs
	default:
		store = theme.NewFile(e.cfg.ThemePath)
	}
	e.themeStore = store
	return store, nil
}

func (e *env) preference() theme.Preference {
	store, err := e.theme()
	if err != nil {
		e.log.Warnw("theme store unavailable, using system preference", "err", err)
	}
	return theme.Preference{Store: store, Log: e.log}
}

func (e *env) pipeline() *resolver.Pipeline {
	cfg := e.cfg
	fetcher := provider.NewHTTP(e.client, cfg.UA)
	p := &resolver.Pipeline{
		Chains:  provider.ChainsFrom(cfg.Providers),
		Fetcher: fetcher,
		IPv4:    provider.NewHTTP(httpclient.ForFamily("ipv4"), cfg.UA),
		IPv6:    provider.NewHTTP(httpclient.ForFamily("ipv6"), cfg.UA),
		Risk:    risk.NewEnricher(fetcher, cfg.Providers.IPAPIIs, cfg.RiskCacheSize, cfg.RiskCacheTTL(), e.log),
		Delays: resolver.Delays{
			Domestic: ms(cfg.DomesticDelayMs),
			Foreign:  ms(cfg.ForeignDelayMs),
			Edge:     ms(cfg.EdgeDelayMs),
		},
		Secure: secureScheme(cfg.EdgeURL, cfg.Providers.Trace),
		Log:    e.log,
	}
	if cfg.EdgeURL != "" {
		p.Snapshot = snapshot.PageSource{URL: cfg.EdgeURL, UA: cfg.UA, Client: e.client}.Fetch
	}
	return p
}

// watchBoard reports lane progress on /health and holds /ready until every lane settled.
func (e *env) watchBoard(b *resolver.Board) {
	e.health.Register("lanes", health.NewLaneChecker(func() health.LaneCounts {
		return laneCounts(b.Snapshot())
	}))
}

func laneCounts(s resolver.Snapshot) health.LaneCounts {
	var n health.LaneCounts
	for _, a := range s.Addresses {
		switch a.Status {
		case resolver.StatusOK:
			n.OK++
		case resolver.StatusError:
			n.Failed++
		default:
			n.Pending++
		}
	}
	return n
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// secureScheme reports whether the page the dashboard stands for would be served over https.
func secureScheme(edgeURL, traceURL string) bool {
	for _, raw := range []string{edgeURL, traceURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
			return u.Scheme == "https"
		}
	}
	return true
}

func (e *env) prober() *latency.Prober {
	cfg := e.cfg
	var rc *robots.Cache
	if cfg.RespectRobots {
		rc = robots.NewCache(e.client, cfg.UA)
	}
	p := latency.New(latency.TargetsFrom(cfg.Targets), latency.Options{
		Client:   httpclient.Default(),
		UA:       cfg.UA,
		Interval: cfg.PingInterval(),
		Stagger:  cfg.PingStagger(),
		Robots:   rc,
		Log:      e.log,
	})
	e.health.Register("prober", health.NewProberChecker(p.Active, len(cfg.Targets)))
	return p
}

func (e *env) fingerprint() fingerprint.Record {
	return fingerprint.Collect(fingerprint.Host{UA: e.cfg.UA, Cookies: e.client.Jar != nil})
}

func (e *env) dashboard(ctx context.Context) *ui.Dashboard {
	t := e.preference().Load(ctx)
	colour := ui.IsTerminal(os.Stdout) && os.Getenv("NO_COLOR") == ""
	return &ui.Dashboard{
		Title:   e.cfg.Title,
		Footer:  e.cfg.Footer,
		Palette: ui.NewPalette(t, colour),
		Mask:    e.cfg.MaskIP,
		Spinner: ui.NewSpinner(),
	}
}

// emit writes the final report in the configured format.
func (e *env) emit(ctx context.Context, console *ui.Console, rep output.Report) error {
	if e.cfg.OutputFormat == "table" {
		d := e.dashboard(ctx)
		console.Final(d.Render(ui.View{Board: rep.Board, Samples: rep.Latency, Fingerprint: rep.Fingerprint}))
		return nil
	}
	w, err := output.NewStdoutWriter(e.cfg.OutputFormat)
	if err != nil {
		return err
	}
	if err := w.WriteReport(rep); err != nil {
		return err
	}
	return w.Flush()
}
