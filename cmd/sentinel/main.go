package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/skratchdot/open-golang/open"

	"github.com/gustycube/ip-sentinel/internal/config"
	"github.com/gustycube/ip-sentinel/internal/edge"
	"github.com/gustycube/ip-sentinel/internal/health"
	"github.com/gustycube/ip-sentinel/internal/logging"
	"github.com/gustycube/ip-sentinel/internal/metrics"
	"github.com/gustycube/ip-sentinel/internal/snapshot"
	"github.com/gustycube/ip-sentinel/internal/telemetry"
)

const version = "1.0.0"

func main() {
	var configFile string
	var listenAddr string
	var title string
	var footer string
	var metricsAddr string
	var otelEndpoint string
	var otelInsecure bool
	var otelService string
	var logLevel string
	var openBrowser bool
	var showVersion bool

	flag.StringVar(&configFile, "config", "", "path to config file (YAML or JSON)")
	flag.StringVar(&listenAddr, "listen_addr", "", "dashboard listen addr")
	flag.StringVar(&title, "title", "", "page title")
	flag.StringVar(&footer, "footer", "", "page footer text")
	flag.StringVar(&metricsAddr, "metrics_addr", "", "metrics listen addr (empty to disable)")
	flag.StringVar(&otelEndpoint, "otel_endpoint", "", "OTLP HTTP endpoint (host:port)")
	flag.BoolVar(&otelInsecure, "otel_insecure", true, "OTLP insecure (no TLS)")
	flag.StringVar(&otelService, "otel_service", "", "OTEL service.name")
	flag.StringVar(&logLevel, "log_level", "", "log level (debug, info, warn, error)")
	flag.BoolVar(&openBrowser, "open", false, "open the dashboard in a browser once listening")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "IP SENTINEL edge responder\n")
		fmt.Fprintf(os.Stderr, "Serves the connection dashboard and its web manifest\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  TITLE      Page title\n")
		fmt.Fprintf(os.Stderr, "  FOOTER     Page footer text\n")
		fmt.Fprintf(os.Stderr, "  LOG_LEVEL  Log level (debug, info, warn, error)\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Println("IP SENTINEL v" + version)
		fmt.Println("Built with Go", strings.TrimPrefix(runtime.Version(), "go"))
		os.Exit(0)
	}

	boot := logging.New("info")
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			boot.Fatalw("failed to load config file", "file", configFile, "err", err)
		}
	} else {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}
	cfg.LoadFromEnv()
	cfg.MergeWithFlags(map[string]interface{}{
		"listen_addr":   listenAddr,
		"title":         title,
		"footer":        footer,
		"metrics_addr":  metricsAddr,
		"otel_endpoint": otelEndpoint,
		"otel_insecure": otelInsecure,
		"otel_service":  otelService,
		"log_level":     logLevel,
	})
	if err := cfg.Validate(); err != nil {
		boot.Fatalw("invalid configuration", "err", err)
	}

	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint: cfg.OTELEndpoint,
		Service:  cfg.OTELService,
		Version:  version,
		Insecure: cfg.OTELInsecure,
		Role:     "edge",
	})
	if err != nil {
		log.Warnw("otel init failed", "err", err)
	} else {
		defer shutdown(context.Background())
	}

	healthHandler := health.NewHandler(log)
	healthHandler.Annotate("role", "edge")
	healthHandler.Annotate("version", version)
	if cfg.MetricsAddr != "" {
		go metrics.ServeWithHealth(cfg.MetricsAddr, healthHandler, log)
		log.Infow("metrics and health server started", "addr", cfg.MetricsAddr)
	}

	site := edge.Site{Title: cfg.Title, Footer: cfg.Footer}
	srv := &http.Server{
		Handler:           edge.NewHandler(site, snapshot.HeaderSource{}, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalw("listen", "addr", cfg.ListenAddr, "err", err)
	}
	log.Infow("edge responder listening", "addr", ln.Addr().String(), "title", site.Title)
	healthHandler.SetServing(true)

	if openBrowser {
		url := dashboardURL(ln.Addr())
		if err := open.Run(url); err != nil {
			log.Warnw("could not open browser", "url", url, "err", err)
		}
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("edge server stopped", "err", err)
		}
	}
	healthHandler.SetServing(false)
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warnw("edge shutdown", "err", err)
	}
	log.Infow("shutdown complete")
}

// dashboardURL turns a listener address such as [::]:8080 into a browsable URL.
func dashboardURL(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "http://" + addr.String() + "/"
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/"
}
