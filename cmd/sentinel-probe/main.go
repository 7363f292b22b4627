package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/urfave/cli"
)

const version = "1.0.0"

var globalFlags = []cli.Flag{
	cli.StringFlag{Name: "config, c", Usage: "path to config file (YAML or JSON)"},
	cli.StringFlag{Name: "ua", Usage: "user agent sent to providers and probe targets"},
	cli.StringFlag{Name: "edge-url", Usage: "deployed edge responder whose page snapshot feeds the edge lane", EnvVar: "SENTINEL_EDGE_URL"},
	cli.StringFlag{Name: "format, f", Usage: "output `FORMAT`: table, json, jsonl or csv"},
	cli.BoolFlag{Name: "mask", Usage: "mask the last two groups of every address"},
	cli.BoolFlag{Name: "respect-robots", Usage: "skip probe targets whose robots.txt disallows them"},
	cli.IntFlag{Name: "ping-interval-ms", Usage: "milliseconds between two probes of one target"},
	cli.StringFlag{Name: "theme-store", Usage: "theme preference store: file, redis or memory"},
	cli.StringFlag{Name: "theme-path", Usage: "theme preference file"},
	cli.StringFlag{Name: "redis-addr", Usage: "redis server for the theme preference", EnvVar: "REDIS_ADDR"},
	cli.StringFlag{Name: "log-level", Usage: "log level (debug, info, warn, error)"},
	cli.StringFlag{Name: "metrics-addr", Usage: "serve metrics and health on `ADDR` while running (empty to disable)"},
	cli.StringFlag{Name: "otel-endpoint", Usage: "OTLP HTTP endpoint (host:port)"},
	cli.BoolFlag{Name: "otel-insecure", Usage: "OTLP without TLS"},
}

func main() {
	app := cli.NewApp()
	app.Name = "sentinel-probe"
	app.Usage = "Resolve, enrich and ping from this machine's point of view."
	app.Version = fmt.Sprintf("%s (go %s)", version, strings.TrimPrefix(runtime.Version(), "go"))
	app.Flags = globalFlags
	app.Commands = commands()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
