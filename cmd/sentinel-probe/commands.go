package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli"

	"github.com/gustycube/ip-sentinel/internal/latency"
	"github.com/gustycube/ip-sentinel/internal/output"
	"github.com/gustycube/ip-sentinel/internal/resolver"
	"github.com/gustycube/ip-sentinel/internal/theme"
	"github.com/gustycube/ip-sentinel/internal/ui"
)

var durationFlag = cli.DurationFlag{
	Name:  "duration, d",
	Usage: "keep probing latency for `DURATION` after the lanes settle (0 runs until interrupted)",
	Value: 10 * time.Second,
}

func commands() []cli.Command {
	return []cli.Command{
		{
			Name:   "run",
			Usage:  "resolve every lane, enrich addresses, ping targets and fingerprint this machine",
			Flags:  []cli.Flag{durationFlag},
			Action: withEnv(runAll),
		},
		{
			Name:   "lanes",
			Usage:  "resolve and enrich the address lanes only",
			Action: withEnv(runLanes),
		},
		{
			Name:   "ping",
			Usage:  "measure latency to the configured targets",
			Flags:  []cli.Flag{durationFlag},
			Action: withEnv(runPing),
		},
		{
			Name:   "fingerprint",
			Usage:  "print the capability summary of this machine",
			Action: withEnv(runFingerprint),
		},
		{
			Name:  "theme",
			Usage: "show or change the dashboard theme",
			Subcommands: []cli.Command{
				{Name: "show", Usage: "print the active theme", Action: withEnv(themeShow)},
				{Name: "toggle", Usage: "flip between dark and light", Action: withEnv(themeToggle)},
				{Name: "set", Usage: "persist a theme", ArgsUsage: "<dark|light>", Action: withEnv(themeSet)},
			},
		},
	}
}

func withEnv(fn func(context.Context, *cli.Context, *env) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		e, err := setup(c)
		if err != nil {
			return err
		}
		defer e.close()
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return fn(ctx, c, e)
	}
}

// relay forwards the board's update signals to the dashboard and closes done once the
// board is closed.
func relay(b *resolver.Board) (<-chan struct{}, <-chan struct{}) {
	out := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range b.Updates() {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out, done
}

// hold waits for d, or for ctx when d is zero.
func hold(ctx context.Context, d time.Duration) {
	if d <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// watch redraws the live dashboard on an interactive table console. The returned stop
// waits for the last frame so the final render is never overdrawn.
func watch(ctx context.Context, e *env, console *ui.Console, view func() ui.View, board, probes <-chan struct{}) (stop func()) {
	if e.cfg.OutputFormat != "table" || !console.Interactive() {
		return func() {}
	}
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d := e.dashboard(ctx)
	go func() {
		defer close(done)
		d.Watch(wctx, console, view, board, probes)
	}()
	return func() {
		cancel()
		<-done
	}
}

func newReport() output.Report {
	return output.Report{RunID: uuid.NewString(), GeneratedAt: time.Now().UTC()}
}

func runAll(ctx context.Context, c *cli.Context, e *env) error {
	e.serveMetrics(c)
	console := ui.NewConsole(os.Stdout, e.log)

	board := e.pipeline().Run(ctx)
	e.watchBoard(board)
	boardUpdates, boardDone := relay(board)
	prober := e.prober()
	prober.Start(ctx)
	fp := e.fingerprint()
	e.health.SetServing(true)

	stopWatch := watch(ctx, e, console, func() ui.View {
		return ui.View{Board: board.Snapshot(), Samples: prober.Samples(), Fingerprint: &fp}
	}, boardUpdates, prober.Updates())

	select {
	case <-boardDone:
		e.log.Debugw("lanes settled", "done", board.Snapshot().Done)
		hold(ctx, c.Duration("duration"))
	case <-ctx.Done():
	}

	prober.Stop()
	stopWatch()
	e.health.SetServing(false)

	rep := newReport()
	rep.Board = board.Snapshot()
	rep.Latency = prober.Samples()
	rep.Fingerprint = &fp
	return e.emit(context.Background(), console, rep)
}

func runLanes(ctx context.Context, c *cli.Context, e *env) error {
	console := ui.NewConsole(os.Stdout, e.log)
	board := e.pipeline().Run(ctx)
	boardUpdates, boardDone := relay(board)
	stopWatch := watch(ctx, e, console, func() ui.View {
		return ui.View{Board: board.Snapshot()}
	}, boardUpdates, nil)

	select {
	case <-boardDone:
	case <-ctx.Done():
	}
	stopWatch()

	rep := newReport()
	rep.Board = board.Snapshot()
	return e.emit(context.Background(), console, rep)
}

func runPing(ctx context.Context, c *cli.Context, e *env) error {
	e.serveMetrics(c)
	console := ui.NewConsole(os.Stdout, e.log)
	prober := e.prober()
	prober.Start(ctx)
	e.health.SetServing(true)
	stopWatch := watch(ctx, e, console, func() ui.View {
		return ui.View{Samples: prober.Samples()}
	}, nil, prober.Updates())

	hold(ctx, c.Duration("duration"))
	prober.Stop()
	stopWatch()

	if blocked := countBlocked(prober.Samples()); blocked > 0 {
		console.LogInfo("targets skipped by robots.txt", "count", blocked)
	}
	rep := newReport()
	rep.Latency = prober.Samples()
	return e.emit(context.Background(), console, rep)
}

func countBlocked(samples []latency.Sample) int {
	n := 0
	for _, s := range samples {
		if s.Blocked {
			n++
		}
	}
	return n
}

func runFingerprint(ctx context.Context, c *cli.Context, e *env) error {
	fp := e.fingerprint()
	rep := newReport()
	rep.Fingerprint = &fp
	return e.emit(ctx, ui.NewConsole(os.Stdout, e.log), rep)
}

func themeShow(ctx context.Context, c *cli.Context, e *env) error {
	fmt.Println(e.preference().Load(ctx))
	return nil
}

func themeToggle(ctx context.Context, c *cli.Context, e *env) error {
	store, err := e.theme()
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	next, err := theme.Preference{Store: store, Log: e.log}.Toggle(ctx)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	fmt.Println(next)
	return nil
}

func themeSet(ctx context.Context, c *cli.Context, e *env) error {
	t, err := theme.Parse(c.Args().First())
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	store, err := e.theme()
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if err := (theme.Preference{Store: store, Log: e.log}).Save(ctx, t); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	fmt.Println(t)
	return nil
}
