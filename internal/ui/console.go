package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/gustycube/ip-sentinel/internal/logging"
)

// Console owns the terminal region the live dashboard is redrawn into and keeps
// log lines from tearing it.
type Console struct {
	mu          sync.Mutex
	out         io.Writer
	logger      *logging.Logger
	interactive bool
	lines       int
}

// NewConsole redraws in place only when out is a terminal.
func NewConsole(out io.Writer, logger *logging.Logger) *Console {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Console{out: out, logger: logger, interactive: IsTerminal(out)}
}

// IsTerminal reports whether w is a character device.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (c *Console) Interactive() bool {
	return c.interactive
}

// Draw replaces the previous frame. Non-interactive consoles skip intermediate frames.
func (c *Console) Draw(frame string) {
	if !c.interactive {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
	c.write(frame)
}

// Final writes the last frame on every kind of output.
func (c *Console) Final(frame string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interactive {
		c.clear()
	}
	c.write(frame)
	c.lines = 0
}

func (c *Console) LogInfo(message string, args ...interface{}) {
	c.clearAndLog(func() { c.logger.Infow(message, args...) })
}

func (c *Console) LogWarn(message string, args ...interface{}) {
	c.clearAndLog(func() { c.logger.Warnw(message, args...) })
}

func (c *Console) LogError(message string, args ...interface{}) {
	c.clearAndLog(func() { c.logger.Errorw(message, args...) })
}

// clearAndLog drops the current frame; the next Draw starts below the log line.
func (c *Console) clearAndLog(logFn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interactive {
		c.clear()
	}
	logFn()
	c.lines = 0
}

func (c *Console) clear() {
	if c.lines > 0 {
		fmt.Fprintf(c.out, "\x1b[%dA\x1b[J", c.lines)
	}
	c.lines = 0
}

func (c *Console) write(frame string) {
	if !strings.HasSuffix(frame, "\n") {
		frame += "\n"
	}
	io.WriteString(c.out, frame)
	c.lines = strings.Count(frame, "\n")
}

func (c *Console) Sync() error {
	return c.logger.Sync()
}
