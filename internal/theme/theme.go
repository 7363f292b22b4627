// Package theme persists the dark/light preference of the probe dashboard.
package theme

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gustycube/ip-sentinel/internal/logging"
)

type Theme string

const (
	Dark  Theme = "dark"
	Light Theme = "light"
)

// ErrNotSet is returned by a Store that holds no preference yet.
var ErrNotSet = errors.New("theme not set")

func Parse(s string) (Theme, error) {
	switch Theme(strings.ToLower(strings.TrimSpace(s))) {
	case Dark:
		return Dark, nil
	case Light:
		return Light, nil
	}
	return "", fmt.Errorf("unknown theme %q", s)
}

func (t Theme) Toggle() Theme {
	if t == Dark {
		return Light
	}
	return Dark
}

// Store is the persisted preference slot.
type Store interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, value string) error
}

// Preference resolves the active theme from a store and the environment.
type Preference struct {
	Store Store
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
	Log    *logging.Logger
}

// Load returns the saved theme if valid, else the system preference, else light.
// A broken store is logged and treated as empty.
func (p Preference) Load(ctx context.Context) Theme {
	if p.Store != nil {
		v, err := p.Store.Get(ctx)
		switch {
		case err == nil:
			if t, err := Parse(v); err == nil {
				return t
			}
		case !errors.Is(err, ErrNotSet):
			p.log().Warnw("theme store read failed", "error", err)
		}
	}
	if p.systemDark() {
		return Dark
	}
	return Light
}

// Toggle flips the current theme and persists it.
func (p Preference) Toggle(ctx context.Context) (Theme, error) {
	next := p.Load(ctx).Toggle()
	return next, p.Save(ctx, next)
}

func (p Preference) Save(ctx context.Context, t Theme) error {
	if p.Store == nil {
		return nil
	}
	if err := p.Store.Set(ctx, string(t)); err != nil {
		return fmt.Errorf("save theme: %w", err)
	}
	return nil
}

// systemDark reads the terminal background from COLORFGBG ("fg;bg"); bg 0-6 or 8 is dark.
func (p Preference) systemDark() bool {
	getenv := p.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	v := getenv("COLORFGBG")
	if v == "" {
		return false
	}
	parts := strings.Split(v, ";")
	bg, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return false
	}
	return (bg >= 0 && bg <= 6) || bg == 8
}

func (p Preference) log() *logging.Logger {
	if p.Log == nil {
		return logging.Nop()
	}
	return p.Log
}
