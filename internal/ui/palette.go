package ui

import (
	"regexp"

	"github.com/gustycube/ip-sentinel/internal/theme"
)

// Palette holds ANSI SGR codes; an empty code paints nothing.
type Palette struct {
	Accent string
	Muted  string
	Good   string
	Warn   string
	Bad    string
}

// NewPalette picks codes for the theme. colour=false yields plain text.
func NewPalette(t theme.Theme, colour bool) Palette {
	if !colour {
		return Palette{}
	}
	if t == theme.Dark {
		return Palette{Accent: "96", Muted: "90", Good: "92", Warn: "93", Bad: "91"}
	}
	return Palette{Accent: "36", Muted: "2", Good: "32", Warn: "33", Bad: "31"}
}

func paint(code, s string) string {
	if code == "" || s == "" {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

var (
	maskV4 = regexp.MustCompile(`\d+\.\d+$`)
	maskV6 = regexp.MustCompile(`:[\da-fA-F]+:[\da-fA-F]+$`)
)

// MaskIP hides the last two groups: 203.0.113.7 → 203.0.***.***.
func MaskIP(ip string) string {
	ip = maskV4.ReplaceAllString(ip, "***.***")
	return maskV6.ReplaceAllString(ip, ":****:****")
}

var bars = []rune("▁▂▃▄▅▆▇█")

// Sparkline draws samples as block glyphs. The top of the scale is at least 100ms so
// small jitter on a fast link stays flat.
func Sparkline(data []int) string {
	if len(data) < 2 {
		return ""
	}
	hi, lo := data[0], data[0]
	for _, v := range data {
		if v > hi {
			hi = v
		}
		if v < lo {
			lo = v
		}
	}
	if hi < 100 {
		hi = 100
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}
	out := make([]rune, len(data))
	for i, v := range data {
		level := (v - lo) * (len(bars) - 1) / span
		out[i] = bars[level]
	}
	return string(out)
}
