// Package fingerprint summarises the machine the probe client runs on.
package fingerprint

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pbnjay/memory"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/term"
)

const (
	Unknown = "Unknown"
	Err     = "Err"
)

// Record is computed once per run and never changes afterwards.
type Record struct {
	UserAgent  string `json:"userAgent"`
	Language   string `json:"language"`
	Platform   string `json:"platform"`
	Cores      string `json:"cores"`
	Memory     string `json:"memory"`
	Cookies    string `json:"cookies"`
	Screen     string `json:"screen"`
	CanvasHash string `json:"canvasHash"`
	GPU        string `json:"gpu"`
}

// Capabilities is everything Collect reads from the host.
type Capabilities interface {
	UserAgent() (string, error)
	Language() (string, error)
	Platform() (string, error)
	Cores() (int, error)
	MemoryBytes() (uint64, error)
	CookiesEnabled() (bool, error)
	Screen() (string, error)
	Canvas() (string, error)
	GPU() (string, error)
}

// Collect reads every capability. A failing or panicking read yields a placeholder;
// Collect itself never fails.
func Collect(c Capabilities) Record {
	return Record{
		UserAgent: guard(Unknown, c.UserAgent),
		Language:  guard(Unknown, c.Language),
		Platform:  guard(Unknown, c.Platform),
		Cores: guard(Unknown, func() (string, error) {
			n, err := c.Cores()
			if err != nil || n <= 0 {
				return "", fmt.Errorf("cores: %v", err)
			}
			return fmt.Sprint(n), nil
		}),
		Memory: guard(Unknown, func() (string, error) {
			b, err := c.MemoryBytes()
			if err != nil || b == 0 {
				return "", fmt.Errorf("memory: %v", err)
			}
			return fmt.Sprintf("~%dGB", approxGB(b)), nil
		}),
		Cookies: guard(Unknown, func() (string, error) {
			on, err := c.CookiesEnabled()
			if err != nil {
				return "", err
			}
			if on {
				return "Enabled", nil
			}
			return "Disabled", nil
		}),
		Screen:     guard(Unknown, c.Screen),
		CanvasHash: guard(Err, c.Canvas),
		GPU:        guard(Unknown, c.GPU),
	}
}

func guard(placeholder string, read func() (string, error)) (out string) {
	defer func() {
		if recover() != nil {
			out = placeholder
		}
	}()
	v, err := read()
	if err != nil || strings.TrimSpace(v) == "" {
		return placeholder
	}
	return v
}

// approxGB rounds down to the power-of-two buckets browsers report (0.25..8 and up).
func approxGB(b uint64) uint64 {
	gb := b >> 30
	if gb == 0 {
		return 0
	}
	p := uint64(1)
	for p*2 <= gb {
		p *= 2
	}
	return p
}

// Host reads capabilities from the local machine.
type Host struct {
	UA      string
	Cookies bool
	// Root prefixes the /proc and /sys paths GPU detection reads.
	Root string
}

func (h Host) UserAgent() (string, error) { return h.UA, nil }

func (h Host) Language() (string, error) {
	for _, k := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(k)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		lang, _, _ := strings.Cut(v, ".")
		return strings.ReplaceAll(lang, "_", "-"), nil
	}
	return "", fmt.Errorf("no locale set")
}

func (h Host) Platform() (string, error) {
	return runtime.GOOS + "/" + runtime.GOARCH, nil
}

func (h Host) Cores() (int, error) { return runtime.NumCPU(), nil }

func (h Host) MemoryBytes() (uint64, error) { return memory.TotalMemory(), nil }

func (h Host) CookiesEnabled() (bool, error) { return h.Cookies, nil }

// Screen describes the controlling terminal as "<cols>x<rows> (<depth>-bit)".
func (h Host) Screen() (string, error) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdout is not a terminal")
	}
	w, ht, err := term.GetSize(fd)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%dx%d (%d-bit)", w, ht, colorDepth()), nil
}

func colorDepth() int {
	ct := strings.ToLower(os.Getenv("COLORTERM"))
	if ct == "truecolor" || ct == "24bit" {
		return 24
	}
	t := os.Getenv("TERM")
	switch {
	case strings.Contains(t, "256color"):
		return 8
	case t == "" || t == "dumb":
		return 1
	}
	return 4
}

// Canvas draws a fixed string on an offscreen image and keeps the tail of its data URL.
func (h Host) Canvas() (string, error) {
	return CanvasHash()
}

func CanvasHash() (string, error) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 50))
	draw.Draw(img, img.Bounds(), image.Transparent, image.Point{}, draw.Src)
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 0x06, G: 0x96, B: 0x8a, A: 0xff}),
		Face: face,
		Dot:  fixed.P(2, 2+face.Ascent),
	}
	d.DrawString("Cloudflare")

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	url := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	return url[len(url)-10:], nil
}

// GPU reads the adapter name from the NVIDIA proc interface or the DRM PCI ids.
func (h Host) GPU() (string, error) {
	if runtime.GOOS != "linux" {
		return "", fmt.Errorf("gpu detection unsupported on %s", runtime.GOOS)
	}
	infos, _ := filepath.Glob(filepath.Join(h.Root, "/proc/driver/nvidia/gpus/*/information"))
	for _, p := range infos {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(b), "\n") {
			k, v, ok := strings.Cut(line, ":")
			if ok && strings.TrimSpace(k) == "Model" {
				return "NVIDIA " + strings.TrimSpace(v), nil
			}
		}
	}
	cards, _ := filepath.Glob(filepath.Join(h.Root, "/sys/class/drm/card[0-9]*/device/vendor"))
	for _, vp := range cards {
		vendor, err := os.ReadFile(vp)
		if err != nil {
			continue
		}
		device, _ := os.ReadFile(filepath.Join(filepath.Dir(vp), "device"))
		v := strings.TrimSpace(string(vendor))
		name := vendorNames[v]
		if name == "" {
			name = "PCI " + v
		}
		return fmt.Sprintf("%s (device %s)", name, strings.TrimSpace(string(device))), nil
	}
	return "", fmt.Errorf("no gpu found")
}

var vendorNames = map[string]string{
	"0x10de": "NVIDIA",
	"0x1002": "AMD",
	"0x8086": "Intel",
	"0x1af4": "Virtio",
	"0x15ad": "VMware",
	"0x1234": "QEMU",
	"0x5143": "Qualcomm",
	"0x13b5": "ARM",
}
