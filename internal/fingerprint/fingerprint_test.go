package fingerprint

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaps struct {
	Host
	failAll bool
}

func (f fakeCaps) Language() (string, error) {
	if f.failAll {
		return "", errors.New("denied")
	}
	return "en-US", nil
}

func (f fakeCaps) MemoryBytes() (uint64, error) {
	if f.failAll {
		panic("memory read exploded")
	}
	return 17 << 30, nil
}

func (f fakeCaps) Screen() (string, error) {
	if f.failAll {
		return "", errors.New("no tty")
	}
	return "120x40 (24-bit)", nil
}

func (f fakeCaps) Canvas() (string, error) {
	if f.failAll {
		panic("canvas blocked")
	}
	return "AAAElFTkSu", nil
}

func (f fakeCaps) GPU() (string, error) {
	if f.failAll {
		return "", errors.New("none")
	}
	return "Intel (device 0x46a6)", nil
}

func TestCollect(t *testing.T) {
	r := Collect(fakeCaps{Host: Host{UA: "IPSentinel/1.0", Cookies: true}})
	assert.Equal(t, "IPSentinel/1.0", r.UserAgent)
	assert.Equal(t, "en-US", r.Language)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, r.Platform)
	assert.NotEqual(t, Unknown, r.Cores)
	assert.Equal(t, "~16GB", r.Memory)
	assert.Equal(t, "Enabled", r.Cookies)
	assert.Equal(t, "120x40 (24-bit)", r.Screen)
	assert.Equal(t, "AAAElFTkSu", r.CanvasHash)
	assert.Equal(t, "Intel (device 0x46a6)", r.GPU)
}

func TestCollect_FailuresBecomePlaceholders(t *testing.T) {
	var r Record
	assert.NotPanics(t, func() {
		r = Collect(fakeCaps{failAll: true})
	})
	assert.Equal(t, Unknown, r.UserAgent)
	assert.Equal(t, Unknown, r.Language)
	assert.Equal(t, Unknown, r.Memory)
	assert.Equal(t, "Disabled", r.Cookies)
	assert.Equal(t, Unknown, r.Screen)
	assert.Equal(t, Err, r.CanvasHash)
	assert.Equal(t, Unknown, r.GPU)
}

func TestApproxGB(t *testing.T) {
	assert.Equal(t, uint64(0), approxGB(512<<20))
	assert.Equal(t, uint64(1), approxGB(1<<30))
	assert.Equal(t, uint64(8), approxGB(15<<30))
	assert.Equal(t, uint64(32), approxGB(32<<30))
}

func TestCanvasHash_Stable(t *testing.T) {
	a, err := CanvasHash()
	require.NoError(t, err)
	b, err := CanvasHash()
	require.NoError(t, err)
	assert.Len(t, a, 10)
	assert.Equal(t, a, b)
}

func TestLanguage(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "C")
	t.Setenv("LANG", "zh_CN.UTF-8")
	lang, err := Host{}.Language()
	require.NoError(t, err)
	assert.Equal(t, "zh-CN", lang)

	t.Setenv("LANG", "")
	_, err = Host{}.Language()
	assert.Error(t, err)
}

func TestGPU_FromDRM(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("gpu detection reads linux sysfs")
	}
	root := t.TempDir()
	dev := filepath.Join(root, "sys/class/drm/card0/device")
	require.NoError(t, os.MkdirAll(dev, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dev, "vendor"), []byte("0x8086\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dev, "device"), []byte("0x46a6\n"), 0o644))

	gpu, err := Host{Root: root}.GPU()
	require.NoError(t, err)
	assert.Equal(t, "Intel (device 0x46a6)", gpu)
}

func TestGPU_FromNvidiaProc(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("gpu detection reads linux procfs")
	}
	root := t.TempDir()
	dir := filepath.Join(root, "proc/driver/nvidia/gpus/0000:01:00.0")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "information"), []byte("Model: \t\t GeForce RTX 3080\nIRQ: 130\n"), 0o644))

	gpu, err := Host{Root: root}.GPU()
	require.NoError(t, err)
	assert.Equal(t, "NVIDIA GeForce RTX 3080", gpu)
}
