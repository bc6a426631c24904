package machine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/tinyrange/bios/internal/firmware"
)

func buildBootMachine(t *testing.T, cfg *Config) (*Machine, *Loader, *firmware.Machine) {
	t.Helper()
	m, loader, err := NewFromConfig(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	return m, loader, firmware.New(m, loader, m)
}

func TestBootScansForMedium(t *testing.T) {
	// Three full chunks plus a tail.
	content := strings.Repeat("tinyrange", 5000)
	_, loader, fw := buildBootMachine(t, &Config{
		Filesystems: []FilesystemConfig{
			{Files: map[string]string{"/init.wasm": content}},
		},
	})

	if err := Boot(context.Background(), fw); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if !loader.Booted() {
		t.Fatal("loader did not accept an image")
	}
	if !bytes.Equal(loader.Image(), []byte(content)) {
		t.Fatalf("image is %d bytes, want %d", len(loader.Image()), len(content))
	}
}

func TestBootDeferred(t *testing.T) {
	content := strings.Repeat("quantum", 4000)
	_, loader, fw := buildBootMachine(t, &Config{
		Deferred: true,
		Filesystems: []FilesystemConfig{
			{Files: map[string]string{"/init.wasm": content}},
		},
	})

	if err := Boot(context.Background(), fw); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if !bytes.Equal(loader.Image(), []byte(content)) {
		t.Fatalf("deferred image is %d bytes, want %d", len(loader.Image()), len(content))
	}
}

func TestBootConfiguredDevice(t *testing.T) {
	addrA := "00000000-0000-0000-0000-0000000000aa"
	addrB := "00000000-0000-0000-0000-0000000000bb"
	_, loader, fw := buildBootMachine(t, &Config{
		BootDevice: addrB,
		Filesystems: []FilesystemConfig{
			{Address: addrA, Files: map[string]string{"/init.wasm": "image A"}},
			{Address: addrB, Files: map[string]string{"/init.wasm": "image B"}},
		},
	})

	if err := Boot(context.Background(), fw); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if got := string(loader.Image()); got != "image B" {
		t.Fatalf("image = %q, want the configured device's image", got)
	}
}

func TestBootConfiguredDeviceMissingFileFallsBack(t *testing.T) {
	addrA := "00000000-0000-0000-0000-0000000000aa"
	addrB := "00000000-0000-0000-0000-0000000000bb"
	_, loader, fw := buildBootMachine(t, &Config{
		BootDevice: addrB,
		Filesystems: []FilesystemConfig{
			{Address: addrA, Files: map[string]string{"/init.wasm": "image A"}},
			{Address: addrB, Files: map[string]string{"/readme.txt": "not bootable"}},
		},
	})

	if err := Boot(context.Background(), fw); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if got := string(loader.Image()); got != "image A" {
		t.Fatalf("image = %q, want the fallback device's image", got)
	}
}

func TestBootNoMedium(t *testing.T) {
	m, _, fw := buildBootMachine(t, &Config{})

	err := Boot(context.Background(), fw)
	if !errors.Is(err, firmware.ErrCrashed) {
		t.Fatalf("Boot err = %v, want ErrCrashed", err)
	}
	msg, ok := m.CrashMessage()
	if !ok || msg != "BIOS: no bootable medium" {
		t.Fatalf("crash message = %q, %v", msg, ok)
	}
}

func TestBootMissingBootFile(t *testing.T) {
	m, _, fw := buildBootMachine(t, &Config{
		Filesystems: []FilesystemConfig{
			{Files: map[string]string{"/readme.txt": "nothing to boot"}},
		},
	})

	err := Boot(context.Background(), fw)
	if !errors.Is(err, firmware.ErrCrashed) {
		t.Fatalf("Boot err = %v, want ErrCrashed", err)
	}
	if msg, _ := m.CrashMessage(); msg != "BIOS: no bootable medium" {
		t.Fatalf("crash message = %q", msg)
	}
}

func TestBootWasmMagic(t *testing.T) {
	t.Run("valid image", func(t *testing.T) {
		good := "\x00asm\x01\x00\x00\x00"
		_, loader, fw := buildBootMachine(t, &Config{
			ExpectWasm: true,
			Filesystems: []FilesystemConfig{
				{Files: map[string]string{"/init.wasm": good}},
			},
		})
		if err := Boot(context.Background(), fw); err != nil {
			t.Fatalf("Boot: %v", err)
		}
		if !bytes.Equal(loader.Image(), []byte(good)) {
			t.Fatal("image mismatch")
		}
	})

	t.Run("missing magic", func(t *testing.T) {
		m, _, fw := buildBootMachine(t, &Config{
			ExpectWasm: true,
			Filesystems: []FilesystemConfig{
				{Files: map[string]string{"/init.wasm": "not wasm"}},
			},
		})
		err := Boot(context.Background(), fw)
		if !errors.Is(err, firmware.ErrCrashed) {
			t.Fatalf("Boot err = %v, want ErrCrashed", err)
		}
		if msg, _ := m.CrashMessage(); msg != "BIOS: internal error" {
			t.Fatalf("crash message = %q", msg)
		}
	})
}

func TestBootContextCanceled(t *testing.T) {
	_, _, fw := buildBootMachine(t, &Config{
		Deferred: true,
		Filesystems: []FilesystemConfig{
			{Files: map[string]string{"/init.wasm": "image"}},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Boot(ctx, fw); !errors.Is(err, context.Canceled) {
		t.Fatalf("Boot err = %v, want context.Canceled", err)
	}
}
