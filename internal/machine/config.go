package machine

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"testing/fstest"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/bios/internal/component"
)

// Config describes a simulated machine. It is the YAML schema read by
// cmd/bootvm.
type Config struct {
	// BootDevice is the address the EEPROM's data area designates as the
	// configured boot device. Empty leaves the data area blank, which makes
	// the firmware scan for a bootable medium.
	BootDevice string `yaml:"boot_device"`

	// Deferred makes every bus call complete asynchronously, one quantum
	// late, exercising the firmware's yield path.
	Deferred bool `yaml:"deferred"`

	// ExpectWasm makes the loader require the WebAssembly magic at the
	// start of the image.
	ExpectWasm bool `yaml:"expect_wasm"`

	Filesystems []FilesystemConfig `yaml:"filesystems"`
}

// FilesystemConfig describes one filesystem component.
type FilesystemConfig struct {
	// Address is the component's UUID. Generated when empty.
	Address string `yaml:"address"`

	// Root is a host directory exposed as the filesystem.
	Root string `yaml:"root"`

	// Files are inline files, path to contents, used instead of Root.
	Files map[string]string `yaml:"files"`
}

// LoadConfig reads a machine description from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read machine config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse machine config %s: %w", path, err)
	}
	return &cfg, nil
}

// wasmMagic is the 4-byte WebAssembly module preamble.
var wasmMagic = []byte{0x00, 'a', 's', 'm'}

// NewFromConfig builds the simulated machine and its image loader.
func NewFromConfig(cfg *Config, log *slog.Logger) (*Machine, *Loader, error) {
	m := New(log)
	m.SetDeferred(cfg.Deferred)

	var bootData []byte
	if cfg.BootDevice != "" {
		addr, err := component.ParseAddress(cfg.BootDevice)
		if err != nil {
			return nil, nil, err
		}
		bootData = addr[:]
	}
	eeprom, err := NewEEPROM(component.Address(uuid.New()), bootData)
	if err != nil {
		return nil, nil, err
	}
	if err := m.Add(eeprom); err != nil {
		return nil, nil, err
	}

	for i, fc := range cfg.Filesystems {
		addr := component.Address(uuid.New())
		if fc.Address != "" {
			addr, err = component.ParseAddress(fc.Address)
			if err != nil {
				return nil, nil, err
			}
		}

		var fsys fs.FS
		switch {
		case fc.Root != "":
			fsys = os.DirFS(fc.Root)
		case len(fc.Files) > 0:
			mapFS := fstest.MapFS{}
			for name, contents := range fc.Files {
				mapFS[strings.TrimPrefix(name, "/")] = &fstest.MapFile{Data: []byte(contents)}
			}
			fsys = mapFS
		default:
			return nil, nil, fmt.Errorf("machine: filesystem %d has neither root nor files", i)
		}

		if err := m.Add(NewFilesystem(addr, fsys)); err != nil {
			return nil, nil, err
		}
	}

	var magic []byte
	if cfg.ExpectWasm {
		magic = wasmMagic
	}
	return m, NewLoader(log, magic), nil
}
