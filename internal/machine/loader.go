package machine

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/bios/internal/firmware"
)

// Loader implements firmware.Executor. It accumulates the boot image chunk
// by chunk and stands in for the execution engine at hand-off time.
type Loader struct {
	log    *slog.Logger
	magic  []byte
	image  []byte
	booted bool
}

// NewLoader creates a loader. A non-empty magic makes Execute require the
// image to start with those bytes. A nil logger uses slog.Default.
func NewLoader(log *slog.Logger, magic []byte) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{log: log, magic: magic}
}

// Add implements firmware.Executor.
func (l *Loader) Add(chunk []byte) error {
	l.image = append(l.image, chunk...)
	return nil
}

// Execute implements firmware.Executor: it validates the accumulated image
// and accepts the hand-off.
func (l *Loader) Execute() error {
	if len(l.image) == 0 {
		return errors.New("machine: empty boot image")
	}
	if len(l.magic) > 0 && !bytes.HasPrefix(l.image, l.magic) {
		return fmt.Errorf("machine: boot image does not start with magic % x", l.magic)
	}
	l.booted = true
	l.log.Info("boot image accepted", "size", len(l.image))
	return nil
}

// Image returns the accumulated boot image.
func (l *Loader) Image() []byte { return l.image }

// Booted reports whether Execute has accepted an image.
func (l *Loader) Booted() bool { return l.booted }

var _ firmware.Executor = (*Loader)(nil)
