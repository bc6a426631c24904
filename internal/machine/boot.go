package machine

import (
	"context"

	"github.com/tinyrange/bios/internal/firmware"
)

// Boot drives the firmware one scheduling quantum at a time until it reaches
// a terminal condition. It returns nil once the boot image has been handed
// over, the crash error if the firmware aborted, or the context error if the
// caller gave up between quanta.
func Boot(ctx context.Context, fw *firmware.Machine) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := fw.Run()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}
