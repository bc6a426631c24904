package firmware

import "github.com/tinyrange/bios/internal/component"

// state is the boot state machine's current phase. Each variant carries
// exactly the data needed to resume after a yield. The set is closed; step
// dispatches over it with a type switch.
type state interface {
	isState()
}

// stateInit is the phase the firmware powers on in. It is also the
// placeholder stored in the state slot while a step runs.
type stateInit struct{}

// stateReadingBootDeviceUUID waits for the EEPROM getData call issued by
// stateInit.
type stateReadingBootDeviceUUID struct{}

// stateStartScan begins enumerating filesystem components.
type stateStartScan struct{}

// stateScanning holds an in-progress filesystem enumeration.
type stateScanning struct {
	listing component.Listing
}

// stateOpeningFile waits for an open call on the boot file.
type stateOpeningFile struct {
	addr   component.Address
	source uuidSource
}

// stateReadingFile waits for a chunked read on the open boot file. The
// descriptor has exactly one owner: this state.
type stateReadingFile struct {
	addr component.Address
	fd   component.Descriptor
}

func (stateInit) isState()                  {}
func (stateReadingBootDeviceUUID) isState() {}
func (stateStartScan) isState()             {}
func (stateScanning) isState()              {}
func (stateOpeningFile) isState()           {}
func (stateReadingFile) isState()           {}

// uuidSource records how the filesystem address currently being tried was
// found, so that an open failure falls back correctly: a failed configured
// device starts a scan, a failed scan candidate resumes the same scan.
type uuidSource struct {
	// listing is nil when the address came from the EEPROM's configured
	// boot device; otherwise it is the in-progress scan to resume.
	listing component.Listing
}

// runResult is what a single successful step reports back to the run loop.
type runResult int

const (
	// runNext means the next step should be taken immediately.
	runNext runResult = iota

	// yieldToHost means an outstanding call will only complete on a later
	// quantum; Run must return control to the host.
	yieldToHost

	// handoff means the image was handed to the executor and the boot is
	// finished.
	handoff
)

// resume converts an Invoke completion flag into a run result: a call that
// completed synchronously lets the next step collect it immediately.
func resume(done bool) runResult {
	if done {
		return runNext
	}
	return yieldToHost
}
