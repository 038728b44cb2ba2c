//go:build !linux

package sandbox

import "errors"

// ErrLandlockUnavailable is returned by ApplyLandlock on any platform
// other than Linux. The gap is documented, not silently swallowed: darwin
// confinement goes through GenerateDarwinProfile/sandbox-exec instead, and
// every other platform runs the debuggee unconfined.
var ErrLandlockUnavailable = errors.New("sandbox: landlock is only available on linux")

// ApplyLandlock is a no-op returning ErrLandlockUnavailable on non-Linux
// platforms.
func ApplyLandlock(rules []LandlockRule) error {
	return ErrLandlockUnavailable
}
