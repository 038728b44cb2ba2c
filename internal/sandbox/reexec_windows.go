//go:build windows

package sandbox

// ReexecChild is a no-op on windows: WrapLinux's middleman re-exec is never
// constructed on this platform, so there is nothing to detect.
func ReexecChild() (handled bool, err error) {
	return false, nil
}
