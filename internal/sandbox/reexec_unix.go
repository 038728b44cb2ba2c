//go:build !windows

package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"
)

// ReexecChild checks whether the current process was launched as a
// WrapLinux middleman (argv[1] == ReexecArg) and, if so, applies the
// Landlock rule set carried in its environment to itself and then
// execve's into the real debuggee, never returning on success. Call this
// as close to the start of main as possible, before any flag parsing.
//
// A Landlock failure (unsupported kernel, missing CONFIG_SECURITY_LANDLOCK)
// is a soft failure: it's logged and the middleman execs into the
// debuggee unconfined rather than refusing to launch it at all.
func ReexecChild() (handled bool, err error) {
	if len(os.Args) < 3 || os.Args[1] != ReexecArg {
		return false, nil
	}

	if data := os.Getenv(rulesEnvVar); data != "" {
		var rules []LandlockRule
		if jsonErr := json.Unmarshal([]byte(data), &rules); jsonErr == nil {
			if applyErr := ApplyLandlock(rules); applyErr != nil {
				fmt.Fprintf(os.Stderr, "cogdbg: sandbox: landlock unavailable, launching unconfined: %v\n", applyErr)
			}
		}
	}

	program := os.Args[2]
	argv := append([]string{program}, os.Args[3:]...)
	return true, syscall.Exec(program, argv, os.Environ())
}
