package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ReexecArg is the argv[1] cogdbg's own main checks for before cobra ever
// parses flags. Go's os/exec has no pre-exec hook (unlike posix_spawn's
// file actions or a fork+exec split with code in between), so applying
// Landlock to a traced child's own process — which must happen after fork
// but before the child execs the real debuggee — means re-executing this
// same binary as a trusted middleman: it applies the ruleset to itself,
// then execve's into the real program, carrying the restriction across.
const ReexecArg = "__cogdbg_sandbox_exec"

// rulesEnvVar carries the JSON-encoded Landlock rule set from WrapLinux's
// caller through to the re-executed middleman process.
const rulesEnvVar = "COGDBG_SANDBOX_LANDLOCK_RULES"

// WrapLinux rewrites a program/args pair so that launching it actually
// launches this same binary first (as ReexecArg), which applies policy's
// Landlock rules to itself before execve-ing into program. The returned
// env must be appended to the child's environment.
func WrapLinux(policy Policy, program string, args []string) (wrappedProgram string, wrappedArgs []string, env []string, err error) {
	self, err := os.Executable()
	if err != nil {
		return "", nil, nil, fmt.Errorf("sandbox: resolve self for reexec: %w", err)
	}
	data, err := json.Marshal(GenerateLandlockRules(policy))
	if err != nil {
		return "", nil, nil, fmt.Errorf("sandbox: encode landlock rules: %w", err)
	}
	wrappedArgs = append([]string{ReexecArg, program}, args...)
	return self, wrappedArgs, []string{rulesEnvVar + "=" + string(data)}, nil
}

// WrapDarwin rewrites a program/args pair to run under sandbox-exec with
// policy's generated profile written to a scratch file under os.TempDir.
// The profile is left in place rather than cleaned up immediately: exec
// hands the new process image to sandbox-exec asynchronously from this
// call's point of view, so there is no safe moment here to know it has
// finished reading the file.
func WrapDarwin(policy Policy, program string, args []string) (wrappedProgram string, wrappedArgs []string, err error) {
	profilePath := filepath.Join(os.TempDir(), ScratchName("cogdbg-sandbox")+".sb")
	if err := os.WriteFile(profilePath, []byte(GenerateDarwinProfile(policy)), 0o600); err != nil {
		return "", nil, fmt.Errorf("sandbox: write darwin profile: %w", err)
	}
	wrappedArgs = append([]string{"-f", profilePath, "--", program}, args...)
	return "/usr/bin/sandbox-exec", wrappedArgs, nil
}
