//go:build linux

package sandbox

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Landlock syscall numbers, stable across the architectures Go supports
// for Linux (amd64, arm64): landlock_create_ruleset, landlock_add_rule,
// landlock_restrict_self.
const (
	sysLandlockCreateRuleset    = 444
	sysLandlockAddRule          = 445
	sysLandlockRestrictSelf     = 446
	landlockRuleTypePathBeneath = 1
)

type landlockRulesetAttr struct {
	HandledAccessFS uint64
}

type landlockPathBeneathAttr struct {
	AllowedAccess uint64
	ParentFd      int32
}

// ApplyLandlock restricts the calling process (intended to be called
// post-fork, pre-exec in the child) to rules via the Landlock LSM. On a
// kernel without Landlock support this returns an error; the caller should
// treat that as a soft failure — log it and proceed unconfined — since
// Landlock availability varies by distro and kernel version.
func ApplyLandlock(rules []LandlockRule) error {
	var handledAccess uint64
	for _, r := range rules {
		handledAccess |= r.Access
	}

	attr := landlockRulesetAttr{HandledAccessFS: handledAccess}
	rulesetFd, _, errno := unix.Syscall(sysLandlockCreateRuleset, uintptr(unsafe.Pointer(&attr)), unsafe.Sizeof(attr), 0)
	if errno != 0 {
		return fmt.Errorf("sandbox: landlock create ruleset: %w", errno)
	}
	defer unix.Close(int(rulesetFd))

	for _, r := range rules {
		pathFd, err := unix.Open(r.Path, unix.O_PATH|unix.O_CLOEXEC, 0)
		if err != nil {
			// A configured path that does not exist on this host is not
			// fatal; skip it rather than failing the whole launch.
			continue
		}
		beneath := landlockPathBeneathAttr{AllowedAccess: r.Access, ParentFd: int32(pathFd)}
		_, _, errno := unix.Syscall6(sysLandlockAddRule, rulesetFd, landlockRuleTypePathBeneath,
			uintptr(unsafe.Pointer(&beneath)), 0, 0, 0)
		unix.Close(pathFd)
		if errno != 0 {
			return fmt.Errorf("sandbox: landlock add rule for %s: %w", r.Path, errno)
		}
	}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("sandbox: set no_new_privs: %w", err)
	}
	if _, _, errno := unix.Syscall(sysLandlockRestrictSelf, rulesetFd, 0, 0); errno != 0 {
		return fmt.Errorf("sandbox: landlock restrict self: %w", errno)
	}
	return nil
}
