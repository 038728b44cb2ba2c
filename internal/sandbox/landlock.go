package sandbox

// LandlockRule is a single path/access-grade pair ready to hand to the
// Landlock ruleset syscalls.
type LandlockRule struct {
	Path   string
	Access uint64
}

// Landlock access-right bits (Linux UAPI linux/landlock.h). x/sys/unix
// carries no typed wrappers for Landlock, so landlock_linux.go invokes the
// syscalls directly; these bit values are stable ABI, not an
// implementation detail that drifts between kernel releases.
const (
	landlockAccessFSExecute    = 1 << 0
	landlockAccessFSWriteFile  = 1 << 1
	landlockAccessFSMakeReg    = 1 << 8
	landlockAccessFSMakeDir    = 1 << 7
	landlockAccessFSRemoveDir  = 1 << 4
	landlockAccessFSRemoveFile = 1 << 5
	landlockAccessFSReadFile   = 1 << 2
	landlockAccessFSReadDir    = 1 << 3
)

const (
	landlockReadOnlyAccess = landlockAccessFSReadFile | landlockAccessFSReadDir
	landlockReadWriteAccess = landlockReadOnlyAccess | landlockAccessFSWriteFile |
		landlockAccessFSMakeDir | landlockAccessFSMakeReg |
		landlockAccessFSRemoveDir | landlockAccessFSRemoveFile
	landlockExecuteAccess = landlockAccessFSExecute | landlockAccessFSReadFile | landlockAccessFSReadDir
)

// GenerateLandlockRules expands p into the rule set ApplyLandlock enforces.
// Pure and platform-independent so it can be exercised by tests and by the
// CLI's sandbox-profile command on any host.
func GenerateLandlockRules(p Policy) []LandlockRule {
	rules := make([]LandlockRule, 0, len(p.Rules()))
	for _, r := range p.Rules() {
		var access uint64
		switch r.Grade {
		case ReadOnly:
			access = landlockReadOnlyAccess
		case ReadWrite:
			access = landlockReadWriteAccess
		case Execute:
			access = landlockExecuteAccess
		}
		rules = append(rules, LandlockRule{Path: r.Path, Access: access})
	}
	return rules
}
