// Package sandbox generates OS-level confinement policies for a debuggee
// process: a default-deny macOS sandbox-exec profile, Linux Landlock
// rules, and a documented no-op on every other platform.
package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// AccessGrade is the permission a path is granted under a policy.
type AccessGrade int

const (
	ReadOnly AccessGrade = iota
	ReadWrite
	Execute
)

// Rule grants grade access to path (and, for directories, everything
// beneath it).
type Rule struct {
	Path  string
	Grade AccessGrade
}

// Policy is a platform-independent confinement spec: the project
// directory is always readable, system execute trees are always
// executable, /tmp and any caller-supplied allow-list entries are
// read-write, and network is restricted to localhost. Generate* functions
// render this into a platform's native policy language.
type Policy struct {
	ProjectDir   string
	AllowWrite   []string
	AllowNetwork bool // not read by either generator: every rendered profile is loopback-only
}

// defaultExecuteTrees are the system directories a debuggee's own
// interpreter/runtime needs to execute out of.
var defaultExecuteTrees = []string{"/usr", "/bin", "/sbin", "/lib", "/lib64"}

// Rules expands a Policy into the concrete path/grade rules common to both
// platform backends.
func (p Policy) Rules() []Rule {
	rules := []Rule{
		{Path: p.ProjectDir, Grade: ReadOnly},
		{Path: "/tmp", Grade: ReadWrite},
	}
	for _, tree := range defaultExecuteTrees {
		rules = append(rules, Rule{Path: tree, Grade: Execute})
	}
	for _, w := range p.AllowWrite {
		rules = append(rules, Rule{Path: w, Grade: ReadWrite})
	}
	return rules
}

// isReadAllowed reports whether path is readable under policy, used by
// this package's tests.
func (p Policy) isReadAllowed(path string) bool {
	for _, r := range p.Rules() {
		if r.Grade == ReadOnly || r.Grade == ReadWrite || r.Grade == Execute {
			if withinTree(r.Path, path) {
				return true
			}
		}
	}
	return false
}

// isWriteAllowed reports whether path is writable under policy.
func (p Policy) isWriteAllowed(path string) bool {
	for _, r := range p.Rules() {
		if r.Grade == ReadWrite && withinTree(r.Path, path) {
			return true
		}
	}
	return false
}

func withinTree(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// ScratchName returns a collision-free scratch filename for a single
// launch's generated profile/fifo/socket files, since concurrent sessions
// share /tmp.
func ScratchName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
