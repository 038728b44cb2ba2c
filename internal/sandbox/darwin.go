package sandbox

import (
	"fmt"
	"strings"
)

// GenerateDarwinProfile renders p as a Scheme-syntax sandbox-exec profile:
// default-deny, with explicit allows for the project directory, system
// execute trees, /tmp and allow-listed write paths, process exec/fork, and
// loopback-only networking.
func GenerateDarwinProfile(p Policy) string {
	var b strings.Builder
	b.WriteString("(version 1)\n")
	b.WriteString("(deny default)\n\n")

	b.WriteString("(allow process-fork)\n")
	b.WriteString("(allow process-exec)\n")
	b.WriteString("(allow sysctl-read)\n")
	b.WriteString("(allow signal (target self))\n\n")

	for _, r := range p.Rules() {
		switch r.Grade {
		case ReadOnly:
			fmt.Fprintf(&b, "(allow file-read* (subpath %s))\n", quote(r.Path))
		case ReadWrite:
			fmt.Fprintf(&b, "(allow file-read* file-write* (subpath %s))\n", quote(r.Path))
		case Execute:
			fmt.Fprintf(&b, "(allow file-read* process-exec (subpath %s))\n", quote(r.Path))
		}
	}

	b.WriteString("\n(allow network-outbound (remote ip \"localhost:*\"))\n")
	b.WriteString("(allow network-inbound (local ip \"localhost:*\"))\n")

	return b.String()
}

func quote(path string) string {
	return fmt.Sprintf("%q", path)
}
