package sandbox

import (
	"strings"
	"testing"
)

func TestPolicyIsReadAllowed(t *testing.T) {
	p := Policy{ProjectDir: "/home/agent/project", AllowWrite: []string{"/home/agent/scratch"}}

	cases := []struct {
		path string
		want bool
	}{
		{"/home/agent/project/main.go", true},
		{"/home/agent/project", true},
		{"/usr/bin/python3", true},
		{"/tmp/cogdbg-1", true},
		{"/home/agent/other-project/secret.go", false},
		{"/etc/shadow", false},
	}
	for _, c := range cases {
		if got := p.isReadAllowed(c.path); got != c.want {
			t.Errorf("isReadAllowed(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}

func TestPolicyIsWriteAllowed(t *testing.T) {
	p := Policy{ProjectDir: "/home/agent/project", AllowWrite: []string{"/home/agent/scratch"}}

	cases := []struct {
		path string
		want bool
	}{
		{"/home/agent/project/main.go", false}, // project dir is read-only
		{"/tmp/cogdbg-1", true},
		{"/home/agent/scratch/out.txt", true},
		{"/usr/bin/python3", false}, // execute trees are not writable
		{"/home/agent/other/out.txt", false},
	}
	for _, c := range cases {
		if got := p.isWriteAllowed(c.path); got != c.want {
			t.Errorf("isWriteAllowed(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}

func TestGenerateDarwinProfileDefaultDeny(t *testing.T) {
	p := Policy{ProjectDir: "/home/agent/project"}
	profile := GenerateDarwinProfile(p)

	if want := "(deny default)"; !strings.Contains(profile, want) {
		t.Errorf("profile missing %q:\n%s", want, profile)
	}
	if want := `(allow file-read* (subpath "/home/agent/project"))`; !strings.Contains(profile, want) {
		t.Errorf("profile missing project read allow:\n%s", profile)
	}
	if want := "localhost"; !strings.Contains(profile, want) {
		t.Errorf("profile should restrict network to localhost:\n%s", profile)
	}
}

func TestGenerateLandlockRulesCoversProjectDir(t *testing.T) {
	p := Policy{ProjectDir: "/home/agent/project"}
	rules := GenerateLandlockRules(p)

	var found bool
	for _, r := range rules {
		if r.Path == "/home/agent/project" && r.Access == landlockReadOnlyAccess {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a read-only rule for the project dir, got %+v", rules)
	}
}
