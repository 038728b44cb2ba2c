package main

import (
	"fmt"
	"os"

	"github.com/adamavenir/cogdbg/internal/command"
	"github.com/adamavenir/cogdbg/internal/sandbox"
)

// version is overwritten at build time using -ldflags.
var version = "dev"

func main() {
	if handled, err := sandbox.ReexecChild(); handled {
		// ReexecChild only returns on failure; a success replaces this
		// process image entirely via execve.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	command.Version = version
	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
