package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adamavenir/cogdbg/internal/config"
	"github.com/adamavenir/cogdbg/internal/rpc"
	"github.com/spf13/cobra"
)

// NewServeCmd runs the gateway's JSON-RPC loop over stdio. This is the
// default action when cogdbg is invoked with no subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [project-dir]",
		Short: "Run the debugging gateway over stdio",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir := "."
			if len(args) == 1 {
				projectDir = args[0]
			}
			return runServe(cmd, projectDir)
		},
	}
	return cmd
}

func runServe(cmd *cobra.Command, projectDir string) error {
	settings, err := config.Load(projectDir)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	srv := rpc.NewServer(AppName, Version)
	srv.SetTimeout(time.Duration(settings.Debug.TimeoutMillis) * time.Millisecond)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "[cogdbg] shutting down, terminating active sessions")
		srv.Sessions().DestroyAll(context.Background())
		cancel()
	}()
	defer signal.Stop(sigCh)

	return srv.Serve(ctx, nil, nil)
}
