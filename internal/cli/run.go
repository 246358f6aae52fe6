package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"relay-client/core"
	"relay-client/internal/debuglog"
)

func runCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the client in the foreground until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if opts.controlAddr != "" {
				cfg.Control.Listen = opts.controlAddr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ac, err := core.NewAppController(ctx, cfg)
			if err != nil {
				return err
			}
			defer ac.GracefulExit()

			if err := ac.Start(ctx); err != nil {
				return err
			}
			cmd.Printf("control API on %s\n", ac.Control.Addr())

			<-ctx.Done()
			debuglog.InfoLog("run: shutdown requested")
			return nil
		},
	}
}
