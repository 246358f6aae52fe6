package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"relay-client/core/netpath"
	"relay-client/core/tunnel"
)

func probeCmd(opts *rootOptions) *cobra.Command {
	var (
		target  string
		stun    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check the tunnel data path through its SOCKS endpoint, or the public address via STUN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if stun {
				addr, err := netpath.ProbeMappedAddress(ctx, cfg.Network.STUNServer)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"stun_server": cfg.Network.STUNServer, "mapped_address": addr})
			}

			res, err := tunnel.ProbeSOCKS(ctx, cfg.Tunnel.SOCKSAddr, target)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&target, "target", "example.com:80", "host:port requested through the tunnel")
	cmd.Flags().BoolVar(&stun, "stun", false, "report the public mapped address instead")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "probe timeout")
	return cmd
}
