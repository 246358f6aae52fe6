// Package cli is the relay-client command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"relay-client/core/config"
	"relay-client/internal/constants"
	"relay-client/internal/control"
	"relay-client/internal/platform"
)

const defaultClientTimeout = 10 * time.Second

type rootOptions struct {
	configPath  string
	controlAddr string
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           constants.AppName,
		Short:         "Relay client: device session and tunnel manager",
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.jsonc (default: <data dir>/config.jsonc)")
	cmd.PersistentFlags().StringVar(&opts.controlAddr, "control", "", "control API address of a running client (default: from config)")

	cmd.AddCommand(runCmd(opts))
	cmd.AddCommand(statusCmd(opts))
	cmd.AddCommand(loginCmd(opts))
	cmd.AddCommand(logoutCmd(opts))
	cmd.AddCommand(deleteAccountCmd(opts))
	cmd.AddCommand(setCmd(opts))
	cmd.AddCommand(waitReadyCmd(opts))
	cmd.AddCommand(probeCmd(opts))
	cmd.AddCommand(versionCmd())
	return cmd
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	path := o.configPath
	if path == "" {
		path = platform.GetConfigPath(platform.ExpandPath(config.DefaultDataDir))
	}
	return config.Load(platform.ExpandPath(path))
}

// client returns a control API client for the running instance.
func (o *rootOptions) client(timeout time.Duration) (*control.Client, error) {
	addr := o.controlAddr
	if addr == "" {
		cfg, err := o.loadConfig()
		if err != nil {
			return nil, err
		}
		addr = cfg.Control.Listen
	}
	return control.NewClient(addr, timeout), nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", constants.AppName, constants.AppVersion)
		},
	}
}
