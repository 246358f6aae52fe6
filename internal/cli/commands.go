package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"relay-client/core/engine"
	"relay-client/internal/control"
)

func statusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session, device and tunnel state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(defaultClientTimeout)
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func loginCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <by-jwt>",
		Short: "Authenticate this device with a session credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(time.Minute)
			if err != nil {
				return err
			}
			if err := c.Login(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Println("logged in")
			return nil
		},
	}
}

func logoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and continue as guest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(time.Minute)
			if err != nil {
				return err
			}
			if err := c.Logout(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("logged out")
			return nil
		},
	}
}

func deleteAccountCmd(opts *rootOptions) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "delete-account",
		Short: "Delete the network this device belongs to, then log out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("refusing to delete the account without --yes")
			}
			c, err := opts.client(time.Minute)
			if err != nil {
				return err
			}
			if err := c.DeleteAccount(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("account deleted")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm account deletion")
	return cmd
}

// parsePreferenceValue converts a command line value to the JSON value the control API
// expects for name.
func parsePreferenceValue(name, raw string) (interface{}, error) {
	switch name {
	case control.PrefRouteLocal:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a boolean", name, raw)
		}
		return v, nil
	case control.PrefProvideNetworkMode:
		mode, err := engine.ParseProvideNetworkMode(raw)
		if err != nil {
			return nil, err
		}
		return string(mode), nil
	case control.PrefProvideControlMode:
		mode, err := engine.ParseProvideControlMode(raw)
		if err != nil {
			return nil, err
		}
		return string(mode), nil
	case control.PrefConnectLocation:
		if raw == "" || strings.EqualFold(raw, "none") {
			return nil, nil
		}
		return engine.Location{LocationID: raw}, nil
	default:
		return nil, fmt.Errorf("unknown preference %q", name)
	}
}

func setCmd(opts *rootOptions) *cobra.Command {
	names := []string{
		control.PrefRouteLocal,
		control.PrefProvideNetworkMode,
		control.PrefProvideControlMode,
		control.PrefConnectLocation,
	}
	return &cobra.Command{
		Use:       "set <preference> <value>",
		Short:     "Change a preference (" + strings.Join(names, ", ") + ")",
		Args:      cobra.ExactArgs(2),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parsePreferenceValue(args[0], args[1])
			if err != nil {
				return err
			}
			c, err := opts.client(defaultClientTimeout)
			if err != nil {
				return err
			}
			return c.SetPreference(cmd.Context(), args[0], value)
		},
	}
}

func waitReadyCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait-ready",
		Short: "Block until the client finished initializing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(timeout + defaultClientTimeout)
			if err != nil {
				return err
			}
			if err := c.WaitReady(cmd.Context(), timeout); err != nil {
				return err
			}
			cmd.Println("ready")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "maximum time to wait")
	return cmd
}
