package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telekom/cloudctl/pkg/config"
	"github.com/telekom/cloudctl/pkg/output"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage cloudctl configuration",
	}
	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigViewCommand(),
	)
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		portRange string
		scopes    []string
		discovery bool
		insecure  bool
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a cloudctl config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			path := rt.configPathValue()
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config already exists: %s", path)
				}
			}
			if rt.baseURLOverride == "" {
				return errors.New("--base-url is required")
			}
			cfg := config.DefaultConfig()
			cfg.Auth.BaseURL = rt.baseURLOverride
			cfg.Auth.ClientID = rt.clientIDOverride
			if cfg.Auth.ClientID == "" {
				cfg.Auth.ClientID = "cloudctl"
			}
			cfg.Auth.PortRange = portRange
			cfg.Auth.Discovery = discovery
			cfg.Auth.InsecureSkipTLS = insecure
			if len(scopes) > 0 {
				cfg.Auth.Scopes = scopes
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(path, &cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Initialized config at %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&portRange, "port-range", "", "Loopback port range for the login callback, e.g. 8484-8494")
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "OAuth scopes to request")
	cmd.Flags().BoolVar(&discovery, "discovery", false, "Use OIDC discovery for endpoints")
	cmd.Flags().BoolVar(&insecure, "insecure-skip-tls-verify", false, "Skip TLS verification")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config")
	return cmd
}

func newConfigViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show the current configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			if format == output.FormatTable {
				format = output.FormatYAML
			}
			return output.WriteObject(rt.Writer(), format, rt.cfg)
		},
	}
}
