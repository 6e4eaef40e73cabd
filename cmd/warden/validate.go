package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/policy/manager"
)

var validateFlags struct {
	policyPath string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and policies",
	Long: `Check the configuration file and every policy it references.

All invalid configuration fields are reported together. Policies are then
parsed and validated the same way the gateway loads them at startup, so a
config that passes here will start.

Examples:
  # Validate the default config
  warden validate

  # Validate a config and an alternate policy directory
  warden validate --config warden.yaml --policies ./policies`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateFlags.policyPath, "policies", "p", "", "override policy file or directory")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(out, "✗ Configuration invalid (%d errors)\n", len(verr.Errors))
			for _, fe := range verr.Errors {
				fmt.Fprintf(out, "  - %s: %s\n", fe.Field, fe.Message)
			}
			return cli.NewConfigError("", fmt.Sprintf("%d invalid fields", len(verr.Errors)))
		}
		return cli.NewConfigError("", err.Error())
	}
	if err := setupLogging(cfg, "error", true); err != nil {
		return err
	}
	fmt.Fprintln(out, "✓ Configuration valid")

	if validateFlags.policyPath != "" {
		cfg.Policy.Path = validateFlags.policyPath
	}
	mgr, err := manager.New(manager.Config{
		Path:          cfg.Policy.Path,
		DefaultPolicy: cfg.Policy.DefaultPolicy,
	}, nil)
	if err != nil {
		fmt.Fprintf(out, "✗ Policies invalid\n  %v\n", err)
		return cli.NewConfigError("policy.path", err.Error())
	}

	snap := mgr.Snapshot()
	source := cfg.Policy.Path
	if source == "" {
		source = "built-in"
	}
	fmt.Fprintf(out, "✓ Policies valid (%d loaded from %s, version %s)\n", snap.Len(), source, snap.Version)
	if _, ok := snap.Lookup(cfg.Policy.DefaultPolicy); !ok {
		fmt.Fprintf(out, "! Default policy %q not defined; requests without a policy use the built-in default\n", cfg.Policy.DefaultPolicy)
	}
	return nil
}
