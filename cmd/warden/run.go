package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/server"
)

var runFlags struct {
	listenAddress string
	policyPath    string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the governance gateway",
	Long: `Start the governance gateway with the specified configuration.

The gateway accepts OpenAI-compatible chat completion requests, applies the
policy named by the X-Warden-Policy header, and forwards allowed requests
to the configured upstream.

Examples:
  # Start with built-in defaults
  warden run

  # Start with a config file
  warden run --config /etc/warden/warden.yaml

  # Override the listen address and policy file
  warden run --listen 0.0.0.0:8080 --policies ./policies.yaml

  # Validate config without starting the gateway
  warden run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVarP(&runFlags.policyPath, "policies", "p", "", "override policy file or directory")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the gateway")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.policyPath != "" {
		cfg.Policy.Path = runFlags.policyPath
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("", err.Error())
	}
	if err := setupLogging(cfg, runFlags.logLevel, false); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	srv, err := server.New(cfg, server.BuildInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	slog.Debug("Gateway configured",
		"config", cfgFile,
		"policies", cfg.Policy.Path,
		"evidence", cfg.Evidence.IsEnabled(),
		"cache", cfg.Cache.IsEnabled(),
	)
	fmt.Fprintf(out, "Warden v%s listening on %s\n", Version, cfg.Server.ListenAddress)

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "✓ Gateway stopped")
	return nil
}
